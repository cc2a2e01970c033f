package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/calibration"
	"github.com/fridgecal/fridgecal/pkg/config"
	"github.com/fridgecal/fridgecal/pkg/events"
	"github.com/fridgecal/fridgecal/pkg/logfile"
	"github.com/fridgecal/fridgecal/pkg/probe"
	"github.com/fridgecal/fridgecal/pkg/publish"
	"github.com/fridgecal/fridgecal/pkg/reference"
	"github.com/fridgecal/fridgecal/pkg/unit"
)

// Controller is the part of *calibration.Controller the API serves.
type Controller interface {
	Status() *calibration.Status
	Cycles() []calibration.CycleRecord
	State() calibration.State
	Restart() string
}

var _ Controller = &calibration.Controller{}

type Server struct {
	conf      config.Config
	ctrl      Controller
	hub       *events.EventHub
	scheduler *Scheduler
	metrics   *Metrics
}

func NewServer(conf config.Config, ctrl Controller, hub *events.EventHub, scheduler *Scheduler, metrics *Metrics) *Server {
	return &Server{
		conf:      conf,
		ctrl:      ctrl,
		hub:       hub,
		scheduler: scheduler,
		metrics:   metrics,
	}
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	router.Use(s.metrics.Middleware())

	router.GET("/status", s.getStatus)
	router.GET("/cycles", s.getCycles)
	router.GET("/state", s.getState)
	router.POST("/session/restart", s.restartSession)
	router.GET("/schedule", s.getSchedule)
	router.PUT("/schedule", s.setSchedule)
	router.POST("/schedule/skip", s.skipSchedule)
	router.GET("/events", s.streamEvents)
	router.GET("/config", s.getConfig)
	router.GET("/version", getVersion)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	return router
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	if p := conf.LogFile(); p != "" {
		hook, err := logfile.New(p, conf.LogFileMaxBytes(), logrus.GetLevel())
		if err != nil {
			logrus.WithError(err).Warn("log file disabled")
		} else {
			logrus.AddHook(hook)
			defer func() {
				_ = hook.Close()
			}()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unitClient := unit.NewClient(conf.UnitURL())
	if _, err := unitClient.Refresh(ctx); err != nil {
		logrus.WithError(err).WithField("unitURL", conf.UnitURL()).Warn("unit not reachable yet")
	}
	go unitClient.Poll(ctx, conf.UnitPollInterval())

	ref := reference.New(conf.ReferencePort(), conf.ReferenceBaudRate(), conf.ReferenceChannel())
	if err := ref.Open(); err != nil {
		return pkgerrors.Wrap(err, "reference thermometer is required")
	}
	defer func() {
		if err := ref.Close(); err != nil {
			logrus.Errorf("failed to close reference port: %v", err)
		}
	}()
	go ref.Poll(ctx, conf.UnitPollInterval())

	source := probe.New(unitClient, ref, conf.DeviceType())
	hub := events.NewEventHub()

	ctrl := calibration.New(source, unitClient,
		calibration.WithNotifier(hub),
		calibration.WithPeriods(calibration.Periods{
			StabilitySample:  conf.StabilityInterval(),
			TelemetryRefresh: conf.TelemetryInterval(),
			CompressorPoll:   conf.CompressorPollInterval(),
		}),
		calibration.WithCycleWindow(conf.CycleCheckWindow(), conf.CycleAdjustThreshold()),
	)

	metrics := NewMetrics(ctrl)
	go metrics.Observe(ctx, hub)

	if p := conf.StatePath(); p != "" {
		go NewStateWriter(p, ctrl).Watch(ctx, hub)
	}

	for _, sink := range openSinks(conf) {
		go publish.Forward(ctx, hub, sink.sink, sink.prefix)
		defer func(s publish.Sink) {
			if err := s.Close(); err != nil {
				logrus.Errorf("failed to close sink: %v", err)
			}
		}(sink.sink)
	}

	scheduler := newSessionScheduler(ctx, ctrl, unitClient, hub)
	if expr := conf.Cron(); expr != "" {
		if err := scheduler.Schedule(expr); err != nil {
			logrus.WithError(err).WithField("cron", expr).Error("invalid cron expression, scheduling disabled")
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			before := restartOnlySettings(conf)
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			if keys := changedSettings(before, restartOnlySettings(conf)); len(keys) > 0 {
				logrus.WithField("keys", keys).Warn("config keys changed that only take effect after a daemon restart")
			}
			source.SetDeviceType(conf.DeviceType())
			if err := scheduler.Schedule(conf.Cron()); err != nil {
				logrus.WithError(err).WithField("cron", conf.Cron()).Error("invalid cron expression, keeping previous schedule")
			}
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")
		}
	}()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		ctrl.Run(ctx)
	}()
	ctrl.Start()

	srv := &http.Server{
		Handler:           NewServer(conf, ctrl, hub, scheduler, metrics).setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// A socket left behind by a crashed daemon would make Listen fail.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", unixSocketPath)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to change permissions of %s", unixSocketPath)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	shutdownCancel()

	logrus.Info("stopping calibration controller")
	cancel()
	<-ctrlDone

	logrus.Info("waiting for pending calibration writes")
	unitClient.Wait()

	logrus.Info("exiting")
	return nil
}

type namedSink struct {
	sink   publish.Sink
	prefix string
}

func openSinks(conf config.Config) []namedSink {
	var sinks []namedSink

	if url := conf.NATSURL(); url != "" {
		n, err := publish.NewNATS(url)
		if err != nil {
			logrus.WithError(err).Error("NATS publishing disabled")
		} else {
			sinks = append(sinks, namedSink{sink: n, prefix: conf.NATSSubject()})
		}
	}

	if broker := conf.MQTTBroker(); broker != "" {
		host, _ := os.Hostname()
		m, err := publish.NewMQTT(broker, "fridgecal-"+host)
		if err != nil {
			logrus.WithError(err).Error("MQTT publishing disabled")
		} else {
			sinks = append(sinks, namedSink{sink: m, prefix: conf.MQTTTopic()})
		}
	}

	return sinks
}

// restartOnlySettings returns the config values that are read once at
// startup. A reload only applies deviceType and cron.
func restartOnlySettings(conf config.Config) map[string]any {
	return map[string]any{
		"unitURL":                    conf.UnitURL(),
		"unitPollIntervalSeconds":    conf.UnitPollInterval(),
		"referencePort":              conf.ReferencePort(),
		"referenceBaudRate":          conf.ReferenceBaudRate(),
		"referenceChannel":           conf.ReferenceChannel(),
		"stabilityIntervalMinutes":   conf.StabilityInterval(),
		"telemetryIntervalSeconds":   conf.TelemetryInterval(),
		"compressorPollMilliseconds": conf.CompressorPollInterval(),
		"cycleCheckWindow":           conf.CycleCheckWindow(),
		"cycleAdjustThreshold":       conf.CycleAdjustThreshold(),
		"natsURL":                    conf.NATSURL(),
		"natsSubject":                conf.NATSSubject(),
		"mqttBroker":                 conf.MQTTBroker(),
		"mqttTopic":                  conf.MQTTTopic(),
		"statePath":                  conf.StatePath(),
		"logFile":                    conf.LogFile(),
		"logFileMaxBytes":            conf.LogFileMaxBytes(),
	}
}

// changedSettings returns the sorted keys whose values differ.
func changedSettings(before, after map[string]any) []string {
	var keys []string
	for k, v := range after {
		if before[k] != v {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
