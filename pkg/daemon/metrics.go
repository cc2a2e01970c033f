package daemon

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/calibration"
	"github.com/fridgecal/fridgecal/pkg/events"
)

// Metrics exports the controller on /metrics. Gauges are read from the
// controller at scrape time; counters follow hub events.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	cycles            prometheus.Counter
	offsets           *prometheus.CounterVec
}

func NewMetrics(ctrl Controller) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fridgecal_http_requests_total",
			Help: "Total count of daemon API requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fridgecal_http_request_duration_seconds",
			Help:    "Histogram of daemon API request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fridgecal_state_transitions_total",
			Help: "Calibration state changes by target state.",
		}, []string{"to"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fridgecal_compressor_cycles_total",
			Help: "Compressor cycles recorded across all sessions.",
		}),
		offsets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fridgecal_offset_corrections_total",
			Help: "Calibration offset corrections by channel and whether they were sent.",
		}, []string{"channel", "applied"}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.transitions,
		m.cycles,
		m.offsets,
		&statusCollector{ctrl: ctrl},
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and durations per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Observe updates the counters from hub events until ctx is done.
func (m *Metrics) Observe(ctx context.Context, hub *events.EventHub) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.record(ev)
		}
	}
}

func (m *Metrics) record(ev events.Event) {
	switch ev.Name {
	case events.CalibrationState:
		p, err := events.DecodeAs[events.StateEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("failed to decode state event")
			return
		}
		m.transitions.WithLabelValues(p.To).Inc()
	case events.CalibrationCycle:
		m.cycles.Inc()
	case events.CalibrationOffset:
		p, err := events.DecodeAs[events.OffsetEvent](ev)
		if err != nil {
			logrus.WithError(err).Warn("failed to decode offset event")
			return
		}
		m.offsets.WithLabelValues(p.Channel, strconv.FormatBool(p.Applied)).Inc()
	}
}

var (
	stateDesc = prometheus.NewDesc("fridgecal_calibration_state",
		"Calibration state (0 unstable, 1 stable, 2 calibrated).", nil, nil)
	temperatureDesc = prometheus.NewDesc("fridgecal_temperature_celsius",
		"Latest cached temperature by probe.", []string{"probe"}, nil)
	offsetDesc = prometheus.NewDesc("fridgecal_calibration_offset_celsius",
		"Offset currently reported by the unit by channel.", []string{"channel"}, nil)
	compressorDesc = prometheus.NewDesc("fridgecal_compressor_on",
		"1 when the compressor was on at the last poll.", nil, nil)
	sessionCyclesDesc = prometheus.NewDesc("fridgecal_session_cycles",
		"Compressor cycles recorded in the current session.", nil, nil)
	windowMeanDesc = prometheus.NewDesc("fridgecal_window_mean_celsius",
		"Mean start temperature of the calibration check window.", nil, nil)
	windowStdDevDesc = prometheus.NewDesc("fridgecal_window_stddev_celsius",
		"Standard deviation of the start temperatures of the calibration check window.", nil, nil)
)

type statusCollector struct {
	ctrl Controller
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- stateDesc
	ch <- temperatureDesc
	ch <- offsetDesc
	ch <- compressorDesc
	ch <- sessionCyclesDesc
	ch <- windowMeanDesc
	ch <- windowStdDevDesc
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.ctrl.Status()
	snap := st.Snapshot

	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	compressor := 0.0
	if snap.CompressorOn {
		compressor = 1
	}

	gauge(stateDesc, float64(st.State))
	gauge(temperatureDesc, snap.ReferenceTemperature, "reference")
	gauge(temperatureDesc, snap.PrimaryTemperature, "primary")
	gauge(temperatureDesc, snap.ControlTemperature, "control")
	gauge(offsetDesc, snap.ControlOffset, string(calibration.ChannelControlProbe))
	gauge(offsetDesc, snap.PrimaryOffset, string(calibration.ChannelPrimaryProbe))
	gauge(compressorDesc, compressor)
	gauge(sessionCyclesDesc, float64(st.CycleCount))
	gauge(windowMeanDesc, st.WindowMean)
	gauge(windowStdDevDesc, st.WindowStdDev)
}
