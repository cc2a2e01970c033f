package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/events"
)

// Event identifies the timer that fired.
type Event int

const (
	EventStabilitySample Event = iota
	EventTelemetryRefresh
	EventCompressorPoll
)

func (e Event) String() string {
	switch e {
	case EventStabilitySample:
		return "StabilitySample"
	case EventTelemetryRefresh:
		return "TelemetryRefresh"
	case EventCompressorPoll:
		return "CompressorPoll"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Periods configures the three controller timers.
type Periods struct {
	StabilitySample  time.Duration `json:"stabilitySample"`
	TelemetryRefresh time.Duration `json:"telemetryRefresh"`
	CompressorPoll   time.Duration `json:"compressorPoll"`
}

// DefaultPeriods returns 15 minutes, 1 minute and 1 second.
func DefaultPeriods() Periods {
	return Periods{
		StabilitySample:  15 * time.Minute,
		TelemetryRefresh: time.Minute,
		CompressorPoll:   time.Second,
	}
}

// recentCycleCount is how many cycles Status reports.
const recentCycleCount = 10

// Option configures a Controller.
type Option func(*Controller)

func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithPeriods overrides the timer periods. Zero fields keep their defaults.
func WithPeriods(p Periods) Option {
	return func(c *Controller) {
		if p.StabilitySample > 0 {
			c.periods.StabilitySample = p.StabilitySample
		}
		if p.TelemetryRefresh > 0 {
			c.periods.TelemetryRefresh = p.TelemetryRefresh
		}
		if p.CompressorPoll > 0 {
			c.periods.CompressorPoll = p.CompressorPoll
		}
	}
}

// WithCycleWindow sets how many recent cycles the calibrated check inspects
// and how many cycles must exist before drift adjustments are attempted.
// The adjustment threshold is never below the check window.
func WithCycleWindow(check, adjust int) Option {
	return func(c *Controller) {
		if check > 0 {
			c.checkWindow = check
		}
		if adjust > 0 {
			c.adjustThreshold = adjust
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, any) {}

// Controller is the calibration state machine. Every timer callback runs
// under mu, so callbacks are serialized whether they come from Run or from
// direct HandleEvent calls.
type Controller struct {
	mu sync.Mutex

	source   ProbeSource
	actuator Actuator
	clock    Clock
	notifier Notifier
	periods  Periods

	checkWindow     int
	adjustThreshold int

	sessionID    string
	startedAt    time.Time
	stableSince  time.Time
	calibratedAt time.Time
	state        State
	snap         Snapshot
	havePrimary  bool
	cycles       *CycleLog

	running    bool
	stability  Ticker
	telemetry  Ticker
	compressor Ticker

	// wake interrupts Run so it picks up armed or stopped tickers.
	wake chan struct{}
}

// New returns a controller in StateTemperatureUnstable with a fresh session.
func New(source ProbeSource, actuator Actuator, opts ...Option) *Controller {
	c := &Controller{
		source:          source,
		actuator:        actuator,
		clock:           SystemClock{},
		notifier:        nopNotifier{},
		periods:         DefaultPeriods(),
		checkWindow:     DefaultCycleCheckWindow,
		adjustThreshold: DefaultCycleAdjustThreshold,
		state:           StateTemperatureUnstable,
		snap: Snapshot{
			ReferenceTemperature: NoReading,
			PrimaryTemperature:   NoReading,
		},
		cycles: NewCycleLog(),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.adjustThreshold < c.checkWindow {
		c.adjustThreshold = c.checkWindow
	}

	c.sessionID = uuid.NewString()
	c.startedAt = c.clock.Now()

	return c
}

// State returns the current calibration state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the id of the current session.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Start arms the stability-sample and telemetry-refresh timers. The
// compressor-poll timer is armed when the unit first becomes stable.
// Calling Start on a running controller does nothing.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true

	c.refreshTelemetry()
	c.stability = c.clock.NewTicker(c.periods.StabilitySample)
	c.telemetry = c.clock.NewTicker(c.periods.TelemetryRefresh)

	c.logger().WithFields(logrus.Fields{
		"stabilitySample":  c.periods.StabilitySample,
		"telemetryRefresh": c.periods.TelemetryRefresh,
		"compressorPoll":   c.periods.CompressorPoll,
		"checkWindow":      c.checkWindow,
		"adjustThreshold":  c.adjustThreshold,
	}).Info("calibration controller started")

	c.signal()
}

// Run delivers timer fires to HandleEvent until ctx is done, then stops
// every timer. It is the single execution context of the controller.
func (c *Controller) Run(ctx context.Context) {
	defer c.stop()

	for {
		stability, telemetry, compressor := c.channels()

		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-stability:
			c.HandleEvent(EventStabilitySample)
		case <-telemetry:
			c.HandleEvent(EventTelemetryRefresh)
		case <-compressor:
			c.HandleEvent(EventCompressorPoll)
		}
	}
}

// HandleEvent runs the handler of the timer that fired.
func (c *Controller) HandleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev {
	case EventStabilitySample:
		c.onStabilitySample()
	case EventTelemetryRefresh:
		c.refreshTelemetry()
	case EventCompressorPoll:
		c.onCompressorPoll()
	default:
		c.logger().WithField("event", ev).Error("unknown controller event")
	}
}

// Restart discards the cycle log and begins a new session from
// StateTemperatureUnstable. It returns the new session id.
func (c *Controller) Restart() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	prevSession := c.sessionID

	if c.compressor != nil {
		c.compressor.Stop()
		c.compressor = nil
	}
	c.cycles = NewCycleLog()
	c.state = StateTemperatureUnstable
	c.sessionID = uuid.NewString()
	c.startedAt = c.clock.Now()
	c.stableSince = time.Time{}
	c.calibratedAt = time.Time{}

	c.logger().WithField("previousSession", prevSession).Info("calibration session restarted")

	c.notifier.Publish(events.CalibrationState, events.StateEvent{
		SessionID: c.sessionID,
		From:      prev.String(),
		To:        c.state.String(),
		Message:   "new session",
		Ts:        c.startedAt.Unix(),
	})

	c.signal()
	return c.sessionID
}

// Cycles returns a copy of the cycle log of the current session.
func (c *Controller) Cycles() []CycleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles.Records()
}

// Status returns a view of the controller for observers.
func (c *Controller) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.cycles.Last(c.checkWindow)
	mean, stdDev := windowStats(window)

	st := &Status{
		SessionID:         c.sessionID,
		State:             c.state,
		StartedAt:         c.startedAt,
		StableSince:       c.stableSince,
		CalibratedAt:      c.calibratedAt,
		Running:           c.running,
		CompressorPolling: c.compressor != nil,
		Snapshot:          c.snap,
		CycleCount:        c.cycles.Len(),
		RecentCycles:      c.cycles.Last(recentCycleCount),
		WindowSize:        len(window),
		WindowMean:        mean,
		WindowStdDev:      stdDev,
	}
	if sp, err := c.snap.DeviceKind.Setpoint(); err == nil {
		st.Setpoint = &sp
	}

	switch c.state {
	case StateTemperatureUnstable:
		st.Message = "waiting for the temperature to stabilize"
	case StateTemperatureStable:
		st.Message = fmt.Sprintf("tracking compressor cycles (%d/%d)", min(c.cycles.Len(), c.checkWindow), c.checkWindow)
	case StateCalibrated:
		st.Message = fmt.Sprintf("calibrated in %s", c.calibratedAt.Sub(c.startedAt).Round(time.Second))
	}

	return st
}

func (c *Controller) onStabilitySample() {
	if !c.sourceReady() {
		c.logger().Info("waiting for telemetry before sampling stability")
		return
	}

	newPrimary := c.source.PrimaryTemperature()
	delta := newPrimary - c.snap.PrimaryTemperature
	baseline := !c.havePrimary
	c.snap.PrimaryTemperature = newPrimary
	c.havePrimary = true

	log := c.logger().WithFields(logrus.Fields{
		"primaryTemperature": newPrimary,
		"delta":              delta,
	})

	if baseline {
		log.Info("recorded baseline primary temperature")
		return
	}

	switch c.state {
	case StateTemperatureUnstable:
		if delta >= StableDeltaLower && delta <= StableDeltaUpper {
			log.Info("temperature is now stable")
			c.setState(StateTemperatureStable)
			_ = c.fixControlProbeOffset()
			return
		}
		log.Info("temperature is not yet stable")
	case StateTemperatureStable:
		log.Info("temperature is stable")
		_ = c.fixPrimaryProbeOffset()
	case StateCalibrated:
		log.Debug("unit is calibrated")
	default:
		log.WithError(ErrInvalidState).Error("unexpected calibration state")
	}
}

// fixControlProbeOffset nulls the control probe against the setpoint using
// the reference reading.
func (c *Controller) fixControlProbeOffset() error {
	c.pauseTelemetry()
	defer c.resumeTelemetry()

	if !c.sourceReady() {
		c.logger().WithError(ErrNoTelemetry).Warn("cannot fix control probe offset")
		return ErrNoTelemetry
	}

	kind := c.deviceKind()
	setpoint, err := kind.Setpoint()
	if err != nil {
		c.logger().WithError(err).Error("cannot fix control probe offset")
		return err
	}

	delta := c.snap.ReferenceTemperature - setpoint
	return c.correctOffset(ChannelControlProbe, c.snap.ControlOffset, delta)
}

// fixPrimaryProbeOffset aligns the primary probe with the reference reading.
func (c *Controller) fixPrimaryProbeOffset() error {
	c.pauseTelemetry()
	defer c.resumeTelemetry()

	if !c.sourceReady() {
		c.logger().WithError(ErrNoTelemetry).Warn("cannot fix primary probe offset")
		return ErrNoTelemetry
	}

	delta := c.snap.ReferenceTemperature - c.snap.PrimaryTemperature
	return c.correctOffset(ChannelPrimaryProbe, c.snap.PrimaryOffset, delta)
}

func (c *Controller) correctOffset(ch Channel, current, delta float64) error {
	log := c.logger().WithFields(logrus.Fields{
		"channel":       ch,
		"delta":         delta,
		"currentOffset": current,
	})

	ev := events.OffsetEvent{
		SessionID: c.sessionID,
		Channel:   string(ch),
		Delta:     delta,
		Ts:        c.clock.Now().Unix(),
	}

	if delta <= OffsetDeltaMin || delta >= OffsetDeltaMax {
		err := errors.Wrapf(ErrOffsetOutOfRange, "%s delta %.3f", ch, delta)
		log.WithError(err).Warn("offset correction aborted")
		ev.Value = current
		ev.Reason = err.Error()
		c.notifier.Publish(events.CalibrationOffset, ev)
		return err
	}

	value := current + delta
	log.WithField("offset", value).Info("sending calibration offset")
	c.actuator.SendCalibrationOffset(ch, value)

	ev.Value = value
	ev.Applied = true
	c.notifier.Publish(events.CalibrationOffset, ev)
	return nil
}

// sourceReady reports false while a source that tracks readiness has not
// yet seen every reading. Sources without readiness are always ready.
func (c *Controller) sourceReady() bool {
	r, ok := c.source.(Readiness)
	return !ok || r.Ready()
}

func (c *Controller) refreshTelemetry() {
	c.snap.ControlTemperature = c.source.ControlTemperature()
	c.snap.ReferenceTemperature = c.source.ReferenceTemperature()
	c.snap.ControlOffset = c.source.ControlOffset()
	c.snap.PrimaryOffset = c.source.PrimaryOffset()
	c.snap.DeviceKind = c.source.DeviceKind()

	c.logger().WithFields(logrus.Fields{
		"controlTemperature":   c.snap.ControlTemperature,
		"referenceTemperature": c.snap.ReferenceTemperature,
		"controlOffset":        c.snap.ControlOffset,
		"primaryOffset":        c.snap.PrimaryOffset,
	}).Trace("telemetry refreshed")
}

func (c *Controller) onCompressorPoll() {
	on := c.source.CompressorOn()

	switch {
	case !c.snap.CompressorOn && on:
		c.logger().Debug("compressor is on")
		c.onCompressorCycleStart()
	case c.snap.CompressorOn && !on:
		c.logger().Debug("compressor is off")
	}

	c.snap.CompressorOn = on
}

func (c *Controller) onCompressorCycleStart() {
	now := c.clock.Now()
	closed, rec := c.cycles.Begin(now, c.snap.ReferenceTemperature)

	if closed != nil {
		c.logger().WithFields(logrus.Fields{
			"cycleNumber": closed.CycleNumber,
			"startTime":   closed.StartTime.Format(time.RFC3339),
			"startTemp":   closed.StartTemp,
			"endTime":     closed.EndTime.Format(time.RFC3339),
			"endTemp":     *closed.EndTemp,
		}).Info("compressor cycle closed")
	}

	c.notifier.Publish(events.CalibrationCycle, events.CycleEvent{
		SessionID:   c.sessionID,
		CycleNumber: rec.CycleNumber,
		StartTemp:   rec.StartTemp,
		Cycles:      c.cycles.Len(),
		Ts:          now.Unix(),
	})

	if c.cycles.Len() >= c.checkWindow {
		c.checkCalibrated()
	} else {
		c.logger().WithField("cycles", c.cycles.Len()).Debug("not enough cycles to check calibration")
	}

	if c.cycles.Len() >= c.adjustThreshold && c.state != StateCalibrated {
		c.checkAdjustment()
	}
}

// checkCalibrated moves the session to StateCalibrated when the most recent
// check window sits within the buffer of the setpoint. A failing window
// leaves the state unchanged.
func (c *Controller) checkCalibrated() bool {
	setpoint, err := c.deviceKind().Setpoint()
	if err != nil {
		c.logger().WithError(err).Error("cannot check calibration")
		return false
	}

	window := c.cycles.Last(c.checkWindow)
	if !windowWithinTolerance(window, setpoint) {
		mean, stdDev := windowStats(window)
		c.logger().WithFields(logrus.Fields{
			"setpoint":   setpoint,
			"windowMean": mean,
			"windowStd":  stdDev,
		}).Debug("cycle window out of tolerance")
		return false
	}

	c.setState(StateCalibrated)
	return true
}

// checkAdjustment re-fixes the control probe when the unit has cycled long
// enough but the primary temperature is still off target.
func (c *Controller) checkAdjustment() {
	setpoint, err := c.deviceKind().Setpoint()
	if err != nil {
		c.logger().WithError(err).Error("cannot check for adjustments")
		return
	}

	primary := c.source.PrimaryTemperature()
	if withinBuffer(primary, setpoint) {
		return
	}

	c.logger().WithFields(logrus.Fields{
		"primaryTemperature": primary,
		"setpoint":           setpoint,
	}).Info("primary temperature still off target, adjusting control probe")
	_ = c.fixControlProbeOffset()
}

func (c *Controller) setState(next State) {
	prev := c.state
	if next == prev {
		return
	}
	if next < prev {
		c.logger().WithFields(logrus.Fields{
			"from": prev,
			"to":   next,
		}).Error("refusing to move calibration state backwards")
		return
	}

	c.state = next
	now := c.clock.Now()

	c.logger().WithField("from", prev).Info("calibration state changed")

	switch next {
	case StateTemperatureStable:
		c.stableSince = now
		c.snap.CompressorOn = c.source.CompressorOn()
		c.armCompressorPoll()
	case StateCalibrated:
		c.calibratedAt = now
	}

	c.notifier.Publish(events.CalibrationState, events.StateEvent{
		SessionID: c.sessionID,
		From:      prev.String(),
		To:        next.String(),
		Ts:        now.Unix(),
	})
}

func (c *Controller) armCompressorPoll() {
	if c.compressor != nil {
		return
	}
	c.compressor = c.clock.NewTicker(c.periods.CompressorPoll)
	c.logger().WithField("compressorOn", c.snap.CompressorOn).Info("started compressor cycle tracking")
	c.signal()
}

func (c *Controller) deviceKind() DeviceKind {
	c.snap.DeviceKind = c.source.DeviceKind()
	return c.snap.DeviceKind
}

func (c *Controller) pauseTelemetry() {
	if c.telemetry != nil {
		c.telemetry.Stop()
	}
}

func (c *Controller) resumeTelemetry() {
	if c.telemetry != nil {
		c.telemetry.Reset(c.periods.TelemetryRefresh)
	}
}

func (c *Controller) channels() (stability, telemetry, compressor <-chan time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stability != nil {
		stability = c.stability.C()
	}
	if c.telemetry != nil {
		telemetry = c.telemetry.C()
	}
	if c.compressor != nil {
		compressor = c.compressor.C()
	}
	return
}

func (c *Controller) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range []Ticker{c.stability, c.telemetry, c.compressor} {
		if t != nil {
			t.Stop()
		}
	}
	c.stability, c.telemetry, c.compressor = nil, nil, nil
	c.running = false

	c.logger().Info("calibration controller stopped")
}

func (c *Controller) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Controller) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"operation": "calibration",
		"session":   c.sessionID,
		"state":     c.state,
	})
}
