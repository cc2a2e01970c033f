package calibration

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	SetpointRefrigerator = 4.0
	SetpointFreezer      = -30.0

	// StableDeltaLower and StableDeltaUpper bound the primary temperature
	// change between two stability samples for the unit to count as stable.
	StableDeltaLower = -0.15
	StableDeltaUpper = 0.15

	// CalibratedBuffer is the tolerance around the setpoint a cycle start
	// temperature must sit in.
	CalibratedBuffer = 0.25

	// OffsetDeltaMin and OffsetDeltaMax are exclusive. A correction at or
	// beyond either bound is never written.
	OffsetDeltaMin = -10.0
	OffsetDeltaMax = 10.0

	// NoReading stands in for a temperature that has not been reported yet.
	// Any correction computed from it falls outside the offset band.
	NoReading = 100.0

	DefaultCycleCheckWindow     = 6
	DefaultCycleAdjustThreshold = 12
)

var (
	ErrUnknownDeviceKind = errors.New("unknown device kind")
	ErrOffsetOutOfRange  = errors.New("offset delta out of range")
	ErrInvalidState      = errors.New("invalid calibration state")
	ErrNoTelemetry       = errors.New("telemetry not reported yet")
)

// State is the progress of a calibration session. States are ordered and a
// session never moves backwards.
type State int

const (
	StateTemperatureUnstable State = iota
	StateTemperatureStable
	StateCalibrated
)

func (s State) String() string {
	switch s {
	case StateTemperatureUnstable:
		return "TemperatureUnstable"
	case StateTemperatureStable:
		return "TemperatureStable"
	case StateCalibrated:
		return "Calibrated"
	default:
		return "Invalid"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "TemperatureUnstable":
		*s = StateTemperatureUnstable
	case "TemperatureStable":
		*s = StateTemperatureStable
	case "Calibrated":
		*s = StateCalibrated
	default:
		return errors.Wrapf(ErrInvalidState, "%q", string(b))
	}
	return nil
}

// DeviceKind selects the setpoint of the unit under test.
type DeviceKind string

const (
	DeviceRefrigerator DeviceKind = "Refrigerator"
	DeviceFreezer      DeviceKind = "Freezer"
	DeviceUnknown      DeviceKind = "Unknown"
)

// ParseDeviceKind maps the free-text device type reported by a unit to a
// DeviceKind. The match is a case-insensitive substring match.
func ParseDeviceKind(s string) DeviceKind {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(l, "refrig"):
		return DeviceRefrigerator
	case strings.Contains(l, "freezer"):
		return DeviceFreezer
	default:
		return DeviceUnknown
	}
}

// Setpoint returns the target steady-state temperature for the kind.
func (k DeviceKind) Setpoint() (float64, error) {
	switch k {
	case DeviceRefrigerator:
		return SetpointRefrigerator, nil
	case DeviceFreezer:
		return SetpointFreezer, nil
	default:
		return 0, errors.Wrapf(ErrUnknownDeviceKind, "%q", string(k))
	}
}

// Channel names a calibratable sensor of the unit.
type Channel string

const (
	ChannelControlProbe Channel = "control"
	ChannelPrimaryProbe Channel = "primary"
)

// SensorID is the identifier the unit firmware uses for the channel.
func (c Channel) SensorID() string {
	switch c {
	case ChannelControlProbe:
		return "RTD4"
	case ChannelPrimaryProbe:
		return "RTD5"
	default:
		return ""
	}
}

// ProbeSource exposes the latest telemetry of the unit and the reference
// thermometer. Reads must be fast and must not block.
type ProbeSource interface {
	ReferenceTemperature() float64
	PrimaryTemperature() float64
	ControlTemperature() float64
	ControlOffset() float64
	PrimaryOffset() float64
	CompressorOn() bool
	DeviceKind() DeviceKind
}

// Readiness is implemented by sources that know whether every reading has
// been reported at least once. While Ready is false the controller takes no
// stability samples and writes no offsets.
type Readiness interface {
	Ready() bool
}

// Actuator pushes a calibration offset to a sensor channel. The call is
// fire-and-forget; its outcome is not reported back to the controller.
type Actuator interface {
	SendCalibrationOffset(ch Channel, value float64)
}

// Notifier receives controller events. *events.EventHub satisfies it.
type Notifier interface {
	Publish(name string, payload any)
}

// Snapshot holds the readings cached by the controller between samples.
type Snapshot struct {
	ReferenceTemperature float64    `json:"referenceTemperature"`
	PrimaryTemperature   float64    `json:"primaryTemperature"`
	ControlTemperature   float64    `json:"controlTemperature"`
	ControlOffset        float64    `json:"controlOffset"`
	PrimaryOffset        float64    `json:"primaryOffset"`
	CompressorOn         bool       `json:"compressorOn"`
	DeviceKind           DeviceKind `json:"deviceKind"`
}

// CycleRecord describes one compressor on-period. EndTime and EndTemp are
// set when the next cycle starts.
type CycleRecord struct {
	CycleNumber int        `json:"cycleNumber"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	StartTemp   float64    `json:"startTemp"`
	EndTemp     *float64   `json:"endTemp,omitempty"`
}

// Closed reports whether the record has been closed by a later cycle.
func (r CycleRecord) Closed() bool {
	return r.EndTime != nil
}

// Status is a synthesized view model exposed via HTTP and the CLI.
// Window statistics cover the most recent cycle start temperatures used by
// the calibrated check.
type Status struct {
	SessionID         string        `json:"sessionID"`
	State             State         `json:"state"`
	StartedAt         time.Time     `json:"startedAt"`
	StableSince       time.Time     `json:"stableSince"`
	CalibratedAt      time.Time     `json:"calibratedAt"`
	Running           bool          `json:"running"`
	CompressorPolling bool          `json:"compressorPolling"`
	Snapshot          Snapshot      `json:"snapshot"`
	Setpoint          *float64      `json:"setpoint,omitempty"`
	CycleCount        int           `json:"cycleCount"`
	RecentCycles      []CycleRecord `json:"recentCycles"`
	WindowSize        int           `json:"windowSize"`
	WindowMean        float64       `json:"windowMean"`
	WindowStdDev      float64       `json:"windowStdDev"`
	Message           string        `json:"message,omitempty"`
}
