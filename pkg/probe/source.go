// Package probe combines the unit telemetry and the reference thermometer
// into the readings the calibration controller consumes.
package probe

import (
	"sync"
	"time"

	"github.com/fridgecal/fridgecal/pkg/calibration"
	"github.com/fridgecal/fridgecal/pkg/unit"
)

// UnitStatus provides the cached unit telemetry. *unit.Client satisfies it.
type UnitStatus interface {
	Last() unit.Status
}

// Reference provides the cached reference temperature. *reference.Reader
// satisfies it.
type Reference interface {
	Temperature() float64
	UpdatedAt() time.Time
}

var (
	_ calibration.ProbeSource = &Source{}
	_ calibration.Readiness   = &Source{}
)

type Source struct {
	unit UnitStatus
	ref  Reference

	mu         sync.RWMutex
	deviceType string
}

// New returns a Source. A non-empty deviceType takes precedence over the type
// the unit reports.
func New(u UnitStatus, ref Reference, deviceType string) *Source {
	return &Source{
		unit:       u,
		ref:        ref,
		deviceType: deviceType,
	}
}

// SetDeviceType changes the device type override. Empty clears it.
func (s *Source) SetDeviceType(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceType = t
}

// Ready reports whether both the unit and the reference have reported at
// least once.
func (s *Source) Ready() bool {
	return !s.unit.Last().UpdatedAt.IsZero() && !s.ref.UpdatedAt().IsZero()
}

// Temperatures read as calibration.NoReading until their source has
// reported.

func (s *Source) ReferenceTemperature() float64 {
	if s.ref.UpdatedAt().IsZero() {
		return calibration.NoReading
	}
	return s.ref.Temperature()
}

func (s *Source) PrimaryTemperature() float64 {
	st := s.unit.Last()
	if st.UpdatedAt.IsZero() {
		return calibration.NoReading
	}
	return st.PrimaryTemperature
}

func (s *Source) ControlTemperature() float64 {
	st := s.unit.Last()
	if st.UpdatedAt.IsZero() {
		return calibration.NoReading
	}
	return st.ControlTemperature
}

func (s *Source) ControlOffset() float64 { return s.unit.Last().ControlOffset }

func (s *Source) PrimaryOffset() float64 { return s.unit.Last().PrimaryOffset }

func (s *Source) CompressorOn() bool { return s.unit.Last().CompressorOn }

func (s *Source) DeviceKind() calibration.DeviceKind {
	s.mu.RLock()
	override := s.deviceType
	s.mu.RUnlock()

	if override != "" {
		return calibration.ParseDeviceKind(override)
	}
	return calibration.ParseDeviceKind(s.unit.Last().DeviceType)
}
