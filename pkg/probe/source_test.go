package probe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridgecal/fridgecal/pkg/calibration"
	"github.com/fridgecal/fridgecal/pkg/reference"
	"github.com/fridgecal/fridgecal/pkg/unit"
)

type staticUnit unit.Status

func (u staticUnit) Last() unit.Status { return unit.Status(u) }

type staticReference struct {
	temp    float64
	updated time.Time
}

func (r staticReference) Temperature() float64 { return r.temp }

func (r staticReference) UpdatedAt() time.Time { return r.updated }

var reportedAt = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingActuator struct {
	mu    sync.Mutex
	calls int
}

func (a *recordingActuator) SendCalibrationOffset(calibration.Channel, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func TestSourceReadings(t *testing.T) {
	s := New(staticUnit{
		PrimaryTemperature: 4.3,
		ControlTemperature: 4.2,
		ControlOffset:      0.1,
		PrimaryOffset:      -0.1,
		CompressorOn:       true,
		DeviceType:         "Upright Refrigerator",
		UpdatedAt:          reportedAt,
	}, staticReference{temp: 4.05, updated: reportedAt}, "")

	assert.True(t, s.Ready())
	assert.Equal(t, 4.05, s.ReferenceTemperature())
	assert.Equal(t, 4.3, s.PrimaryTemperature())
	assert.Equal(t, 4.2, s.ControlTemperature())
	assert.Equal(t, 0.1, s.ControlOffset())
	assert.Equal(t, -0.1, s.PrimaryOffset())
	assert.True(t, s.CompressorOn())
	assert.Equal(t, calibration.DeviceRefrigerator, s.DeviceKind())
}

func TestSourceUnreportedReadings(t *testing.T) {
	cases := []struct {
		name string
		unit staticUnit
		ref  staticReference
	}{
		{"nothing reported", staticUnit{}, staticReference{}},
		{"unit only", staticUnit{PrimaryTemperature: 4.1, UpdatedAt: reportedAt}, staticReference{}},
		{"reference only", staticUnit{}, staticReference{temp: 4.05, updated: reportedAt}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.unit, tc.ref, "Refrigerator")
			assert.False(t, s.Ready())
		})
	}

	s := New(staticUnit{}, staticReference{}, "Refrigerator")
	assert.Equal(t, calibration.NoReading, s.ReferenceTemperature())
	assert.Equal(t, calibration.NoReading, s.PrimaryTemperature())
	assert.Equal(t, calibration.NoReading, s.ControlTemperature())
}

func TestSourceDeviceTypeOverride(t *testing.T) {
	s := New(staticUnit{DeviceType: "Refrigerator"}, staticReference{}, "chest freezer")
	assert.Equal(t, calibration.DeviceFreezer, s.DeviceKind())

	s.SetDeviceType("")
	assert.Equal(t, calibration.DeviceRefrigerator, s.DeviceKind())

	s.SetDeviceType("incubator")
	assert.Equal(t, calibration.DeviceUnknown, s.DeviceKind())
}

// A daemon whose unit and thermometer never answer must not calibrate.
func TestControllerIdleWithoutTelemetry(t *testing.T) {
	u := unit.NewClient("http://127.0.0.1:1")
	ref := reference.New("/dev/null-fridgecal", 9600, "1")
	actuator := &recordingActuator{}

	c := calibration.New(New(u, ref, "Refrigerator"), actuator)
	c.Start()
	for i := 0; i < 3; i++ {
		c.HandleEvent(calibration.EventStabilitySample)
	}

	require.Equal(t, calibration.StateTemperatureUnstable, c.State())
	actuator.mu.Lock()
	defer actuator.mu.Unlock()
	assert.Zero(t, actuator.calls)
}
