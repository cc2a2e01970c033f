package calibration

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceKind(t *testing.T) {
	cases := map[string]DeviceKind{
		"Refrigerator":        DeviceRefrigerator,
		"LAB REFRIGERATOR 4C": DeviceRefrigerator,
		"refrig-2":            DeviceRefrigerator,
		"Ultra Low Freezer":   DeviceFreezer,
		"FREEZER":             DeviceFreezer,
		"incubator":           DeviceUnknown,
		"":                    DeviceUnknown,
	}

	for in, want := range cases {
		if got := ParseDeviceKind(in); got != want {
			t.Fatalf("ParseDeviceKind(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestDeviceKindSetpoint(t *testing.T) {
	sp, err := DeviceRefrigerator.Setpoint()
	require.NoError(t, err)
	assert.Equal(t, 4.0, sp)

	sp, err = DeviceFreezer.Setpoint()
	require.NoError(t, err)
	assert.Equal(t, -30.0, sp)

	_, err = DeviceUnknown.Setpoint()
	assert.True(t, errors.Is(err, ErrUnknownDeviceKind))
}

func TestChannelSensorID(t *testing.T) {
	assert.Equal(t, "RTD4", ChannelControlProbe.SensorID())
	assert.Equal(t, "RTD5", ChannelPrimaryProbe.SensorID())
	assert.Empty(t, Channel("door").SensorID())
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		State State `json:"state"`
	}{StateCalibrated})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"Calibrated"}`, string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("TemperatureStable")))
	assert.Equal(t, StateTemperatureStable, s)

	err = s.UnmarshalText([]byte("Melting"))
	assert.True(t, errors.Is(err, ErrInvalidState))
}
