package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridgecal/fridgecal/pkg/config"
)

func TestReloadReportsRestartOnlyKeys(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"stabilityIntervalMinutes": 15, "deviceType": "Refrigerator"}`), 0644))

	conf, err := config.NewFile(p)
	require.NoError(t, err)
	before := restartOnlySettings(conf)

	require.NoError(t, os.WriteFile(p, []byte(`{"stabilityIntervalMinutes": 5, "cycleCheckWindow": 8, "deviceType": "Freezer", "cron": "0 6 * * 1"}`), 0644))
	require.NoError(t, conf.Load())

	assert.Equal(t, []string{"cycleCheckWindow", "stabilityIntervalMinutes"},
		changedSettings(before, restartOnlySettings(conf)))
}

func TestReloadWithoutRestartOnlyChanges(t *testing.T) {
	conf := config.NewFileFromConfig(nil, "")
	before := restartOnlySettings(conf)
	conf.SetDeviceType("Freezer")
	conf.SetCron("0 6 * * 1")
	assert.Empty(t, changedSettings(before, restartOnlySettings(conf)))
}
