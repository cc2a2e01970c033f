package logfile

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger(h *Hook) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.TraceLevel)
	l.AddHook(h)
	return l
}

func TestHookWritesEntries(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fridgecal.log")
	h, err := New(p, 0, logrus.InfoLevel)
	require.NoError(t, err)
	defer h.Close()

	l := newLogger(h)
	l.WithField("channel", "control").Info("sending calibration offset")
	l.Debug("telemetry refreshed")

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "sending calibration offset")
	assert.Contains(t, string(b), "channel=control")
	assert.NotContains(t, string(b), "telemetry refreshed")
}

func TestHookRotates(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fridgecal.log")
	h, err := New(p, 200, logrus.InfoLevel)
	require.NoError(t, err)
	defer h.Close()

	l := newLogger(h)
	for i := 0; i < 10; i++ {
		l.Info(strings.Repeat("x", 50))
	}

	st, err := os.Stat(p)
	require.NoError(t, err)
	assert.LessOrEqual(t, st.Size(), int64(200))

	_, err = os.Stat(p + ".bak")
	assert.NoError(t, err)
}

func TestHookAppendsToExistingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fridgecal.log")
	require.NoError(t, os.WriteFile(p, []byte("previous run\n"), 0644))

	h, err := New(p, 0, logrus.WarnLevel)
	require.NoError(t, err)
	newLogger(h).Warn("offset correction aborted")
	require.NoError(t, h.Close())

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "previous run\n"))
	assert.Contains(t, string(b), "offset correction aborted")
}

func TestHookRotatesAfterCloseError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fridgecal.log")
	h, err := New(p, 200, logrus.InfoLevel)
	require.NoError(t, err)
	defer h.Close()

	l := newLogger(h)
	l.Info(strings.Repeat("a", 50))

	// closing the file underneath the hook makes the rotation's Close fail
	require.NoError(t, h.f.Close())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			l.Info(strings.Repeat("b", 50))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("logging blocked during rotation")
	}

	_, err = os.Stat(p + ".bak")
	require.NoError(t, err)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), strings.Repeat("b", 50))
}

func TestHookRotateReportsCloseError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "fridgecal.log")
	h, err := New(p, 200, logrus.InfoLevel)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.f.Close())

	h.mu.Lock()
	err = h.rotate()
	h.mu.Unlock()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "before rotation")
	assert.NotNil(t, h.f)
}
