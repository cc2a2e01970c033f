package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridgecal/fridgecal/pkg/calibration"
)

func newSocketServer(t *testing.T, h http.Handler) string {
	t.Helper()

	// unix socket paths are length limited, so keep them out of t.TempDir().
	dir, err := os.MkdirTemp("", "fc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(h)
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return sock
}

func TestClientAPIs(t *testing.T) {
	var gotSchedule string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sessionID":"abc","state":"TemperatureStable","cycleCount":3,"snapshot":{"referenceTemperature":4.02}}`)
	})
	mux.HandleFunc("GET /cycles", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"cycleNumber":0,"startTemp":4.1},{"cycleNumber":1,"startTemp":4.0,"endTime":"2024-03-01T10:00:00Z","endTemp":3.9}]`)
	})
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"Calibrated"`)
	})
	mux.HandleFunc("POST /session/restart", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sessionID":"new","startedAt":"2024-03-01T09:00:00Z"}`)
	})
	mux.HandleFunc("PUT /schedule", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotSchedule = string(b)
		_, _ = io.WriteString(w, `{"cron":"0 6 * * 1","enabled":true}`)
	})
	mux.HandleFunc("POST /schedule/skip", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `"no session restart scheduled"`)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"version":"v1.2.3","gitCommit":"deadbeef"}`)
	})

	c := NewClient(newSocketServer(t, mux))

	st, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, "abc", st.SessionID)
	assert.Equal(t, calibration.StateTemperatureStable, st.State)
	assert.Equal(t, 3, st.CycleCount)
	assert.Equal(t, 4.02, st.Snapshot.ReferenceTemperature)

	cycles, err := c.GetCycles()
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.False(t, cycles[0].Closed())
	assert.True(t, cycles[1].Closed())

	state, err := c.GetState()
	require.NoError(t, err)
	assert.Equal(t, calibration.StateCalibrated, state)

	sess, err := c.RestartSession()
	require.NoError(t, err)
	assert.Equal(t, "new", sess.SessionID)

	info, err := c.SetSchedule("0 6 * * 1")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.JSONEq(t, `{"cron":"0 6 * * 1"}`, gotSchedule)

	_, err = c.SkipSchedule()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v.Version)

	_, err = c.GetConfig()
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.GetStatus()
	assert.True(t, errors.Is(err, ErrDaemonNotRunning), "got %v", err)
}

func TestClientUnknownMethod(t *testing.T) {
	c := NewClient("/nonexistent")
	_, err := c.Send(http.MethodDelete, "/status", "")
	assert.Error(t, err)
}
