package unit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridgecal/fridgecal/pkg/calibration"
)

type fakeUnit struct {
	mu       sync.Mutex
	status   map[string]string
	received []calibrationRequest
	fail     bool
}

func (u *fakeUnit) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.fail {
			http.Error(w, "probe fault", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(u.status)
	})
	mux.HandleFunc("/calibration", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req calibrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		u.mu.Lock()
		u.received = append(u.received, req)
		u.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func TestRefresh(t *testing.T) {
	u := &fakeUnit{status: map[string]string{
		"primaryProbeTemp": "4.35",
		"controlProbeTemp": " 4.10 ",
		"compressorState":  "ON",
		"controlOffset":    "-0.2",
		"primaryOffset":    "0.05",
		"deviceType":       "Lab Refrigerator",
	}}
	srv := httptest.NewServer(u.handler())
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	st, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4.35, st.PrimaryTemperature)
	assert.Equal(t, 4.10, st.ControlTemperature)
	assert.Equal(t, -0.2, st.ControlOffset)
	assert.Equal(t, 0.05, st.PrimaryOffset)
	assert.True(t, st.CompressorOn)
	assert.Equal(t, "Lab Refrigerator", st.DeviceType)
	assert.Equal(t, *st, c.Last())
}

func TestRefreshKeepsCacheOnFailure(t *testing.T) {
	u := &fakeUnit{status: map[string]string{
		"primaryProbeTemp": "4.0",
		"controlProbeTemp": "4.0",
		"compressorState":  "off",
		"controlOffset":    "0",
		"primaryOffset":    "0",
	}}
	srv := httptest.NewServer(u.handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	u.mu.Lock()
	u.fail = true
	u.mu.Unlock()

	_, err = c.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 4.0, c.Last().PrimaryTemperature)
}

func TestRefreshRejectsMalformedValues(t *testing.T) {
	u := &fakeUnit{status: map[string]string{
		"primaryProbeTemp": "n/a",
		"controlProbeTemp": "4.0",
		"controlOffset":    "0",
		"primaryOffset":    "0",
	}}
	srv := httptest.NewServer(u.handler())
	defer srv.Close()

	_, err := NewClient(srv.URL).Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primaryProbeTemp")
}

func TestSendCalibrationOffset(t *testing.T) {
	u := &fakeUnit{}
	srv := httptest.NewServer(u.handler())
	defer srv.Close()

	c := NewClient(srv.URL)
	c.SendCalibrationOffset(calibration.ChannelControlProbe, 1.55)
	c.SendCalibrationOffset(calibration.ChannelPrimaryProbe, -0.3)
	c.Wait()

	u.mu.Lock()
	defer u.mu.Unlock()
	require.Len(t, u.received, 2)
	assert.ElementsMatch(t, []calibrationRequest{
		{Channel: "RTD4", Value: 1.55},
		{Channel: "RTD5", Value: -0.3},
	}, u.received)
}

func TestSendCalibrationOffsetUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	c.sendTimeout = 100 * time.Millisecond
	c.SendCalibrationOffset(calibration.ChannelControlProbe, 1)
	// must return once the failure is logged
	c.Wait()
}

func TestPutCalibrationUnknownChannel(t *testing.T) {
	err := NewClient("http://127.0.0.1:1").PutCalibration(context.Background(), calibration.Channel("door"), 1)
	assert.Error(t, err)
}

func TestParseCompressorState(t *testing.T) {
	for in, want := range map[string]bool{
		"on": true, "ON": true, "true": true, "1": true, "running": true,
		"off": false, "": false, "idle": false,
	} {
		if got := parseCompressorState(in); got != want {
			t.Fatalf("parseCompressorState(%q): expected %v, got %v", in, want, got)
		}
	}
}
