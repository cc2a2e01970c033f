// Package unit talks to the HTTP API of the unit under test.
package unit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/calibration"
)

const defaultSendTimeout = 10 * time.Second

// Status is the last telemetry reported by the unit.
type Status struct {
	PrimaryTemperature float64   `json:"primaryTemperature"`
	ControlTemperature float64   `json:"controlTemperature"`
	ControlOffset      float64   `json:"controlOffset"`
	PrimaryOffset      float64   `json:"primaryOffset"`
	CompressorOn       bool      `json:"compressorOn"`
	DeviceType         string    `json:"deviceType"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// rawStatus is the wire form. The unit reports every value as a string.
type rawStatus struct {
	PrimaryProbeTemp string `json:"primaryProbeTemp"`
	ControlProbeTemp string `json:"controlProbeTemp"`
	CompressorState  string `json:"compressorState"`
	ControlOffset    string `json:"controlOffset"`
	PrimaryOffset    string `json:"primaryOffset"`
	DeviceType       string `json:"deviceType"`
}

type calibrationRequest struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
}

// Client caches the unit status and pushes calibration offsets.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	sendTimeout time.Duration

	mu   sync.RWMutex
	last Status

	pending sync.WaitGroup
}

var _ calibration.Actuator = &Client{}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		sendTimeout: defaultSendTimeout,
	}
}

// Last returns the most recently fetched status.
func (c *Client) Last() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Refresh fetches the unit status and updates the cache. On failure the
// cache keeps its previous value.
func (c *Client) Refresh(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create status request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get unit status")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read unit status")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unit status: got %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var raw rawStatus
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to unmarshal unit status")
	}

	st, err := parseStatus(raw)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = time.Now()

	c.mu.Lock()
	c.last = *st
	c.mu.Unlock()

	return st, nil
}

// Poll refreshes the cache every interval until ctx is done.
func (c *Client) Poll(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).WithField("unitURL", c.baseURL).Warn("failed to refresh unit status")
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// SendCalibrationOffset writes the offset in the background. Failures are
// logged and never reported to the caller.
func (c *Client) SendCalibrationOffset(ch calibration.Channel, value float64) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
		defer cancel()

		log := logrus.WithFields(logrus.Fields{
			"channel": ch,
			"sensor":  ch.SensorID(),
			"value":   value,
		})
		if err := c.PutCalibration(ctx, ch, value); err != nil {
			log.WithError(err).Error("failed to send calibration offset")
			return
		}
		log.Debug("calibration offset sent")
	}()
}

// PutCalibration writes the offset of one channel and waits for the unit to
// acknowledge it.
func (c *Client) PutCalibration(ctx context.Context, ch calibration.Channel, value float64) error {
	sensor := ch.SensorID()
	if sensor == "" {
		return fmt.Errorf("unknown channel %q", ch)
	}

	body, err := json.Marshal(calibrationRequest{Channel: sensor, Value: value})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal calibration request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/calibration", bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create calibration request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to send calibration request")
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("calibration request: got %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return nil
}

// Wait blocks until every background send has finished.
func (c *Client) Wait() {
	c.pending.Wait()
}

func parseStatus(raw rawStatus) (*Status, error) {
	st := &Status{
		CompressorOn: parseCompressorState(raw.CompressorState),
		DeviceType:   raw.DeviceType,
	}

	fields := []struct {
		key string
		in  string
		out *float64
	}{
		{"primaryProbeTemp", raw.PrimaryProbeTemp, &st.PrimaryTemperature},
		{"controlProbeTemp", raw.ControlProbeTemp, &st.ControlTemperature},
		{"controlOffset", raw.ControlOffset, &st.ControlOffset},
		{"primaryOffset", raw.PrimaryOffset, &st.PrimaryOffset},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.in), 64)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to parse %s", f.key)
		}
		*f.out = v
	}

	return st, nil
}

func parseCompressorState(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "running":
		return true
	default:
		return false
	}
}
