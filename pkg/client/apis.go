package client

import (
	"encoding/json"
	"strconv"

	pkgerrors "github.com/pkg/errors"

	"github.com/fridgecal/fridgecal/pkg/calibration"
	"github.com/fridgecal/fridgecal/pkg/config"
	"github.com/fridgecal/fridgecal/pkg/types"
	"github.com/fridgecal/fridgecal/pkg/version"
)

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}

	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) GetStatus() (*calibration.Status, error) {
	return getJSON[calibration.Status](c, "/status", "calibration status")
}

func (c *Client) GetCycles() ([]calibration.CycleRecord, error) {
	cycles, err := getJSON[[]calibration.CycleRecord](c, "/cycles", "cycle log")
	if err != nil {
		return nil, err
	}
	return *cycles, nil
}

func (c *Client) GetState() (calibration.State, error) {
	ret, err := c.Get("/state")
	if err != nil {
		return calibration.StateTemperatureUnstable, pkgerrors.Wrapf(err, "failed to get state")
	}

	name, err := strconv.Unquote(ret)
	if err != nil {
		return calibration.StateTemperatureUnstable, pkgerrors.Wrapf(err, "unexpected state response %q", ret)
	}

	var s calibration.State
	if err := s.UnmarshalText([]byte(name)); err != nil {
		return calibration.StateTemperatureUnstable, err
	}
	return s, nil
}

// RestartSession abandons the current calibration session and starts a new
// one from TemperatureUnstable.
func (c *Client) RestartSession() (*types.Session, error) {
	ret, err := c.Post("/session/restart", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to restart session")
	}

	var sess types.Session
	if err := json.Unmarshal([]byte(ret), &sess); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal session")
	}
	return &sess, nil
}

func (c *Client) GetSchedule() (*types.Schedule, error) {
	return getJSON[types.Schedule](c, "/schedule", "schedule")
}

// SetSchedule installs a cron expression for automatic session restarts. An
// empty expression disables the schedule.
func (c *Client) SetSchedule(cronExpr string) (*types.Schedule, error) {
	payload, err := json.Marshal(types.ScheduleRequest{Cron: cronExpr})
	if err != nil {
		return nil, err
	}

	ret, err := c.Put("/schedule", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}

	var info types.Schedule
	if err := json.Unmarshal([]byte(ret), &info); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &info, nil
}

func (c *Client) SkipSchedule() (*types.Schedule, error) {
	ret, err := c.Post("/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip scheduled run")
	}

	var info types.Schedule
	if err := json.Unmarshal([]byte(ret), &info); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal schedule")
	}
	return &info, nil
}

func (c *Client) GetVersion() (*version.Info, error) {
	return getJSON[version.Info](c, "/version", "version")
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}
