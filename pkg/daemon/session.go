package daemon

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/events"
	"github.com/fridgecal/fridgecal/pkg/unit"
)

// unitRefresher is satisfied by *unit.Client.
type unitRefresher interface {
	Refresh(ctx context.Context) (*unit.Status, error)
}

// newSessionScheduler returns a scheduler that starts a new calibration
// session at each run. A run only happens when the unit answers.
func newSessionScheduler(ctx context.Context, ctrl Controller, u unitRefresher, hub *events.EventHub) *Scheduler {
	task := func() error {
		id := ctrl.Restart()
		logrus.WithField("session", id).Info("scheduled calibration session started")
		return nil
	}

	preCheck := func() error {
		checkCtx, cancel := context.WithTimeout(ctx, preCheckInterval)
		defer cancel()
		_, err := u.Refresh(checkCtx)
		return err
	}

	onUpcoming := func(data any) {
		runAt, ok := data.(time.Time)
		if !ok {
			return
		}
		hub.Publish(events.ScheduleUpcoming, events.ScheduleEvent{
			RunAt:   runAt.Unix(),
			Message: "a new calibration session starts at " + runAt.Format(time.DateTime),
			Ts:      time.Now().Unix(),
		})
	}

	onError := func(data any) {
		err, ok := data.(error)
		if !ok {
			return
		}
		logrus.WithError(err).Warn("scheduled session failed")
		hub.Publish(events.ScheduleError, events.ScheduleEvent{
			Message: err.Error(),
			Ts:      time.Now().Unix(),
		})
	}

	return NewScheduler(task, preCheck, onUpcoming, onError)
}
