package types

import "time"

// Schedule describes the cron schedule that starts new sessions.
type Schedule struct {
	Cron    string     `json:"cron"`
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// ScheduleRequest is the body of PUT /schedule. An empty Cron disables
// scheduling.
type ScheduleRequest struct {
	Cron string `json:"cron"`
}
