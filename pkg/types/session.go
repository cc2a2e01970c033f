package types

import "time"

// Session identifies a calibration session.
// This struct is shared between the daemon and client packages.
type Session struct {
	SessionID string    `json:"sessionID"`
	StartedAt time.Time `json:"startedAt"`
}
