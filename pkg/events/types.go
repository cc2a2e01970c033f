package events

import "encoding/json"

// Event name constants
const (
	CalibrationState  = "calibration.state"
	CalibrationCycle  = "calibration.cycle"
	CalibrationOffset = "calibration.offset"
	ScheduleUpcoming  = "schedule.upcoming"
	ScheduleError     = "schedule.error"
)

// Names lists every event name published by the daemon.
var Names = []string{
	CalibrationState,
	CalibrationCycle,
	CalibrationOffset,
	ScheduleUpcoming,
	ScheduleError,
}

// Event is a generic event from the daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// StateEvent is the typed payload for calibration.state.
type StateEvent struct {
	SessionID string `json:"sessionID"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message,omitempty"`
	Ts        int64  `json:"ts"`
}

// CycleEvent is the typed payload for calibration.cycle.
type CycleEvent struct {
	SessionID   string  `json:"sessionID"`
	CycleNumber int     `json:"cycleNumber"`
	StartTemp   float64 `json:"startTemp"`
	Cycles      int     `json:"cycles"`
	Ts          int64   `json:"ts"`
}

// OffsetEvent is the typed payload for calibration.offset. Applied is false
// when the correction was rejected; Reason then says why.
type OffsetEvent struct {
	SessionID string  `json:"sessionID"`
	Channel   string  `json:"channel"`
	Delta     float64 `json:"delta"`
	Value     float64 `json:"value"`
	Applied   bool    `json:"applied"`
	Reason    string  `json:"reason,omitempty"`
	Ts        int64   `json:"ts"`
}

// ScheduleEvent is the typed payload for schedule.upcoming and schedule.error.
type ScheduleEvent struct {
	RunAt   int64  `json:"runAt,omitempty"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StateEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
