package calibration

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// CycleLog is the append-only, ordered list of compressor cycles of a
// session. It is not safe for concurrent use; the controller owns it.
type CycleLog struct {
	records []CycleRecord
	counter int
}

// NewCycleLog returns an empty log whose first cycle will be numbered 0.
func NewCycleLog() *CycleLog {
	return &CycleLog{counter: -1}
}

// Begin closes the most recent record, if any, with the given time and
// temperature, then appends a new open record. It returns the closed record
// (nil for the first cycle) and the new one.
func (l *CycleLog) Begin(now time.Time, temp float64) (*CycleRecord, CycleRecord) {
	l.counter++

	var closed *CycleRecord
	if n := len(l.records); n > 0 {
		end := now
		endTemp := temp
		l.records[n-1].EndTime = &end
		l.records[n-1].EndTemp = &endTemp
		c := l.records[n-1]
		closed = &c
	}

	rec := CycleRecord{
		CycleNumber: l.counter,
		StartTime:   now,
		StartTemp:   temp,
	}
	l.records = append(l.records, rec)

	return closed, rec
}

// Len returns the number of records.
func (l *CycleLog) Len() int {
	return len(l.records)
}

// Last returns up to n of the most recent records, most recent first.
func (l *CycleLog) Last(n int) []CycleRecord {
	if n > len(l.records) {
		n = len(l.records)
	}
	if n <= 0 {
		return nil
	}

	out := make([]CycleRecord, 0, n)
	for i := len(l.records) - 1; i >= len(l.records)-n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Records returns a copy of all records in cycle order.
func (l *CycleLog) Records() []CycleRecord {
	out := make([]CycleRecord, len(l.records))
	copy(out, l.records)
	return out
}

func withinBuffer(v, setpoint float64) bool {
	return v >= setpoint-CalibratedBuffer && v <= setpoint+CalibratedBuffer
}

// windowWithinTolerance reports whether every record sits within the
// calibrated buffer of the setpoint. End temperatures are checked when set.
func windowWithinTolerance(window []CycleRecord, setpoint float64) bool {
	for _, r := range window {
		if !withinBuffer(r.StartTemp, setpoint) {
			return false
		}
		if r.EndTemp != nil && !withinBuffer(*r.EndTemp, setpoint) {
			return false
		}
	}
	return true
}

// windowStats returns the mean and sample standard deviation of the start
// temperatures. The deviation is 0 for fewer than two records.
func windowStats(window []CycleRecord) (mean, stdDev float64) {
	if len(window) == 0 {
		return 0, 0
	}
	temps := make([]float64, len(window))
	for i, r := range window {
		temps[i] = r.StartTemp
	}
	if len(temps) == 1 {
		return temps[0], 0
	}
	return stat.MeanStdDev(temps, nil)
}
