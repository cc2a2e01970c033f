package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleLogBegin(t *testing.T) {
	l := NewCycleLog()
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	closed, rec := l.Begin(t0, 4.2)
	assert.Nil(t, closed)
	assert.Equal(t, 0, rec.CycleNumber)
	assert.False(t, rec.Closed())

	closed, rec = l.Begin(t0.Add(20*time.Minute), 4.1)
	require.NotNil(t, closed)
	assert.Equal(t, 0, closed.CycleNumber)
	assert.Equal(t, t0.Add(20*time.Minute), *closed.EndTime)
	assert.Equal(t, 4.1, *closed.EndTemp)
	assert.Equal(t, 1, rec.CycleNumber)

	records := l.Records()
	require.Len(t, records, 2)
	assert.True(t, records[0].Closed())
	assert.False(t, records[1].Closed())

	// copies do not alias the log
	records[1].StartTemp = 99
	assert.Equal(t, 4.1, l.Records()[1].StartTemp)
}

func TestCycleLogLast(t *testing.T) {
	l := NewCycleLog()
	assert.Nil(t, l.Last(3))

	t0 := time.Now()
	for i := 0; i < 5; i++ {
		l.Begin(t0.Add(time.Duration(i)*time.Minute), float64(i))
	}

	last := l.Last(3)
	require.Len(t, last, 3)
	assert.Equal(t, []int{4, 3, 2}, []int{last[0].CycleNumber, last[1].CycleNumber, last[2].CycleNumber})
	assert.Len(t, l.Last(10), 5)
	assert.Nil(t, l.Last(0))
}

func TestWindowWithinTolerance(t *testing.T) {
	end := func(v float64) *float64 { return &v }

	cases := []struct {
		name   string
		window []CycleRecord
		want   bool
	}{
		{"empty", nil, true},
		{"starts in band", []CycleRecord{{StartTemp: 4.0}, {StartTemp: 4.25}, {StartTemp: 3.75}}, true},
		{"start out of band", []CycleRecord{{StartTemp: 4.0}, {StartTemp: 4.26}}, false},
		{"end out of band", []CycleRecord{{StartTemp: 4.0, EndTemp: end(5.0)}}, false},
		{"end in band", []CycleRecord{{StartTemp: 4.0, EndTemp: end(3.9)}}, true},
	}

	for _, tc := range cases {
		if got := windowWithinTolerance(tc.window, SetpointRefrigerator); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestWindowStats(t *testing.T) {
	mean, sd := windowStats(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sd)

	mean, sd = windowStats([]CycleRecord{{StartTemp: 4.2}})
	assert.Equal(t, 4.2, mean)
	assert.Zero(t, sd)
	assert.False(t, math.IsNaN(sd))

	mean, sd = windowStats([]CycleRecord{{StartTemp: 3.0}, {StartTemp: 5.0}})
	assert.InDelta(t, 4.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt2, sd, 1e-9)
}
