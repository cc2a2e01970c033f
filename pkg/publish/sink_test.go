package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridgecal/fridgecal/pkg/events"
)

type message struct {
	subject string
	data    string
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []message
	fail bool
}

func (s *recordingSink) Publish(subject string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("broker unavailable")
	}
	s.msgs = append(s.msgs, message{subject: subject, data: string(data)})
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) received() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message(nil), s.msgs...)
}

type slashSink struct{ recordingSink }

func (s *slashSink) Separator() string { return "/" }

func TestSubject(t *testing.T) {
	dots := &recordingSink{}
	slashes := &slashSink{}

	assert.Equal(t, "fridgecal.calibration.state", Subject(dots, "fridgecal", events.CalibrationState))
	assert.Equal(t, "lab.unit7.calibration.cycle", Subject(dots, "lab.unit7.", events.CalibrationCycle))
	assert.Equal(t, "calibration.offset", Subject(dots, "", events.CalibrationOffset))
	assert.Equal(t, "fridgecal/calibration/state", Subject(slashes, "fridgecal", events.CalibrationState))
	assert.Equal(t, "lab/unit7/calibration/state", Subject(slashes, "lab/unit7/", events.CalibrationState))
}

func TestForward(t *testing.T) {
	hub := events.NewEventHub()
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, hub, sink, "fridgecal")
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	hub.Publish(events.CalibrationState, events.StateEvent{From: "TemperatureUnstable", To: "TemperatureStable"})
	hub.Publish(events.CalibrationCycle, events.CycleEvent{CycleNumber: 3})

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, time.Second, time.Millisecond)
	msgs := sink.received()
	assert.Equal(t, "fridgecal.calibration.state", msgs[0].subject)
	assert.Contains(t, msgs[0].data, `"to":"TemperatureStable"`)
	assert.Equal(t, "fridgecal.calibration.cycle", msgs[1].subject)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Subscribers())
}

func TestForwardSurvivesPublishErrors(t *testing.T) {
	hub := events.NewEventHub()
	sink := &recordingSink{fail: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Forward(ctx, hub, sink, "")
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, time.Millisecond)

	hub.Publish(events.CalibrationOffset, events.OffsetEvent{Channel: "control"})

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	assert.Eventually(t, func() bool {
		hub.Publish(events.CalibrationOffset, events.OffsetEvent{Channel: "primary"})
		return len(sink.received()) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewNATSUnreachable(t *testing.T) {
	_, err := NewNATS("nats://127.0.0.1:1")
	assert.Error(t, err)
}

func TestNewMQTTUnreachable(t *testing.T) {
	_, err := NewMQTT("tcp://127.0.0.1:1", "fridgecal-test")
	assert.Error(t, err)
}
