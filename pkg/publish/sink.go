// Package publish relays daemon events to external message brokers.
package publish

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/events"
)

// Sink is a message broker connection.
type Sink interface {
	Publish(subject string, data []byte) error
	Close() error
}

// Separator is implemented by sinks whose subjects are not dot separated.
type Separator interface {
	Separator() string
}

// Subject returns the subject an event is published on.
func Subject(sink Sink, prefix, event string) string {
	sep := "."
	if s, ok := sink.(Separator); ok {
		sep = s.Separator()
	}
	name := strings.ReplaceAll(event, ".", sep)
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, sep) + sep + name
}

// Forward publishes every hub event on sink until ctx is done. The payload
// is the JSON body of the event.
func Forward(ctx context.Context, hub *events.EventHub, sink Sink, prefix string) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			subject := Subject(sink, prefix, ev.Name)
			if err := sink.Publish(subject, ev.Data); err != nil {
				logrus.WithError(err).WithField("subject", subject).Warn("failed to publish event")
				continue
			}
			logrus.WithField("subject", subject).Trace("event published")
		}
	}
}
