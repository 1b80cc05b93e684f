package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTopicRequired is returned when Emit is called without a topic.
var ErrTopicRequired = errors.New("events: topic is required")

// Event is a message published on the bus.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Notifier reacts to emitted events (redis, amqp, log sinks).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out to every configured notifier. A failing notifier does
// not stop delivery to the others.
type Bus struct {
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit encodes payload and dispatches it to all notifiers.
func (b *Bus) Emit(ctx context.Context, topic string, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, ErrTopicRequired
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev := Event{
		ID:         uuid.New(),
		Topic:      topic,
		Payload:    encoded,
		OccurredAt: b.now().UTC(),
	}
	if b == nil {
		return ev, nil
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func (b *Bus) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validJSON(v)
	case json.RawMessage:
		return validJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return validJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSON(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), data...), nil
}
