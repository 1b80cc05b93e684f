package broadcast

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/juliana/internal/events"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements events.Notifier.
func (n LogNotifier) Notify(_ context.Context, event events.Event) error {
	n.Logger.Info().
		Str("event_id", event.ID.String()).
		Str("topic", event.Topic).
		RawJSON("payload", event.Payload).
		Msg("event_broadcast")
	return nil
}
