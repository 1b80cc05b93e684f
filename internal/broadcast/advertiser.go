package broadcast

import (
	"context"

	"github.com/noah-isme/juliana/internal/events"
	"github.com/noah-isme/juliana/internal/pricing"
)

// Emitter publishes a payload on a topic.
type Emitter interface {
	Emit(ctx context.Context, topic string, payload any) (events.Event, error)
}

// PriceAdvertiser turns price changes into the ticker message and emits it on
// the prices topic.
type PriceAdvertiser struct {
	Bus Emitter
}

// Advertise implements pricing.Advertiser.
func (a PriceAdvertiser) Advertise(ctx context.Context, changes []pricing.Change) error {
	if a.Bus == nil || len(changes) == 0 {
		return nil
	}
	_, err := a.Bus.Emit(ctx, events.TopicPricesChanged, pricing.Message(changes))
	return err
}
