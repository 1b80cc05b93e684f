package events

// Topics emitted by the terminal and the pricing engine.
const (
	// TopicPricesChanged carries the ticker message {productId: "1,25 +2,0%"}.
	TopicPricesChanged = "prices.changed"
	// TopicOrderSaved carries a summary of an order the backend accepted.
	TopicOrderSaved = "order.saved"
)

// DefaultTopics returns every topic the process emits.
func DefaultTopics() []string {
	return []string{TopicPricesChanged, TopicOrderSaved}
}
