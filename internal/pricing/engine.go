package pricing

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/juliana/internal/obs"
)

// Defaults mirror the Wallstreet tuning: 0.05 currency units per step and a
// square-root demand response, applied once a minute.
const (
	DefaultDelta    = 5.0
	DefaultExponent = 0.5
	DefaultInterval = time.Minute
)

// Advertiser publishes price changes to the ticker display.
type Advertiser interface {
	Advertise(ctx context.Context, changes []Change) error
}

// Config tunes the engine. Delta is expressed in cents.
type Config struct {
	Delta    float64
	Exponent float64
}

// Engine owns the price book. Every decay tick and purchase runs to completion,
// clamps and advertisement included, under a single lock.
type Engine struct {
	mu         sync.Mutex
	book       *Book
	delta      float64
	exponent   float64
	advertiser Advertiser
	logger     zerolog.Logger
}

// NewEngine constructs an engine over book. A nil advertiser drops changes.
func NewEngine(book *Book, cfg Config, advertiser Advertiser, logger zerolog.Logger) *Engine {
	if cfg.Delta <= 0 {
		cfg.Delta = DefaultDelta
	}
	if cfg.Exponent <= 0 {
		cfg.Exponent = DefaultExponent
	}
	e := &Engine{
		book:       book,
		delta:      cfg.Delta,
		exponent:   cfg.Exponent,
		advertiser: advertiser,
		logger:     logger,
	}
	for _, st := range book.snapshot() {
		recordPrice(st.ProductID, st.LastAdvertised)
	}
	return e
}

// DecayTick lowers every dynamic price toward its floor and advertises the result.
func (e *Engine) DecayTick(ctx context.Context) []Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.decay(e.delta)
	return e.advertiseLocked(ctx, "decay")
}

// OnPurchase raises the price of every purchased dynamic product by
// delta·quantity^exponent, bounded by its ceiling.
func (e *Engine) OnPurchase(ctx context.Context, quantities map[int64]int) []Change {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.raise(quantities, e.delta, e.exponent)
	return e.advertiseLocked(ctx, "purchase")
}

func (e *Engine) advertiseLocked(ctx context.Context, cause string) []Change {
	changes := e.book.advertise()
	if len(changes) == 0 {
		return nil
	}
	for _, c := range changes {
		recordPrice(c.ProductID, c.Price)
		if obs.PriceChanges != nil {
			obs.PriceChanges.WithLabelValues(c.Direction.String()).Inc()
		}
		e.logger.Debug().
			Int64("product_id", c.ProductID).
			Int64("from", c.Previous).
			Int64("to", c.Price).
			Str("cause", cause).
			Msg("price_changed")
	}
	if e.advertiser != nil {
		if err := e.advertiser.Advertise(ctx, changes); err != nil {
			e.logger.Error().Err(err).Int("changes", len(changes)).Msg("advertise_prices")
		}
	}
	return changes
}

// PriceOf returns the price charged for a product right now.
func (e *Engine) PriceOf(productID int64) (Money, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.priceOf(productID)
}

// Product returns the catalog entry for id.
func (e *Engine) Product(productID int64) (Product, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.product(productID)
}

// Prices returns a snapshot of all dynamic price states ordered by product id.
func (e *Engine) Prices() []PriceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.snapshot()
}

// Run applies a decay tick every interval until ctx is cancelled. It keeps
// running regardless of what the terminal is doing.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info().Dur("interval", interval).Msg("pricing_loop_started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.DecayTick(ctx)
		}
	}
}

func recordPrice(productID int64, cents Money) {
	if obs.ProductPrice == nil {
		return
	}
	obs.ProductPrice.WithLabelValues(strconv.FormatInt(productID, 10)).Set(float64(cents))
}
