package pricing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/pricing"
)

type captureAdvertiser struct {
	batches [][]pricing.Change
	err     error
}

func (c *captureAdvertiser) Advertise(_ context.Context, changes []pricing.Change) error {
	c.batches = append(c.batches, changes)
	return c.err
}

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func newEngine(t *testing.T, base pricing.Money, adv pricing.Advertiser) *pricing.Engine {
	t.Helper()
	products := []pricing.Product{{ID: 1, Name: "Grolsch", BasePrice: base}}
	book, err := pricing.NewBook(products, []pricing.DynamicProduct{{ID: 1, Floor: 25, Ceiling: 100}}, nil)
	require.NoError(t, err)
	return pricing.NewEngine(book, pricing.Config{Delta: 5, Exponent: 0.5}, adv, nopLogger())
}

func TestDecayTickMovesTowardFloor(t *testing.T) {
	adv := &captureAdvertiser{}
	engine := newEngine(t, 100, adv)

	changes := engine.DecayTick(context.Background())

	// 100 - 5*(100/25 - 1) = 85
	require.Len(t, changes, 1)
	c := changes[0]
	require.EqualValues(t, 1, c.ProductID)
	require.EqualValues(t, 100, c.Previous)
	require.EqualValues(t, 85, c.Price)
	require.Equal(t, pricing.Down, c.Direction)
	require.InDelta(t, -15.0, c.PercentDelta, 1e-9)
	require.Equal(t, "0,85 -15,0%", changes[0].Label())
	require.Len(t, adv.batches, 1)
}

func TestDecayTickStopsAtFloor(t *testing.T) {
	engine := newEngine(t, 100, nil)
	for i := 0; i < 500; i++ {
		engine.DecayTick(context.Background())
	}
	price, _ := engine.PriceOf(1)
	require.EqualValues(t, 25, price)
	require.InDelta(t, 25.0, engine.Prices()[0].Current, 1e-9)
	require.GreaterOrEqual(t, engine.Prices()[0].Current, 25.0)
}

func TestOnPurchaseSquareRootResponse(t *testing.T) {
	single := newEngine(t, 50, nil)
	single.OnPurchase(context.Background(), map[int64]int{1: 1})
	four := newEngine(t, 50, nil)
	four.OnPurchase(context.Background(), map[int64]int{1: 4})

	one, _ := single.PriceOf(1)
	quad, _ := four.PriceOf(1)
	require.EqualValues(t, 55, one)
	require.EqualValues(t, 60, quad)
}

func TestOnPurchaseCapsAtCeilingAndIgnoresUnknown(t *testing.T) {
	engine := newEngine(t, 98, nil)
	changes := engine.OnPurchase(context.Background(), map[int64]int{1: 100, 7: 3, 0: -2})
	require.Len(t, changes, 1)
	require.EqualValues(t, 100, changes[0].Price)
	require.Equal(t, pricing.Up, changes[0].Direction)

	require.Empty(t, engine.OnPurchase(context.Background(), map[int64]int{1: 0}))
}

func TestAdvertiseSkipsSubCentDrift(t *testing.T) {
	adv := &captureAdvertiser{}
	engine := newEngine(t, 26, adv)

	before := engine.Prices()[0].Current
	changes := engine.DecayTick(context.Background())
	after := engine.Prices()[0].Current

	// 26 - 5*(26/25 - 1) = 25.8 which still rounds to 26.
	require.Less(t, after, before)
	require.Empty(t, changes)
	require.Empty(t, adv.batches)
}

func TestLinkedProductFollowsAnchor(t *testing.T) {
	products := []pricing.Product{{ID: 1, Name: "Grolsch", BasePrice: 60}, {ID: 2, Name: "Cola", BasePrice: 60}}
	dynamic := []pricing.DynamicProduct{{ID: 1, Floor: 25, Ceiling: 100}, {ID: 2, Floor: 25, Ceiling: 100}}
	book, err := pricing.NewBook(products, dynamic, []pricing.PriceLink{{Dependent: 2, Anchor: 1}})
	require.NoError(t, err)
	engine := pricing.NewEngine(book, pricing.Config{Delta: 5, Exponent: 0.5}, nil, nopLogger())

	// Soda demand alone cannot push it above beer.
	require.Empty(t, engine.OnPurchase(context.Background(), map[int64]int{2: 1}))
	soda, _ := engine.PriceOf(2)
	require.EqualValues(t, 60, soda)

	changes := engine.DecayTick(context.Background())
	require.Len(t, changes, 2)
	require.EqualValues(t, 53, changes[0].Price)
	require.EqualValues(t, 53, changes[1].Price)
}

func TestAdvertiserErrorDoesNotLoseState(t *testing.T) {
	adv := &captureAdvertiser{err: errors.New("broker down")}
	engine := newEngine(t, 100, adv)

	require.Len(t, engine.DecayTick(context.Background()), 1)
	require.EqualValues(t, 85, engine.Prices()[0].LastAdvertised)
}

func TestMessageFormat(t *testing.T) {
	msg := pricing.Message([]pricing.Change{
		{ProductID: 1, Previous: 100, Price: 105, Direction: pricing.Up, PercentDelta: 5},
		{ProductID: 485, Previous: 80, Price: 79, Direction: pricing.Down, PercentDelta: -1.25},
	})
	require.Equal(t, map[string]string{"1": "1,05 +5,0%", "485": "0,79 -1,3%"}, msg)
	require.Equal(t, "1.40", pricing.FormatCents(140, "."))
}
