package pricing

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Money represents a monetary value stored in minor units.
type Money = int64

var (
	// ErrUnknownProduct is returned when a dynamic product or link references a product missing from the catalog.
	ErrUnknownProduct = errors.New("pricing: unknown product")
	// ErrInvalidBounds is returned when a floor is not positive or exceeds its ceiling.
	ErrInvalidBounds = errors.New("pricing: invalid price bounds")
	// ErrLinkCycle is returned when price links form a cycle.
	ErrLinkCycle = errors.New("pricing: price links form a cycle")
	// ErrInfeasibleLink is returned when a dependent could be forced below its own floor.
	ErrInfeasibleLink = errors.New("pricing: dependent floor above anchor floor")
)

// Product is a static catalog entry.
type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BasePrice Money  `json:"basePrice"`
}

// DynamicProduct marks a catalog product as market priced between Floor and Ceiling.
type DynamicProduct struct {
	ID      int64
	Floor   Money
	Ceiling Money
}

// PriceLink keeps Dependent priced at or below Anchor.
type PriceLink struct {
	Dependent int64
	Anchor    int64
}

// PriceState is the live price of a dynamic product. Current is kept in
// fractional cents; only its rounded value is ever shown or charged.
type PriceState struct {
	ProductID      int64   `json:"productId"`
	Current        float64 `json:"current"`
	Floor          Money   `json:"floor"`
	Ceiling        Money   `json:"ceiling"`
	LastAdvertised Money   `json:"lastAdvertised"`
}

// Cents returns the current price rounded to whole cents.
func (s PriceState) Cents() Money {
	return Money(math.Round(s.Current))
}

func (s *PriceState) clamp() {
	s.Current = math.Min(math.Max(s.Current, float64(s.Floor)), float64(s.Ceiling))
}

// Book holds the catalog and the price state of every dynamic product. It is
// not safe for concurrent use; Engine serialises access.
type Book struct {
	catalog map[int64]Product
	states  map[int64]*PriceState
	ids     []int64
	links   []PriceLink
}

// NewBook validates the configuration and builds a book with links ordered so
// that every anchor is settled before its dependents.
func NewBook(products []Product, dynamic []DynamicProduct, links []PriceLink) (*Book, error) {
	b := &Book{
		catalog: make(map[int64]Product, len(products)),
		states:  make(map[int64]*PriceState, len(dynamic)),
	}
	for _, p := range products {
		b.catalog[p.ID] = p
	}
	for _, d := range dynamic {
		product, ok := b.catalog[d.ID]
		if !ok {
			return nil, fmt.Errorf("dynamic product %d: %w", d.ID, ErrUnknownProduct)
		}
		if d.Floor <= 0 || d.Floor > d.Ceiling {
			return nil, fmt.Errorf("product %d floor %d ceiling %d: %w", d.ID, d.Floor, d.Ceiling, ErrInvalidBounds)
		}
		if _, dup := b.states[d.ID]; dup {
			return nil, fmt.Errorf("product %d configured twice: %w", d.ID, ErrInvalidBounds)
		}
		st := &PriceState{
			ProductID:      d.ID,
			Current:        float64(product.BasePrice),
			Floor:          d.Floor,
			Ceiling:        d.Ceiling,
			LastAdvertised: product.BasePrice,
		}
		st.clamp()
		b.states[d.ID] = st
		b.ids = append(b.ids, d.ID)
	}
	sort.Slice(b.ids, func(i, j int) bool { return b.ids[i] < b.ids[j] })

	ordered, err := orderLinks(links, b.states)
	if err != nil {
		return nil, err
	}
	b.links = ordered
	b.applyLinks()
	return b, nil
}

// orderLinks sorts links by the topological position of their dependent, so a
// product's own clamps are applied before it is used as an anchor.
func orderLinks(links []PriceLink, states map[int64]*PriceState) ([]PriceLink, error) {
	incoming := make(map[int64][]PriceLink)
	indegree := make(map[int64]int)
	outgoing := make(map[int64][]int64)
	for _, l := range links {
		dep, okDep := states[l.Dependent]
		anchor, okAnchor := states[l.Anchor]
		if !okDep || !okAnchor {
			return nil, fmt.Errorf("link %d>%d: %w", l.Dependent, l.Anchor, ErrUnknownProduct)
		}
		if l.Dependent == l.Anchor {
			return nil, fmt.Errorf("link %d>%d: %w", l.Dependent, l.Anchor, ErrLinkCycle)
		}
		if dep.Floor > anchor.Floor {
			return nil, fmt.Errorf("link %d>%d: %w", l.Dependent, l.Anchor, ErrInfeasibleLink)
		}
		incoming[l.Dependent] = append(incoming[l.Dependent], l)
		outgoing[l.Anchor] = append(outgoing[l.Anchor], l.Dependent)
		indegree[l.Dependent]++
		if _, ok := indegree[l.Anchor]; !ok {
			indegree[l.Anchor] = 0
		}
	}

	var ready []int64
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	ordered := make([]PriceLink, 0, len(links))
	visited := 0
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		visited++

		in := incoming[id]
		sort.Slice(in, func(i, j int) bool { return in[i].Anchor < in[j].Anchor })
		ordered = append(ordered, in...)

		for _, dep := range outgoing[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if visited != len(indegree) {
		return nil, ErrLinkCycle
	}
	return ordered, nil
}

func (b *Book) applyLinks() {
	for _, l := range b.links {
		dep := b.states[l.Dependent]
		anchor := b.states[l.Anchor]
		if dep.Current > anchor.Current {
			dep.Current = anchor.Current
		}
	}
}

func (b *Book) decay(delta float64) {
	for _, id := range b.ids {
		st := b.states[id]
		floor := float64(st.Floor)
		st.Current -= delta * (st.Current/floor - 1)
		if st.Current < floor {
			st.Current = floor
		}
	}
	b.applyLinks()
}

func (b *Book) raise(quantities map[int64]int, delta, exponent float64) {
	for _, id := range b.ids {
		qty, ok := quantities[id]
		if !ok || qty < 1 {
			continue
		}
		st := b.states[id]
		st.Current += delta * math.Pow(float64(qty), exponent)
		if ceiling := float64(st.Ceiling); st.Current > ceiling {
			st.Current = ceiling
		}
	}
	b.applyLinks()
}

// advertise records every product whose rounded price moved since it was last
// advertised.
func (b *Book) advertise() []Change {
	var changes []Change
	for _, id := range b.ids {
		st := b.states[id]
		cents := st.Cents()
		if cents == st.LastAdvertised {
			continue
		}
		changes = append(changes, newChange(id, st.LastAdvertised, cents))
		st.LastAdvertised = cents
	}
	return changes
}

func (b *Book) priceOf(id int64) (Money, bool) {
	if st, ok := b.states[id]; ok {
		return st.Cents(), true
	}
	if p, ok := b.catalog[id]; ok {
		return p.BasePrice, true
	}
	return 0, false
}

func (b *Book) product(id int64) (Product, bool) {
	p, ok := b.catalog[id]
	return p, ok
}

func (b *Book) snapshot() []PriceState {
	out := make([]PriceState, 0, len(b.ids))
	for _, id := range b.ids {
		out = append(out, *b.states[id])
	}
	return out
}
