package cart

import (
	"errors"
	"fmt"

	"github.com/noah-isme/juliana/internal/common"
)

var (
	// ErrInvalidQuantity is returned when a non-positive quantity is added.
	ErrInvalidQuantity = errors.New("cart: quantity must be positive")
	// ErrUnknownProduct is returned when the price source has no price for a product.
	ErrUnknownProduct = errors.New("cart: unknown product")
	// ErrOutOfRange is returned when a line index does not exist.
	ErrOutOfRange = common.ErrOutOfRange
)

// PriceSource resolves the price currently charged for a product.
type PriceSource interface {
	PriceOf(productID int64) (int64, bool)
}

// LineItem is one product on the receipt. Price is the line total in cents.
type LineItem struct {
	ProductID int64 `json:"product"`
	Quantity  int   `json:"amount"`
	Price     int64 `json:"price"`
}

// Cart is the ordered list of line items for the sale being entered. It holds
// at most one line per product and is not safe for concurrent use.
type Cart struct {
	prices PriceSource
	lines  []LineItem
}

// New returns an empty cart priced by prices.
func New(prices PriceSource) *Cart {
	return &Cart{prices: prices}
}

// Add puts quantity units of a product on the cart, merging into the existing
// line for that product when there is one.
func (c *Cart) Add(productID int64, quantity int) (LineItem, error) {
	if quantity <= 0 {
		return LineItem{}, fmt.Errorf("add %d x%d: %w", productID, quantity, ErrInvalidQuantity)
	}
	unit, ok := c.prices.PriceOf(productID)
	if !ok {
		return LineItem{}, fmt.Errorf("add %d: %w", productID, ErrUnknownProduct)
	}
	price := int64(quantity) * unit
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity += quantity
			c.lines[i].Price += price
			return c.lines[i], nil
		}
	}
	line := LineItem{ProductID: productID, Quantity: quantity, Price: price}
	c.lines = append(c.lines, line)
	return line, nil
}

// Remove drops the line at index.
func (c *Cart) Remove(index int) (LineItem, error) {
	if index < 0 || index >= len(c.lines) {
		return LineItem{}, fmt.Errorf("remove line %d of %d: %w", index, len(c.lines), ErrOutOfRange)
	}
	line := c.lines[index]
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return line, nil
}

// Total sums the line prices in cents.
func (c *Cart) Total() int64 {
	var total int64
	for _, l := range c.lines {
		total += l.Price
	}
	return total
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = nil
}

// Len reports the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Lines returns a copy of the lines in display order.
func (c *Cart) Lines() []LineItem {
	out := make([]LineItem, len(c.lines))
	copy(out, c.lines)
	return out
}

// QuantitiesByProduct returns the total quantity per product.
func (c *Cart) QuantitiesByProduct() map[int64]int {
	out := make(map[int64]int, len(c.lines))
	for _, l := range c.lines {
		out[l.ProductID] += l.Quantity
	}
	return out
}
