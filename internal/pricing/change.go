package pricing

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction is the sign of an advertised price change.
type Direction int

const (
	Down Direction = -1
	Up   Direction = 1
)

func (d Direction) String() string {
	if d == Down {
		return "-"
	}
	return "+"
}

// Change is one advertised price movement.
type Change struct {
	ProductID    int64     `json:"productId"`
	Previous     Money     `json:"previous"`
	Price        Money     `json:"price"`
	Direction    Direction `json:"direction"`
	PercentDelta float64   `json:"percentDelta"`
}

func newChange(id int64, previous, price Money) Change {
	c := Change{ProductID: id, Previous: previous, Price: price, Direction: Up}
	if price < previous {
		c.Direction = Down
	}
	if previous != 0 {
		c.PercentDelta = float64(price-previous) / float64(previous) * 100
	}
	return c
}

// Label renders the change for the ticker display, e.g. "1,25 +2,0%".
func (c Change) Label() string {
	pct := decimal.NewFromFloat(math.Abs(c.PercentDelta)).StringFixed(1)
	return FormatCents(c.Price, ",") + " " + c.Direction.String() + strings.Replace(pct, ".", ",", 1) + "%"
}

// Message builds the broadcast payload keyed by product id.
func Message(changes []Change) map[string]string {
	msg := make(map[string]string, len(changes))
	for _, c := range changes {
		msg[strconv.FormatInt(c.ProductID, 10)] = c.Label()
	}
	return msg
}

// FormatCents renders cents with two decimals using sep as decimal separator.
func FormatCents(cents Money, sep string) string {
	s := decimal.New(cents, -2).StringFixed(2)
	if sep != "." {
		s = strings.Replace(s, ".", sep, 1)
	}
	return s
}
