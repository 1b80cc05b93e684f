package rfid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCard is returned for card payloads the backend cannot identify.
var ErrInvalidCard = errors.New("rfid: invalid card")

// TypeISO14443B marks ISO 14443-B cards, which carry no atqa/sak pair.
const TypeISO14443B = "iso-b"

// Card is the payload the scanner reports for a presented card. It is sent to
// the backend unchanged as rfid_data.
type Card struct {
	ATQA string `json:"atqa,omitempty"`
	SAK  string `json:"sak,omitempty"`
	UID  string `json:"uid"`
	Type string `json:"type,omitempty"`
}

type cardKind struct {
	atqa, sak string
}

var prefixes = map[cardKind]string{
	{"00:04", "08"}: "02", // MIFARE Classic 1k
	{"00:02", "18"}: "03", // MIFARE Classic 4k
	{"03:44", "20"}: "04", // MIFARE DESFire
	{"00:44", "00"}: "05", // MIFARE Ultralight
	{"03:04", "28"}: "06", // JCOP31
}

// Identifier derives the "<prefix>,<uid>" identifier cards are registered under.
func (c Card) Identifier() (string, error) {
	if strings.TrimSpace(c.UID) == "" {
		return "", fmt.Errorf("uid value required: %w", ErrInvalidCard)
	}
	if c.Type == TypeISO14443B {
		return "80," + c.UID, nil
	}
	if c.ATQA == "" || c.SAK == "" {
		return "", fmt.Errorf("atqa and sak values required: %w", ErrInvalidCard)
	}
	prefix, ok := prefixes[cardKind{c.ATQA, c.SAK}]
	if !ok {
		return "", fmt.Errorf("atqa %s sak %s: combination unknown: %w", c.ATQA, c.SAK, ErrInvalidCard)
	}
	return prefix + "," + c.UID, nil
}

// Validate reports whether the card can be identified.
func (c Card) Validate() error {
	_, err := c.Identifier()
	return err
}

// Parse decodes a scanner frame and validates the card it carries.
func Parse(frame []byte) (Card, error) {
	var card Card
	if err := json.Unmarshal(frame, &card); err != nil {
		return Card{}, fmt.Errorf("decode card: %v: %w", err, ErrInvalidCard)
	}
	if err := card.Validate(); err != nil {
		return card, err
	}
	return card, nil
}
