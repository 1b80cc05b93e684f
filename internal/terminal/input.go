package terminal

import "strconv"

// MaxPromptDigits caps the keypad buffer.
const MaxPromptDigits = 6

// Input is the keypad buffer plus an optional latched command. The latched
// callback consumes the parsed buffer on Reset.
type Input struct {
	prompt string
	latch  func(quantity int)
}

// Stroke appends a digit. Leading zeros, non-digits and digits beyond the cap
// are refused.
func (in *Input) Stroke(digit string) bool {
	if len(digit) != 1 || digit[0] < '0' || digit[0] > '9' {
		return false
	}
	if digit == "0" && in.prompt == "" {
		return false
	}
	if len(in.prompt) >= MaxPromptDigits {
		return false
	}
	in.prompt += digit
	return true
}

// Prompt returns the digits entered so far.
func (in *Input) Prompt() string {
	return in.prompt
}

// Read parses the buffer. An empty buffer reads as 0.
func (in *Input) Read() int {
	if in.prompt == "" {
		return 0
	}
	n, err := strconv.Atoi(in.prompt)
	if err != nil {
		return 0
	}
	return n
}

// Latch stores fn to be run with the entered quantity on the next Reset.
func (in *Input) Latch(fn func(quantity int)) {
	in.latch = fn
}

// Reset runs the latched command, if any, with the entered quantity (1 when
// nothing was typed) and clears both buffer and latch.
func (in *Input) Reset() {
	fn := in.latch
	quantity := in.Read()
	if quantity <= 0 {
		quantity = 1
	}
	in.latch = nil
	in.prompt = ""
	if fn != nil {
		fn(quantity)
	}
}

// Discard clears buffer and latch without running the latched command.
func (in *Input) Discard() {
	in.latch = nil
	in.prompt = ""
}
