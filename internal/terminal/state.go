package terminal

import "fmt"

// State is the screen the terminal is on.
type State int

const (
	Sales State = iota
	Check
	Paying
	Error
	Message
)

var stateNames = [...]string{"SALES", "CHECK", "PAYING", "ERROR", "MESSAGE"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name for JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
