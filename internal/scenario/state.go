package scenario

import "fmt"

// State is the lifecycle position of a scenario machine.
type State int

const (
	Idle State = iota
	Running
	Succeeded
	Failed
	Cancelled
)

var stateNames = [...]string{
	Idle:      "idle",
	Running:   "running",
	Succeeded: "succeeded",
	Failed:    "failed",
	Cancelled: "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether s ends a run.
func (s State) IsTerminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// MarshalText renders the state by name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown scenario state %q", string(b))
}
