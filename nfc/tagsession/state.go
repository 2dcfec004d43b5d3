package tagsession

import (
	"fmt"
	"strings"
)

// State is a step of the tag session state machine.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateDetected
	StateConnecting
	StateQuerying
	StateReading
	StateWriting
	// StateInvalidated is terminal for both success and failure.
	StateInvalidated
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateScanning:    "scanning",
	StateDetected:    "detected",
	StateConnecting:  "connecting",
	StateQuerying:    "querying",
	StateReading:     "reading",
	StateWriting:     "writing",
	StateInvalidated: "invalidated",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether a session in this state still holds the radio.
func (s State) Live() bool {
	return s != StateIdle && s != StateInvalidated
}

// Mode selects what a session does once it is connected to a tag.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode accepts "read"/"scan" and "write".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read", "scan":
		return ModeRead, nil
	case "write":
		return ModeWrite, nil
	}
	return 0, fmt.Errorf("unknown session mode %q (want read or write)", s)
}
