package worker

import "fmt"

// State is the worker lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateConnected
	StateProcessing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateConnected:
		return "Connected"
	case StateProcessing:
		return "Processing"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
