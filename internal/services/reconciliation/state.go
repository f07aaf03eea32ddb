package reconciliation

import "time"

// State is the lifecycle of one watch
type State int32

const (
	StateIdle State = iota
	StateWatching
	StateSucceeded
	StateFailed
	StateTimedOut
	StateCancelled
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen
func (s State) IsTerminal() bool {
	return s >= StateSucceeded
}

// Trigger names what ended a watch
const (
	TriggerCloseWatch  = "close_watch"
	TriggerStatusWatch = "status_watch"
	TriggerCeiling     = "ceiling"
	TriggerCancel      = "cancel"
)

// Config holds watch intervals
type Config struct {
	// CloseWatchInterval is how often the surface is checked for closure
	CloseWatchInterval time.Duration
	// StatusWatchInterval is how often the backend is polled regardless of surface state
	StatusWatchInterval time.Duration
	// Ceiling is the hard limit from Watching entry to TimedOut
	Ceiling time.Duration
}

// DefaultConfig returns production intervals
func DefaultConfig() Config {
	return Config{
		CloseWatchInterval:  time.Second,
		StatusWatchInterval: 5 * time.Second,
		Ceiling:             10 * time.Minute,
	}
}
