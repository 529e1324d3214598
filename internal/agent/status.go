package agent

import "fmt"

// Status is the agent lifecycle state.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusInitializing Status = "INITIALIZING"
	StatusReady        Status = "READY"
	StatusRunning      Status = "RUNNING"
	StatusStopping     Status = "STOPPING"
	StatusStopped      Status = "STOPPED"
	StatusPaused       Status = "PAUSED"
	StatusError        Status = "ERROR"
	StatusDestroyed    Status = "DESTROYED"
)

// allowedTransitions encodes the lifecycle machine. ERROR is reachable from
// any non-terminal state and DESTROYED from anywhere, both handled in
// canTransition.
var allowedTransitions = map[Status][]Status{
	StatusCreated:      {StatusInitializing},
	StatusInitializing: {StatusReady},
	StatusReady:        {StatusRunning, StatusPaused, StatusStopping, StatusStopped},
	StatusRunning:      {StatusReady, StatusPaused, StatusStopping},
	StatusStopping:     {StatusStopped},
	StatusStopped:      {StatusInitializing},
	StatusPaused:       {StatusReady},
}

func (s Status) terminal() bool {
	return s == StatusDestroyed
}

func canTransition(from, to Status) bool {
	if from.terminal() {
		return false
	}
	if to == StatusDestroyed {
		return true
	}
	if to == StatusError {
		return from != StatusError
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// acceptsTasks reports whether Execute may start in this state.
func (s Status) acceptsTasks() bool {
	return s == StatusReady || s == StatusRunning
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("invalid status transition %s -> %s", from, to)
}
