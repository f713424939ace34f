package process

import (
	"fmt"
	"time"
)

// Phase is the lifecycle phase of a launched process.
type Phase int

const (
	Starting Phase = iota // spawned, readiness gate not yet passed
	Running               // readiness gate passed
	Exited                // reaped; see State.ExitCode
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// State is Starting, Running or Exited(code). ExitCode is -1 when the process
// was terminated by a signal.
type State struct {
	Phase    Phase
	ExitCode int
}

func (s State) String() string {
	if s.Phase == Exited {
		return fmt.Sprintf("exited(%d)", s.ExitCode)
	}
	return s.Phase.String()
}

// Status is an immutable snapshot of a handle.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Phase     Phase     `json:"phase"`
	State     string    `json:"state"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	StartedAt time.Time `json:"started_at"`
	ReadyAt   time.Time `json:"ready_at,omitzero"`
	ExitedAt  time.Time `json:"exited_at,omitzero"`
	ExitErr   string    `json:"exit_error,omitempty"`
}
