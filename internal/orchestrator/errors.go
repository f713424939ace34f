package orchestrator

import (
	"fmt"

	"github.com/loykin/pipelaunch/internal/process"
	"github.com/loykin/pipelaunch/internal/readiness"
)

type (
	// SpawnError is returned (wrapped in a LaunchError) when a process could
	// not be started.
	SpawnError = process.SpawnError
	// ReadinessError is returned (wrapped in a LaunchError) when a readiness
	// probe failed or timed out.
	ReadinessError = readiness.Error
)

// LaunchError identifies the pipeline step that stopped LaunchAll.
type LaunchError struct {
	Index int
	Name  string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch step %d (%s) failed: %v", e.Index+1, e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TerminationError reports a process that could not be stopped during
// shutdown. It is never fatal.
type TerminationError struct {
	Name string
	PID  int
	Err  error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate %s (pid %d): %v", e.Name, e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }
