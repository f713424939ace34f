package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// SpawnReason classifies why a process could not be started.
type SpawnReason string

const (
	ReasonNotFound   SpawnReason = "not_found"
	ReasonPermission SpawnReason = "permission"
	ReasonBadWorkDir SpawnReason = "bad_workdir"
	ReasonInvalid    SpawnReason = "invalid_spec"
	ReasonOutput     SpawnReason = "output"
	ReasonOther      SpawnReason = "other"
)

// SpawnError is returned when a child process cannot be started.
type SpawnError struct {
	Name    string
	Command string
	Reason  SpawnReason
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %s: %v", e.Name, e.Command, e.Reason, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func newSpawnError(s Spec, reason SpawnReason, err error) *SpawnError {
	return &SpawnError{Name: s.Name, Command: s.Command, Reason: reason, Err: err}
}

func classifyStartErr(err error) SpawnReason {
	var pe *fs.PathError
	switch {
	case errors.As(err, &pe) && pe.Op == "chdir":
		return ReasonBadWorkDir
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermission
	default:
		return ReasonOther
	}
}
