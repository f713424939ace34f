package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/pipelaunch/internal/history"
	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/process"
)

// ShutdownAll terminates every handle that has not exited, last launched
// first, so producers stop before the broker they depend on. A failure on one
// handle is logged as a *TerminationError and does not stop the others; the
// joined errors are returned for inspection only.
//
// The grace period is shortened to fit ctx's deadline when it has one.
func (o *Orchestrator) ShutdownAll(ctx context.Context, handles []*process.Handle) error {
	runID := o.RunID()
	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if h == nil || h.State().Phase == process.Exited {
			continue
		}
		grace := o.grace
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < grace {
				grace = max(left, 0)
			}
		}
		o.log.Info("terminating process", "name", h.Name(), "pid", h.PID(), "grace", grace)
		err := o.terminate(h, grace)
		metrics.IncTermination(h.Name(), err != nil)
		if err != nil {
			te := &TerminationError{Name: h.Name(), PID: h.PID(), Err: err}
			o.log.Warn("termination failed", "name", h.Name(), "pid", h.PID(), "error", err)
			errs = append(errs, te)
			continue
		}
		o.emit(history.EventTerminated, record(runID, o.indexOf(h, i), h.Snapshot()))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) indexOf(h *process.Handle, fallback int) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for i, x := range o.handles {
		if x == h {
			return i
		}
	}
	return fallback
}
