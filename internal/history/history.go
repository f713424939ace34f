// Package history exports pipeline lifecycle events to external stores.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunched     EventType = "launched"      // process spawned
	EventReady        EventType = "ready"         // readiness gate passed
	EventLaunchFailed EventType = "launch_failed" // spawn or readiness failure
	EventExited       EventType = "exited"        // reaped, with exit code
	EventTerminated   EventType = "terminated"    // stopped by shutdown
)

// Record describes one process at the time of an event.
type Record struct {
	RunID    string `json:"run_id"`
	Name     string `json:"name"`
	Index    int    `json:"index"`
	PID      int    `json:"pid"`
	State    string `json:"state"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
	SpecJSON string `json:"spec,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send on a Recorder.
const DefaultSendTimeout = 5 * time.Second

// Recorder fans events out to sinks. Sink failures are logged and never
// reach the caller; history is best-effort. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: append([]Sink(nil), sinks...), log: log, timeout: DefaultSendTimeout}
}

// Emit stamps e (when OccurredAt is zero) and sends it to every sink.
func (r *Recorder) Emit(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink failed", "event", e.Type, "name", e.Record.Name, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
