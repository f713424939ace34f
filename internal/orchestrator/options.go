package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/pipelaunch/internal/env"
	"github.com/loykin/pipelaunch/internal/history"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/process"
)

// DefaultGracePeriod is how long ShutdownAll waits after SIGTERM before
// escalating to SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// StartFunc spawns one process.
type StartFunc func(process.Spec, process.StartOptions) (*process.Handle, error)

// TerminateFunc stops one process within grace.
type TerminateFunc func(h *process.Handle, grace time.Duration) error

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithHistory sends lifecycle events through r.
func WithHistory(r *history.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEnv sets the environment composer used for every child.
func WithEnv(e *env.Env) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.env = e
		}
	}
}

// WithOutput sets the default child output policy; per-process settings
// override it field by field.
func WithOutput(c logger.OutputConfig) Option {
	return func(o *Orchestrator) { o.output = c }
}

// WithConsole sets the streams used by the inherit output mode.
func WithConsole(stdout, stderr io.Writer) Option {
	return func(o *Orchestrator) {
		if stdout != nil {
			o.consoleOut = stdout
		}
		if stderr != nil {
			o.consoleErr = stderr
		}
	}
}

func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.grace = d
		}
	}
}

func WithSleep(f SleepFunc) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.sleep = f
		}
	}
}

func WithStarter(f StartFunc) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.start = f
		}
	}
}

func WithTerminator(f TerminateFunc) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.terminate = f
		}
	}
}

// WithRunIDGenerator replaces the uuid generator for run ids.
func WithRunIDGenerator(f func() string) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.newRunID = f
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func terminateHandle(h *process.Handle, grace time.Duration) error { return h.Terminate(grace) }

func newUUID() string { return uuid.NewString() }
