// Package orchestrator launches an ordered pipeline of processes, gating each
// launch on its predecessor's readiness, and shuts the pipeline down.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/pipelaunch/internal/env"
	"github.com/loykin/pipelaunch/internal/history"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/process"
	"github.com/loykin/pipelaunch/internal/readiness"
)

// Orchestrator owns the handles of one pipeline run. LaunchAll runs on the
// caller's goroutine; Statuses may be called concurrently (e.g. from the
// status API).
type Orchestrator struct {
	log        *slog.Logger
	recorder   *history.Recorder
	env        *env.Env
	output     logger.OutputConfig
	consoleOut io.Writer
	consoleErr io.Writer
	grace      time.Duration
	sleep      SleepFunc
	start      StartFunc
	terminate  TerminateFunc
	newRunID   func() string

	mu      sync.RWMutex
	runID   string
	handles []*process.Handle
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:        slog.Default(),
		env:        env.New(true),
		consoleOut: os.Stdout,
		consoleErr: os.Stderr,
		grace:      DefaultGracePeriod,
		sleep:      sleepContext,
		start:      process.Start,
		terminate:  terminateHandle,
		newRunID:   newUUID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunID returns the id of the latest LaunchAll call.
func (o *Orchestrator) RunID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runID
}

// Handles returns the handles launched by the latest LaunchAll call.
func (o *Orchestrator) Handles() []*process.Handle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*process.Handle(nil), o.handles...)
}

// Statuses returns a snapshot of every launched process in launch order.
func (o *Orchestrator) Statuses() []process.Status {
	hs := o.Handles()
	out := make([]process.Status, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Snapshot())
	}
	return out
}

// LaunchAll starts specs in order. After each spawn it waits the spec's
// readiness delay and then its readiness probes before moving on.
//
// On failure the handles launched so far are returned together with a
// *LaunchError naming the failing step; they are left running and later
// specs are never spawned.
func (o *Orchestrator) LaunchAll(ctx context.Context, specs []process.Spec) ([]*process.Handle, error) {
	runID := o.newRunID()
	o.mu.Lock()
	o.runID = runID
	o.handles = nil
	o.mu.Unlock()

	log := o.log.With("run_id", runID)
	log.Info("launching pipeline", "processes", len(specs))

	handles := make([]*process.Handle, 0, len(specs))
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return handles, &LaunchError{Index: i, Name: spec.Name, Err: err}
		}
		h, probes, err := o.launch(runID, i, spec)
		if err != nil {
			o.launchFailed(log, runID, i, spec, 0, err)
			return handles, &LaunchError{Index: i, Name: spec.Name, Err: err}
		}
		handles = append(handles, h)
		o.mu.Lock()
		o.handles = append(o.handles, h)
		o.mu.Unlock()

		if err := o.gate(ctx, h, probes); err != nil {
			o.launchFailed(log, runID, i, spec, h.PID(), err)
			return handles, &LaunchError{Index: i, Name: spec.Name, Err: err}
		}
		ready := h.MarkRunning()
		if !ready && spec.Readiness.RequireAlive {
			err := &readiness.Error{Name: spec.Name, Err: readiness.ErrExitedEarly}
			o.launchFailed(log, runID, i, spec, h.PID(), err)
			return handles, &LaunchError{Index: i, Name: spec.Name, Err: err}
		}
		if ready {
			metrics.ObserveReadinessWait(spec.Name, time.Since(h.Snapshot().StartedAt).Seconds())
			o.emit(history.EventReady, record(runID, i, h.Snapshot()))
			log.Info("process ready", "name", spec.Name, "pid", h.PID())
		} else {
			log.Warn("process exited before readiness gate", "name", spec.Name, "pid", h.PID(), "state", h.State().String())
		}
	}
	log.Info("pipeline launched", "processes", len(handles))
	return handles, nil
}

func (o *Orchestrator) launch(runID string, index int, spec process.Spec) (*process.Handle, []readiness.Probe, error) {
	probes, err := spec.Readiness.Build()
	if err != nil {
		return nil, nil, &process.SpawnError{Name: spec.Name, Command: spec.Command, Reason: process.ReasonInvalid, Err: err}
	}
	stdout, stderr, closers, err := o.output.Merge(spec.Output).Writers(spec.Name, o.consoleOut, o.consoleErr)
	if err != nil {
		return nil, nil, &process.SpawnError{Name: spec.Name, Command: spec.Command, Reason: process.ReasonOutput, Err: err}
	}
	for _, p := range probes {
		if t, ok := p.(readiness.OutputTap); ok {
			stdout = tee(stdout, t.Tap())
			stderr = tee(stderr, t.Tap())
		}
	}

	h, err := o.start(spec, process.StartOptions{
		Env:     o.env.Merge(spec.Env),
		Stdout:  stdout,
		Stderr:  stderr,
		Closers: closers,
		OnExit:  o.onExit(runID, index),
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.IncLaunch(spec.Name)
	rec := record(runID, index, h.Snapshot())
	if b, err := json.Marshal(spec); err == nil {
		rec.SpecJSON = string(b)
	}
	o.emit(history.EventLaunched, rec)
	o.log.Info("process launched", "run_id", runID, "name", spec.Name, "pid", h.PID(), "command", spec.Command)
	if err := h.PIDFileErr(); err != nil {
		o.log.Warn("pid file not written", "run_id", runID, "name", spec.Name, "path", spec.PIDFile, "error", err)
	}
	return h, probes, nil
}

func tee(w io.Writer, tap io.Writer) io.Writer {
	if w == nil {
		return tap
	}
	return io.MultiWriter(w, tap)
}

// gate waits the fixed delay and then the probes, if any.
func (o *Orchestrator) gate(ctx context.Context, h *process.Handle, probes []readiness.Probe) error {
	spec := h.Spec()
	if err := o.sleep(ctx, spec.ReadinessDelay); err != nil {
		return err
	}
	if spec.Readiness.RequireAlive && !h.Alive() {
		return &readiness.Error{Name: spec.Name, Err: readiness.ErrExitedEarly}
	}
	if len(probes) == 0 {
		return nil
	}
	o.log.Debug("waiting for readiness probes", "name", spec.Name, "probes", len(probes))
	return readiness.Wait(ctx, spec.Name, spec.Readiness, probes, h.Done())
}

func (o *Orchestrator) launchFailed(log *slog.Logger, runID string, index int, spec process.Spec, pid int, err error) {
	var se *process.SpawnError
	var re *readiness.Error
	switch {
	case errors.As(err, &se):
		metrics.IncSpawnFailure(spec.Name, string(se.Reason))
		log.Error("spawn failed", "step", index+1, "name", spec.Name, "command", spec.Command, "reason", se.Reason, "error", se.Err)
	case errors.As(err, &re):
		metrics.IncReadinessFailure(spec.Name)
		log.Error("readiness gate failed", "step", index+1, "name", spec.Name, "pid", pid, "error", err)
	default:
		log.Error("launch aborted", "step", index+1, "name", spec.Name, "error", err)
	}
	rec := record(runID, index, process.Status{Name: spec.Name, PID: pid, State: "failed"})
	rec.Error = err.Error()
	o.emit(history.EventLaunchFailed, rec)
}

func (o *Orchestrator) onExit(runID string, index int) func(process.Status) {
	return func(st process.Status) {
		code := -1
		if st.ExitCode != nil {
			code = *st.ExitCode
		}
		metrics.IncExit(st.Name, code)
		rec := record(runID, index, st)
		rec.Error = st.ExitErr
		o.emit(history.EventExited, rec)
		o.log.Info("process exited", "run_id", runID, "name", st.Name, "pid", st.PID, "exit_code", code)
	}
}

func record(runID string, index int, st process.Status) history.Record {
	return history.Record{
		RunID:    runID,
		Name:     st.Name,
		Index:    index,
		PID:      st.PID,
		State:    st.State,
		ExitCode: st.ExitCode,
	}
}

func (o *Orchestrator) emit(t history.EventType, rec history.Record) {
	o.recorder.Emit(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}
