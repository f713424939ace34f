package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/pipelaunch/internal/pidutil"
)

// killWait bounds how long Terminate waits for the reaper after SIGKILL.
const killWait = 2 * time.Second

// StartOptions carries what the caller prepared for one launch.
type StartOptions struct {
	Env     []string    // full environment; nil inherits the launcher's
	Stdout  io.Writer   // nil discards
	Stderr  io.Writer   // nil discards
	Closers []io.Closer // closed after the process is reaped
	OnExit  func(Status)
}

// Handle is a launched child process. State changes happen on the owning
// goroutine (MarkRunning) or the reaper goroutine (exit), so all reads go
// through the lock.
type Handle struct {
	spec       Spec
	cmd        *exec.Cmd
	pid        int
	done       chan struct{}
	pidFileErr error // set once in Start

	mu        sync.Mutex
	state     State
	startedAt time.Time
	readyAt   time.Time
	exitedAt  time.Time
	exitErr   error
}

// Start spawns spec as a new process group and begins reaping it in the
// background. The returned handle is in the Starting phase.
func Start(spec Spec, opts StartOptions) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		closeAll(opts.Closers)
		return nil, newSpawnError(spec, ReasonInvalid, err)
	}
	if spec.WorkDir != "" {
		fi, err := os.Stat(spec.WorkDir)
		if err == nil && !fi.IsDir() {
			err = fmt.Errorf("%s is not a directory", spec.WorkDir)
		}
		if err != nil {
			closeAll(opts.Closers)
			return nil, newSpawnError(spec, ReasonBadWorkDir, err)
		}
	}

	cmd := spec.BuildCommand()
	cmd.Dir = spec.WorkDir
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	// bound the wait for output pipes held open by grandchildren
	cmd.WaitDelay = time.Second
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		closeAll(opts.Closers)
		return nil, newSpawnError(spec, classifyStartErr(err), err)
	}

	h := &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		done:      make(chan struct{}),
		state:     State{Phase: Starting},
		startedAt: time.Now(),
	}
	if spec.PIDFile != "" {
		h.pidFileErr = pidutil.Write(spec.PIDFile, h.pid)
	}
	go h.reap(opts.Closers, opts.OnExit)
	return h, nil
}

func (h *Handle) reap(closers []io.Closer, onExit func(Status)) {
	err := h.cmd.Wait()
	code := -1
	if ps := h.cmd.ProcessState; ps != nil {
		code = ps.ExitCode()
	}
	h.mu.Lock()
	h.state = State{Phase: Exited, ExitCode: code}
	h.exitedAt = time.Now()
	h.exitErr = err
	h.mu.Unlock()

	closeAll(closers)
	if h.spec.PIDFile != "" {
		if pid, _, rerr := pidutil.Read(h.spec.PIDFile); rerr == nil && pid == h.pid {
			pidutil.Remove(h.spec.PIDFile)
		}
	}
	close(h.done)
	if onExit != nil {
		onExit(h.Snapshot())
	}
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func (h *Handle) Spec() Spec   { return h.spec }
func (h *Handle) Name() string { return h.spec.Name }
func (h *Handle) PID() int     { return h.pid }

// PIDFileErr returns the error from writing Spec.PIDFile, if any. The
// process keeps running when the pid file cannot be written.
func (h *Handle) PIDFileErr() error { return h.pidFileErr }

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Alive reports whether the OS still has a live process for this handle.
// It catches zombies the reaper has not collected yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	return pidutil.Alive(h.pid)
}

// MarkRunning moves a Starting handle to Running. It returns false when the
// process already exited.
func (h *Handle) MarkRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Phase != Starting {
		return h.state.Phase == Running
	}
	h.state = State{Phase: Running}
	h.readyAt = time.Now()
	return true
}

// Snapshot returns a copy of the current status.
func (h *Handle) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		Name:      h.spec.Name,
		PID:       h.pid,
		Phase:     h.state.Phase,
		State:     h.state.String(),
		StartedAt: h.startedAt,
		ReadyAt:   h.readyAt,
		ExitedAt:  h.exitedAt,
	}
	if h.state.Phase == Exited {
		code := h.state.ExitCode
		st.ExitCode = &code
	}
	if h.exitErr != nil {
		st.ExitErr = h.exitErr.Error()
	}
	return st
}

// Signal delivers sig to the process group. os.ErrProcessDone is returned
// when the process is already gone.
func (h *Handle) Signal(sig os.Signal) error {
	select {
	case <-h.done:
		return os.ErrProcessDone
	default:
	}
	return signalGroup(h.cmd.Process, sig)
}

// Terminate asks the process group to stop, waits up to grace and then kills
// it. A process that is already gone is not an error.
func (h *Handle) Terminate(grace time.Duration) error {
	if err := h.Signal(terminateSignal); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}
	if err := h.Signal(os.Kill); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("process %s (pid %d) still running after kill", h.spec.Name, h.pid)
	}
}
