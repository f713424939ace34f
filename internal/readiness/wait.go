package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout     = errors.New("readiness timeout")
	ErrExitedEarly = errors.New("process exited before it became ready")
)

// Error reports why a process never became ready.
type Error struct {
	Name  string // process name
	Probe string // probe description, empty when no probe was involved
	Err   error
}

func (e *Error) Error() string {
	if e.Probe == "" {
		return fmt.Sprintf("process %s not ready: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("process %s not ready (%s): %v", e.Name, e.Probe, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wait polls probes every cfg.Interval until all of them report ready, the
// timeout elapses or ctx is done. exited, when non-nil, is closed once the
// process is gone; with cfg.RequireAlive that ends the wait with ErrExitedEarly.
func Wait(ctx context.Context, name string, cfg Config, probes []Probe, exited <-chan struct{}) error {
	if len(probes) == 0 {
		return nil
	}
	if !cfg.RequireAlive {
		exited = nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	pending := append([]Probe(nil), probes...)
	ticker := time.NewTicker(cfg.interval())
	defer ticker.Stop()
	for {
		rest := pending[:0]
		for _, p := range pending {
			ok, err := p.Ready(ctx)
			if err != nil {
				return &Error{Name: name, Probe: p.Describe(), Err: err}
			}
			if !ok {
				rest = append(rest, p)
			}
		}
		pending = rest
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = ErrTimeout
			}
			return &Error{Name: name, Probe: pending[0].Describe(), Err: err}
		case <-exited:
			return &Error{Name: name, Err: ErrExitedEarly}
		case <-ticker.C:
		}
	}
}
