package orchestrator

import (
	"context"

	"github.com/loykin/pipelaunch/internal/process"
)

// Wait blocks until every handle has exited or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, handles []*process.Handle) error {
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WaitAny blocks until one handle exits or ctx is done and returns the
// handle that exited.
func (o *Orchestrator) WaitAny(ctx context.Context, handles []*process.Handle) (*process.Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	exited := make(chan *process.Handle, len(handles))
	for _, h := range handles {
		go func(h *process.Handle) {
			select {
			case <-h.Done():
				exited <- h
			case <-ctx.Done():
			}
		}(h)
	}
	select {
	case h := <-exited:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
