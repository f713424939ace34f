package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pipelaunch/internal/process"
)

func launchSleepers(t *testing.T, o *Orchestrator, names ...string) []*process.Handle {
	t.Helper()
	specs := make([]process.Spec, 0, len(names))
	for _, n := range names {
		specs = append(specs, process.Spec{Name: n, Command: "sleep 30"})
	}
	hs, err := o.LaunchAll(context.Background(), specs)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, h := range hs {
			_ = h.Terminate(time.Second)
		}
	})
	return hs
}

func TestShutdownAllReverseOrderAndIsolation(t *testing.T) {
	requireUnix(t)
	var mu sync.Mutex
	var calls []string
	failing := errors.New("permission denied")
	term := func(h *process.Handle, grace time.Duration) error {
		mu.Lock()
		calls = append(calls, h.Name())
		mu.Unlock()
		if h.Name() == "receiver" {
			return failing
		}
		return h.Terminate(grace)
	}
	o := newTestOrchestrator(t, WithTerminator(term))
	hs := launchSleepers(t, o, "broker", "receiver", "sender")

	err := o.ShutdownAll(context.Background(), hs)
	require.Error(t, err)
	assert.Equal(t, []string{"sender", "receiver", "broker"}, calls)

	var te *TerminationError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "receiver", te.Name)
	assert.ErrorIs(t, err, failing)

	assert.Equal(t, process.Exited, hs[0].State().Phase)
	assert.Equal(t, process.Exited, hs[2].State().Phase)
	assert.True(t, hs[1].Alive(), "failed handle is left as is")
}

func TestShutdownAllSkipsExited(t *testing.T) {
	requireUnix(t)
	var calls []string
	term := func(h *process.Handle, grace time.Duration) error {
		calls = append(calls, h.Name())
		return h.Terminate(grace)
	}
	o := newTestOrchestrator(t, WithTerminator(term))
	hs, err := o.LaunchAll(context.Background(), []process.Spec{
		{Name: "oneshot", Command: "true"},
		{Name: "daemon", Command: "sleep 30"},
	})
	require.NoError(t, err)
	select {
	case <-hs[0].Done():
	case <-time.After(5 * time.Second):
		t.Fatal("oneshot did not exit")
	}

	require.NoError(t, o.ShutdownAll(context.Background(), hs))
	assert.Equal(t, []string{"daemon"}, calls)
	assert.Equal(t, process.Exited, hs[1].State().Phase)
}

func TestShutdownAllRealSignals(t *testing.T) {
	requireUnix(t)
	o := newTestOrchestrator(t)
	hs := launchSleepers(t, o, "a", "b")
	require.NoError(t, o.ShutdownAll(context.Background(), hs))
	for _, h := range hs {
		assert.Equal(t, process.Exited, h.State().Phase, h.Name())
	}
	// idempotent
	assert.NoError(t, o.ShutdownAll(context.Background(), hs))
}

func TestShutdownAllGraceFollowsDeadline(t *testing.T) {
	requireUnix(t)
	var got time.Duration
	term := func(h *process.Handle, grace time.Duration) error {
		got = grace
		return h.Terminate(grace)
	}
	o := New(WithOutput(discard()), WithGracePeriod(time.Minute), WithTerminator(term))
	hs := launchSleepers(t, o, "one")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.ShutdownAll(ctx, hs))
	assert.LessOrEqual(t, got, 2*time.Second)
}

func TestWaitAndWaitAny(t *testing.T) {
	requireUnix(t)
	o := newTestOrchestrator(t)
	hs, err := o.LaunchAll(context.Background(), []process.Spec{
		{Name: "long", Command: "sleep 30"},
		{Name: "short", Command: "sleep 0.1"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.ShutdownAll(context.Background(), hs) })

	h, err := o.WaitAny(context.Background(), hs)
	require.NoError(t, err)
	assert.Equal(t, "short", h.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx, hs), context.DeadlineExceeded)
}
