package readiness

import (
	"context"

	"github.com/loykin/pipelaunch/internal/pidutil"
)

// PIDFileProbe is ready once Path names a live process. Daemonizing brokers
// usually write their pid file only after they are listening.
type PIDFileProbe struct{ Path string }

func (p PIDFileProbe) Ready(context.Context) (bool, error) {
	pid, start, err := pidutil.Read(p.Path)
	if err != nil {
		// missing or half-written; try again next tick
		return false, nil
	}
	return pidutil.Owned(pid, start), nil
}

func (p PIDFileProbe) Describe() string { return "pidfile:" + p.Path }
