package readiness

import (
	"context"
	"errors"
	"os/exec"

	"github.com/loykin/pipelaunch/internal/cmdline"
)

// CommandProbe is ready when Command exits 0.
type CommandProbe struct{ Command string }

func (p CommandProbe) Ready(ctx context.Context) (bool, error) {
	cmd := cmdline.BuildContext(ctx, p.Command)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) || ctx.Err() != nil {
		return false, nil
	}
	// the command itself cannot be run
	return false, err
}

func (p CommandProbe) Describe() string { return "cmd:" + p.Command }
