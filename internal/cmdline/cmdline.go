// Package cmdline turns a single command string into an *exec.Cmd, invoking a
// shell only when the string needs one.
package cmdline

import (
	"context"
	"os/exec"
	"strings"
)

const shellMeta = "|&;<>*?`$\"'(){}[]~"

// Build constructs an *exec.Cmd for cmdStr. An explicit "sh -c ..." prefix is
// honored without adding another shell layer; other strings with shell
// metacharacters go through the platform shell; plain strings are split on
// whitespace and executed directly.
func Build(cmdStr string) *exec.Cmd {
	return BuildContext(context.Background(), cmdStr)
}

// BuildContext is Build bound to ctx.
func BuildContext(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return trueCommand(ctx)
	}
	if script, ok := explicitShell(cmdStr); ok {
		return shellCommand(ctx, script)
	}
	if NeedsShell(cmdStr) {
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204 -- commands come from the launcher's own configuration
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// NeedsShell reports whether s contains shell metacharacters.
func NeedsShell(s string) bool {
	return strings.ContainsAny(s, shellMeta)
}

// explicitShell detects "sh -c <ARG>" style prefixes and returns ARG with one
// pair of surrounding quotes removed.
func explicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(trim, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
