package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"syscall"
	"testing"
)

func TestClassifyStartErr(t *testing.T) {
	cases := []struct {
		err  error
		want SpawnReason
	}{
		{&exec.Error{Name: "nope", Err: exec.ErrNotFound}, ReasonNotFound},
		{&fs.PathError{Op: "fork/exec", Path: "/x", Err: syscall.ENOENT}, ReasonNotFound},
		{&fs.PathError{Op: "fork/exec", Path: "/x", Err: syscall.EACCES}, ReasonPermission},
		{&fs.PathError{Op: "chdir", Path: "/missing", Err: syscall.ENOENT}, ReasonBadWorkDir},
		{errors.New("boom"), ReasonOther},
	}
	for _, tc := range cases {
		if got := classifyStartErr(tc.err); got != tc.want {
			t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestSpawnErrorUnwrap(t *testing.T) {
	inner := fmt.Errorf("wrapped: %w", exec.ErrNotFound)
	err := error(&SpawnError{Name: "badcmd", Command: "badcmd", Reason: ReasonNotFound, Err: inner})
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("errors.Is should reach ErrNotFound")
	}
	if !strings.Contains(err.Error(), "badcmd") || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("message: %q", err.Error())
	}
}
