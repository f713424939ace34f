package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/pipelaunch/internal/cmdline"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/readiness"
)

// Spec is the static description of one child process in the pipeline.
// It is built from configuration at startup and not modified afterwards.
type Spec struct {
	Name           string              `json:"name"`
	Command        string              `json:"command"`            // executable path, or a full command line when Args is empty
	Args           []string            `json:"args,omitempty"`     // passed verbatim, no shell involved
	WorkDir        string              `json:"work_dir,omitempty"` // must exist when set
	Env            []string            `json:"env,omitempty"`      // extra KEY=VALUE entries
	ReadinessDelay time.Duration       `json:"readiness_delay"`    // fixed wait after launch before the next process starts
	Readiness      readiness.Config    `json:"readiness"`          // optional probes run after ReadinessDelay
	Output         logger.OutputConfig `json:"output"`
	PIDFile        string              `json:"pid_file,omitempty"`
}

// BuildCommand constructs the *exec.Cmd for the spec. With Args present the
// command is executed directly; otherwise Command is treated as a command line
// and only handed to a shell when it contains shell syntax.
func (s Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204 -- executable and args come from the launcher's configuration
		return exec.Command(s.Command, s.Args...)
	}
	return cmdline.Build(s.Command)
}

// Validate checks a single spec.
func (s Spec) Validate() error {
	if !IsSafeName(s.Name) {
		return fmt.Errorf("invalid process name %q: allowed [A-Za-z0-9._-]", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %s: command is required", s.Name)
	}
	if s.ReadinessDelay < 0 {
		return fmt.Errorf("process %s: readiness delay must not be negative", s.Name)
	}
	if err := s.Readiness.Validate(); err != nil {
		return fmt.Errorf("process %s: readiness: %w", s.Name, err)
	}
	if err := s.Output.Validate(); err != nil {
		return fmt.Errorf("process %s: output: %w", s.Name, err)
	}
	return nil
}

// ValidateAll checks every spec and rejects duplicate names.
func ValidateAll(specs []Spec) error {
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("processes[%d]: %w", i, err)
		}
		if j, ok := seen[s.Name]; ok {
			return fmt.Errorf("processes[%d]: duplicate name %q (first at %d)", i, s.Name, j)
		}
		seen[s.Name] = i
	}
	return nil
}

// IsSafeName reports whether s can be used as a process name. Names end up in
// log file names, so path separators and ".." are rejected.
func IsSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}
