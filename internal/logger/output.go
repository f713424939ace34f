package logger

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Output modes for child process stdout/stderr.
const (
	OutputInherit = "inherit" // line-prefixed onto the launcher's stdout/stderr
	OutputFile    = "file"    // rotated files under Dir or explicit paths
	OutputDiscard = "discard"
)

// OutputConfig describes where a child's stdout/stderr go.
// With Mode "file" and empty StdoutPath/StderrPath, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
type OutputConfig struct {
	Mode       string `json:"mode" mapstructure:"mode" yaml:"mode"`
	Dir        string `json:"dir" mapstructure:"dir" yaml:"dir"`
	StdoutPath string `json:"stdout" mapstructure:"stdout" yaml:"stdout"`
	StderrPath string `json:"stderr" mapstructure:"stderr" yaml:"stderr"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
}

// Merge returns c with every non-zero field of override applied.
func (c OutputConfig) Merge(override OutputConfig) OutputConfig {
	if override.Mode != "" {
		c.Mode = override.Mode
	}
	if override.Dir != "" {
		c.Dir = override.Dir
	}
	if override.StdoutPath != "" {
		c.StdoutPath = override.StdoutPath
	}
	if override.StderrPath != "" {
		c.StderrPath = override.StderrPath
	}
	if override.MaxSizeMB != 0 {
		c.MaxSizeMB = override.MaxSizeMB
	}
	if override.MaxBackups != 0 {
		c.MaxBackups = override.MaxBackups
	}
	if override.MaxAgeDays != 0 {
		c.MaxAgeDays = override.MaxAgeDays
	}
	if override.Compress {
		c.Compress = true
	}
	return c
}

// Validate checks the mode and that file mode has somewhere to write.
func (c OutputConfig) Validate() error {
	switch c.mode() {
	case OutputInherit, OutputDiscard:
		return nil
	case OutputFile:
		if c.Dir == "" && c.StdoutPath == "" && c.StderrPath == "" {
			return fmt.Errorf("output mode file requires dir, stdout or stderr")
		}
		return nil
	default:
		return fmt.Errorf("unknown output mode %q", c.Mode)
	}
}

func (c OutputConfig) mode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m == "" {
		return OutputInherit
	}
	return m
}

// Writers returns stdout/stderr writers for the process called name. console
// streams are used in inherit mode. Every returned writer that needs closing is
// listed in closers; nil writers mean the stream is discarded.
func (c OutputConfig) Writers(name string, consoleOut, consoleErr io.Writer) (stdout, stderr io.Writer, closers []io.Closer, err error) {
	switch c.mode() {
	case OutputDiscard:
		return nil, nil, nil, nil
	case OutputInherit:
		po := NewPrefixWriter(consoleOut, name)
		pe := NewPrefixWriter(consoleErr, name)
		return po, pe, []io.Closer{po, pe}, nil
	case OutputFile:
		outPath, errPath := c.StdoutPath, c.StderrPath
		if outPath == "" && c.Dir != "" {
			outPath = filepath.Join(c.Dir, name+".stdout.log")
		}
		if errPath == "" && c.Dir != "" {
			errPath = filepath.Join(c.Dir, name+".stderr.log")
		}
		if outPath != "" {
			w := c.rotated(outPath)
			stdout = w
			closers = append(closers, w)
		}
		if errPath != "" {
			w := c.rotated(errPath)
			stderr = w
			closers = append(closers, w)
		}
		return stdout, stderr, closers, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown output mode %q", c.Mode)
	}
}

func (c OutputConfig) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}
