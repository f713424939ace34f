// Package readiness provides the optional probes that gate the next launch
// after a process's fixed readiness delay has elapsed.
package readiness

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Probe decides whether a launched dependency accepts work. It must be safe
// for concurrent use.
type Probe interface {
	// Ready returns true once the dependency is ready. An error is reported
	// only when it can never become ready (e.g. a misconfigured probe).
	Ready(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the probe.
	Describe() string
}

// OutputTap is implemented by probes that need to see the child's output.
// Tap is called once per stream; each call returns a writer with its own
// line buffer.
type OutputTap interface {
	Tap() *LineMatcher
}

const (
	DefaultTimeout  = 30 * time.Second
	DefaultInterval = 200 * time.Millisecond
)

// Config is the per-process readiness policy applied after the fixed delay.
type Config struct {
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`
	Interval     time.Duration `json:"interval" mapstructure:"interval" yaml:"interval"`
	RequireAlive bool          `json:"require_alive" mapstructure:"require_alive" yaml:"require_alive"` // fail if the process exits before it is ready
	Probes       []ProbeConfig `json:"probes" mapstructure:"probes" yaml:"probes"`
}

// ProbeConfig is the config-file form of a probe.
type ProbeConfig struct {
	Type    string `json:"type" mapstructure:"type" yaml:"type"` // tcp, command, log, pidfile, amqp
	Address string `json:"address,omitempty" mapstructure:"address" yaml:"address,omitempty"`
	Command string `json:"command,omitempty" mapstructure:"command" yaml:"command,omitempty"`
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern" yaml:"pattern,omitempty"`
	Path    string `json:"path,omitempty" mapstructure:"path" yaml:"path,omitempty"`
	URL     string `json:"url,omitempty" mapstructure:"url" yaml:"url,omitempty"`
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// Validate checks the policy without building probes.
func (c Config) Validate() error {
	if c.Timeout < 0 || c.Interval < 0 {
		return fmt.Errorf("readiness timeout and interval must not be negative")
	}
	for i, pc := range c.Probes {
		if _, err := pc.Build(); err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
	}
	return nil
}

// Build turns a probe config into a Probe.
func (pc ProbeConfig) Build() (Probe, error) {
	switch strings.ToLower(strings.TrimSpace(pc.Type)) {
	case "tcp":
		if pc.Address == "" {
			return nil, fmt.Errorf("tcp probe requires address")
		}
		return TCPProbe{Address: pc.Address}, nil
	case "command":
		if strings.TrimSpace(pc.Command) == "" {
			return nil, fmt.Errorf("command probe requires command")
		}
		return CommandProbe{Command: pc.Command}, nil
	case "log":
		if pc.Pattern == "" {
			return nil, fmt.Errorf("log probe requires pattern")
		}
		re, err := regexp.Compile(pc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("log probe pattern: %w", err)
		}
		return NewLogProbe(re), nil
	case "pidfile":
		if pc.Path == "" {
			return nil, fmt.Errorf("pidfile probe requires path")
		}
		return PIDFileProbe{Path: pc.Path}, nil
	case "amqp":
		if pc.URL == "" {
			return nil, fmt.Errorf("amqp probe requires url")
		}
		return AMQPProbe{URL: pc.URL}, nil
	default:
		return nil, fmt.Errorf("unknown probe type %q", pc.Type)
	}
}

// Build builds every probe in c.
func (c Config) Build() ([]Probe, error) {
	probes := make([]Probe, 0, len(c.Probes))
	for i, pc := range c.Probes {
		p, err := pc.Build()
		if err != nil {
			return nil, fmt.Errorf("probe %d: %w", i, err)
		}
		probes = append(probes, p)
	}
	return probes, nil
}

// MarshalYAML renders durations as strings such as "30s".
func (c Config) MarshalYAML() (any, error) {
	type out struct {
		Timeout      string        `yaml:"timeout,omitempty"`
		Interval     string        `yaml:"interval,omitempty"`
		RequireAlive bool          `yaml:"require_alive,omitempty"`
		Probes       []ProbeConfig `yaml:"probes,omitempty"`
	}
	o := out{RequireAlive: c.RequireAlive, Probes: c.Probes}
	if c.Timeout > 0 {
		o.Timeout = c.Timeout.String()
	}
	if c.Interval > 0 {
		o.Interval = c.Interval.String()
	}
	return o, nil
}
