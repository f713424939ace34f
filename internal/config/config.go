// Package config loads the pipeline definition and launcher settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/pipelaunch/internal/env"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/process"
	"github.com/loykin/pipelaunch/internal/readiness"
	tlsconf "github.com/loykin/pipelaunch/internal/tls"
)

// EnvConfigPath names the environment variable consulted when no --config is given.
const EnvConfigPath = "PIPELAUNCH_CONFIG"

// searchNames are tried in the working directory, in order.
var searchNames = []string{"pipelaunch.toml", "pipelaunch.yaml", "pipelaunch.yml"}

// Exit policies for the foreground run.
const (
	ExitOnAll = "all" // keep running until every process exited
	ExitOnAny = "any" // shut the pipeline down when the first process exits
)

// Config is the top-level file structure (TOML or YAML).
type Config struct {
	Env       []string            `mapstructure:"env" yaml:"env,omitempty"`
	EnvFiles  []string            `mapstructure:"env_files" yaml:"env_files,omitempty"`
	UseOSEnv  bool                `mapstructure:"use_os_env" yaml:"use_os_env"`
	Log       logger.Config       `mapstructure:"log" yaml:"log"`
	Output    logger.OutputConfig `mapstructure:"output" yaml:"output"`
	History   HistoryConfig       `mapstructure:"history" yaml:"history"`
	Metrics   MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
	Server    ServerConfig        `mapstructure:"server" yaml:"server"`
	Shutdown  ShutdownConfig      `mapstructure:"shutdown" yaml:"shutdown"`
	Processes []ProcConfig        `mapstructure:"processes" yaml:"processes"`

	source string
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Sinks   []string `mapstructure:"sinks" yaml:"sinks,omitempty"` // DSNs, see history/factory
}

type MetricsConfig struct {
	Enabled   bool                   `mapstructure:"enabled" yaml:"enabled"`
	Resources metrics.ResourceConfig `mapstructure:"resources" yaml:"resources"`
}

// ServerConfig enables the status API when Listen is set.
type ServerConfig struct {
	Listen   string         `mapstructure:"listen" yaml:"listen,omitempty"`
	BasePath string         `mapstructure:"base_path" yaml:"base_path,omitempty"`
	TLS      tlsconf.Config `mapstructure:"tls" yaml:"tls,omitempty"`
}

type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	ExitOn      string        `mapstructure:"exit_on" yaml:"exit_on"`
}

// MarshalYAML renders the grace period as a duration string.
func (s ShutdownConfig) MarshalYAML() (any, error) {
	return struct {
		GracePeriod string `yaml:"grace_period"`
		ExitOn      string `yaml:"exit_on"`
	}{s.GracePeriod.String(), s.ExitOn}, nil
}

// ProcConfig is one [[processes]] entry.
type ProcConfig struct {
	Name             string              `mapstructure:"name" yaml:"name"`
	Command          string              `mapstructure:"command" yaml:"command"`
	Args             []string            `mapstructure:"args" yaml:"args,omitempty"`
	WorkDir          string              `mapstructure:"workdir" yaml:"workdir,omitempty"`
	Env              []string            `mapstructure:"env" yaml:"env,omitempty"`
	PIDFile          string              `mapstructure:"pidfile" yaml:"pidfile,omitempty"`
	ReadinessDelayMS int                 `mapstructure:"readiness_delay_ms" yaml:"readiness_delay_ms"`
	Readiness        readiness.Config    `mapstructure:"readiness" yaml:"readiness,omitempty"`
	Output           logger.OutputConfig `mapstructure:"output" yaml:"output,omitempty"`
}

// Default returns the built-in pipeline: an MQTT broker, then the receiver,
// then the sender.
func Default() *Config {
	c := base()
	c.Processes = []ProcConfig{
		{Name: "broker", Command: "mosquitto", Args: []string{"-v"}, ReadinessDelayMS: 3000},
		{Name: "receiver", Command: "python3", Args: []string{"main_receiver.py"}, ReadinessDelayMS: 3000},
		{Name: "sender", Command: "python3", Args: []string{"sender_sim.py"}, ReadinessDelayMS: 0},
	}
	return c
}

func base() *Config {
	return &Config{
		UseOSEnv: true,
		Log:      logger.Config{Level: "info", Format: "text"},
		Output:   logger.OutputConfig{Mode: logger.OutputInherit},
		Shutdown: ShutdownConfig{GracePeriod: 5 * time.Second, ExitOn: ExitOnAll},
	}
}

// Source returns the file the config was read from, or "" for the built-in default.
func (c *Config) Source() string { return c.source }

// Resolve picks the config file: explicit path, then $PIPELAUNCH_CONFIG, then
// pipelaunch.{toml,yaml,yml} in dir. It returns "" when none applies.
func Resolve(path, dir string) (string, error) {
	if path != "" {
		return path, nil
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	for _, n := range searchNames {
		p := filepath.Join(dir, n)
		fi, err := os.Stat(p)
		if err == nil && !fi.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", nil
}

// Load resolves and reads the configuration. With nothing to read it
// returns Default().
func Load(path string) (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	p, err := Resolve(path, wd)
	if err != nil {
		return nil, err
	}
	if p == "" {
		return Default(), nil
	}
	return LoadFile(p)
}

// LoadFile reads one TOML or YAML file. Scalar settings can be overridden
// from the environment with the PIPELAUNCH_ prefix (e.g. PIPELAUNCH_LOG_LEVEL).
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("toml")
	}
	d := base()
	v.SetDefault("use_os_env", d.UseOSEnv)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("output.mode", d.Output.Mode)
	v.SetDefault("shutdown.grace_period", d.Shutdown.GracePeriod)
	v.SetDefault("shutdown.exit_on", d.Shutdown.ExitOn)
	v.SetDefault("server.listen", "")
	v.SetEnvPrefix("PIPELAUNCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.source = path
	return &c, nil
}

// Specs converts the process entries into launch specs, in declaration order.
func (c *Config) Specs() ([]process.Spec, error) {
	out := make([]process.Spec, 0, len(c.Processes))
	for i, pc := range c.Processes {
		if pc.ReadinessDelayMS < 0 {
			return nil, fmt.Errorf("processes[%d] %s: readiness_delay_ms must not be negative", i, pc.Name)
		}
		out = append(out, process.Spec{
			Name:           pc.Name,
			Command:        pc.Command,
			Args:           pc.Args,
			WorkDir:        pc.WorkDir,
			Env:            pc.Env,
			ReadinessDelay: time.Duration(pc.ReadinessDelayMS) * time.Millisecond,
			Readiness:      pc.Readiness,
			Output:         pc.Output,
			PIDFile:        pc.PIDFile,
		})
	}
	return out, nil
}

// Validate checks the whole configuration, including every process spec.
func (c *Config) Validate() error {
	if len(c.Processes) == 0 {
		return errors.New("no processes configured")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	switch c.Shutdown.ExitOn {
	case "", ExitOnAll, ExitOnAny:
	default:
		return fmt.Errorf("shutdown.exit_on must be %q or %q, got %q", ExitOnAll, ExitOnAny, c.Shutdown.ExitOn)
	}
	if c.Shutdown.GracePeriod < 0 {
		return errors.New("shutdown.grace_period must not be negative")
	}
	if err := c.Server.TLS.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		return errors.New("history enabled but no sinks configured")
	}
	specs, err := c.Specs()
	if err != nil {
		return err
	}
	return process.ValidateAll(specs)
}

// GlobalEnv composes the environment shared by all children: the OS
// environment when use_os_env is set, then env_files in order, then env.
func (c *Config) GlobalEnv() (*env.Env, error) {
	e := env.New(c.UseOSEnv)
	for _, p := range c.EnvFiles {
		kvs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		e.SetAll(kvs)
	}
	e.SetAll(c.Env)
	return e, nil
}

// LoadEnvFile parses a .env file of KEY=VALUE lines. Blank lines, comments
// and an optional "export " prefix are accepted; surrounding quotes are
// stripped from values.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if n := len(v); n >= 2 && (v[0] == '"' && v[n-1] == '"' || v[0] == '\'' && v[n-1] == '\'') {
			v = v[1 : n-1]
		}
		if k != "" {
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}

// Dump writes c as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
