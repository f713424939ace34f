// Package pipelaunch launches an ordered pipeline of dependent processes.
//
// It is the public facade over the internal packages used by the
// pipelaunch command, for programs that embed the launcher.
package pipelaunch

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/pipelaunch/internal/config"
	"github.com/loykin/pipelaunch/internal/history"
	"github.com/loykin/pipelaunch/internal/history/factory"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/orchestrator"
	"github.com/loykin/pipelaunch/internal/process"
	"github.com/loykin/pipelaunch/internal/readiness"
	iapi "github.com/loykin/pipelaunch/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Handle = process.Handle

type State = process.State

type ReadinessConfig = readiness.Config

type ProbeConfig = readiness.ProbeConfig

type OutputConfig = logger.OutputConfig

type Config = cfg.Config

type HistorySink = history.Sink

// Errors returned by LaunchAll and ShutdownAll; use errors.As.
type (
	LaunchError      = orchestrator.LaunchError
	SpawnError       = orchestrator.SpawnError
	ReadinessError   = orchestrator.ReadinessError
	TerminationError = orchestrator.TerminationError
)

type Option = orchestrator.Option

var (
	WithLogger      = orchestrator.WithLogger
	WithHistory     = orchestrator.WithHistory
	WithEnv         = orchestrator.WithEnv
	WithOutput      = orchestrator.WithOutput
	WithConsole     = orchestrator.WithConsole
	WithGracePeriod = orchestrator.WithGracePeriod
)

// Orchestrator is a thin facade over internal/orchestrator.
type Orchestrator struct{ inner *orchestrator.Orchestrator }

func New(opts ...Option) *Orchestrator { return &Orchestrator{inner: orchestrator.New(opts...)} }

func (o *Orchestrator) LaunchAll(ctx context.Context, specs []Spec) ([]*Handle, error) {
	return o.inner.LaunchAll(ctx, specs)
}
func (o *Orchestrator) ShutdownAll(ctx context.Context, handles []*Handle) error {
	return o.inner.ShutdownAll(ctx, handles)
}
func (o *Orchestrator) Wait(ctx context.Context, handles []*Handle) error {
	return o.inner.Wait(ctx, handles)
}
func (o *Orchestrator) WaitAny(ctx context.Context, handles []*Handle) (*Handle, error) {
	return o.inner.WaitAny(ctx, handles)
}
func (o *Orchestrator) RunID() string      { return o.inner.RunID() }
func (o *Orchestrator) Statuses() []Status { return o.inner.Statuses() }

// LoadConfig resolves and reads a pipeline config; see internal/config.Load.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in broker, receiver, sender pipeline.
func DefaultConfig() *Config { return cfg.Default() }

// NewHistory builds a recorder writing to the sinks named by dsns
// (sqlite://, postgres://, clickhouse://, opensearch://).
func NewHistory(log *slog.Logger, dsns ...string) (*history.Recorder, error) {
	sinks, err := factory.NewSinks(dsns)
	if err != nil {
		return nil, err
	}
	return history.NewRecorder(log, sinks...), nil
}

// NewHTTPServer starts the read-only status API for o.
func NewHTTPServer(addr, basePath string, o *Orchestrator, log *slog.Logger) (*iapi.Server, error) {
	s := iapi.NewServer(addr, iapi.NewRouter(o.inner, basePath).Handler(), log)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
