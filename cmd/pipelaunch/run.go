package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/pipelaunch/internal/config"
	"github.com/loykin/pipelaunch/internal/history"
	"github.com/loykin/pipelaunch/internal/history/factory"
	"github.com/loykin/pipelaunch/internal/logger"
	"github.com/loykin/pipelaunch/internal/metrics"
	"github.com/loykin/pipelaunch/internal/orchestrator"
	"github.com/loykin/pipelaunch/internal/process"
	"github.com/loykin/pipelaunch/internal/server"
	tlsconf "github.com/loykin/pipelaunch/internal/tls"
)

// shutdownSlack covers the kill escalation after the grace period.
const shutdownSlack = 3 * time.Second

// runPipeline launches cfg's processes, keeps them in the foreground until
// they exit (per shutdown.exit_on) or ctx is cancelled, and terminates what
// is left. The returned error is the launch or configuration failure, if any.
func runPipeline(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	// the whole pipeline is checked before anything is spawned
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := logger.New(cfg.Log, stderr)
	if err != nil {
		return err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	genv, err := cfg.GlobalEnv()
	if err != nil {
		return err
	}

	var sampler *metrics.ResourceSampler
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if cfg.Metrics.Resources.Enabled {
			sampler = metrics.NewResourceSampler(cfg.Metrics.Resources, log)
			if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
				return fmt.Errorf("register resource metrics: %w", err)
			}
		}
	}

	var rec *history.Recorder
	if cfg.History.Enabled {
		sinks, err := factory.NewSinks(cfg.History.Sinks)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		rec = history.NewRecorder(log, sinks...)
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn("closing history sinks", "error", err)
			}
		}()
	}

	orch := orchestrator.New(
		orchestrator.WithLogger(log),
		orchestrator.WithHistory(rec),
		orchestrator.WithEnv(genv),
		orchestrator.WithOutput(cfg.Output),
		orchestrator.WithConsole(stdout, stderr),
		orchestrator.WithGracePeriod(cfg.Shutdown.GracePeriod),
	)

	if cfg.Server.Listen != "" {
		var opts []server.RouterOption
		if sampler != nil {
			opts = append(opts, server.WithResources(sampler))
		}
		srv := server.NewServer(cfg.Server.Listen, server.NewRouter(orch, cfg.Server.BasePath, opts...).Handler(), log)
		tc, err := tlsconf.Setup(cfg.Server.TLS)
		if err != nil {
			return err
		}
		srv.EnableTLS(tc)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if sampler != nil {
		sampler.Start(ctx, func() map[string]int32 { return livePIDs(orch) })
		defer sampler.Stop()
	}

	handles, launchErr := orch.LaunchAll(ctx, specs)
	if launchErr != nil {
		logLaunchFailure(log, launchErr)
	} else {
		log.Info("pipeline running", "processes", len(handles), "run_id", orch.RunID())
		waitForExit(ctx, log, orch, cfg.Shutdown.ExitOn, handles)
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod+shutdownSlack)
	defer cancel()
	if err := orch.ShutdownAll(sctx, handles); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	return launchErr
}

func waitForExit(ctx context.Context, log *slog.Logger, orch *orchestrator.Orchestrator, exitOn string, handles []*process.Handle) {
	if exitOn == config.ExitOnAny {
		h, err := orch.WaitAny(ctx, handles)
		if err == nil {
			log.Info("process exited, stopping pipeline", "name", h.Name(), "state", h.State().String())
			return
		}
	} else if err := orch.Wait(ctx, handles); err == nil {
		log.Info("all processes exited")
		return
	}
	log.Info("interrupted, stopping pipeline")
}

func logLaunchFailure(log *slog.Logger, err error) {
	var le *orchestrator.LaunchError
	if !errors.As(err, &le) {
		log.Error("launch failed", "error", err)
		return
	}
	attrs := []any{"step", le.Index + 1, "name", le.Name, "error", le.Err}
	var se *orchestrator.SpawnError
	if errors.As(err, &se) {
		attrs = append(attrs, "reason", se.Reason)
	}
	log.Error("launch failed", attrs...)
}

func livePIDs(orch *orchestrator.Orchestrator) map[string]int32 {
	out := make(map[string]int32)
	for _, st := range orch.Statuses() {
		if st.Phase != process.Exited && st.PID > 0 {
			out[st.Name] = int32(st.PID)
		}
	}
	return out
}
