package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/pipelaunch/internal/config"
)

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := createRootCommand(flags)
	root.AddCommand(createConfigCommand(flags))
	return root
}

// createRootCommand runs the pipeline when invoked without a subcommand.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "pipelaunch",
		Short: "Launch a dependent process pipeline in order",
		Long: `pipelaunch starts a fixed, ordered pipeline of processes (a message broker
first, then the programs that connect to it), waiting for each one's readiness
delay and probes before starting the next. It stays in the foreground until the
processes exit or it is interrupted, then terminates everything in reverse order.

Examples:
  pipelaunch                          # built-in pipeline or ./pipelaunch.toml
  pipelaunch --config=pipeline.yaml
  pipelaunch config                   # print the resolved configuration`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file (optional)")
	return root
}

func createConfigCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			src := cfg.Source()
			if src == "" {
				src = "built-in default"
			}
			_, _ = fmt.Fprintf(out, "# source: %s\n", src)
			return cfg.Dump(out)
		},
	}
}
