/*
Command anima-rt drives the ray tracing engine with the testbed scene.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/testbed"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "anima-rt",
		Short:        "GPU ray tracing resource engine",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newConfigCmd())
	return root
}

type runOptions struct {
	configPath string
	frames     uint64
	headless   bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load the configured scene and trace it until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
			defer stop()
			return run(ctx, cfg, !opts.headless)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a TOML configuration file")
	cmd.Flags().Uint64Var(&opts.frames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "use the headless backend and an offscreen target")
	return cmd
}

func (o *runOptions) config(cmd *cobra.Command) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if o.configPath != "" {
		loaded, err := core.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("frames") {
		cfg.Engine.FrameLimit = o.frames
	}
	if o.headless {
		cfg.Renderer.Backend = core.BackendHeadless
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.ConfigureLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *core.Config, window bool) error {
	tb := testbed.NewTestGame(cfg, window)

	e, err := engine.New(tb.Game)
	if err != nil {
		return err
	}

	if err := e.Initialize(ctx); err != nil {
		_ = e.Shutdown()
		return err
	}

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := core.DefaultConfig().Encode()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
