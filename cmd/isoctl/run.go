package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/danmuck/isogather/internal/collector"
	"github.com/danmuck/isogather/internal/dispatch"
	"github.com/danmuck/isogather/internal/failure"
	"github.com/danmuck/isogather/internal/partition"
	"github.com/danmuck/isogather/internal/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [flags] [<threads>] <output> <prefix>",
		Short: "Run a complete extraction: spawn workers, gather, write the mesh",
		Args:  maxArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, cfg, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			if opts.Strategy == partition.ThreadOnly {
				_, err := dispatch.RunThreads(cmd.Context(), opts, cmd.OutOrStdout())
				return err
			}
			c, err := dispatch.NewCollect(opts)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate isoctl binary: %w", err)
			}
			spawner := dispatch.ExecSpawner{
				Path:   exe,
				Args:   workerArgs(f.configPath, c.Options()),
				Stdout: cmd.ErrOrStderr(),
				Stderr: cmd.ErrOrStderr(),
			}
			stop := startStatus(cmd.Context(), cfg.StatusAddr, c.Progress())
			defer stop()
			_, err = dispatch.Launch(cmd.Context(), c, "", spawner)
			return err
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

func newCollectCmd() *cobra.Command {
	var f runFlags
	var listen string
	cmd := &cobra.Command{
		Use:   "collect [flags] [<threads>] <output> <prefix>",
		Short: "Run only the collector; workers are started elsewhere with the printed run id",
		Args:  maxArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, cfg, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			if opts.Strategy == partition.ThreadOnly {
				return fmt.Errorf("%w: thread mode has no separate collector", failure.ErrConfiguration)
			}
			c, err := dispatch.NewCollect(opts)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s %s=%s\n",
				dispatch.EnvCollector, ln.Addr().String(), dispatch.EnvRunID, c.Options().RunID)
			stop := startStatus(cmd.Context(), cfg.StatusAddr, c.Progress())
			defer stop()
			_, err = c.Run(cmd.Context(), ln)
			return err
		},
	}
	f.bind(cmd.Flags())
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7400", "address worker ranks connect to")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:    "worker [flags] [<threads>] <output> <prefix>",
		Short:  "Run one worker rank; rank and collector come from the environment",
		Hidden: true,
		Args:   maxArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := dispatch.WorkerSpecFromEnv(os.Getenv)
			if err != nil {
				return err
			}
			opts, _, err := f.resolve(cmd, args)
			if err != nil {
				return err
			}
			opts.Ranks = spec.Size
			opts.RunID = spec.RunID
			return dispatch.RunWorker(cmd.Context(), opts, spec.Rank, spec.Collector)
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

// startStatus serves the status surface on addr until the returned stop
// is called. An empty addr disables it.
func startStatus(ctx context.Context, addr string, progress *collector.Progress) func() {
	if addr == "" {
		return func() {}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("isoctl status surface disabled")
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.New("isoctl", progress).Serve(ctx, ln); err != nil {
			log.Warn().Err(err).Msg("isoctl status surface")
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
