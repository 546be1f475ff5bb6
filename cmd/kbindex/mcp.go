package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	var noRefresh bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the index to MCP clients over stdio",
		Long: `mcp serves the get_index, get_source_text, refresh_index and
index_status tools over stdio. Unless --no-refresh is given, the index is
kept fresh in the background the same way serve does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if noRefresh {
				return mcp.NewServer(a.indexer, nil).Serve(ctx)
			}

			sched := index.NewScheduler(a.indexer, c.cfg.Runtime.TickInterval, c.logger)
			srv := mcp.NewServer(a.indexer, sched)

			bg, bgCtx := errgroup.WithContext(ctx)
			bg.Go(func() error { return sched.Run(bgCtx) })
			if c.cfg.Runtime.Watch {
				if err := startWatcher(bgCtx, bg, a, sched); err != nil {
					return err
				}
			}

			// The stdio server returns when the client disconnects.
			serveErr := srv.Serve(ctx)
			stop()
			if err := bg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return serveErr
		},
	}

	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "serve the current index without running passes")
	return cmd
}
