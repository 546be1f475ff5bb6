package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jankowtf/kbindex/internal/api"
	"github.com/jankowtf/kbindex/internal/index"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the index fresh and serve it over HTTP",
		Long: `serve runs a pass at startup, then one per runtime.tick_interval and
whenever a watched source changes. The index is served over HTTP at
server.addr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			if noWatch {
				c.cfg.Runtime.Watch = false
			}

			a, err := newApp(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := index.NewScheduler(a.indexer, c.cfg.Runtime.TickInterval, c.logger)
			srv := api.New(a.indexer, api.Options{Notifier: sched, Passes: sched, Logger: c.logger})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sched.Run(ctx) })
			g.Go(func() error { return srv.ListenAndServe(ctx, c.cfg.Server.Addr) })
			if c.cfg.Runtime.Watch {
				if err := startWatcher(ctx, g, a, sched); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Serving index on http://%s (Ctrl+C to stop)\n", c.cfg.Server.Addr)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "override server.addr")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable file watching")
	return cmd
}

// startWatcher runs a watcher in g that feeds n.
func startWatcher(ctx context.Context, g *errgroup.Group, a *app, n index.Notifier) error {
	w, err := index.NewWatcher(n, a.resolver(), a.watchConfig(), a.logger)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	g.Go(func() error { return w.Start(ctx) })
	return nil
}
