package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docsync/docsync/internal/daemon"
	"github.com/docsync/docsync/internal/dashboard"
	dsync "github.com/docsync/docsync/internal/sync"
	"github.com/docsync/docsync/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch <owner>",
	GroupID: "sync",
	Short:   "Keep an owner's records in sync while the data directory changes",
	Long: `Watch runs the sync daemon in the foreground:
  1. Imports then exports the owner's records (unless --no-initial-sync)
  2. Exports again once table files stop changing for the debounce interval
  3. Imports from the remote store every pull interval

Press Ctrl+C to stop.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		owner := args[0]
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackends(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer b.Close()

		syncer, err := b.syncer(logObserver())
		if err != nil {
			fatalf("%v", err)
		}
		d, err := daemon.New(syncer, b.local.Dir(), owner, daemonConfig(cmd))
		if err != nil {
			fatalf("creating daemon: %v", err)
		}

		fmt.Printf("%s Watching %s for owner %s\n", ui.RenderAccent("🚀"), b.local.Dir(), owner)
		fmt.Printf("   Remote: %s\n", b.remote.Dialect())
		fmt.Printf("   Tables: %v\n", syncer.Plan().Tables())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Start the HTTP dashboard, optionally with the sync daemon",
	Long: `Serve starts the dashboard HTTP server:

  GET  /health                        liveness and configured backends
  GET  /ws                            websocket stream of sync events
  GET  /api/:backend/:table           list records (?where=k=v, ?deleted=true, ?with=preset)
  GET  /api/:backend/:table/:id       fetch one record (?with=preset)
  POST /api/sync/:direction/:owner    run an import or export

With --owner the sync daemon runs alongside and its events are broadcast.`,
	Run: func(cmd *cobra.Command, args []string) {
		owner, _ := cmd.Flags().GetString("owner")
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Dashboard.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b, err := openBackends(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer b.Close()

		presets, err := loadPresets()
		if err != nil {
			fatalf("%v", err)
		}

		server := dashboard.NewServer(&dashboard.Config{
			Addr:     addr,
			Backends: b.readers(),
			Presets:  presets,
			Logger:   logger,
		})
		syncer, err := b.syncer(server)
		if err != nil {
			fatalf("%v", err)
		}
		server.SetSyncer(syncer)

		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("🚀"), server.GetAddr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", server.GetAddr())

		g, gctx := errgroup.WithContext(ctx)
		if owner != "" {
			d, err := daemon.New(syncer, b.local.Dir(), owner, daemonConfig(cmd))
			if err != nil {
				_ = server.Stop()
				fatalf("creating daemon: %v", err)
			}
			fmt.Printf("   Syncing owner %s from %s\n", owner, b.local.Dir())
			g.Go(func() error { return d.Start(gctx) })
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		g.Go(func() error {
			<-gctx.Done()
			fmt.Println("\nShutting down...")
			return server.Stop()
		})

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			fatalf("%v", err)
		}
		fmt.Println("Stopped")
	},
}

func daemonConfig(cmd *cobra.Command) *daemon.Config {
	c := cfg.DaemonConfig(logger)
	if noInitial, _ := cmd.Flags().GetBool("no-initial-sync"); noInitial {
		c.InitialSync = false
	}
	return c
}

// logObserver reports finished and failed runs through the logger.
func logObserver() dsync.Observer {
	return dsync.ObserverFunc(func(e dsync.Event) {
		switch e.Type {
		case dsync.EventFinished:
			logger.Info("sync run finished", zap.String("run_id", e.RunID), zap.String("direction", string(e.Direction)))
		case dsync.EventFailed:
			logger.Warn("sync run failed", zap.String("run_id", e.RunID), zap.String("error", e.Error))
		}
	})
}

func init() {
	watchCmd.Flags().Bool("no-initial-sync", false, "skip the import/export at startup")

	serveCmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().String("owner", "", "also run the sync daemon for this owner")
	serveCmd.Flags().Bool("no-initial-sync", false, "skip the daemon's import/export at startup")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}
