package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldsync/internal/app"
	"fieldsync/internal/operations"
	"fieldsync/internal/utils"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(e *env) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep syncing in the foreground until interrupted",
		Long: `Run the sync scheduler: a cycle at start, one every
sync.periodic_sync_interval, and one after each local change. Failed cycles
are retried with exponential backoff. Serves Prometheus metrics when
metrics.listen_addr (or --metrics-addr) is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.load()
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.ListenAddr
			}

			return e.withApp(app.Options{Metrics: metricsAddr != ""}, func(a *app.App) error {
				coordinator, err := a.Coordinator()
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				var srv *http.Server
				if metricsAddr != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.HandlerFor(a.Registry(), promhttp.HandlerOpts{}))
					mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
						snap := a.Health().Snapshot()
						w.Header().Set("Content-Type", "text/plain")
						fmt.Fprintln(w, snap.Status)
					})
					srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							utils.Errorf("Metrics server stopped: %v", err)
						}
					}()
					utils.Infof("Serving metrics on %s", metricsAddr)
				}

				if err := coordinator.Start(); err != nil {
					return err
				}
				coordinator.TriggerSync()
				utils.Infof("Sync scheduler running for rider %s", a.Config().RiderID)

				<-ctx.Done()
				utils.Infof("Shutting down")

				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					_ = srv.Shutdown(shutdownCtx)
					cancel()
				}
				return coordinator.Shutdown(shutdownTimeout)
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	return cmd
}

// newBackgroundSyncCmd is the hidden one-shot sync started after CLI actions
func newBackgroundSyncCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:    operations.BackgroundSyncCommand,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				manager, err := a.SyncManager()
				if err != nil {
					utils.Debugf("Background sync skipped: %v", err)
					return nil
				}

				timeout := a.Config().Sync.CycleTimeout
				if timeout <= 0 {
					timeout = 2 * time.Minute
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()

				result, err := manager.RunCycle(ctx)
				if err != nil {
					utils.Debugf("Background sync skipped: %v", err)
					return nil
				}
				utils.Infof("Background sync: %s", result)
				return nil
			})
		},
	}
}
