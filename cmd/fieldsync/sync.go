package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"

	"fieldsync/backend"
	fsync "fieldsync/backend/sync"
	"fieldsync/internal/app"
	"fieldsync/internal/cli"
	"fieldsync/internal/utils"

	"github.com/spf13/cobra"
)

// syncReport is the structured output of 'fieldsync sync'
type syncReport struct {
	Result         string   `json:"result" yaml:"result"`
	Synced         int      `json:"synced" yaml:"synced"`
	Failed         int      `json:"failed" yaml:"failed"`
	Errors         []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	LocalTasks     int      `json:"localTasksCreated" yaml:"local_tasks_created"`
	Pulled         int      `json:"pulled" yaml:"pulled"`
	SkippedPending int      `json:"skippedPending" yaml:"skipped_pending"`
	Health         string   `json:"health" yaml:"health"`
	DurationMS     int64    `json:"durationMs" yaml:"duration_ms"`
}

func newSyncCmd(e *env) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Push queued actions and pull assignments",
		Long: `Run one sync cycle against the task server:
- Create tasks made on this device and adopt their server ids
- Push queued actions in batches, oldest first, with retry and backoff
- Pull assigned tasks; tasks with unsynced local changes are left alone

Examples:
  fieldsync sync
  fieldsync sync status
  fieldsync sync queue
  fieldsync sync queue retry`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				manager, err := a.SyncManager()
				if err != nil {
					return err
				}

				cycle, err := manager.RunCycleDetailed(cmd.Context())
				if err != nil {
					if errors.Is(err, fsync.ErrSyncInProgress) {
						return utils.ErrSyncBusy(err)
					}
					return err
				}
				result := cycle.Result()

				if e.structured() {
					if err := e.write(cmd.OutOrStdout(), buildSyncReport(cycle, a.Health())); err != nil {
						return err
					}
				} else {
					printCycle(cmd, cycle)
				}

				f, ok := result.(fsync.Failure)
				if !ok {
					return nil
				}
				if reason, offline := offlineReason(f.Err); offline {
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Offline mode: %v\n", utils.ErrServerOffline(reason))
					return nil
				}
				var be *backend.BackendError
				if errors.As(f.Err, &be) && be.IsUnauthorized() {
					return utils.ErrAuthenticationFailed()
				}
				return fmt.Errorf("sync failed: %w", f.Err)
			})
		},
	}

	syncCmd.AddCommand(newSyncStatusCmd(e))
	syncCmd.AddCommand(newSyncQueueCmd(e))
	syncCmd.AddCommand(newSyncAlertsCmd(e))
	return syncCmd
}

func buildSyncReport(cycle *fsync.CycleResult, health *fsync.HealthMonitor) syncReport {
	result := cycle.Result()
	r := syncReport{
		Result:     result.String(),
		Synced:     result.Synced(),
		Failed:     result.Failed(),
		LocalTasks: cycle.LocalTasks,
		Health:     string(health.Status()),
		DurationMS: cycle.Duration.Milliseconds(),
	}
	if p, ok := result.(fsync.PartialSuccess); ok {
		r.Errors = p.Errors
	}
	if cycle.Pull != nil {
		r.Pulled = cycle.Pull.Upserted
		r.SkippedPending = cycle.Pull.SkippedPending
	}
	return r
}

func printCycle(cmd *cobra.Command, cycle *fsync.CycleResult) {
	out := cmd.OutOrStdout()
	cli.ShowSyncResult(out, cycle.Result())
	if cycle.LocalTasks > 0 {
		fmt.Fprintf(out, "  Created %d local task(s) on the server\n", cycle.LocalTasks)
	}
	if cycle.Pull != nil {
		fmt.Fprintf(out, "  Pulled %d task(s)", cycle.Pull.Upserted)
		if cycle.Pull.SkippedPending > 0 {
			fmt.Fprintf(out, ", kept %d with local changes", cycle.Pull.SkippedPending)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "  Took %v\n", cycle.Duration.Round(1e6))
}

func newSyncStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				stats, err := a.Store().Stats(cmd.Context(), a.Config().Sync.MaxRetriesPerAction)
				if err != nil {
					return err
				}
				if e.structured() {
					return e.write(cmd.OutOrStdout(), stats)
				}
				cli.ShowStatus(cmd.OutOrStdout(), stats, nil, termWidth(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

func newSyncQueueCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show actions waiting to be synced",
		Long: `Show unsynced actions in submission order. Actions that failed
max_retries_per_action times are quarantined and skipped by sync until
released with 'fieldsync sync queue retry'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				ctx := cmd.Context()
				maxRetries := a.Config().Sync.MaxRetriesPerAction
				actions, err := queuedActions(ctx, a.Store(), maxRetries)
				if err != nil {
					return err
				}
				if e.structured() {
					return e.write(cmd.OutOrStdout(), actions)
				}
				cli.ShowQueue(cmd.OutOrStdout(), actions, maxRetries, termWidth(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.AddCommand(newSyncQueueRetryCmd(e))
	return cmd
}

// queuedActions returns every unsynced action in submission order, including
// those waiting for their local task to be created, quarantined ones last
func queuedActions(ctx context.Context, store backend.TaskStore, maxRetries int) ([]backend.TaskAction, error) {
	pending, err := store.GetUnsyncedActions(ctx, maxRetries, -1)
	if err != nil {
		return nil, err
	}

	localTasks, err := store.GetLocalTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, task := range localTasks {
		actions, err := store.GetActionsForTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if !a.IsSynced && a.RetryCount < maxRetries {
				pending = append(pending, a)
			}
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Timestamp < pending[j].Timestamp })

	quarantined, err := store.GetQuarantinedActions(ctx, maxRetries)
	if err != nil {
		return nil, err
	}
	return append(pending, quarantined...), nil
}

func newSyncQueueRetryCmd(e *env) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Release quarantined actions for another round of retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				ctx := cmd.Context()
				quarantined, err := a.Store().GetQuarantinedActions(ctx, a.Config().Sync.MaxRetriesPerAction)
				if err != nil {
					return err
				}
				if len(quarantined) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No quarantined actions")
					return nil
				}

				if !yes {
					q := fmt.Sprintf("Reset retry counters for %d quarantined action(s)?", len(quarantined))
					if !utils.PromptYesNo(cmd.InOrStdin(), cmd.OutOrStdout(), q) {
						fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
						return nil
					}
				}

				n, err := a.Store().ResetActionRetries(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Reset %d action(s); they will be retried on the next sync\n", n)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

func newSyncAlertsCmd(e *env) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent critical sync alerts from redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(app.Options{}, func(a *app.App) error {
				sink := a.Alerts()
				if sink == nil {
					return utils.ErrInvalidConfig("alerts.redis_addr", "not set; alerts are only logged")
				}
				entries, err := sink.Recent(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("failed to read alerts: %w", err)
				}
				if e.structured() {
					return e.write(cmd.OutOrStdout(), entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No alerts")
				}
				for _, en := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-24s %v\n", en.At.Format("2006-01-02 15:04:05"), en.Name, en.Fields)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "Number of alerts to show")
	return cmd
}

// offlineReason classifies transport errors that mean the server is unreachable
func offlineReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "DNS resolution failed", true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return "Connection refused", true
		}
		return "Network unreachable", true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "Connection timeout", true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "Connection timeout", true
		}
		return "Network unreachable", true
	}
	return "", false
}
