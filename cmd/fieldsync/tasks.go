package main

import (
	"context"
	"fmt"
	"time"

	"fieldsync/backend"
	"fieldsync/internal/app"
	"fieldsync/internal/cli"
	"fieldsync/internal/operations"
	"fieldsync/internal/utils"

	"github.com/spf13/cobra"
)

func newTasksCmd(e *env) *cobra.Command {
	var statuses, types []string
	var search string

	cmd := &cobra.Command{
		Use:     "tasks",
		Aliases: []string{"ls"},
		Short:   "List tasks from the local store",
		Long: `List the rider's tasks from the local store. Works offline.

Examples:
  fieldsync tasks
  fieldsync tasks --status assigned,reached
  fieldsync tasks --type drop --search "mg road"
  fieldsync tasks -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := operations.BuildFilter(statuses, types, search)
			if err != nil {
				return err
			}
			return e.withApp(app.Options{}, func(a *app.App) error {
				tasks, err := operations.ListTasks(cmd.Context(), a.Store(), a.Config().RiderID, filter)
				if err != nil {
					return err
				}
				if e.structured() {
					return e.write(cmd.OutOrStdout(), tasks)
				}
				cli.ShowTasks(cmd.OutOrStdout(), tasks, termWidth(cmd.OutOrStdout()))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (comma-separated)")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Filter by type: pickup, drop")
	cmd.Flags().StringVar(&search, "search", "", "Match id, customer name or address")
	return cmd
}

// locationFlags reads --lat/--lng, returning nil pointers when unset
func locationFlags(cmd *cobra.Command) (*float64, *float64) {
	var lat, lng *float64
	if cmd.Flags().Changed("lat") {
		v, _ := cmd.Flags().GetFloat64("lat")
		lat = &v
	}
	if cmd.Flags().Changed("lng") {
		v, _ := cmd.Flags().GetFloat64("lng")
		lng = &v
	}
	return lat, lng
}

func addLocationFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("lat", 0, "Latitude")
	cmd.Flags().Float64("lng", 0, "Longitude")
}

func newCreateCmd(e *env) *cobra.Command {
	var taskType, customer, phone, address string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task on this device",
		Long: `Create a task locally. It gets a temporary local- id and is created on
the server on the next sync, after which its id is replaced.

Examples:
  fieldsync create --type pickup --customer "Asha" --address "12 MG Road"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tt, err := backend.ParseTaskType(taskType)
			if err != nil {
				return utils.ErrInvalidValue("task type", taskType, []string{"pickup", "drop"})
			}
			lat, lng := locationFlags(cmd)

			return e.withApp(app.Options{}, func(a *app.App) error {
				task, err := operations.CreateTask(cmd.Context(), a.Store(), a.Sink(), a.Config().RiderID, operations.NewTask{
					Type:            tt,
					CustomerName:    customer,
					CustomerPhone:   phone,
					CustomerAddress: address,
					Latitude:        lat,
					Longitude:       lng,
				}, time.Now())
				if err != nil {
					return err
				}
				if e.structured() {
					return e.write(cmd.OutOrStdout(), task)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created task %s (pending sync)\n", task.ID)
				e.afterLocalChange(a)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&taskType, "type", "", "Task type: pickup or drop (required)")
	cmd.Flags().StringVar(&customer, "customer", "", "Customer name (required)")
	cmd.Flags().StringVar(&phone, "phone", "", "Customer phone")
	cmd.Flags().StringVar(&address, "address", "", "Customer address")
	addLocationFlags(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("customer")
	return cmd
}

func newActCmd(e *env) *cobra.Command {
	var notes string
	var now bool

	cmd := &cobra.Command{
		Use:   "act <task-id> <action>",
		Short: "Record an action on a task",
		Long: `Record a status change on a task. The change is applied locally at once
and queued for sync; no connectivity is needed.

Actions: reach, pick-up, deliver, fail-pickup, fail-delivery, return.
The task id may be an unambiguous prefix.

Examples:
  fieldsync act T-1042 reach --lat 12.97 --lng 77.59
  fieldsync act T-1042 deliver --notes "left with guard"
  fieldsync act T-1042 fail-delivery --now     # try to submit right away`,
		Args: cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return cli.ActionCompletion(cmd, args, toComplete)
			}
			return cli.TaskIDCompletion(func(ctx context.Context) ([]backend.Task, error) {
				var tasks []backend.Task
				err := e.withApp(app.Options{}, func(a *app.App) error {
					var err error
					tasks, err = a.Store().GetTasks(ctx, a.Config().RiderID, nil)
					return err
				})
				return tasks, err
			})(cmd, args, toComplete)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := backend.ParseActionType(args[1])
			if err != nil {
				var names []string
				for _, a := range backend.AllActionTypes() {
					names = append(names, string(a))
				}
				return utils.ErrInvalidValue("action", args[1], names)
			}
			lat, lng := locationFlags(cmd)

			return e.withApp(app.Options{}, func(a *app.App) error {
				ctx := cmd.Context()
				task, err := operations.FindTask(ctx, a.Store(), a.Config().RiderID, args[0])
				if err != nil {
					return err
				}

				outcome, err := operations.PerformAction(ctx, a.Store(), operations.ActionRequest{
					TaskID:    task.ID,
					Action:    action,
					Latitude:  lat,
					Longitude: lng,
					Notes:     notes,
				}, time.Now())
				if err != nil {
					return err
				}

				synced := false
				if now {
					synced = pushNow(ctx, a, outcome.Action)
				}

				if e.structured() {
					return e.write(cmd.OutOrStdout(), map[string]interface{}{
						"task":     outcome.Task,
						"actionId": outcome.Action.ID,
						"synced":   synced,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✓ %s: %s -> %s\n", outcome.Task.ID, action, outcome.Task.Status)
				if synced {
					fmt.Fprintln(out, "  Submitted to server")
				} else {
					fmt.Fprintln(out, "  Queued for sync")
				}
				if !synced {
					e.afterLocalChange(a)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Free-text notes")
	cmd.Flags().BoolVar(&now, "now", false, "Submit immediately when online; stays queued on failure")
	addLocationFlags(cmd)
	return cmd
}

// pushNow submits one action outside the batch path. Any failure leaves it queued.
func pushNow(ctx context.Context, a *app.App, action backend.TaskAction) bool {
	manager, err := a.SyncManager()
	if err != nil {
		utils.Debugf("Immediate submit skipped: %v", err)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := manager.PushActionNow(ctx, action); err != nil {
		utils.Warnf("Immediate submit failed, action stays queued: %v", err)
		return false
	}
	return true
}

// afterLocalChange starts a detached sync when configured and possible
func (e *env) afterLocalChange(a *app.App) {
	cfg := a.Config()
	if !cfg.Sync.SyncOnAction || cfg.API.BaseURL == "" || cfg.RiderID == "" {
		return
	}
	operations.SpawnBackgroundSync(e.configPath)
}
