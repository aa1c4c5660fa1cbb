// Package sync reconciles locally recorded task actions with the task server:
// actions are pushed in batches, then authoritative task state is pulled.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"fieldsync/backend"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/utils"
)

// ErrSyncInProgress is returned when a cycle is requested while another runs
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrTaskNotOnServer is returned when an action targets a task that still has
// its local- id
var ErrTaskNotOnServer = errors.New("task not yet created on server")

// Options holds engine settings. Every value must be supplied by the caller.
type Options struct {
	RiderID             string
	BatchSize           int
	MaxRetriesPerBatch  int
	InitialBackoff      time.Duration
	BackoffMultiplier   float64
	MaxBackoff          time.Duration
	MaxRetriesPerAction int
	PageSize            int
}

// Validate checks that options are usable
func (o Options) Validate() error {
	switch {
	case o.RiderID == "":
		return fmt.Errorf("rider id is required")
	case o.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	case o.MaxRetriesPerBatch <= 0:
		return fmt.Errorf("max retries per batch must be positive, got %d", o.MaxRetriesPerBatch)
	case o.MaxRetriesPerAction <= 0:
		return fmt.Errorf("max retries per action must be positive, got %d", o.MaxRetriesPerAction)
	case o.PageSize <= 0:
		return fmt.Errorf("page size must be positive, got %d", o.PageSize)
	case o.BackoffMultiplier < 1:
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", o.BackoffMultiplier)
	case o.InitialBackoff < 0 || o.MaxBackoff < o.InitialBackoff:
		return fmt.Errorf("invalid backoff range %s..%s", o.InitialBackoff, o.MaxBackoff)
	}
	return nil
}

// Policy returns the per-batch backoff policy
func (o Options) Policy() BackoffPolicy {
	return BackoffPolicy{Initial: o.InitialBackoff, Multiplier: o.BackoffMultiplier, Max: o.MaxBackoff}
}

// SyncManager coordinates synchronization between the local store and the task server
type SyncManager struct {
	store  backend.TaskStore
	remote backend.TaskRemote
	opts   Options
	policy BackoffPolicy
	sink   telemetry.Sink
	health *HealthMonitor

	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	inFlight atomic.Bool
}

// NewSyncManager creates a new sync manager. sink and health may be nil.
func NewSyncManager(store backend.TaskStore, remote backend.TaskRemote, opts Options, sink telemetry.Sink, health *HealthMonitor) (*SyncManager, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync options: %w", err)
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &SyncManager{
		store:  store,
		remote: remote,
		opts:   opts,
		policy: opts.Policy(),
		sink:   sink,
		health: health,
		sleep:  sleepContext,
		now:    time.Now,
	}, nil
}

// Health returns the monitor fed by this manager, if any
func (sm *SyncManager) Health() *HealthMonitor {
	return sm.health
}

// Options returns the engine settings
func (sm *SyncManager) Options() Options {
	return sm.opts
}

// CycleResult describes one full push-then-pull run
type CycleResult struct {
	Push       SyncResult
	Pull       *PullResult
	PullErr    error
	LocalTasks int
	Duration   time.Duration
}

// RunCycle pushes pending work then pulls server state. Only one cycle runs
// at a time; a concurrent call returns ErrSyncInProgress.
//
// The returned SyncResult is the push outcome, degraded when the pull fails:
// Failure if nothing was pushed, PartialSuccess otherwise.
func (sm *SyncManager) RunCycle(ctx context.Context) (SyncResult, error) {
	cycle, err := sm.RunCycleDetailed(ctx)
	if err != nil {
		return nil, err
	}
	return cycle.Result(), nil
}

// RunCycleDetailed is RunCycle returning the per-phase breakdown
func (sm *SyncManager) RunCycleDetailed(ctx context.Context) (*CycleResult, error) {
	if !sm.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer sm.inFlight.Store(false)

	start := sm.now()
	sm.sink.Event(telemetry.EventCycleStarted, telemetry.Fields{"rider_id": sm.opts.RiderID})

	cycle := &CycleResult{}

	created, err := sm.PushLocalTasks(ctx)
	if err != nil {
		utils.Warnf("Failed to push local tasks: %v", err)
	}
	cycle.LocalTasks = created

	cycle.Push = sm.SyncActions(ctx)
	cycle.Pull, cycle.PullErr = sm.FetchTasksFromServer(ctx)
	cycle.Duration = sm.now().Sub(start)

	fields := telemetry.Fields{
		"result":      cycle.Result().String(),
		"synced":      cycle.Push.Synced(),
		"failed":      cycle.Push.Failed(),
		"duration_ms": cycle.Duration.Milliseconds(),
	}
	if cycle.Pull != nil {
		fields["pulled"] = cycle.Pull.Upserted
		fields["skipped_pending"] = cycle.Pull.SkippedPending
	}
	if cycle.PullErr != nil {
		fields["pull_error"] = cycle.PullErr.Error()
	}
	sm.sink.Event(telemetry.EventCycleCompleted, fields)

	return cycle, nil
}

// Result folds a pull error into the push result
func (c *CycleResult) Result() SyncResult {
	if c.PullErr == nil {
		return c.Push
	}

	pullMsg := "pull failed: " + c.PullErr.Error()
	switch r := c.Push.(type) {
	case Success:
		if r.SyncedCount == 0 {
			return Failure{Err: fmt.Errorf("pull failed: %w", c.PullErr)}
		}
		return PartialSuccess{SyncedCount: r.SyncedCount, Errors: []string{pullMsg}}
	case PartialSuccess:
		errs := append(append([]string{}, r.Errors...), pullMsg)
		return PartialSuccess{SyncedCount: r.SyncedCount, FailedCount: r.FailedCount, Errors: errs}
	default:
		return c.Push
	}
}

// SyncActions pushes unsynced actions in timestamp order, batch by batch,
// until none remain or a batch fails entirely.
func (sm *SyncManager) SyncActions(ctx context.Context) SyncResult {
	var total batchResult
	var abortErr error

	for batchNum := 1; ; batchNum++ {
		if err := ctx.Err(); err != nil {
			abortErr = err
			break
		}

		actions, err := sm.store.GetUnsyncedActions(ctx, sm.opts.MaxRetriesPerAction, sm.opts.BatchSize)
		if err != nil {
			abortErr = fmt.Errorf("failed to load unsynced actions: %w", err)
			break
		}
		if len(actions) == 0 {
			break
		}

		res := sm.syncBatchWithRetry(ctx, batchNum, actions)
		total.add(res)

		if res.synced == 0 && res.failed > 0 {
			utils.Warnf("Batch %d failed entirely, stopping push", batchNum)
			break
		}
		if res.synced == 0 && res.failed == 0 {
			// Refetching would return the same batch
			utils.Warnf("Batch %d made no progress, stopping push", batchNum)
			break
		}
	}

	result := toResult(total, abortErr)
	if sm.health != nil {
		sm.health.Record(result)
	}
	return result
}

// syncBatchWithRetry submits one batch, retrying with backoff on batch-level failure
func (sm *SyncManager) syncBatchWithRetry(ctx context.Context, batchNum int, actions []backend.TaskAction) batchResult {
	sm.sink.Event(telemetry.EventBatchStarted, telemetry.Fields{"batch": batchNum, "size": len(actions)})

	backoff := sm.policy.Initial
	attempt := 0
	for {
		res, err := sm.executeBatchSync(ctx, actions)
		if err == nil {
			sm.sink.Event(telemetry.EventBatchCompleted, telemetry.Fields{
				"batch":    batchNum,
				"attempts": attempt + 1,
				"synced":   res.synced,
				"failed":   res.failed,
			})
			return res
		}

		attempt++
		if attempt >= sm.opts.MaxRetriesPerBatch {
			cause := fmt.Errorf("batch failed after %d attempts: %w", attempt, err)
			msg := cause.Error()
			for _, action := range actions {
				sm.recordActionFailure(ctx, action, msg)
			}
			sm.sink.Event(telemetry.EventBatchCompleted, telemetry.Fields{
				"batch":    batchNum,
				"attempts": attempt,
				"synced":   0,
				"failed":   len(actions),
				"error":    msg,
			})
			return batchResult{failed: len(actions), errors: []string{msg}, cause: cause}
		}

		sm.sink.Event(telemetry.EventBatchRetry, telemetry.Fields{
			"batch":      batchNum,
			"attempt":    attempt,
			"backoff_ms": backoff.Milliseconds(),
			"error":      err.Error(),
		})
		utils.Debugf("Batch %d attempt %d failed, retrying in %s: %v", batchNum, attempt, backoff, err)

		if serr := sm.sleep(ctx, backoff); serr != nil {
			// Cancelled while waiting; the actions are not at fault
			cause := fmt.Errorf("batch cancelled: %w", serr)
			return batchResult{failed: len(actions), errors: []string{cause.Error()}, cause: cause}
		}
		backoff = sm.policy.Next(backoff)
	}
}

// executeBatchSync performs one submission round trip and applies the verdict.
// Transport errors and empty responses are returned for the retry loop.
func (sm *SyncManager) executeBatchSync(ctx context.Context, actions []backend.TaskAction) (batchResult, error) {
	records := make([]backend.ActionRecord, len(actions))
	byID := make(map[string]backend.TaskAction, len(actions))
	for i, a := range actions {
		records[i] = a.Record()
		byID[a.ID] = a
	}

	resp, err := sm.remote.SubmitActions(ctx, records)
	if err != nil {
		return batchResult{}, err
	}
	if resp == nil {
		return batchResult{}, backend.ErrEmptyResponse
	}

	res := batchResult{}
	touched := make(map[string]struct{})

	for _, id := range resolveSyncedIDs(resp, records) {
		a, ok := byID[id]
		if !ok {
			utils.Debugf("Ignoring synced id %s that was not in the batch", id)
			continue
		}
		if err := sm.store.MarkActionSynced(ctx, id); err != nil {
			return res, fmt.Errorf("failed to mark action %s synced: %w", id, err)
		}
		res.synced++
		touched[a.TaskID] = struct{}{}
	}

	for taskID := range touched {
		if err := sm.store.RefreshTaskSyncStatus(ctx, taskID); err != nil {
			utils.Warnf("Failed to refresh sync status of task %s: %v", taskID, err)
		}
	}

	for i, id := range resp.FailedIDs {
		msg := "unknown error"
		if i < len(resp.Errors) && resp.Errors[i] != "" {
			msg = resp.Errors[i]
		}
		action, ok := byID[id]
		if !ok {
			utils.Debugf("Ignoring failed id %s that was not in the batch", id)
			continue
		}
		sm.recordActionFailure(ctx, action, msg)
		res.failed++
		res.errors = append(res.errors, msg)
	}

	return res, nil
}

// resolveSyncedIDs returns the ids the server accepted. A response without
// syncedIds is taken to mean every submitted action not listed in failedIds
// was accepted.
func resolveSyncedIDs(resp *backend.BatchResponse, submitted []backend.ActionRecord) []string {
	if resp.SyncedIDs != nil {
		return resp.SyncedIDs
	}

	failed := make(map[string]struct{}, len(resp.FailedIDs))
	for _, id := range resp.FailedIDs {
		failed[id] = struct{}{}
	}
	ids := make([]string, 0, len(submitted))
	for _, r := range submitted {
		if _, ok := failed[r.ID]; !ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// recordActionFailure bumps the action's retry count and alerts when that
// exhausts its budget
func (sm *SyncManager) recordActionFailure(ctx context.Context, action backend.TaskAction, msg string) {
	if err := sm.store.UpdateActionRetry(ctx, action.ID, msg); err != nil {
		utils.Warnf("Failed to update retry info for action %s: %v", action.ID, err)
		return
	}
	if action.TaskID != "" {
		if err := sm.store.RefreshTaskSyncStatus(ctx, action.TaskID); err != nil {
			utils.Warnf("Failed to refresh sync status of task %s: %v", action.TaskID, err)
		}
	}

	if action.RetryCount+1 == sm.opts.MaxRetriesPerAction {
		sm.sink.Alert(telemetry.AlertActionQuarantined, telemetry.Fields{
			"action_id":   action.ID,
			"task_id":     action.TaskID,
			"action_type": string(action.ActionType),
			"retry_count": action.RetryCount + 1,
			"last_error":  msg,
		})
	}
}

// PushLocalTasks creates locally minted tasks on the server and moves them,
// with their actions, to the server-assigned id. Creation failures are
// logged and the task is retried next cycle.
func (sm *SyncManager) PushLocalTasks(ctx context.Context) (int, error) {
	tasks, err := sm.store.GetLocalTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list local tasks: %w", err)
	}

	created := 0
	for _, task := range tasks {
		remoteTask, err := sm.remote.CreateTask(ctx, task)
		if err != nil {
			utils.Warnf("Failed to create task %s on server: %v", task.ID, err)
			continue
		}

		if err := sm.updateLocalTaskID(ctx, task.ID, remoteTask.ID); err != nil {
			utils.Warnf("Failed to replace local id %s: %v", task.ID, err)
			continue
		}

		created++
		sm.sink.Event(telemetry.EventLocalTaskCreated, telemetry.Fields{
			"local_id":  task.ID,
			"server_id": remoteTask.ID,
		})
	}
	return created, nil
}

// updateLocalTaskID moves a local task to its server id
func (sm *SyncManager) updateLocalTaskID(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	return sm.store.ReplaceTaskID(ctx, oldID, newID)
}

// PushActionNow submits a single action outside the batch path. On success
// the action is marked synced; on failure it stays queued untouched.
func (sm *SyncManager) PushActionNow(ctx context.Context, action backend.TaskAction) error {
	if strings.HasPrefix(action.TaskID, backend.LocalIDPrefix) {
		return ErrTaskNotOnServer
	}
	if _, err := sm.remote.SubmitAction(ctx, action.Record()); err != nil {
		return err
	}
	if err := sm.store.MarkActionSynced(ctx, action.ID); err != nil {
		return err
	}
	return sm.store.RefreshTaskSyncStatus(ctx, action.TaskID)
}
