package sync

import (
	"context"
	"fmt"

	"fieldsync/backend"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/utils"
)

// PullResult aggregates per-page counts of one pull
type PullResult struct {
	Pages          int
	Fetched        int
	SkippedPending int
	Upserted       int
}

// FetchTasksFromServer pages through the rider's tasks and stores them,
// leaving tasks with unconfirmed local changes untouched.
func (sm *SyncManager) FetchTasksFromServer(ctx context.Context) (*PullResult, error) {
	// Taken once per pull. A task that turns pending mid-pull is missing from
	// this set; UpsertTasks itself refuses to overwrite non-SYNCED rows.
	pending, err := sm.store.PendingTaskIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending tasks: %w", err)
	}

	result := &PullResult{}
	size := sm.opts.PageSize

	for page := 0; ; page++ {
		resp, err := sm.remote.FetchTasks(ctx, sm.opts.RiderID, page, size)
		if err != nil {
			return result, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}

		survivors := make([]backend.Task, 0, len(resp.Data))
		skipped := 0
		for _, task := range resp.Data {
			if _, ok := pending[task.ID]; ok {
				skipped++
				continue
			}
			task.SyncStatus = backend.SyncStatusSynced
			if task.RiderID == "" {
				task.RiderID = sm.opts.RiderID
			}
			survivors = append(survivors, task)
		}

		if err := sm.store.UpsertTasks(ctx, survivors); err != nil {
			return result, fmt.Errorf("failed to store page %d: %w", page, err)
		}

		result.Pages++
		result.Fetched += len(resp.Data)
		result.SkippedPending += skipped
		result.Upserted += len(survivors)

		sm.sink.Event(telemetry.EventPullPage, telemetry.Fields{
			"page":     page,
			"fetched":  len(resp.Data),
			"skipped":  skipped,
			"upserted": len(survivors),
		})

		// totalPages can be stale mid-pagination; a short page is the end
		if len(resp.Data) < size {
			break
		}
	}

	utils.Debugf("Pulled %d tasks over %d pages (%d skipped as pending)", result.Fetched, result.Pages, result.SkippedPending)
	return result, nil
}
