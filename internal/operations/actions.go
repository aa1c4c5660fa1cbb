package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldsync/backend"
	"fieldsync/internal/utils"

	"github.com/google/uuid"
)

// MaxNotesLength caps free-text notes attached to an action
const MaxNotesLength = 500

// ActionRequest is a rider's request to move a task forward
type ActionRequest struct {
	TaskID    string
	Action    backend.ActionType
	Latitude  *float64
	Longitude *float64
	Notes     string
}

// ActionOutcome is what PerformAction committed
type ActionOutcome struct {
	Action backend.TaskAction
	Task   backend.Task
}

// PerformAction validates the action against the task state machine and
// records it together with the new task status in one store transaction.
// The action is queued for sync; nothing here touches the network.
func PerformAction(ctx context.Context, store backend.TaskStore, req ActionRequest, now time.Time) (*ActionOutcome, error) {
	task, err := store.GetTask(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, backend.ErrTaskNotFound) {
			return nil, utils.ErrTaskNotFound(req.TaskID, err)
		}
		return nil, fmt.Errorf("failed to load task %s: %w", req.TaskID, err)
	}

	if !backend.CanPerform(task.Type, task.Status, req.Action) {
		available := backend.AvailableActions(task.Type, task.Status)
		names := make([]string, len(available))
		for i, a := range available {
			names[i] = string(a)
		}
		return nil, utils.ErrActionNotAllowed(task.ID, string(req.Action), string(task.Status), names, backend.ErrActionNotAllowed)
	}

	if err := utils.ValidateCoordinates(req.Latitude, req.Longitude); err != nil {
		return nil, err
	}

	action := backend.TaskAction{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		ActionType: req.Action,
		Timestamp:  now.UnixMilli(),
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Notes:      utils.NormalizeNotes(req.Notes, MaxNotesLength),
	}
	newStatus := backend.ResultingStatus(req.Action)

	if err := store.RecordAction(ctx, action, newStatus); err != nil {
		return nil, fmt.Errorf("failed to record %s on %s: %w", req.Action, task.ID, err)
	}
	utils.Debugf("Recorded %s on task %s (%s -> %s)", req.Action, task.ID, task.Status, newStatus)

	task.Status = newStatus
	task.UpdatedAt = action.Timestamp
	task.SyncStatus = backend.SyncStatusPending
	return &ActionOutcome{Action: action, Task: *task}, nil
}
