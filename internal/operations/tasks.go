package operations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fieldsync/backend"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/utils"

	"github.com/google/uuid"
)

// NewTask holds the fields a rider supplies when creating a task offline
type NewTask struct {
	Type            backend.TaskType
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	Latitude        *float64
	Longitude       *float64
}

// CreateTask stores a task minted on the device. It gets a local- id and
// stays PENDING until the push path has created it on the server.
func CreateTask(ctx context.Context, store backend.TaskStore, sink telemetry.Sink, riderID string, nt NewTask, now time.Time) (*backend.Task, error) {
	if riderID == "" {
		return nil, utils.ErrRiderNotConfigured()
	}
	if strings.TrimSpace(nt.CustomerName) == "" {
		return nil, fmt.Errorf("customer name is required")
	}
	if _, err := backend.ParseTaskType(string(nt.Type)); err != nil {
		return nil, utils.ErrInvalidValue("task type", string(nt.Type), taskTypeNames())
	}
	if err := utils.ValidateCoordinates(nt.Latitude, nt.Longitude); err != nil {
		return nil, err
	}

	ts := now.UnixMilli()
	task := backend.Task{
		ID:              backend.LocalIDPrefix + uuid.NewString(),
		Type:            nt.Type,
		Status:          backend.StatusAssigned,
		RiderID:         riderID,
		CustomerName:    strings.TrimSpace(nt.CustomerName),
		CustomerPhone:   strings.TrimSpace(nt.CustomerPhone),
		CustomerAddress: strings.TrimSpace(nt.CustomerAddress),
		Latitude:        nt.Latitude,
		Longitude:       nt.Longitude,
		CreatedAt:       ts,
		UpdatedAt:       ts,
		SyncStatus:      backend.SyncStatusPending,
	}

	if err := store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if sink != nil {
		sink.Event(telemetry.EventLocalTaskCreated, telemetry.Fields{
			"task_id": task.ID,
			"type":    string(task.Type),
		})
	}
	return &task, nil
}

// ListTasks returns the rider's tasks matching filter
func ListTasks(ctx context.Context, store backend.TaskStore, riderID string, filter *backend.TaskFilter) ([]backend.Task, error) {
	if riderID == "" {
		return nil, utils.ErrRiderNotConfigured()
	}
	tasks, err := store.GetTasks(ctx, riderID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// BuildFilter parses comma-separated status and type flags into a TaskFilter.
// Values are case-insensitive; "picked-up" and "PICKED_UP" are the same status.
func BuildFilter(statuses, types []string, search string) (*backend.TaskFilter, error) {
	filter := &backend.TaskFilter{Search: strings.TrimSpace(search)}

	for _, s := range splitFlagValues(statuses) {
		st, err := backend.ParseTaskStatus(s)
		if err != nil {
			return nil, utils.ErrInvalidValue("status", s, taskStatusNames())
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, s := range splitFlagValues(types) {
		tt, err := backend.ParseTaskType(s)
		if err != nil {
			return nil, utils.ErrInvalidValue("task type", s, taskTypeNames())
		}
		filter.Types = append(filter.Types, tt)
	}
	return filter, nil
}

func splitFlagValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func taskStatusNames() []string {
	var names []string
	for _, s := range backend.AllTaskStatuses() {
		names = append(names, string(s))
	}
	return names
}

func taskTypeNames() []string {
	var names []string
	for _, t := range backend.AllTaskTypes() {
		names = append(names, string(t))
	}
	return names
}
