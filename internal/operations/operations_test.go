package operations

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fieldsync/backend"
	"fieldsync/backend/sqlite"
	"fieldsync/internal/telemetry"
)

func createTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedTask(t *testing.T, store *sqlite.Store, id string, typ backend.TaskType, status backend.TaskStatus) {
	t.Helper()
	task := backend.Task{
		ID:           id,
		Type:         typ,
		Status:       status,
		RiderID:      "rider-1",
		CustomerName: "Customer " + id,
		CreatedAt:    1000,
		UpdatedAt:    1000,
		SyncStatus:   backend.SyncStatusSynced,
	}
	if err := store.InsertTask(context.Background(), task); err != nil {
		t.Fatalf("InsertTask(%s) error = %v", id, err)
	}
}

func ptr(f float64) *float64 { return &f }

func TestPerformActionRecordsPendingAction(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "t1", backend.TaskTypeDrop, backend.StatusAssigned)

	now := time.UnixMilli(5000)
	out, err := PerformAction(ctx, store, ActionRequest{
		TaskID:    "t1",
		Action:    backend.ActionReach,
		Latitude:  ptr(12.97),
		Longitude: ptr(77.59),
		Notes:     "  at the gate  ",
	}, now)
	if err != nil {
		t.Fatalf("PerformAction() error = %v", err)
	}

	if out.Task.Status != backend.StatusReached || out.Task.SyncStatus != backend.SyncStatusPending {
		t.Errorf("outcome task = %s", out.Task)
	}
	if out.Action.Timestamp != 5000 || out.Action.Notes != "at the gate" || out.Action.ID == "" {
		t.Errorf("outcome action = %+v", out.Action)
	}

	stored, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.Status != backend.StatusReached || stored.SyncStatus != backend.SyncStatusPending {
		t.Errorf("stored task = %s", stored)
	}

	actions, err := store.GetActionsForTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetActionsForTask() error = %v", err)
	}
	if len(actions) != 1 || actions[0].ID != out.Action.ID || actions[0].IsSynced {
		t.Errorf("actions = %+v", actions)
	}
}

func TestPerformActionRejectsIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "pickup", backend.TaskTypePickup, backend.StatusReached)
	seedTask(t, store, "done", backend.TaskTypeDrop, backend.StatusDelivered)

	tests := []struct {
		name   string
		taskID string
		action backend.ActionType
	}{
		{"pickup cannot be delivered", "pickup", backend.ActionDeliver},
		{"terminal drop", "done", backend.ActionReturn},
		{"reach twice", "pickup", backend.ActionReach},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PerformAction(ctx, store, ActionRequest{TaskID: tt.taskID, Action: tt.action}, time.Now())
			if !errors.Is(err, backend.ErrActionNotAllowed) {
				t.Fatalf("error = %v, want ErrActionNotAllowed", err)
			}
			actions, _ := store.GetActionsForTask(ctx, tt.taskID)
			if len(actions) != 0 {
				t.Errorf("rejected action was recorded: %+v", actions)
			}
		})
	}
}

func TestPerformActionValidation(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "t1", backend.TaskTypeDrop, backend.StatusAssigned)

	_, err := PerformAction(ctx, store, ActionRequest{TaskID: "missing", Action: backend.ActionReach}, time.Now())
	if !errors.Is(err, backend.ErrTaskNotFound) {
		t.Errorf("missing task error = %v", err)
	}

	_, err = PerformAction(ctx, store, ActionRequest{TaskID: "t1", Action: backend.ActionReach, Latitude: ptr(91), Longitude: ptr(0)}, time.Now())
	if err == nil {
		t.Error("expected error for out-of-range latitude")
	}

	_, err = PerformAction(ctx, store, ActionRequest{TaskID: "t1", Action: backend.ActionReach, Latitude: ptr(10)}, time.Now())
	if err == nil {
		t.Error("expected error for latitude without longitude")
	}

	task, _ := store.GetTask(ctx, "t1")
	if task.Status != backend.StatusAssigned {
		t.Errorf("status changed despite validation failure: %s", task.Status)
	}
}

func TestPerformActionFullDropLifecycle(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "t1", backend.TaskTypeDrop, backend.StatusAssigned)

	steps := []struct {
		action backend.ActionType
		want   backend.TaskStatus
	}{
		{backend.ActionReach, backend.StatusReached},
		{backend.ActionFailDelivery, backend.StatusFailedDelivery},
		{backend.ActionReturn, backend.StatusReturned},
	}
	for i, step := range steps {
		out, err := PerformAction(ctx, store, ActionRequest{TaskID: "t1", Action: step.action}, time.UnixMilli(int64(1000*(i+2))))
		if err != nil {
			t.Fatalf("step %d (%s) error = %v", i, step.action, err)
		}
		if out.Task.Status != step.want {
			t.Errorf("step %d status = %s, want %s", i, out.Task.Status, step.want)
		}
	}

	actions, _ := store.GetActionsForTask(ctx, "t1")
	if len(actions) != 3 {
		t.Errorf("got %d actions, want 3", len(actions))
	}
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	rec := &telemetry.Recorder{}

	task, err := CreateTask(ctx, store, rec, "rider-1", NewTask{
		Type:         backend.TaskTypePickup,
		CustomerName: " Asha ",
	}, time.UnixMilli(7000))
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	if !strings.HasPrefix(task.ID, backend.LocalIDPrefix) || !task.IsLocal() {
		t.Errorf("id = %q, want local- prefix", task.ID)
	}
	if task.Status != backend.StatusAssigned || task.SyncStatus != backend.SyncStatusPending {
		t.Errorf("task = %s", task)
	}
	if task.CustomerName != "Asha" || task.CreatedAt != 7000 {
		t.Errorf("task fields = %+v", task)
	}

	locals, err := store.GetLocalTasks(ctx)
	if err != nil || len(locals) != 1 || locals[0].ID != task.ID {
		t.Errorf("GetLocalTasks() = %v, %v", locals, err)
	}
	if got := rec.Events(telemetry.EventLocalTaskCreated); len(got) != 1 || got[0].Fields["task_id"] != task.ID {
		t.Errorf("events = %+v", got)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	tests := []struct {
		name    string
		riderID string
		nt      NewTask
	}{
		{"no rider", "", NewTask{Type: backend.TaskTypeDrop, CustomerName: "A"}},
		{"no customer", "rider-1", NewTask{Type: backend.TaskTypeDrop}},
		{"bad type", "rider-1", NewTask{Type: "PARCEL", CustomerName: "A"}},
		{"bad coordinates", "rider-1", NewTask{Type: backend.TaskTypeDrop, CustomerName: "A", Latitude: ptr(0), Longitude: ptr(200)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateTask(ctx, store, nil, tt.riderID, tt.nt, time.Now()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestListTasksAndFilter(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "a1", backend.TaskTypePickup, backend.StatusAssigned)
	seedTask(t, store, "a2", backend.TaskTypeDrop, backend.StatusPickedUp)
	seedTask(t, store, "b1", backend.TaskTypeDrop, backend.StatusFailedDelivery)

	filter, err := BuildFilter([]string{"assigned, failed-delivery"}, []string{"drop"}, "")
	if err != nil {
		t.Fatalf("BuildFilter() error = %v", err)
	}
	tasks, err := ListTasks(ctx, store, "rider-1", filter)
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "b1" {
		t.Errorf("tasks = %v", tasks)
	}

	all, _ := ListTasks(ctx, store, "rider-1", nil)
	if len(all) != 3 {
		t.Errorf("unfiltered got %d tasks, want 3", len(all))
	}

	if _, err := ListTasks(ctx, store, "", nil); err == nil {
		t.Error("expected error without rider id")
	}
}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []string
		types     []string
		wantErr   bool
		wantCount int
	}{
		{"empty", nil, nil, false, 0},
		{"comma separated", []string{"reached,delivered"}, nil, false, 2},
		{"repeated flags", []string{"reached", " Picked_Up "}, nil, false, 2},
		{"invalid status", []string{"done"}, nil, true, 0},
		{"invalid type", nil, []string{"parcel"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := BuildFilter(tt.statuses, tt.types, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(f.Statuses) != tt.wantCount {
				t.Errorf("statuses = %v, want %d", f.Statuses, tt.wantCount)
			}
		})
	}
}

func TestFindTask(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)
	seedTask(t, store, "task-100", backend.TaskTypeDrop, backend.StatusAssigned)
	seedTask(t, store, "task-101", backend.TaskTypeDrop, backend.StatusAssigned)
	seedTask(t, store, "other-9", backend.TaskTypeDrop, backend.StatusAssigned)

	if task, err := FindTask(ctx, store, "rider-1", "task-101"); err != nil || task.ID != "task-101" {
		t.Errorf("exact id = %v, %v", task, err)
	}
	if task, err := FindTask(ctx, store, "rider-1", "oth"); err != nil || task.ID != "other-9" {
		t.Errorf("unique prefix = %v, %v", task, err)
	}
	if _, err := FindTask(ctx, store, "rider-1", "task-10"); err == nil || !strings.Contains(err.Error(), "2 tasks match") {
		t.Errorf("ambiguous prefix error = %v", err)
	}
	if _, err := FindTask(ctx, store, "rider-1", "zzz"); !errors.Is(err, backend.ErrTaskNotFound) {
		t.Errorf("missing error = %v", err)
	}
}

func TestBackgroundArgs(t *testing.T) {
	if got := backgroundArgs(""); len(got) != 1 || got[0] != BackgroundSyncCommand {
		t.Errorf("backgroundArgs(\"\") = %v", got)
	}
	got := backgroundArgs("/tmp/cfg.yaml")
	if len(got) != 3 || got[1] != "--config" || got[2] != "/tmp/cfg.yaml" {
		t.Errorf("backgroundArgs(path) = %v", got)
	}
}
