package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fieldsync/backend"
)

// Helper function to create a test store
func createTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testTask(id string) backend.Task {
	return backend.Task{
		ID:           id,
		Type:         backend.TaskTypePickup,
		Status:       backend.StatusAssigned,
		RiderID:      "rider-1",
		CustomerName: "Customer " + id,
		CreatedAt:    1000,
		UpdatedAt:    1000,
		SyncStatus:   backend.SyncStatusSynced,
	}
}

func testAction(id, taskID string, ts int64) backend.TaskAction {
	return backend.TaskAction{
		ID:         id,
		TaskID:     taskID,
		ActionType: backend.ActionReach,
		Timestamp:  ts,
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	store := createTestStore(t)

	version, err := store.DB().GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestOpenReopensExistingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "fieldsync.db")

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if first.DB().Path() != dbPath {
		t.Errorf("Path() = %q, want %q", first.DB().Path(), dbPath)
	}
	if err := first.InsertTask(context.Background(), testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	first.Close()

	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()

	if _, err := second.GetTask(context.Background(), "T-1"); err != nil {
		t.Errorf("GetTask() after reopen error = %v", err)
	}
	version, err := second.DB().GetSchemaVersion()
	if err != nil || version != SchemaVersion {
		t.Errorf("GetSchemaVersion() = %d, %v; want %d", version, err, SchemaVersion)
	}
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := store.DB().Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", SchemaVersion+1, 0,
	); err != nil {
		t.Fatalf("insert version: %v", err)
	}
	store.Close()

	_, err = Open(dbPath)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("Open() error = %v, want ErrSchemaTooNew", err)
	}
}

func TestInsertAndGetTask(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	lat := 12.5
	task := testTask("T-1")
	task.Latitude = &lat
	task.CustomerPhone = "555-0100"

	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	got, err := store.GetTask(ctx, "T-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.CustomerPhone != "555-0100" {
		t.Errorf("CustomerPhone = %q", got.CustomerPhone)
	}
	if got.Latitude == nil || *got.Latitude != lat {
		t.Errorf("Latitude = %v, want %v", got.Latitude, lat)
	}
	if got.Longitude != nil {
		t.Errorf("Longitude = %v, want nil", *got.Longitude)
	}

	if _, err := store.GetTask(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetTask(missing) error = %v, want not found", err)
	}
}

func TestGetTasksFilters(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := testTask("T-1")
	b := testTask("T-2")
	b.Type = backend.TaskTypeDrop
	b.Status = backend.StatusDelivered
	b.CustomerName = "Alice Market"
	c := testTask("T-3")
	c.RiderID = "rider-2"

	if err := store.UpsertTasks(ctx, []backend.Task{a, b, c}); err != nil {
		t.Fatalf("UpsertTasks() error = %v", err)
	}

	tests := []struct {
		name   string
		filter *backend.TaskFilter
		want   int
	}{
		{"no filter", nil, 2},
		{"by status", &backend.TaskFilter{Statuses: []backend.TaskStatus{backend.StatusDelivered}}, 1},
		{"by type", &backend.TaskFilter{Types: []backend.TaskType{backend.TaskTypePickup}}, 1},
		{"by search", &backend.TaskFilter{Search: "alice"}, 1},
		{"no match", &backend.TaskFilter{Search: "nobody"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, err := store.GetTasks(ctx, "rider-1", tt.filter)
			if err != nil {
				t.Fatalf("GetTasks() error = %v", err)
			}
			if len(tasks) != tt.want {
				t.Errorf("got %d tasks, want %d", len(tasks), tt.want)
			}
		})
	}
}

func TestUpsertTasksOverwrites(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	task := testTask("T-1")
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	task.Status = backend.StatusReached
	task.CustomerName = "Renamed"
	if err := store.UpsertTasks(ctx, []backend.Task{task}); err != nil {
		t.Fatalf("UpsertTasks() error = %v", err)
	}

	got, _ := store.GetTask(ctx, "T-1")
	if got.Status != backend.StatusReached || got.CustomerName != "Renamed" {
		t.Errorf("task not overwritten: %+v", got)
	}
}

func TestUpsertTasksKeepsUnsyncedRows(t *testing.T) {
	tests := []struct {
		name   string
		status backend.SyncStatus
	}{
		{"pending", backend.SyncStatusPending},
		{"failed", backend.SyncStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := createTestStore(t)
			ctx := context.Background()

			local := testTask("T-1")
			local.Status = backend.StatusReached
			local.SyncStatus = tt.status
			if err := store.InsertTask(ctx, local); err != nil {
				t.Fatalf("InsertTask() error = %v", err)
			}

			server := testTask("T-1")
			server.CustomerName = "Server"
			fresh := testTask("T-2")
			if err := store.UpsertTasks(ctx, []backend.Task{server, fresh}); err != nil {
				t.Fatalf("UpsertTasks() error = %v", err)
			}

			got, _ := store.GetTask(ctx, "T-1")
			if got.Status != backend.StatusReached || got.SyncStatus != tt.status || got.CustomerName != "Customer T-1" {
				t.Errorf("unsynced row was overwritten: %+v", got)
			}
			if _, err := store.GetTask(ctx, "T-2"); err != nil {
				t.Errorf("new task not inserted: %v", err)
			}
		})
	}
}

func TestRecordActionMarksTaskPending(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	if err := store.RecordAction(ctx, testAction("a-1", "T-1", 2000), backend.StatusReached); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}

	got, _ := store.GetTask(ctx, "T-1")
	if got.Status != backend.StatusReached {
		t.Errorf("Status = %s, want REACHED", got.Status)
	}
	if got.SyncStatus != backend.SyncStatusPending {
		t.Errorf("SyncStatus = %s, want PENDING", got.SyncStatus)
	}
	if got.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt = %d, want 2000", got.UpdatedAt)
	}

	pending, err := store.PendingTaskIDs(ctx)
	if err != nil {
		t.Fatalf("PendingTaskIDs() error = %v", err)
	}
	if _, ok := pending["T-1"]; !ok {
		t.Error("T-1 should be pending")
	}

	err = store.RecordAction(ctx, testAction("a-2", "missing", 3000), backend.StatusReached)
	if !IsNotFound(err) {
		t.Errorf("RecordAction on missing task error = %v, want not found", err)
	}
	actions, _ := store.GetActionsForTask(ctx, "missing")
	if len(actions) != 0 {
		t.Error("failed RecordAction must not leave an action behind")
	}
}

func TestGetUnsyncedActionsOrderAndLimit(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	for _, a := range []backend.TaskAction{
		testAction("c", "T-1", 300),
		testAction("a", "T-1", 100),
		testAction("b", "T-1", 100),
		testAction("d", "T-1", 400),
	} {
		if err := store.InsertAction(ctx, a); err != nil {
			t.Fatalf("InsertAction() error = %v", err)
		}
	}

	if err := store.MarkActionSynced(ctx, "d"); err != nil {
		t.Fatalf("MarkActionSynced() error = %v", err)
	}

	actions, err := store.GetUnsyncedActions(ctx, 5, 10)
	if err != nil {
		t.Fatalf("GetUnsyncedActions() error = %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(actions) != len(want) {
		t.Fatalf("got %d actions, want %d", len(actions), len(want))
	}
	for i, id := range want {
		if actions[i].ID != id {
			t.Errorf("actions[%d] = %s, want %s", i, actions[i].ID, id)
		}
	}

	limited, _ := store.GetUnsyncedActions(ctx, 5, 2)
	if len(limited) != 2 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func TestGetUnsyncedActionsSkipsLocalTasks(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	localID := backend.LocalIDPrefix + "1"
	for _, id := range []string{"T-1", localID} {
		if err := store.InsertTask(ctx, testTask(id)); err != nil {
			t.Fatalf("InsertTask() error = %v", err)
		}
	}
	if err := store.InsertAction(ctx, testAction("a", localID, 100)); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}
	if err := store.InsertAction(ctx, testAction("b", "T-1", 200)); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}

	actions, err := store.GetUnsyncedActions(ctx, 5, 10)
	if err != nil {
		t.Fatalf("GetUnsyncedActions() error = %v", err)
	}
	if len(actions) != 1 || actions[0].ID != "b" {
		t.Fatalf("got %+v, want only b", actions)
	}

	if err := store.ReplaceTaskID(ctx, localID, "T-2"); err != nil {
		t.Fatalf("ReplaceTaskID() error = %v", err)
	}
	actions, _ = store.GetUnsyncedActions(ctx, 5, 10)
	if len(actions) != 2 || actions[0].ID != "a" || actions[0].TaskID != "T-2" {
		t.Errorf("after rename got %+v, want a under T-2 first", actions)
	}
}

func TestRetryBookkeepingAndQuarantine(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	if err := store.InsertAction(ctx, testAction("a-1", "T-1", 100)); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.UpdateActionRetry(ctx, "a-1", "boom"); err != nil {
			t.Fatalf("UpdateActionRetry() error = %v", err)
		}
	}

	actions, _ := store.GetActionsForTask(ctx, "T-1")
	if actions[0].RetryCount != 2 || actions[0].LastError != "boom" {
		t.Errorf("retry bookkeeping = %d/%q", actions[0].RetryCount, actions[0].LastError)
	}

	if unsynced, _ := store.GetUnsyncedActions(ctx, 2, 10); len(unsynced) != 0 {
		t.Error("action at max retries must be excluded")
	}
	quarantined, _ := store.GetQuarantinedActions(ctx, 2)
	if len(quarantined) != 1 {
		t.Fatalf("got %d quarantined, want 1", len(quarantined))
	}

	stats, err := store.Stats(ctx, 2)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.QuarantinedActions != 1 || stats.UnsyncedActions != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	n, err := store.ResetActionRetries(ctx)
	if err != nil {
		t.Fatalf("ResetActionRetries() error = %v", err)
	}
	if n != 1 {
		t.Errorf("reset %d actions, want 1", n)
	}
	if unsynced, _ := store.GetUnsyncedActions(ctx, 2, 10); len(unsynced) != 1 {
		t.Error("reset action should be eligible again")
	}
}

func TestRefreshTaskSyncStatus(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	if err := store.RecordAction(ctx, testAction("a-1", "T-1", 100), backend.StatusReached); err != nil {
		t.Fatalf("RecordAction() error = %v", err)
	}

	check := func(want backend.SyncStatus) {
		t.Helper()
		if err := store.RefreshTaskSyncStatus(ctx, "T-1"); err != nil {
			t.Fatalf("RefreshTaskSyncStatus() error = %v", err)
		}
		got, _ := store.GetTask(ctx, "T-1")
		if got.SyncStatus != want {
			t.Errorf("SyncStatus = %s, want %s", got.SyncStatus, want)
		}
		if got.Status != backend.StatusReached {
			t.Errorf("refresh must not touch status, got %s", got.Status)
		}
	}

	check(backend.SyncStatusPending)

	if err := store.UpdateActionRetry(ctx, "a-1", "server rejected"); err != nil {
		t.Fatalf("UpdateActionRetry() error = %v", err)
	}
	check(backend.SyncStatusFailed)

	if err := store.MarkActionSynced(ctx, "a-1"); err != nil {
		t.Fatalf("MarkActionSynced() error = %v", err)
	}
	check(backend.SyncStatusSynced)
}

func TestReplaceTaskIDMovesActions(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	local := testTask(backend.LocalIDPrefix + "abc")
	local.SyncStatus = backend.SyncStatusPending
	if err := store.InsertTask(ctx, local); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	if err := store.InsertAction(ctx, testAction("a-1", local.ID, 100)); err != nil {
		t.Fatalf("InsertAction() error = %v", err)
	}

	locals, _ := store.GetLocalTasks(ctx)
	if len(locals) != 1 {
		t.Fatalf("got %d local tasks, want 1", len(locals))
	}

	if err := store.ReplaceTaskID(ctx, local.ID, "srv-1"); err != nil {
		t.Fatalf("ReplaceTaskID() error = %v", err)
	}

	if _, err := store.GetTask(ctx, local.ID); !IsNotFound(err) {
		t.Error("old id should be gone")
	}
	got, err := store.GetTask(ctx, "srv-1")
	if err != nil {
		t.Fatalf("GetTask(srv-1) error = %v", err)
	}
	if got.SyncStatus != backend.SyncStatusPending {
		t.Errorf("SyncStatus = %s, want PENDING while an action is unsynced", got.SyncStatus)
	}

	actions, _ := store.GetActionsForTask(ctx, "srv-1")
	if len(actions) != 1 {
		t.Errorf("got %d actions under new id, want 1", len(actions))
	}
	if locals, _ := store.GetLocalTasks(ctx); len(locals) != 0 {
		t.Error("no local tasks should remain")
	}
}

func TestPruneSyncedActions(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	for _, a := range []backend.TaskAction{
		testAction("old-synced", "T-1", old),
		testAction("old-unsynced", "T-1", old),
		testAction("new-synced", "T-1", time.Now().UnixMilli()),
	} {
		if err := store.InsertAction(ctx, a); err != nil {
			t.Fatalf("InsertAction() error = %v", err)
		}
	}
	_ = store.MarkActionSynced(ctx, "old-synced")
	_ = store.MarkActionSynced(ctx, "new-synced")

	n, err := store.PruneSyncedActions(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneSyncedActions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}

	actions, _ := store.GetActionsForTask(ctx, "T-1")
	if len(actions) != 2 {
		t.Errorf("got %d remaining actions, want 2", len(actions))
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	events, cancel := store.Subscribe()

	if err := store.InsertTask(ctx, testTask("T-1")); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != "task" || !ev.Created || len(ev.IDs) != 1 || ev.IDs[0] != "T-1" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no change event delivered")
	}

	cancel()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after cancel")
	}
	// Cancel twice is harmless
	cancel()
}
