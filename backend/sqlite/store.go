package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fieldsync/backend"
)

// SQLiteError represents errors specific to SQLite store operations
type SQLiteError struct {
	Op     string // Operation that failed
	Err    error  // Underlying error
	TaskID string // Optional: task id if relevant
}

func (e *SQLiteError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("sqlite %s failed for task %s: %v", e.Op, e.TaskID, e.Err)
	}
	return fmt.Sprintf("sqlite %s failed: %v", e.Op, e.Err)
}

func (e *SQLiteError) Unwrap() error {
	return e.Err
}

// Store implements backend.TaskStore on a local SQLite database
type Store struct {
	db *Database

	mu          sync.Mutex
	subscribers map[int]chan backend.ChangeEvent
	nextSubID   int
}

var _ backend.TaskStore = (*Store)(nil)

// Open opens (creating if needed) the store at dbPath
func Open(dbPath string) (*Store, error) {
	db, err := InitDatabase(dbPath)
	if err != nil {
		return nil, &SQLiteError{Op: "init", Err: err}
	}
	return &Store{
		db:          db,
		subscribers: make(map[int]chan backend.ChangeEvent),
	}, nil
}

// DB returns the underlying database
func (s *Store) DB() *Database {
	return s.db
}

// Close closes the database connection and all subscriptions
func (s *Store) Close() error {
	s.mu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Subscribe returns a channel of committed changes and a cancel function.
// Slow subscribers miss events rather than block writers.
func (s *Store) Subscribe() (<-chan backend.ChangeEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan backend.ChangeEvent, 16)
	s.subscribers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			close(c)
			delete(s.subscribers, id)
		}
	}
	return ch, cancel
}

func (s *Store) notify(event backend.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

const taskColumns = `id, type, status, rider_id, customer_name, customer_phone, customer_address,
	latitude, longitude, created_at, updated_at, sync_status`

const actionColumns = `id, task_id, action_type, timestamp, latitude, longitude, notes,
	is_synced, retry_count, last_error`

// GetTask retrieves one task by id
func (s *Store) GetTask(ctx context.Context, id string) (*backend.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, &SQLiteError{Op: "GetTask", TaskID: id, Err: err}
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetTask", TaskID: id, Err: err}
	}
	if len(tasks) == 0 {
		return nil, &SQLiteError{Op: "GetTask", TaskID: id, Err: backend.ErrTaskNotFound}
	}
	return &tasks[0], nil
}

// GetTasks retrieves a rider's tasks matching the filter
func (s *Store) GetTasks(ctx context.Context, riderID string, filter *backend.TaskFilter) ([]backend.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE rider_id = ?"
	args := []interface{}{riderID}
	query, args = applyFilters(query, args, filter)
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &SQLiteError{Op: "GetTasks", Err: err}
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetTasks", Err: err}
	}
	return tasks, nil
}

// applyFilters appends WHERE clauses for the filter
func applyFilters(query string, args []interface{}, filter *backend.TaskFilter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query += " AND (LOWER(id) LIKE ? OR LOWER(customer_name) LIKE ? OR LOWER(COALESCE(customer_address, '')) LIKE ?)"
		args = append(args, like, like, like)
	}

	return query, args
}

// GetLocalTasks returns tasks minted locally that the server has not assigned ids to yet
func (s *Store) GetLocalTasks(ctx context.Context) ([]backend.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id LIKE ? ORDER BY created_at ASC",
		backend.LocalIDPrefix+"%")
	if err != nil {
		return nil, &SQLiteError{Op: "GetLocalTasks", Err: err}
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetLocalTasks", Err: err}
	}
	return tasks, nil
}

// InsertTask adds a new task
func (s *Store) InsertTask(ctx context.Context, task backend.Task) error {
	if task.SyncStatus == "" {
		task.SyncStatus = backend.SyncStatusSynced
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, taskArgs(task)...)
	if err != nil {
		return &SQLiteError{Op: "InsertTask", TaskID: task.ID, Err: err}
	}

	s.notify(backend.ChangeEvent{Kind: "task", IDs: []string{task.ID}, Created: true})
	return nil
}

// UpdateTask overwrites all fields of an existing task
func (s *Store) UpdateTask(ctx context.Context, task backend.Task) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET type = ?, status = ?, rider_id = ?, customer_name = ?, customer_phone = ?,
		    customer_address = ?, latitude = ?, longitude = ?, created_at = ?, updated_at = ?,
		    sync_status = ?
		WHERE id = ?
	`, append(taskArgs(task)[1:], task.ID)...)
	if err != nil {
		return &SQLiteError{Op: "UpdateTask", TaskID: task.ID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &SQLiteError{Op: "UpdateTask", TaskID: task.ID, Err: backend.ErrTaskNotFound}
	}

	s.notify(backend.ChangeEvent{Kind: "task", IDs: []string{task.ID}})
	return nil
}

// UpsertTasks inserts or replaces tasks in a single transaction. Existing rows
// that are not SYNCED keep their local state; the check runs inside the write
// so a change recorded after the caller's pending snapshot still wins.
func (s *Store) UpsertTasks(ctx context.Context, tasks []backend.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "UpsertTasks", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			rider_id = excluded.rider_id,
			customer_name = excluded.customer_name,
			customer_phone = excluded.customer_phone,
			customer_address = excluded.customer_address,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_status = excluded.sync_status
		WHERE tasks.sync_status = 'SYNCED'
	`)
	if err != nil {
		return &SQLiteError{Op: "UpsertTasks", Err: err}
	}
	defer stmt.Close()

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.SyncStatus == "" {
			task.SyncStatus = backend.SyncStatusSynced
		}
		if _, err := stmt.ExecContext(ctx, taskArgs(task)...); err != nil {
			return &SQLiteError{Op: "UpsertTasks", TaskID: task.ID, Err: err}
		}
		ids = append(ids, task.ID)
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "UpsertTasks", Err: err}
	}

	s.notify(backend.ChangeEvent{Kind: "task", IDs: ids})
	return nil
}

// ReplaceTaskID renames a locally minted task to its server-assigned id.
// Actions follow the task so their sync can proceed under the new id.
func (s *Store) ReplaceTaskID(ctx context.Context, oldID, newID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: oldID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "UPDATE tasks SET id = ? WHERE id = ?", newID, oldID)
	if err != nil {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: oldID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: oldID, Err: backend.ErrTaskNotFound}
	}

	// No-op when the foreign key cascade already moved them
	if _, err := tx.ExecContext(ctx, "UPDATE task_actions SET task_id = ? WHERE task_id = ?", newID, oldID); err != nil {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: oldID, Err: err}
	}

	if _, err := tx.ExecContext(ctx, refreshSyncStatusSQL, newID); err != nil {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: newID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "ReplaceTaskID", TaskID: oldID, Err: err}
	}

	s.notify(backend.ChangeEvent{Kind: "task", IDs: []string{oldID, newID}})
	return nil
}

// InsertAction appends an action without touching its task
func (s *Store) InsertAction(ctx context.Context, action backend.TaskAction) error {
	if _, err := s.db.ExecContext(ctx, insertActionSQL, actionArgs(action)...); err != nil {
		return &SQLiteError{Op: "InsertAction", TaskID: action.TaskID, Err: err}
	}
	s.notify(backend.ChangeEvent{Kind: "action", IDs: []string{action.ID}, Created: true})
	return nil
}

// RecordAction stores a user action and applies its resulting status to the
// task in one transaction, marking the task PENDING.
func (s *Store) RecordAction(ctx context.Context, action backend.TaskAction, newStatus backend.TaskStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SQLiteError{Op: "RecordAction", TaskID: action.TaskID, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, updated_at = ?, sync_status = ?
		WHERE id = ?
	`, string(newStatus), action.Timestamp, string(backend.SyncStatusPending), action.TaskID)
	if err != nil {
		return &SQLiteError{Op: "RecordAction", TaskID: action.TaskID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &SQLiteError{Op: "RecordAction", TaskID: action.TaskID, Err: backend.ErrTaskNotFound}
	}

	if _, err := tx.ExecContext(ctx, insertActionSQL, actionArgs(action)...); err != nil {
		return &SQLiteError{Op: "RecordAction", TaskID: action.TaskID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &SQLiteError{Op: "RecordAction", TaskID: action.TaskID, Err: err}
	}

	s.notify(backend.ChangeEvent{Kind: "action", IDs: []string{action.ID}, Created: true})
	return nil
}

// GetActionsForTask returns a task's actions, oldest first
func (s *Store) GetActionsForTask(ctx context.Context, taskID string) ([]backend.TaskAction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+actionColumns+" FROM task_actions WHERE task_id = ? ORDER BY timestamp ASC, id ASC",
		taskID)
	if err != nil {
		return nil, &SQLiteError{Op: "GetActionsForTask", TaskID: taskID, Err: err}
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetActionsForTask", TaskID: taskID, Err: err}
	}
	return actions, nil
}

// GetUnsyncedActions returns up to limit submittable actions, oldest first:
// unsynced, retry count below maxRetries, and on a task the server knows.
// Actions on local- tasks wait until ReplaceTaskID moves them.
func (s *Store) GetUnsyncedActions(ctx context.Context, maxRetries, limit int) ([]backend.TaskAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM task_actions
		WHERE is_synced = 0 AND retry_count < ? AND task_id NOT LIKE ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, maxRetries, backend.LocalIDPrefix+"%", limit)
	if err != nil {
		return nil, &SQLiteError{Op: "GetUnsyncedActions", Err: err}
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetUnsyncedActions", Err: err}
	}
	return actions, nil
}

// GetQuarantinedActions returns unsynced actions that exhausted their retry budget
func (s *Store) GetQuarantinedActions(ctx context.Context, maxRetries int) ([]backend.TaskAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM task_actions
		WHERE is_synced = 0 AND retry_count >= ?
		ORDER BY timestamp ASC, id ASC
	`, maxRetries)
	if err != nil {
		return nil, &SQLiteError{Op: "GetQuarantinedActions", Err: err}
	}
	defer rows.Close()

	actions, err := scanActions(rows)
	if err != nil {
		return nil, &SQLiteError{Op: "GetQuarantinedActions", Err: err}
	}
	return actions, nil
}

// MarkActionSynced flags an action as accepted by the server
func (s *Store) MarkActionSynced(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE task_actions SET is_synced = 1 WHERE id = ?", id); err != nil {
		return &SQLiteError{Op: "MarkActionSynced", Err: err}
	}
	s.notify(backend.ChangeEvent{Kind: "action", IDs: []string{id}})
	return nil
}

// UpdateActionRetry bumps the retry count and records the last error
func (s *Store) UpdateActionRetry(ctx context.Context, id, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_actions
		SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`, lastError, id)
	if err != nil {
		return &SQLiteError{Op: "UpdateActionRetry", Err: err}
	}
	s.notify(backend.ChangeEvent{Kind: "action", IDs: []string{id}})
	return nil
}

// ResetActionRetries clears retry bookkeeping on every unsynced action,
// releasing quarantined ones. Returns the number of actions reset.
func (s *Store) ResetActionRetries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_actions
		SET retry_count = 0, last_error = NULL
		WHERE is_synced = 0 AND (retry_count > 0 OR last_error IS NOT NULL)
	`)
	if err != nil {
		return 0, &SQLiteError{Op: "ResetActionRetries", Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify(backend.ChangeEvent{Kind: "action"})
	}
	return int(n), nil
}

// refreshSyncStatusSQL derives a task's sync_status from its unsynced actions.
// Locally minted tasks stay as they are until the server assigns an id.
const refreshSyncStatusSQL = `
	UPDATE tasks
	SET sync_status = CASE
		WHEN NOT EXISTS (
			SELECT 1 FROM task_actions a WHERE a.task_id = tasks.id AND a.is_synced = 0
		) THEN 'SYNCED'
		WHEN EXISTS (
			SELECT 1 FROM task_actions a
			WHERE a.task_id = tasks.id AND a.is_synced = 0 AND COALESCE(a.last_error, '') != ''
		) THEN 'FAILED'
		ELSE 'PENDING'
	END
	WHERE id = ? AND id NOT LIKE 'local-%'
`

// RefreshTaskSyncStatus recomputes sync_status for a task; its status field is untouched
func (s *Store) RefreshTaskSyncStatus(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, refreshSyncStatusSQL, taskID); err != nil {
		return &SQLiteError{Op: "RefreshTaskSyncStatus", TaskID: taskID, Err: err}
	}
	s.notify(backend.ChangeEvent{Kind: "task", IDs: []string{taskID}})
	return nil
}

// PendingTaskIDs returns the ids of tasks with unconfirmed local mutations
func (s *Store) PendingTaskIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM tasks WHERE sync_status != ?", string(backend.SyncStatusSynced))
	if err != nil {
		return nil, &SQLiteError{Op: "PendingTaskIDs", Err: err}
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &SQLiteError{Op: "PendingTaskIDs", Err: err}
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// PruneSyncedActions deletes synced actions recorded before olderThan
func (s *Store) PruneSyncedActions(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM task_actions WHERE is_synced = 1 AND timestamp < ?",
		olderThan.UnixMilli())
	if err != nil {
		return 0, &SQLiteError{Op: "PruneSyncedActions", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns counters about the store
func (s *Store) Stats(ctx context.Context, maxRetries int) (backend.StoreStats, error) {
	stats := backend.StoreStats{}

	queries := []struct {
		dest  *int
		query string
		args  []interface{}
	}{
		{&stats.TaskCount, "SELECT COUNT(*) FROM tasks", nil},
		{&stats.PendingTasks, "SELECT COUNT(*) FROM tasks WHERE sync_status = 'PENDING'", nil},
		{&stats.FailedTasks, "SELECT COUNT(*) FROM tasks WHERE sync_status = 'FAILED'", nil},
		{&stats.UnsyncedActions, "SELECT COUNT(*) FROM task_actions WHERE is_synced = 0 AND retry_count < ?", []interface{}{maxRetries}},
		{&stats.QuarantinedActions, "SELECT COUNT(*) FROM task_actions WHERE is_synced = 0 AND retry_count >= ?", []interface{}{maxRetries}},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return stats, &SQLiteError{Op: "Stats", Err: err}
		}
	}
	return stats, nil
}

const insertActionSQL = `
	INSERT INTO task_actions (` + actionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func taskArgs(t backend.Task) []interface{} {
	return []interface{}{
		t.ID,
		string(t.Type),
		string(t.Status),
		t.RiderID,
		t.CustomerName,
		nullString(t.CustomerPhone),
		nullString(t.CustomerAddress),
		nullFloat(t.Latitude),
		nullFloat(t.Longitude),
		t.CreatedAt,
		t.UpdatedAt,
		string(t.SyncStatus),
	}
}

func actionArgs(a backend.TaskAction) []interface{} {
	return []interface{}{
		a.ID,
		a.TaskID,
		string(a.ActionType),
		a.Timestamp,
		nullFloat(a.Latitude),
		nullFloat(a.Longitude),
		nullString(a.Notes),
		boolToInt(a.IsSynced),
		a.RetryCount,
		nullString(a.LastError),
	}
}

func scanTasks(rows *sql.Rows) ([]backend.Task, error) {
	var tasks []backend.Task
	for rows.Next() {
		var task backend.Task
		var taskType, status, syncStatus string
		var phone, address sql.NullString
		var lat, lng sql.NullFloat64

		err := rows.Scan(
			&task.ID,
			&taskType,
			&status,
			&task.RiderID,
			&task.CustomerName,
			&phone,
			&address,
			&lat,
			&lng,
			&task.CreatedAt,
			&task.UpdatedAt,
			&syncStatus,
		)
		if err != nil {
			return nil, err
		}

		task.Type = backend.TaskType(taskType)
		task.Status = backend.TaskStatus(status)
		task.SyncStatus = backend.SyncStatus(syncStatus)
		task.CustomerPhone = phone.String
		task.CustomerAddress = address.String
		task.Latitude = floatPtr(lat)
		task.Longitude = floatPtr(lng)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanActions(rows *sql.Rows) ([]backend.TaskAction, error) {
	var actions []backend.TaskAction
	for rows.Next() {
		var action backend.TaskAction
		var actionType string
		var notes, lastError sql.NullString
		var lat, lng sql.NullFloat64
		var synced int

		err := rows.Scan(
			&action.ID,
			&action.TaskID,
			&actionType,
			&action.Timestamp,
			&lat,
			&lng,
			&notes,
			&synced,
			&action.RetryCount,
			&lastError,
		)
		if err != nil {
			return nil, err
		}

		action.ActionType = backend.ActionType(actionType)
		action.Latitude = floatPtr(lat)
		action.Longitude = floatPtr(lng)
		action.Notes = notes.String
		action.IsSynced = synced == 1
		action.LastError = lastError.String
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// IsNotFound reports whether err means the task does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, backend.ErrTaskNotFound)
}

// nullString converts string to sql.NullString
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
