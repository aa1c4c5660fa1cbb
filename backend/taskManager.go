package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskType identifies what kind of stop a task represents
type TaskType string

const (
	TaskTypePickup TaskType = "PICKUP"
	TaskTypeDrop   TaskType = "DROP"
)

// TaskStatus is the delivery state of a task
type TaskStatus string

const (
	StatusAssigned       TaskStatus = "ASSIGNED"
	StatusReached        TaskStatus = "REACHED"
	StatusPickedUp       TaskStatus = "PICKED_UP"
	StatusDelivered      TaskStatus = "DELIVERED"
	StatusFailedPickup   TaskStatus = "FAILED_PICKUP"
	StatusFailedDelivery TaskStatus = "FAILED_DELIVERY"
	StatusReturned       TaskStatus = "RETURNED"
)

// ActionType is a user action that moves a task between statuses
type ActionType string

const (
	ActionReach        ActionType = "REACH"
	ActionPickUp       ActionType = "PICK_UP"
	ActionDeliver      ActionType = "DELIVER"
	ActionFailPickup   ActionType = "FAIL_PICKUP"
	ActionFailDelivery ActionType = "FAIL_DELIVERY"
	ActionReturn       ActionType = "RETURN"
)

// SyncStatus tracks whether a task carries unconfirmed local mutations
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "SYNCED"
	SyncStatusPending SyncStatus = "PENDING"
	SyncStatusFailed  SyncStatus = "FAILED"
)

// LocalIDPrefix marks task ids minted on the device before the server assigned one
const LocalIDPrefix = "local-"

// Task is a single pickup or drop assigned to a rider
type Task struct {
	ID              string     `json:"id"`
	Type            TaskType   `json:"type"`
	Status          TaskStatus `json:"status"`
	RiderID         string     `json:"riderId"`
	CustomerName    string     `json:"customerName"`
	CustomerPhone   string     `json:"customerPhone,omitempty"`
	CustomerAddress string     `json:"customerAddress,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	CreatedAt       int64      `json:"createdAt"` // epoch millis
	UpdatedAt       int64      `json:"updatedAt"` // epoch millis
	SyncStatus      SyncStatus `json:"-"`
}

// IsLocal reports whether the task id was minted locally
func (t Task) IsLocal() bool {
	return strings.HasPrefix(t.ID, LocalIDPrefix)
}

// String returns a one-line summary of the task
func (t Task) String() string {
	return fmt.Sprintf("%s [%s %s] %s (%s)", t.ID, t.Type, t.Status, t.CustomerName, t.SyncStatus)
}

// TaskAction is a locally recorded status change awaiting (or done with) sync.
// TaskID, ActionType, Timestamp and Notes never change after creation.
type TaskAction struct {
	ID         string
	TaskID     string
	ActionType ActionType
	Timestamp  int64 // epoch millis
	Latitude   *float64
	Longitude  *float64
	Notes      string
	IsSynced   bool
	RetryCount int
	LastError  string
}

// ActionRecord is the transport shape of a TaskAction
type ActionRecord struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	ActionType ActionType `json:"actionType"`
	Timestamp  int64      `json:"timestamp"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Record maps the action to its transport shape
func (a TaskAction) Record() ActionRecord {
	return ActionRecord{
		ID:         a.ID,
		TaskID:     a.TaskID,
		ActionType: a.ActionType,
		Timestamp:  a.Timestamp,
		Latitude:   a.Latitude,
		Longitude:  a.Longitude,
		Notes:      a.Notes,
	}
}

// TaskFilter narrows GetTasks results. Empty fields match everything.
type TaskFilter struct {
	Statuses []TaskStatus
	Types    []TaskType
	Search   string // matched against id, customer name and address
}

// TaskPage is one page of the remote task listing
type TaskPage struct {
	Data       []Task `json:"data"`
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	TotalPages int    `json:"totalPages"`
	TotalItems int    `json:"totalItems"`
}

// BatchRequest is the body of a batch action submission
type BatchRequest struct {
	Actions []ActionRecord `json:"actions"`
}

// BatchResponse is the remote verdict on a submitted batch.
// All fields are optional; a nil SyncedIDs is distinct from an empty one.
type BatchResponse struct {
	SyncedIDs []string `json:"syncedIds"`
	FailedIDs []string `json:"failedIds"`
	Errors    []string `json:"errors"`
}

// ChangeEvent describes a committed store mutation
type ChangeEvent struct {
	Kind    string   // "task" or "action"
	IDs     []string // affected ids
	Created bool     // true when rows were inserted rather than updated
}

// StoreStats holds counters about the local store
type StoreStats struct {
	TaskCount          int
	PendingTasks       int
	FailedTasks        int
	UnsyncedActions    int
	QuarantinedActions int
}

// String returns a human-readable representation of store statistics
func (s StoreStats) String() string {
	return fmt.Sprintf(
		"Tasks: %d | Pending: %d | Failed: %d | Unsynced actions: %d | Quarantined: %d",
		s.TaskCount, s.PendingTasks, s.FailedTasks, s.UnsyncedActions, s.QuarantinedActions,
	)
}

// TaskStore is the persistent local store the sync engine reads and writes.
// Implementations provide their own transactional isolation per call.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	GetTasks(ctx context.Context, riderID string, filter *TaskFilter) ([]Task, error)
	InsertTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, task Task) error
	UpsertTasks(ctx context.Context, tasks []Task) error
	ReplaceTaskID(ctx context.Context, oldID, newID string) error
	GetLocalTasks(ctx context.Context) ([]Task, error)

	InsertAction(ctx context.Context, action TaskAction) error
	GetActionsForTask(ctx context.Context, taskID string) ([]TaskAction, error)
	RecordAction(ctx context.Context, action TaskAction, newStatus TaskStatus) error

	GetUnsyncedActions(ctx context.Context, maxRetries, limit int) ([]TaskAction, error)
	GetQuarantinedActions(ctx context.Context, maxRetries int) ([]TaskAction, error)
	MarkActionSynced(ctx context.Context, id string) error
	UpdateActionRetry(ctx context.Context, id, lastError string) error
	ResetActionRetries(ctx context.Context) (int, error)
	RefreshTaskSyncStatus(ctx context.Context, taskID string) error
	PendingTaskIDs(ctx context.Context) (map[string]struct{}, error)
	PruneSyncedActions(ctx context.Context, olderThan time.Time) (int, error)

	Subscribe() (<-chan ChangeEvent, func())
	Stats(ctx context.Context, maxRetries int) (StoreStats, error)
}

// TaskRemote is the authoritative server the engine reconciles with
type TaskRemote interface {
	FetchTasks(ctx context.Context, riderID string, page, size int) (*TaskPage, error)
	SubmitActions(ctx context.Context, actions []ActionRecord) (*BatchResponse, error)
	CreateTask(ctx context.Context, task Task) (*Task, error)
	SubmitAction(ctx context.Context, action ActionRecord) (*ActionRecord, error)
}

// NowMillis returns the current time in epoch milliseconds
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
