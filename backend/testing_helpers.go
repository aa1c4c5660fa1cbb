package backend

// This file contains shared test helpers and mocks used across package tests.

import (
	"context"
	"fmt"
	"sync"
)

// MockRemote implements TaskRemote in memory for testing
type MockRemote struct {
	mu sync.Mutex

	// Tasks is the server-side task listing served by FetchTasks
	Tasks []Task
	// TotalPages, when non-zero, is reported instead of the real page count
	TotalPages int
	FetchErr   error
	// FetchErrOnPage fails only the given page (when FetchErr is set)
	FetchErrOnPage int

	// SubmitFunc decides the verdict for a batch; nil accepts everything
	SubmitFunc func(call int, actions []ActionRecord) (*BatchResponse, error)

	CreateErr       error
	SubmitActionErr error

	FetchCalls    []int
	SubmitCalls   [][]ActionRecord
	Created       []Task
	SingleActions []ActionRecord
	nextServerID  int
}

// NewMockRemote creates a new mock remote with the given server-side tasks
func NewMockRemote(tasks ...Task) *MockRemote {
	return &MockRemote{Tasks: tasks, FetchErrOnPage: -1}
}

// FetchTasks serves a slice of Tasks, ignoring riderID
func (m *MockRemote) FetchTasks(ctx context.Context, riderID string, page, size int) (*TaskPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls = append(m.FetchCalls, page)
	if m.FetchErr != nil && (m.FetchErrOnPage < 0 || m.FetchErrOnPage == page) {
		return nil, m.FetchErr
	}

	start := page * size
	end := start + size
	if start > len(m.Tasks) {
		start = len(m.Tasks)
	}
	if end > len(m.Tasks) {
		end = len(m.Tasks)
	}

	totalPages := m.TotalPages
	if totalPages == 0 && size > 0 {
		totalPages = (len(m.Tasks) + size - 1) / size
	}

	data := make([]Task, end-start)
	copy(data, m.Tasks[start:end])
	return &TaskPage{
		Data:       data,
		Page:       page,
		Size:       size,
		TotalPages: totalPages,
		TotalItems: len(m.Tasks),
	}, nil
}

// SubmitActions records the batch and returns SubmitFunc's verdict
func (m *MockRemote) SubmitActions(ctx context.Context, actions []ActionRecord) (*BatchResponse, error) {
	m.mu.Lock()
	call := len(m.SubmitCalls)
	batch := make([]ActionRecord, len(actions))
	copy(batch, actions)
	m.SubmitCalls = append(m.SubmitCalls, batch)
	fn := m.SubmitFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(call, actions)
	}

	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
	}
	return &BatchResponse{SyncedIDs: ids, FailedIDs: []string{}}, nil
}

// CreateTask assigns a server id to the task
func (m *MockRemote) CreateTask(ctx context.Context, task Task) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.nextServerID++
	created := task
	created.ID = fmt.Sprintf("srv-%d", m.nextServerID)
	m.Created = append(m.Created, created)
	m.Tasks = append(m.Tasks, created)
	return &created, nil
}

// SubmitAction echoes a single action
func (m *MockRemote) SubmitAction(ctx context.Context, action ActionRecord) (*ActionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitActionErr != nil {
		return nil, m.SubmitActionErr
	}
	m.SingleActions = append(m.SingleActions, action)
	return &action, nil
}

// SubmitCallCount returns how many batch submissions were attempted
func (m *MockRemote) SubmitCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SubmitCalls)
}

// FetchedPages returns the pages requested so far
func (m *MockRemote) FetchedPages() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := make([]int, len(m.FetchCalls))
	copy(pages, m.FetchCalls)
	return pages
}
