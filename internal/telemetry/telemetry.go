// Package telemetry carries structured sync events and critical alerts to
// logs, metrics and an alert list.
package telemetry

import "sync"

// Fields is the free-form context attached to an event or alert
type Fields map[string]any

// Sink accepts structured events and alerts. Implementations must not block
// for long; they are called from inside a sync cycle.
type Sink interface {
	Event(name string, fields Fields)
	Alert(name string, fields Fields)
}

// Event names
const (
	EventCycleStarted     = "sync_cycle_started"
	EventCycleCompleted   = "sync_cycle_completed"
	EventBatchStarted     = "batch_started"
	EventBatchRetry       = "batch_retry"
	EventBatchCompleted   = "batch_completed"
	EventPullPage         = "pull_page_completed"
	EventLocalTaskCreated = "local_task_created"
)

// Alert names
const (
	AlertActionQuarantined   = "action_quarantined"
	AlertHighFailureRate     = "high_failure_rate"
	AlertConsecutiveFailures = "consecutive_failures"
	AlertRetriesExhausted    = "sync_retries_exhausted"
)

// Nop discards everything
type Nop struct{}

func (Nop) Event(string, Fields) {}
func (Nop) Alert(string, Fields) {}

// Multi fans out to several sinks in order
type Multi []Sink

func (m Multi) Event(name string, fields Fields) {
	for _, s := range m {
		s.Event(name, fields)
	}
}

func (m Multi) Alert(name string, fields Fields) {
	for _, s := range m {
		s.Alert(name, fields)
	}
}

// Recorder keeps every event and alert in memory. Used by tests and by
// the CLI to summarize a one-shot sync.
type Recorder struct {
	mu     sync.Mutex
	events []Record
	alerts []Record
}

// Record is one captured event or alert
type Record struct {
	Name   string
	Fields Fields
}

func (r *Recorder) Event(name string, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Record{Name: name, Fields: fields})
}

func (r *Recorder) Alert(name string, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, Record{Name: name, Fields: fields})
}

// Events returns captured events, optionally only those named name
func (r *Recorder) Events(name string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.events, name)
}

// Alerts returns captured alerts, optionally only those named name
func (r *Recorder) Alerts(name string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return filter(r.alerts, name)
}

func filter(records []Record, name string) []Record {
	var out []Record
	for _, rec := range records {
		if name == "" || rec.Name == name {
			out = append(out, rec)
		}
	}
	return out
}
