package sync

import (
	gosync "sync"
	"time"

	"fieldsync/internal/telemetry"
)

// HealthStatus is the derived state of the sync pipeline
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthStale    HealthStatus = "STALE"
	HealthCritical HealthStatus = "CRITICAL"
)

// Default health thresholds
const (
	DefaultFailureThreshold = 3
	DefaultStaleThreshold   = 30 * time.Minute
)

// HealthSnapshot is a point-in-time copy of the monitor's counters
type HealthSnapshot struct {
	Status              HealthStatus
	ConsecutiveFailures int
	LastSuccessfulSync  time.Time // zero if never
	TotalSyncs          int
	TotalFailures       int
}

// HealthMonitor tracks push outcomes and derives a health status on demand
type HealthMonitor struct {
	mu gosync.Mutex

	failureThreshold int
	staleThreshold   time.Duration
	sink             telemetry.Sink
	now              func() time.Time
	createdAt        time.Time

	consecutiveFailures int
	lastSuccessfulSync  time.Time
	totalSyncs          int
	totalFailures       int
}

// NewHealthMonitor creates a monitor. Non-positive thresholds use the defaults.
func NewHealthMonitor(failureThreshold int, staleThreshold time.Duration, sink telemetry.Sink) *HealthMonitor {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &HealthMonitor{
		failureThreshold: failureThreshold,
		staleThreshold:   staleThreshold,
		sink:             sink,
		now:              time.Now,
		createdAt:        time.Now(),
	}
}

// SetClock replaces the time source; the creation time is reset to the new clock
func (h *HealthMonitor) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
	h.createdAt = now()
}

// Record dispatches a push result to the matching transition
func (h *HealthMonitor) Record(result SyncResult) {
	switch r := result.(type) {
	case Success:
		h.OnSuccess(r.SyncedCount)
	case PartialSuccess:
		h.OnPartialSuccess(r.SyncedCount, r.FailedCount)
	case Failure:
		h.OnFailure(r.Err)
	}
}

// OnSuccess resets the failure streak
func (h *HealthMonitor) OnSuccess(synced int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastSuccessfulSync = h.now()
	h.totalSyncs++
}

// OnPartialSuccess counts as forward progress but tallies the failures
func (h *HealthMonitor) OnPartialSuccess(synced, failed int) {
	h.mu.Lock()
	h.lastSuccessfulSync = h.now()
	h.totalSyncs++
	h.totalFailures += failed
	h.mu.Unlock()

	if failed > synced {
		h.sink.Alert(telemetry.AlertHighFailureRate, telemetry.Fields{
			"synced": synced,
			"failed": failed,
		})
	}
}

// OnFailure extends the failure streak and alerts once it reaches the threshold
func (h *HealthMonitor) OnFailure(err error) {
	h.mu.Lock()
	h.consecutiveFailures++
	h.totalFailures++
	h.totalSyncs++
	streak := h.consecutiveFailures
	h.mu.Unlock()

	if streak >= h.failureThreshold {
		fields := telemetry.Fields{"consecutive_failures": streak}
		if err != nil {
			fields["error"] = err.Error()
		}
		h.sink.Alert(telemetry.AlertConsecutiveFailures, fields)
	}
}

// Status derives the current health
func (h *HealthMonitor) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *HealthMonitor) statusLocked() HealthStatus {
	if h.consecutiveFailures >= h.failureThreshold {
		return HealthCritical
	}

	since := h.lastSuccessfulSync
	if since.IsZero() {
		since = h.createdAt
	}
	if h.now().Sub(since) > h.staleThreshold {
		return HealthStale
	}

	if h.consecutiveFailures > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}

// Snapshot returns counters and derived status together
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Status:              h.statusLocked(),
		ConsecutiveFailures: h.consecutiveFailures,
		LastSuccessfulSync:  h.lastSuccessfulSync,
		TotalSyncs:          h.totalSyncs,
		TotalFailures:       h.totalFailures,
	}
}
