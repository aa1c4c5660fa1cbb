package sync

import (
	"errors"
	"testing"
	"time"

	"fieldsync/internal/telemetry"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor() (*HealthMonitor, *fakeClock, *telemetry.Recorder) {
	rec := &telemetry.Recorder{}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	h := NewHealthMonitor(3, 30*time.Minute, rec)
	h.SetClock(clock.Now)
	return h, clock, rec
}

func TestHealthTransitions(t *testing.T) {
	h, _, rec := newTestMonitor()

	if got := h.Status(); got != HealthHealthy {
		t.Errorf("fresh monitor status = %s, want HEALTHY", got)
	}

	h.OnFailure(errors.New("offline"))
	if got := h.Status(); got != HealthDegraded {
		t.Errorf("after 1 failure status = %s, want DEGRADED", got)
	}

	h.OnFailure(errors.New("offline"))
	h.OnFailure(errors.New("offline"))
	if got := h.Status(); got != HealthCritical {
		t.Errorf("after 3 failures status = %s, want CRITICAL", got)
	}
	if got := len(rec.Alerts(telemetry.AlertConsecutiveFailures)); got != 1 {
		t.Errorf("consecutive failure alerts = %d, want 1", got)
	}

	h.OnSuccess(4)
	snap := h.Snapshot()
	if snap.Status != HealthHealthy || snap.ConsecutiveFailures != 0 {
		t.Errorf("success should reset streak: %+v", snap)
	}
	if snap.TotalSyncs != 4 || snap.TotalFailures != 3 {
		t.Errorf("totals = %d/%d, want 4/3", snap.TotalSyncs, snap.TotalFailures)
	}
}

func TestHealthPartialSuccess(t *testing.T) {
	h, _, rec := newTestMonitor()

	h.OnFailure(nil)
	h.OnPartialSuccess(5, 1)
	if len(rec.Alerts(telemetry.AlertHighFailureRate)) != 0 {
		t.Error("no alert expected when failures do not exceed successes")
	}

	h.OnPartialSuccess(1, 4)
	if len(rec.Alerts(telemetry.AlertHighFailureRate)) != 1 {
		t.Error("expected a high failure rate alert")
	}

	snap := h.Snapshot()
	if snap.TotalFailures != 1+1+4 || snap.TotalSyncs != 3 {
		t.Errorf("unexpected totals %+v", snap)
	}
	// Partial success does not reset the failure streak
	if snap.ConsecutiveFailures != 1 || snap.Status != HealthDegraded {
		t.Errorf("unexpected streak %+v", snap)
	}
	if snap.LastSuccessfulSync.IsZero() {
		t.Error("partial success should stamp last successful sync")
	}
}

func TestHealthStale(t *testing.T) {
	h, clock, _ := newTestMonitor()

	h.OnSuccess(1)
	clock.Advance(30 * time.Minute)
	if got := h.Status(); got != HealthHealthy {
		t.Errorf("at threshold status = %s, want HEALTHY", got)
	}

	clock.Advance(time.Second)
	if got := h.Status(); got != HealthStale {
		t.Errorf("past threshold status = %s, want STALE", got)
	}

	h.OnFailure(nil)
	h.OnFailure(nil)
	h.OnFailure(nil)
	if got := h.Status(); got != HealthCritical {
		t.Errorf("critical should win over stale, got %s", got)
	}
}

func TestHealthNeverSucceededTurnsStale(t *testing.T) {
	h, clock, _ := newTestMonitor()

	clock.Advance(29 * time.Minute)
	if got := h.Status(); got != HealthHealthy {
		t.Errorf("status = %s, want HEALTHY before threshold", got)
	}
	clock.Advance(2 * time.Minute)
	if got := h.Status(); got != HealthStale {
		t.Errorf("status = %s, want STALE", got)
	}
}

func TestHealthRecordDispatch(t *testing.T) {
	h, _, _ := newTestMonitor()

	h.Record(Success{SyncedCount: 2})
	h.Record(PartialSuccess{SyncedCount: 1, FailedCount: 1})
	h.Record(Failure{Err: errors.New("x")})

	snap := h.Snapshot()
	if snap.TotalSyncs != 3 || snap.TotalFailures != 2 || snap.ConsecutiveFailures != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
