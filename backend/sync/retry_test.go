package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffDelaysWithDefaults(t *testing.T) {
	policy := BackoffPolicy{Initial: time.Second, Multiplier: 2.0, Max: 60 * time.Second}

	got := policy.Delays(5)
	want := []time.Duration{1000, 2000, 4000, 8000, 16000}
	for i := range want {
		want[i] *= time.Millisecond
	}

	if len(got) != len(want) {
		t.Fatalf("got %d delays, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i+1, got[i], want[i])
		}
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	policy := BackoffPolicy{Initial: 20 * time.Second, Multiplier: 2.0, Max: 60 * time.Second}

	got := policy.Delays(4)
	want := []time.Duration{20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delay %d = %s, want %s", i+1, got[i], want[i])
		}
	}

	if next := policy.Next(time.Duration(1 << 62)); next != policy.Max {
		t.Errorf("overflowing Next = %s, want cap", next)
	}
	if policy.Delays(0) != nil {
		t.Error("Delays(0) should be nil")
	}
}

func TestBatchCount(t *testing.T) {
	tests := []struct {
		n, b, want int
	}{
		{0, 50, 0},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{120, 50, 3},
		{7, 2, 4},
		{5, 0, 0},
	}

	for _, tt := range tests {
		if got := BatchCount(tt.n, tt.b); got != tt.want {
			t.Errorf("BatchCount(%d, %d) = %d, want %d", tt.n, tt.b, got, tt.want)
		}
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("zero sleep error = %v", err)
	}
}

func TestToResult(t *testing.T) {
	tests := []struct {
		name  string
		total batchResult
		want  string
	}{
		{"nothing", batchResult{}, "success: 0 synced"},
		{"all synced", batchResult{synced: 3}, "success: 3 synced"},
		{"mixed", batchResult{synced: 1, failed: 1, errors: []string{"Task cancelled"}}, "partial: 1 synced, 1 failed (Task cancelled)"},
		{"all failed", batchResult{failed: 2, errors: []string{"first", "second"}}, "failure: first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toResult(tt.total, nil).String(); got != tt.want {
				t.Errorf("toResult() = %q, want %q", got, tt.want)
			}
		})
	}

	if r, ok := toResult(batchResult{}, context.Canceled).(Failure); !ok || !errors.Is(r.Err, context.Canceled) {
		t.Errorf("abort with nothing synced should be Failure(ctx err), got %#v", r)
	}
}
