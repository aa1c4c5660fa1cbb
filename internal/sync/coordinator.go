package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fieldsync/backend"
	fsync "fieldsync/backend/sync"
	"fieldsync/internal/telemetry"
	"fieldsync/internal/utils"

	"github.com/robfig/cron/v3"
)

// DefaultMaxWorkerBackoff caps the delay between whole-cycle retries
const DefaultMaxWorkerBackoff = 5 * time.Hour

// ErrShutdownTimeout is returned when in-flight cycles outlive Shutdown's timeout
var ErrShutdownTimeout = errors.New("pending syncs did not complete before shutdown timeout")

var errStopping = errors.New("coordinator stopping")

// CycleRunner runs one push-then-pull cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (fsync.SyncResult, error)
}

// Options configures the scheduler
type Options struct {
	PeriodicInterval     time.Duration // zero disables the periodic trigger
	WorkerInitialBackoff time.Duration
	MaxWorkerBackoff     time.Duration
	MaxWorkerRetries     int
	CycleTimeout         time.Duration // zero leaves cycles unbounded
	PruneSyncedAfter     time.Duration // zero keeps synced actions
}

// Report describes the latest finished sync run
type Report struct {
	Result   fsync.SyncResult
	Attempts int
	Finished time.Time
}

// SyncCoordinator schedules sync cycles: periodically, on demand, and after
// local mutations. It owns the outer retry tier around SyncManager.RunCycle.
type SyncCoordinator struct {
	runner CycleRunner
	store  backend.TaskStore
	opts   Options
	sink   telemetry.Sink

	cron *cron.Cron

	// Goroutine management
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Dedupe: one worker at a time, triggers during a run schedule one rerun
	syncing  atomic.Bool
	again    atomic.Bool
	shutdown atomic.Bool
	stopping chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	last *Report

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewSyncCoordinator creates a coordinator; call Start to enable the schedule
func NewSyncCoordinator(runner CycleRunner, store backend.TaskStore, opts Options, sink telemetry.Sink) (*SyncCoordinator, error) {
	if runner == nil || store == nil {
		return nil, fmt.Errorf("cycle runner and store are required")
	}
	if opts.MaxWorkerRetries < 0 {
		return nil, fmt.Errorf("max worker retries must be >= 0")
	}
	if opts.MaxWorkerBackoff <= 0 {
		opts.MaxWorkerBackoff = DefaultMaxWorkerBackoff
	}
	if sink == nil {
		sink = telemetry.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &SyncCoordinator{
		runner:   runner,
		store:    store,
		opts:     opts,
		sink:     sink,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		now:      time.Now,
	}
	sc.sleep = sc.sleepUnlessStopping
	return sc, nil
}

// Start registers the periodic jobs and begins watching the store.
// It does not run a cycle itself; call TriggerSync for an initial one.
func (sc *SyncCoordinator) Start() error {
	if sc.opts.PeriodicInterval > 0 {
		spec := "@every " + sc.opts.PeriodicInterval.String()
		if _, err := sc.cron.AddFunc(spec, func() { sc.TriggerSync() }); err != nil {
			return fmt.Errorf("failed to schedule periodic sync: %w", err)
		}
	}
	if sc.opts.PruneSyncedAfter > 0 {
		if _, err := sc.cron.AddFunc("@hourly", func() { sc.Prune(sc.ctx) }); err != nil {
			return fmt.Errorf("failed to schedule prune: %w", err)
		}
	}
	sc.cron.Start()
	sc.watchStore()
	return nil
}

// TriggerSync starts a background sync run and returns immediately.
// A trigger that arrives while a run is in flight schedules one more run
// after it instead of starting a second worker. Returns false when no new
// worker was started.
func (sc *SyncCoordinator) TriggerSync() bool {
	if sc.shutdown.Load() {
		return false
	}
	if !sc.syncing.CompareAndSwap(false, true) {
		sc.again.Store(true)
		return false
	}

	sc.wg.Add(1)
	go sc.worker()
	return true
}

func (sc *SyncCoordinator) worker() {
	defer sc.wg.Done()

	for {
		sc.again.Store(false)
		sc.RunOnce(sc.ctx)
		if sc.shutdown.Load() || !sc.again.Load() {
			break
		}
	}
	sc.syncing.Store(false)

	// A trigger may have landed between the last check and releasing the flag
	if sc.again.Swap(false) {
		sc.TriggerSync()
	}
}

// RunOnce runs a cycle in the caller's goroutine, retrying the whole cycle
// with exponential backoff while it ends in PartialSuccess or Failure.
// Returns nil when another cycle was already in flight.
func (sc *SyncCoordinator) RunOnce(ctx context.Context) fsync.SyncResult {
	backoff := sc.opts.WorkerInitialBackoff
	attempts := 0

	for {
		attempts++
		result, err := sc.runCycle(ctx)
		if errors.Is(err, fsync.ErrSyncInProgress) {
			utils.Debugf("Sync skipped: %v", err)
			return nil
		}

		if !fsync.NeedsRetry(result) {
			sc.setLast(result, attempts)
			return result
		}

		if attempts > sc.opts.MaxWorkerRetries {
			utils.Errorf("Sync still failing after %d attempts: %s", attempts, result)
			sc.sink.Alert(telemetry.AlertRetriesExhausted, telemetry.Fields{
				"attempts": attempts,
				"result":   result.String(),
			})
			sc.setLast(result, attempts)
			return result
		}

		if sc.shutdown.Load() {
			sc.setLast(result, attempts)
			return result
		}
		utils.Warnf("Sync attempt %d ended with %s, retrying in %v", attempts, result, backoff)
		if err := sc.sleep(ctx, backoff); err != nil {
			sc.setLast(result, attempts)
			return result
		}
		backoff = nextWorkerBackoff(backoff, sc.opts.MaxWorkerBackoff)
	}
}

// runCycle runs one cycle, bounding it with CycleTimeout and turning a
// panic into a Failure
func (sc *SyncCoordinator) runCycle(ctx context.Context) (result fsync.SyncResult, err error) {
	if sc.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sc.opts.CycleTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("Panic in sync cycle: %v", r)
			result = fsync.Failure{Err: fmt.Errorf("sync cycle panicked: %v", r)}
			err = nil
		}
	}()

	return sc.runner.RunCycle(ctx)
}

func nextWorkerBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next <= 0 || next > max {
		return max
	}
	return next
}

// watchStore triggers a sync whenever a local action or task is created
func (sc *SyncCoordinator) watchStore() {
	events, cancel := sc.store.Subscribe()

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		defer cancel()
		for {
			select {
			case <-sc.stopping:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Created {
					utils.Debugf("Local %s change %v, triggering sync", ev.Kind, ev.IDs)
					sc.TriggerSync()
				}
			}
		}
	}()
}

// Prune removes synced actions older than PruneSyncedAfter
func (sc *SyncCoordinator) Prune(ctx context.Context) (int, error) {
	if sc.opts.PruneSyncedAfter <= 0 {
		return 0, nil
	}
	n, err := sc.store.PruneSyncedActions(ctx, sc.now().Add(-sc.opts.PruneSyncedAfter))
	if err != nil {
		utils.Warnf("Prune of synced actions failed: %v", err)
		return 0, err
	}
	if n > 0 {
		utils.Debugf("Pruned %d synced actions", n)
	}
	return n, nil
}

func (sc *SyncCoordinator) setLast(result fsync.SyncResult, attempts int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.last = &Report{Result: result, Attempts: attempts, Finished: sc.now()}
}

// LastReport returns the most recent finished run, or nil
func (sc *SyncCoordinator) LastReport() *Report {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.last == nil {
		return nil
	}
	r := *sc.last
	return &r
}

// IsSyncing reports whether a background run is in flight
func (sc *SyncCoordinator) IsSyncing() bool {
	return sc.syncing.Load()
}

// Shutdown stops the schedule and waits for in-flight runs. Retry
// backoffs are cut short. When the timeout elapses first, running cycles are
// cancelled and ErrShutdownTimeout is returned.
func (sc *SyncCoordinator) Shutdown(timeout time.Duration) error {
	sc.shutdown.Store(true)
	sc.stopOnce.Do(func() { close(sc.stopping) })
	<-sc.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		sc.wg.Wait()
		close(done)
	}()

	defer sc.cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		utils.Warnf("Pending syncs did not complete within %v", timeout)
		return ErrShutdownTimeout
	}
}

// sleepUnlessStopping waits for d, returning early on ctx or Shutdown
func (sc *SyncCoordinator) sleepUnlessStopping(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.stopping:
		return errStopping
	case <-timer.C:
		return nil
	}
}
