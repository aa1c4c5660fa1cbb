package sync

import (
	"errors"
	"fmt"
	"strings"
)

// SyncResult is the outcome of one push cycle: Success, PartialSuccess or Failure
type SyncResult interface {
	Synced() int
	Failed() int
	String() string
	syncResult()
}

// Success means every attempted action was accepted
type Success struct {
	SyncedCount int
}

// PartialSuccess means some actions were accepted and some were not
type PartialSuccess struct {
	SyncedCount int
	FailedCount int
	Errors      []string
}

// Failure means nothing was accepted. FailedCount is the number of actions
// that were attempted and not accepted; zero when the cycle failed before or
// outside the push.
type Failure struct {
	Err         error
	FailedCount int
}

func (Success) syncResult()        {}
func (PartialSuccess) syncResult() {}
func (Failure) syncResult()        {}

func (r Success) Synced() int        { return r.SyncedCount }
func (r Success) Failed() int        { return 0 }
func (r PartialSuccess) Synced() int { return r.SyncedCount }
func (r PartialSuccess) Failed() int { return r.FailedCount }
func (r Failure) Synced() int        { return 0 }
func (r Failure) Failed() int        { return r.FailedCount }

func (r Success) String() string {
	return fmt.Sprintf("success: %d synced", r.SyncedCount)
}

func (r PartialSuccess) String() string {
	s := fmt.Sprintf("partial: %d synced, %d failed", r.SyncedCount, r.FailedCount)
	if len(r.Errors) > 0 {
		s += " (" + strings.Join(r.Errors, "; ") + ")"
	}
	return s
}

func (r Failure) String() string {
	if r.Err == nil {
		return "failure"
	}
	return "failure: " + r.Err.Error()
}

// NeedsRetry reports whether the outer retry tier should rerun the cycle
func NeedsRetry(r SyncResult) bool {
	switch r.(type) {
	case PartialSuccess, Failure:
		return true
	default:
		return false
	}
}

// batchResult is the tally of one batch or of a whole push loop
type batchResult struct {
	synced int
	failed int
	errors []string
	// cause is the first batch-level error, kept for errors.Is/As
	cause error
}

func (b *batchResult) add(o batchResult) {
	b.synced += o.synced
	b.failed += o.failed
	b.errors = append(b.errors, o.errors...)
	if b.cause == nil {
		b.cause = o.cause
	}
}

// toResult maps accumulated totals to a SyncResult. abortErr is a store or
// cancellation error that ended the loop early.
func toResult(total batchResult, abortErr error) SyncResult {
	if abortErr != nil {
		total.errors = append(total.errors, abortErr.Error())
	}

	switch {
	case total.failed == 0 && abortErr == nil:
		return Success{SyncedCount: total.synced}
	case total.synced > 0:
		return PartialSuccess{SyncedCount: total.synced, FailedCount: total.failed, Errors: total.errors}
	case total.failed > 0 && total.cause != nil:
		return Failure{Err: total.cause, FailedCount: total.failed}
	case total.failed > 0 && len(total.errors) > 0:
		return Failure{Err: errors.New(total.errors[0]), FailedCount: total.failed}
	case abortErr != nil:
		return Failure{Err: abortErr, FailedCount: total.failed}
	default:
		return Failure{Err: errors.New("sync failed"), FailedCount: total.failed}
	}
}
