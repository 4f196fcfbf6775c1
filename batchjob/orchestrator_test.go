package batchjob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. The orchestrator owns no
// storage; everything observable goes through job snapshots.

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestOrchestrator() *Orchestrator {
	return NewOrchestrator(NewRegistry(), testLogger())
}

func waitTerminal(t *testing.T, o *Orchestrator, jobId string) JobSnapshot {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.GetStatus(jobId)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobId)
	return JobSnapshot{}
}

func makeItems(n int) []string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	return items
}

func TestPartition(t *testing.T) {
	items := makeItems(237)
	batches := partition(items, 100)

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 100 || len(batches[1]) != 100 || len(batches[2]) != 37 {
		t.Fatalf("unexpected batch sizes: %d/%d/%d", len(batches[0]), len(batches[1]), len(batches[2]))
	}

	var flattened []string
	for _, b := range batches {
		flattened = append(flattened, b...)
	}
	for i, id := range flattened {
		if id != items[i] {
			t.Fatalf("partition reordered items at index %d: %s != %s", i, id, items[i])
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	o := newTestOrchestrator()
	noop := func(ctx context.Context, itemId string) error { return nil }

	if _, err := o.Submit("product", []string{"a"}, 0, 0, noop); err == nil {
		t.Error("expected error for batch size 0")
	}
	if _, err := o.Submit("product", nil, 10, 0, noop); err == nil {
		t.Error("expected error for empty item list")
	}
	if _, err := o.Submit("product", []string{"a"}, 10, 0, nil); err == nil {
		t.Error("expected error for nil pusher")
	}
}

func TestJobIdFormat(t *testing.T) {
	id := newJobId(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))
	if !regexp.MustCompile(`^batch_20260301123045_[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("unexpected job id format: %s", id)
	}
}

func TestJobRunsToCompletion(t *testing.T) {
	o := newTestOrchestrator()
	items := makeItems(237)

	var mu sync.Mutex
	var pushed []string
	jobId, err := o.Submit("product", items, 100, 0, func(ctx context.Context, itemId string) error {
		mu.Lock()
		pushed = append(pushed, itemId)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, o, jobId)
	if snap.Status != StatusCompleted {
		t.Fatalf("expected Completed, got %s", snap.Status)
	}
	if snap.TotalBatches != 3 || snap.ProcessedItems != 237 || snap.SuccessfulItems != 237 || snap.FailedItems != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.ProgressPercentage != 100 {
		t.Fatalf("expected 100%% progress, got %v", snap.ProgressPercentage)
	}
	if snap.StartedAt == nil || snap.CompletedAt == nil {
		t.Fatal("expected StartedAt and CompletedAt to be set")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushed) != 237 {
		t.Fatalf("expected 237 pushes, got %d", len(pushed))
	}
	for i, id := range pushed {
		if id != items[i] {
			t.Fatalf("push order broken at index %d", i)
		}
	}
}

func TestPartialCompletion(t *testing.T) {
	o := newTestOrchestrator()
	jobId, err := o.Submit("product", []string{"ok-1", "bad", "ok-2"}, 10, 0, func(ctx context.Context, itemId string) error {
		if itemId == "bad" {
			return errors.New("validation rejected")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := waitTerminal(t, o, jobId)
	if snap.Status != StatusPartiallyCompleted {
		t.Fatalf("expected PartiallyCompleted, got %s", snap.Status)
	}
	if snap.SuccessfulItems != 2 || snap.FailedItems != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if len(snap.Errors) != 1 || snap.Errors[0].ItemId != "bad" || snap.Errors[0].Message != "validation rejected" {
		t.Fatalf("unexpected errors: %+v", snap.Errors)
	}
}

func TestAllItemsFailed(t *testing.T) {
	o := newTestOrchestrator()
	jobId, err := o.Submit("product", []string{"a", "b"}, 10, 0, func(ctx context.Context, itemId string) error {
		return errors.New("boom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if snap := waitTerminal(t, o, jobId); snap.Status != StatusFailed {
		t.Fatalf("expected Failed, got %s", snap.Status)
	}
}

func TestActiveJobReportsInProgress(t *testing.T) {
	o := newTestOrchestrator()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	jobId, err := o.Submit("product", []string{"a", "b"}, 10, 0, func(ctx context.Context, itemId string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-started
	snap, err := o.GetStatus(jobId)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if snap.Status != StatusInProgress || string(snap.Status) != "InProgress" {
		t.Fatalf("expected InProgress while items are being worked, got %q", snap.Status)
	}

	close(release)
	waitTerminal(t, o, jobId)
}

func TestCancelStopsBeforeNextItem(t *testing.T) {
	o := newTestOrchestrator()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	jobId, err := o.Submit("product", []string{"a", "b", "c"}, 10, 0, func(ctx context.Context, itemId string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-started
	ok, err := o.Cancel(jobId, "operator request")
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	close(release)

	snap := waitTerminal(t, o, jobId)
	if snap.Status != StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", snap.Status)
	}
	// The in-flight item finishes; the remaining ones are never attempted.
	if snap.ProcessedItems != 1 {
		t.Fatalf("expected 1 processed item, got %d", snap.ProcessedItems)
	}
	if snap.CancelReason != "operator request" {
		t.Fatalf("unexpected cancel reason: %q", snap.CancelReason)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.Cancel("batch_unknown", ""); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancelTerminalJobReturnsFalse(t *testing.T) {
	o := newTestOrchestrator()
	jobId, err := o.Submit("product", []string{"a"}, 10, 0, func(ctx context.Context, itemId string) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, jobId)

	ok, err := o.Cancel(jobId, "too late")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel of a terminal job must report false")
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	o := newTestOrchestrator()
	release := make(chan struct{})
	firstDone := make(chan struct{})
	var once sync.Once

	jobId, err := o.Submit("product", []string{"a", "b"}, 1, 0, func(ctx context.Context, itemId string) error {
		if itemId == "b" {
			once.Do(func() { close(firstDone) })
			<-release
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	<-firstDone
	snap, err := o.GetStatus(jobId)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	processedBefore := snap.ProcessedItems

	close(release)
	waitTerminal(t, o, jobId)

	if snap.ProcessedItems != processedBefore {
		t.Fatal("snapshot mutated after later progress")
	}
}

func TestOnCompleteFiresOnce(t *testing.T) {
	o := newTestOrchestrator()
	var mu sync.Mutex
	calls := 0
	o.OnComplete = func(snap JobSnapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
		if !snap.Status.Terminal() {
			t.Errorf("OnComplete fired with non-terminal status %s", snap.Status)
		}
	}

	jobId, err := o.Submit("product", []string{"a"}, 1, 0, func(ctx context.Context, itemId string) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, jobId)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected OnComplete once, got %d", calls)
	}
}

func TestProgressPercentageRounding(t *testing.T) {
	cases := []struct {
		processed, total int
		want             float64
	}{
		{0, 0, 0},
		{0, 10, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{237, 237, 100},
	}
	for _, c := range cases {
		if got := progressPercentage(c.processed, c.total); got != c.want {
			t.Errorf("progressPercentage(%d, %d) = %v, want %v", c.processed, c.total, got, c.want)
		}
	}
}

func TestEstimateRemaining(t *testing.T) {
	now := time.Now().UTC()
	started := now.Add(-10 * time.Second)

	if got := estimateRemaining(&started, nil, 5, 10, now); got != 10*time.Second {
		t.Errorf("expected 10s remaining, got %s", got)
	}
	if got := estimateRemaining(nil, nil, 0, 10, now); got != 0 {
		t.Errorf("expected 0 before start, got %s", got)
	}
	done := now
	if got := estimateRemaining(&started, &done, 10, 10, now); got != 0 {
		t.Errorf("expected 0 after completion, got %s", got)
	}
}

func TestRegistryCleanup(t *testing.T) {
	o := newTestOrchestrator()
	jobId, err := o.Submit("product", []string{"a"}, 1, 0, func(ctx context.Context, itemId string) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, jobId)

	// Fresh terminal jobs stay inside the retention window.
	if removed := o.Registry().CleanupOlderThan(time.Hour); removed != 0 {
		t.Fatalf("expected no evictions, got %d", removed)
	}

	job, ok := o.Registry().get(jobId)
	if !ok {
		t.Fatal("job missing from registry")
	}
	old := time.Now().UTC().Add(-48 * time.Hour)
	job.mu.Lock()
	job.CompletedAt = &old
	job.mu.Unlock()

	if removed := o.Registry().CleanupOlderThan(24 * time.Hour); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, err := o.GetStatus(jobId); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound after eviction, got %v", err)
	}
}

func TestActiveJobsExcludesTerminal(t *testing.T) {
	o := newTestOrchestrator()
	release := make(chan struct{})

	doneId, err := o.Submit("product", []string{"a"}, 1, 0, func(ctx context.Context, itemId string) error { return nil })
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitTerminal(t, o, doneId)

	runningId, err := o.Submit("customer", []string{"a"}, 1, 0, func(ctx context.Context, itemId string) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		close(release)
		waitTerminal(t, o, runningId)
	}()

	active := o.Registry().ActiveJobs()
	if len(active) != 1 || active[0].ID != runningId {
		t.Fatalf("unexpected active jobs: %+v", active)
	}
	if all := o.Registry().AllJobs(); len(all) != 2 {
		t.Fatalf("expected 2 retained jobs, got %d", len(all))
	}
}
