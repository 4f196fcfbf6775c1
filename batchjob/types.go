package batchjob

import (
	"context"
	"sync"
	"time"
)

type JobStatus string

const (
	StatusPending            JobStatus = "Pending"
	StatusInProgress         JobStatus = "InProgress"
	StatusCompleted          JobStatus = "Completed"
	StatusPartiallyCompleted JobStatus = "PartiallyCompleted"
	StatusFailed             JobStatus = "Failed"
	StatusCancelled          JobStatus = "Cancelled"
)

// Terminal reports whether the status is final. Counters never change once a
// job reaches a terminal status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ItemPusher pushes a single item to the remote side. A nil error counts the
// item as successful; any error counts it as failed and is recorded on the
// job. Implementations must respect ctx cancellation between calls, not
// mid-call: an in-flight remote call is never interrupted.
type ItemPusher func(ctx context.Context, itemId string) error

type ItemError struct {
	ItemId  string `json:"item_id"`
	Message string `json:"message"`
}

// Job is the registry's mutable record of one batch execution. Only the
// owning worker goroutine mutates it after submission; everyone else reads
// through Snapshot().
type Job struct {
	mu sync.Mutex

	ID              string
	Type            string
	ItemIds         []string
	BatchSize       int
	InterBatchDelay time.Duration

	Status          JobStatus
	TotalItems      int
	TotalBatches    int
	CurrentBatch    int
	ProcessedItems  int
	SuccessfulItems int
	FailedItems     int
	Errors          []ItemError
	CancelReason    string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	cancelRequested bool
	cancel          context.CancelFunc
}

// JobSnapshot is an immutable copy handed to status readers; later job
// progress never mutates a returned snapshot.
type JobSnapshot struct {
	ID                 string        `json:"job_id"`
	Type               string        `json:"job_type"`
	Status             JobStatus     `json:"status"`
	TotalItems         int           `json:"total_items"`
	TotalBatches       int           `json:"total_batches"`
	CurrentBatch       int           `json:"current_batch"`
	ProcessedItems     int           `json:"processed_items"`
	SuccessfulItems    int           `json:"successful_items"`
	FailedItems        int           `json:"failed_items"`
	ProgressPercentage float64       `json:"progress_percentage"`
	EstimatedRemaining time.Duration `json:"estimated_remaining_ns"`
	Errors             []ItemError   `json:"errors,omitempty"`
	CancelReason       string        `json:"cancel_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	StartedAt          *time.Time    `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at"`
}

// Snapshot copies the job state under its mutex.
func (j *Job) Snapshot(now time.Time) JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := JobSnapshot{
		ID:              j.ID,
		Type:            j.Type,
		Status:          j.Status,
		TotalItems:      j.TotalItems,
		TotalBatches:    j.TotalBatches,
		CurrentBatch:    j.CurrentBatch,
		ProcessedItems:  j.ProcessedItems,
		SuccessfulItems: j.SuccessfulItems,
		FailedItems:     j.FailedItems,
		CancelReason:    j.CancelReason,
		CreatedAt:       j.CreatedAt,
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		snap.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		snap.CompletedAt = &t
	}
	if len(j.Errors) > 0 {
		snap.Errors = make([]ItemError, len(j.Errors))
		copy(snap.Errors, j.Errors)
	}

	snap.ProgressPercentage = progressPercentage(j.ProcessedItems, j.TotalItems)
	snap.EstimatedRemaining = estimateRemaining(j.StartedAt, j.CompletedAt, j.ProcessedItems, j.TotalItems, now)
	return snap
}

// progressPercentage rounds to two decimal places; zero totals report 0.
func progressPercentage(processed, total int) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	return roundTo2(pct)
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// estimateRemaining extrapolates from the observed per-item rate.
func estimateRemaining(startedAt, completedAt *time.Time, processed, total int, now time.Time) time.Duration {
	if startedAt == nil || completedAt != nil || total == 0 || processed >= total {
		return 0
	}
	elapsed := now.Sub(*startedAt)
	if elapsed <= 0 {
		return 0
	}
	denom := processed
	if denom < 1 {
		denom = 1
	}
	perItem := elapsed / time.Duration(denom)
	return perItem * time.Duration(total-processed)
}
