package batchjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const moduleName = "batchjob"

var ErrJobNotFound = errors.New("job not found")

// Orchestrator accepts batch push jobs and executes each on its own worker
// goroutine: items are partitioned into fixed-size batches processed strictly
// in order, with a fixed pause between batches as the sole rate limiting
// toward the remote API.
type Orchestrator struct {
	registry *Registry
	logger   *logrus.Logger

	// OnComplete, when set, is invoked once per job after it reaches a
	// terminal state (job event publishing).
	OnComplete func(JobSnapshot)
}

func NewOrchestrator(registry *Registry, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{registry: registry, logger: logger}
}

func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

func newJobId(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s", now.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

// Submit registers a job and returns its id immediately; execution happens
// asynchronously. batchSize must be >= 1 and at least one item is required.
func (o *Orchestrator) Submit(jobType string, itemIds []string, batchSize int, interBatchDelay time.Duration, pusher ItemPusher) (string, error) {
	if batchSize < 1 {
		return "", errors.New("batch size must be at least 1")
	}
	if len(itemIds) == 0 {
		return "", errors.New("at least one item is required")
	}
	if pusher == nil {
		return "", errors.New("item pusher is required")
	}
	if interBatchDelay < 0 {
		interBatchDelay = 0
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())

	ids := make([]string, len(itemIds))
	copy(ids, itemIds)

	job := &Job{
		ID:              newJobId(now),
		Type:            jobType,
		ItemIds:         ids,
		BatchSize:       batchSize,
		InterBatchDelay: interBatchDelay,
		Status:          StatusPending,
		TotalItems:      len(ids),
		TotalBatches:    (len(ids) + batchSize - 1) / batchSize,
		CreatedAt:       now,
		cancel:          cancel,
	}

	if err := o.registry.add(job); err != nil {
		cancel()
		return "", err
	}

	go o.run(ctx, job, pusher)
	return job.ID, nil
}

// GetStatus returns an immutable snapshot of the job.
func (o *Orchestrator) GetStatus(jobId string) (JobSnapshot, error) {
	job, ok := o.registry.get(jobId)
	if !ok {
		return JobSnapshot{}, ErrJobNotFound
	}
	return job.Snapshot(time.Now().UTC()), nil
}

// Cancel requests cooperative cancellation. The worker observes the request
// between batches and before each item; an in-flight remote call is never
// interrupted. Returns false when the job is already terminal.
func (o *Orchestrator) Cancel(jobId string, reason string) (bool, error) {
	job, ok := o.registry.get(jobId)
	if !ok {
		return false, ErrJobNotFound
	}

	job.mu.Lock()
	if job.Status.Terminal() {
		job.mu.Unlock()
		return false, nil
	}
	job.cancelRequested = true
	if job.CancelReason == "" {
		job.CancelReason = reason
	}
	cancel := job.cancel
	job.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true, nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job, pusher ItemPusher) {
	defer func() {
		if r := recover(); r != nil {
			config.LogError(o.logger, moduleName, "run", "job worker panicked", job.ID, fmt.Errorf("panic: %v", r))
			o.finish(job, StatusFailed)
		}
	}()

	startedAt := time.Now().UTC()
	job.mu.Lock()
	job.Status = StatusInProgress
	job.StartedAt = &startedAt
	job.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"module":        moduleName,
		"jobId":         job.ID,
		"jobType":       job.Type,
		"totalItems":    job.TotalItems,
		"totalBatches":  job.TotalBatches,
		"batchSize":     job.BatchSize,
		"delayPerBatch": job.InterBatchDelay.String(),
	}).Info("batch job started")

	batches := partition(job.ItemIds, job.BatchSize)
	for i, batch := range batches {
		if o.cancelRequested(job) {
			o.finish(job, StatusCancelled)
			return
		}

		job.mu.Lock()
		job.CurrentBatch = i + 1
		job.mu.Unlock()

		for _, itemId := range batch {
			if o.cancelRequested(job) {
				o.finish(job, StatusCancelled)
				return
			}

			err := pusher(ctx, itemId)

			job.mu.Lock()
			job.ProcessedItems++
			if err != nil {
				job.FailedItems++
				job.Errors = append(job.Errors, ItemError{ItemId: itemId, Message: err.Error()})
			} else {
				job.SuccessfulItems++
			}
			job.mu.Unlock()
		}

		// Inter-batch pause, interruptible by cancellation.
		if job.InterBatchDelay > 0 && i < len(batches)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(job.InterBatchDelay):
			}
		}
	}

	if o.cancelRequested(job) {
		o.finish(job, StatusCancelled)
		return
	}

	job.mu.Lock()
	successful, failed := job.SuccessfulItems, job.FailedItems
	job.mu.Unlock()

	switch {
	case failed == 0:
		o.finish(job, StatusCompleted)
	case successful > 0:
		o.finish(job, StatusPartiallyCompleted)
	default:
		o.finish(job, StatusFailed)
	}
}

func (o *Orchestrator) cancelRequested(job *Job) bool {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.cancelRequested
}

func (o *Orchestrator) finish(job *Job, status JobStatus) {
	now := time.Now().UTC()

	job.mu.Lock()
	if job.Status.Terminal() {
		job.mu.Unlock()
		return
	}
	job.Status = status
	job.CompletedAt = &now
	cancel := job.cancel
	job.cancel = nil
	job.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	snap := job.Snapshot(now)
	o.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"jobId":      snap.ID,
		"jobType":    snap.Type,
		"status":     string(snap.Status),
		"successful": snap.SuccessfulItems,
		"failed":     snap.FailedItems,
	}).Info("batch job finished")

	if o.OnComplete != nil {
		o.OnComplete(snap)
	}
}

// partition splits items into consecutive batches of at most size, preserving
// submission order.
func partition(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	batches := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
