package batchjob

import (
	"fmt"
	"sync"
	"time"
)

// Registry is the in-memory owner of all jobs on this instance. Jobs are
// created on submit, mutated only by their worker goroutine, retained after
// reaching a terminal state for status queries, and evicted by
// CleanupOlderThan.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

func (r *Registry) add(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already registered", job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *Registry) get(jobId string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobId]
	return job, ok
}

// ActiveJobs returns snapshots of all non-terminal jobs.
func (r *Registry) ActiveJobs() []JobSnapshot {
	return r.list(false)
}

// AllJobs returns snapshots of every retained job, terminal included.
func (r *Registry) AllJobs() []JobSnapshot {
	return r.list(true)
}

func (r *Registry) list(includeTerminal bool) []JobSnapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.RUnlock()

	now := time.Now().UTC()
	snaps := make([]JobSnapshot, 0, len(jobs))
	for _, job := range jobs {
		snap := job.Snapshot(now)
		if !includeTerminal && snap.Status.Terminal() {
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// CleanupOlderThan evicts terminal jobs whose completion is older than the
// retention window and returns how many were removed. Running jobs are never
// evicted.
func (r *Registry) CleanupOlderThan(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		job.mu.Lock()
		evict := job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff)
		job.mu.Unlock()
		if evict {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
