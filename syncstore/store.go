package syncstore

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// Store owns the sync_mappings table. Reads are lock-free snapshots; writers
// must hold the per-entity advisory lock (see utils.AcquireEntityLock) so two
// pushers never interleave on the same mapping.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetOrCreate returns the mapping for (entityType, localId), creating it in
// PENDING the first time the entity is seen.
func (s *Store) GetOrCreate(ctx context.Context, entityType string, localId string) (*models.SyncMapping, error) {
	var m models.SyncMapping
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND local_id = ?", entityType, localId).
		First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	m = models.SyncMapping{
		EntityType: entityType,
		LocalId:    localId,
		SyncStatus: models.SyncStatusPending,
	}
	if createErr := s.db.WithContext(ctx).Create(&m).Error; createErr != nil {
		// Lost a create race on the unique index; the winner's row is ours.
		var mysqlErr *mysqlDriver.MySQLError
		if errors.As(createErr, &mysqlErr) && mysqlErr.Number == 1062 {
			var existing models.SyncMapping
			if fetchErr := s.db.WithContext(ctx).
				Where("entity_type = ? AND local_id = ?", entityType, localId).
				First(&existing).Error; fetchErr == nil {
				return &existing, nil
			}
		}
		return nil, createErr
	}
	return &m, nil
}

// ListPending returns the mappings that need a push right now:
// not yet SYNCED, or SYNCED with a hash that no longer matches the current
// snapshot. ERROR rows wait for operator correction. Rows with a future
// NextRetryAt are skipped until their backoff expires.
// currentHashes maps localId to the hash of the entity's current snapshot;
// entities absent from the map are not considered.
func (s *Store) ListPending(ctx context.Context, entityType string, currentHashes map[string]string, now time.Time) ([]models.SyncMapping, error) {
	if len(currentHashes) == 0 {
		return nil, nil
	}
	localIds := make([]string, 0, len(currentHashes))
	for id := range currentHashes {
		localIds = append(localIds, id)
	}

	var mappings []models.SyncMapping
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND local_id IN ?", entityType, localIds).
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}

	pending := make([]models.SyncMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.SyncStatus == models.SyncStatusError {
			continue
		}
		if m.NextRetryAt != nil && m.NextRetryAt.After(now) {
			continue
		}
		if m.SyncStatus == models.SyncStatusSynced && m.LastSyncHash == currentHashes[m.LocalId] {
			continue
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// MarkSynced records a successful push: remote code, the hash that was
// pushed, and a cleared error/backoff state.
func (s *Store) MarkSynced(ctx context.Context, m *models.SyncMapping, remoteCode string, hash string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.SyncMapping{}).
		Where("id = ?", m.ID).
		Updates(map[string]any{
			"sync_status":     models.SyncStatusSynced,
			"remote_code":     remoteCode,
			"last_sync_hash":  hash,
			"last_sync_error": "",
			"last_sync_at":    at,
			"next_retry_at":   nil,
			"retry_count":     0,
		}).Error
}

// MarkError records a failed push. Transient failures keep the mapping
// PENDING with an exponential NextRetryAt backoff so the next runs skip it
// until the window expires; permanent rejections move it to ERROR and out of
// automatic retry.
func (s *Store) MarkError(ctx context.Context, m *models.SyncMapping, message string, at time.Time, permanent bool) error {
	updates := map[string]any{
		"last_sync_error": message,
		"last_sync_at":    at,
	}
	if permanent {
		updates["sync_status"] = models.SyncStatusError
		updates["next_retry_at"] = nil
	} else {
		updates["sync_status"] = models.SyncStatusPending
		updates["retry_count"] = gorm.Expr("retry_count + 1")
		updates["next_retry_at"] = at.Add(RetryBackoff(m.RetryCount + 1))
	}
	return s.db.WithContext(ctx).
		Model(&models.SyncMapping{}).
		Where("id = ?", m.ID).
		Updates(updates).Error
}

// RetryBackoff returns the wait before the next automatic retry:
// 1m, 2m, 4m, ... capped at one hour.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	shift := retryCount - 1
	if shift > 6 {
		shift = 6
	}
	backoff := time.Minute * time.Duration(1<<shift)
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

// ClearError resets an ERROR mapping back to PENDING after an operator
// correction so the next run picks it up again.
func (s *Store) ClearError(ctx context.Context, entityType string, localId string) error {
	return s.db.WithContext(ctx).
		Model(&models.SyncMapping{}).
		Where("entity_type = ? AND local_id = ? AND sync_status = ?", entityType, localId, models.SyncStatusError).
		Updates(map[string]any{
			"sync_status":     models.SyncStatusPending,
			"last_sync_error": "",
			"next_retry_at":   nil,
			"retry_count":     0,
		}).Error
}

// StartRun opens a SyncRun row for reporting.
func (s *Store) StartRun(ctx context.Context, jobId string, entityType string, triggeredBy string) (*models.SyncRun, error) {
	now := time.Now().UTC()
	run := models.SyncRun{
		JobId:       jobId,
		EntityType:  entityType,
		TriggeredBy: triggeredBy,
		StartedAt:   &now,
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// FinishRun closes a SyncRun row with final counters.
func (s *Store) FinishRun(ctx context.Context, run *models.SyncRun, synced int, failed int) error {
	now := time.Now().UTC()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	return s.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{
			"records_synced": synced,
			"records_failed": failed,
			"finished_at":    now,
			"duration_ms":    durationMs,
		}).Error
}

// FinishRunByJobId closes the SyncRun opened for a batch job once the job
// reaches a terminal state.
func (s *Store) FinishRunByJobId(ctx context.Context, jobId string, synced int, failed int) error {
	var run models.SyncRun
	err := s.db.WithContext(ctx).Where("job_id = ?", jobId).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return s.FinishRun(ctx, &run, synced, failed)
}

// RecordSyncError appends a per-entity error row under a run.
func (s *Store) RecordSyncError(ctx context.Context, runId uint, entityType string, localId string, errorCode string, message string, retryable bool) error {
	row := models.SyncError{
		SyncRunId:  runId,
		EntityType: entityType,
		LocalId:    localId,
		ErrorCode:  errorCode,
		Message:    message,
		Retryable:  retryable,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}
