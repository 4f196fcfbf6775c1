package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// AcquireEntityLock serializes writers per (entityType, localId) across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB that will do the mapping write.
func AcquireEntityLock(tx *gorm.DB, entityType string, localId string) error {
	lockName := fmt.Sprintf("sync:%s:%s", entityType, localId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire sync lock for %s/%s", entityType, localId)
	}
	return nil
}

func ReleaseEntityLock(tx *gorm.DB, entityType string, localId string) {
	lockName := fmt.Sprintf("sync:%s:%s", entityType, localId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// EntityRedisLock takes a best-effort distributed lock ahead of the advisory
// lock so competing pushers back off early instead of queueing on MySQL.
// Returns a release func; callers treat failure to obtain as a retryable skip.
func EntityRedisLock(ctx context.Context, entityType string, localId string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", localId, errors.New("redis lock is nil"))
		return func() {}, nil
	}
	lockKey := fmt.Sprintf("sync:%s:%s", entityType, localId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain lock for entity", lockKey, err)
		return nil, errors.New("could not obtain lock for entity")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for entity", lockKey, err)
		return nil, err
	}
	return func() {
		_ = lock.Release(ctx)
	}, nil
}
