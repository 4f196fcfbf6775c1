package syncer

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/batchjob"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncstore"
	"github.com/gin-gonic/gin"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type ScheduledSyncPayload struct {
	EntityTypes []string `json:"entity_types"`
	// Pull refreshes the local mirrors from the manufacturing API before the
	// push jobs are submitted.
	Pull bool `json:"pull"`
}

// JobCompletionHook closes the job's SyncRun row and publishes the terminal
// job event. Wire it to the orchestrator's OnComplete.
func JobCompletionHook() func(batchjob.JobSnapshot) {
	return func(snap batchjob.JobSnapshot) {
		logger := config.GetLogger()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store := syncstore.NewStore(config.GetDB())
		if err := store.FinishRunByJobId(ctx, snap.ID, snap.SuccessfulItems, snap.FailedItems); err != nil {
			config.LogError(logger, moduleName, "JobCompletionHook", "failed to close sync run", snap.ID, err)
		}

		evt := config.JobEventMessage{
			JobID:      snap.ID,
			JobType:    snap.Type,
			Status:     string(snap.Status),
			TotalItems: snap.TotalItems,
			Successful: snap.SuccessfulItems,
			Failed:     snap.FailedItems,
		}
		if snap.StartedAt != nil {
			evt.StartedAt = *snap.StartedAt
		}
		if snap.CompletedAt != nil {
			evt.CompletedAt = *snap.CompletedAt
		}
		if err := config.PublishJobEvent(evt); err != nil {
			config.LogError(logger, moduleName, "JobCompletionHook", "failed to publish job event", snap.ID, err)
		}
	}
}

// PubSubPushHandler is the push-subscription endpoint that triggers a
// scheduled sync run. Poison messages are dropped with 204 so Pub/Sub does
// not redeliver them forever.
func PubSubPushHandler(orchestrator *batchjob.Orchestrator, remote RemoteWriter, source RemoteReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_SYNC_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload ScheduledSyncPayload
		if len(envelope.Message.Data) > 0 {
			_ = json.Unmarshal(envelope.Message.Data, &payload)
		}
		if len(payload.EntityTypes) == 0 {
			payload.EntityTypes = EntityTypes()
		}

		db := config.GetDB()
		if payload.Pull {
			puller := NewPuller(db, source, config.GetLogger())
			if _, err := puller.PullAll(c.Request.Context()); err != nil {
				config.LogError(config.GetLogger(), moduleName, "PubSubPushHandler", "scheduled pull failed", envelope.Message.MessageId, err)
			}
		}
		store := syncstore.NewStore(db)
		pusher := NewPusher(db, store, remote, config.GetLogger())
		_ = RunScheduledSync(c.Request.Context(), pusher, orchestrator, store, payload.EntityTypes)
		c.Status(204)
	}
}

// RunScheduledSync submits one job per entity type covering everything that
// currently needs a push.
func RunScheduledSync(ctx context.Context, pusher *Pusher, orchestrator *batchjob.Orchestrator, store *syncstore.Store, entityTypes []string) error {
	logger := config.GetLogger()
	var firstErr error

	for _, entityType := range entityTypes {
		if !ValidEntityType(entityType) {
			continue
		}
		ids, err := pusher.ListPendingIds(ctx, entityType)
		if err != nil {
			config.LogError(logger, moduleName, "RunScheduledSync", "failed to list pending entities", entityType, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(ids) == 0 {
			continue
		}

		pushFunc, err := pusher.PushFunc(entityType)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		jobId, err := orchestrator.Submit(entityType, ids, defaultBatchSize, time.Duration(defaultInterBatchDelayMs)*time.Millisecond, pushFunc)
		if err != nil {
			config.LogError(logger, moduleName, "RunScheduledSync", "failed to submit scheduled job", entityType, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := store.StartRun(ctx, jobId, entityType, models.SyncTriggeredScheduled); err != nil {
			config.LogError(logger, moduleName, "RunScheduledSync", "failed to open sync run", jobId, err)
		}
	}
	return firstErr
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
