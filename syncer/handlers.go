package syncer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/batchjob"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncstore"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type SubmitJobRequest struct {
	JobType           string   `json:"job_type" binding:"required"`
	ItemIds           []string `json:"item_ids"`
	All               bool     `json:"all"`
	BatchSize         int      `json:"batch_size" binding:"omitempty,min=1"`
	InterBatchDelayMs int      `json:"inter_batch_delay_ms" binding:"omitempty,min=0"`
	TriggeredBy       string   `json:"triggered_by"`
}

type SubmitJobResponse struct {
	JobId        string `json:"job_id"`
	TotalItems   int    `json:"total_items"`
	TotalBatches int    `json:"total_batches"`
	StatusUrl    string `json:"status_url"`
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}

const (
	defaultBatchSize         = 100
	defaultInterBatchDelayMs = 1000
)

// SubmitJobHandler accepts a batch push job. Item ids may be explicit or
// "all", which resolves to every entity currently needing a push.
func SubmitJobHandler(orchestrator *batchjob.Orchestrator, remote RemoteWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		store := syncstore.NewStore(db)
		pusher := NewPusher(db, store, remote, config.GetLogger())

		var req SubmitJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var validationErrors validator.ValidationErrors
			if errors.As(err, &validationErrors) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if !ValidEntityType(req.JobType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("job_type must be one of %v", EntityTypes())})
			return
		}

		itemIds := req.ItemIds
		if req.All || len(itemIds) == 0 {
			pending, err := pusher.ListPendingIds(c.Request.Context(), req.JobType)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			itemIds = pending
		}
		if len(itemIds) == 0 {
			c.JSON(http.StatusOK, gin.H{"message": "nothing to sync", "total_items": 0})
			return
		}

		batchSize := req.BatchSize
		if batchSize == 0 {
			batchSize = defaultBatchSize
		}
		delayMs := req.InterBatchDelayMs
		if delayMs == 0 {
			delayMs = defaultInterBatchDelayMs
		}

		pushFunc, err := pusher.PushFunc(req.JobType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		jobId, err := orchestrator.Submit(req.JobType, itemIds, batchSize, time.Duration(delayMs)*time.Millisecond, pushFunc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		triggeredBy := strings.TrimSpace(req.TriggeredBy)
		if triggeredBy == "" {
			triggeredBy = models.SyncTriggeredManual
		}
		if _, err := store.StartRun(c.Request.Context(), jobId, req.JobType, triggeredBy); err != nil {
			config.LogError(config.GetLogger(), moduleName, "SubmitJobHandler", "failed to open sync run", jobId, err)
		}

		totalBatches := (len(itemIds) + batchSize - 1) / batchSize
		c.JSON(http.StatusAccepted, SubmitJobResponse{
			JobId:        jobId,
			TotalItems:   len(itemIds),
			TotalBatches: totalBatches,
			StatusUrl:    "/api/sync/jobs/" + jobId,
		})
	}
}

func ListJobsHandler(orchestrator *batchjob.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		activeOnly := strings.EqualFold(c.Query("active"), "true")
		var jobs []batchjob.JobSnapshot
		if activeOnly {
			jobs = orchestrator.Registry().ActiveJobs()
		} else {
			jobs = orchestrator.Registry().AllJobs()
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
	}
}

func GetJobHandler(orchestrator *batchjob.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := orchestrator.GetStatus(c.Param("id"))
		if err != nil {
			if errors.Is(err, batchjob.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func CancelJobHandler(orchestrator *batchjob.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelJobRequest
		_ = c.ShouldBindJSON(&req)

		ok, err := orchestrator.Cancel(c.Param("id"), req.Reason)
		if err != nil {
			if errors.Is(err, batchjob.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "job already finished"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
	}
}

type PullRequest struct {
	EntityTypes []string `json:"entity_types"`
}

// PullHandler refreshes the local mirror tables from the manufacturing API.
// An empty body pulls every entity type.
func PullHandler(remote RemoteReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req PullRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		for _, entityType := range req.EntityTypes {
			if !ValidEntityType(entityType) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("entity type must be one of %v", EntityTypes())})
				return
			}
		}

		puller := NewPuller(config.GetDB(), remote, config.GetLogger())

		entityTypes := utils.UniqueSlice(req.EntityTypes)
		var results []PullResult
		var err error
		if len(entityTypes) == 0 {
			results, err = puller.PullAll(c.Request.Context())
		} else {
			for _, entityType := range entityTypes {
				var res *PullResult
				res, err = puller.Pull(c.Request.Context(), entityType)
				if err != nil {
					break
				}
				results = append(results, *res)
			}
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "results": results})
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// ClearErrorHandler resets an ERROR mapping back to PENDING after an
// operator correction.
func ClearErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store := syncstore.NewStore(config.GetDB())

		entityType := c.Param("entityType")
		localId := c.Param("localId")
		if !ValidEntityType(entityType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("entity type must be one of %v", EntityTypes())})
			return
		}
		if err := store.ClearError(c.Request.Context(), entityType, localId); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	}
}
