package models

import "time"

const (
	EntityTypeProduct    = "product"
	EntityTypeCustomer   = "customer"
	EntityTypeSalesOrder = "sales_order"
	EntityTypeLocation   = "location"
)

const (
	SyncStatusPending = "PENDING"
	SyncStatusSynced  = "SYNCED"
	SyncStatusError   = "ERROR"
)

const (
	SyncTriggeredManual    = "manual"
	SyncTriggeredRetry     = "retry"
	SyncTriggeredScheduled = "scheduled"
)

// SyncMapping links one local entity to its record in the remote accounting
// system. A row is created in PENDING the first time an entity is seen and is
// never deleted while the local entity exists.
type SyncMapping struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	EntityType    string     `gorm:"uniqueIndex:idx_sync_mapping,priority:1;size:50;not null" json:"entity_type"`
	LocalId       string     `gorm:"uniqueIndex:idx_sync_mapping,priority:2;size:128;not null" json:"local_id"`
	RemoteCode    *string    `gorm:"size:128" json:"remote_code"`
	SyncStatus    string     `gorm:"size:20;not null;default:'PENDING'" json:"sync_status"`
	LastSyncHash  string     `gorm:"size:64" json:"last_sync_hash"`
	LastSyncError string     `gorm:"type:text" json:"last_sync_error"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	NextRetryAt   *time.Time `gorm:"index" json:"next_retry_at"`
	RetryCount    int        `gorm:"default:0" json:"retry_count"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	JobId         string     `gorm:"index;size:64" json:"job_id"`
	EntityType    string     `gorm:"index;size:50;not null" json:"entity_type"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RecordsSynced int        `json:"records_synced"`
	RecordsFailed int        `json:"records_failed"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunId  uint      `gorm:"index" json:"sync_run_id"`
	EntityType string    `gorm:"size:50" json:"entity_type"`
	LocalId    string    `gorm:"size:128" json:"local_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
