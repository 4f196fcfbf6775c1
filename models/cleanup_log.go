package models

import "time"

const (
	CleanupActionRenameOrder = "rename_order"
	CleanupActionMergeOrder  = "merge_order"
	CleanupActionDeleteOrder = "delete_order"
	CleanupActionRenameSKU   = "rename_sku"
	CleanupActionRemoveCard  = "remove_stock_card"
	CleanupActionUpdateCard  = "update_stock_card"
)

// CleanupActionLog is the audit trail for destructive maintenance operations.
// One row per action, dry runs included (flagged).
type CleanupActionLog struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	Action      string    `gorm:"index;size:50;not null" json:"action"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	Reference   string    `gorm:"size:255" json:"reference"`
	Detail      string    `gorm:"type:text" json:"detail"`
	DryRun      bool      `gorm:"default:false" json:"dry_run"`
	PerformedBy string    `gorm:"size:100" json:"performed_by"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
