package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	MovementTypeIn         = "in"
	MovementTypeOut        = "out"
	MovementTypeAdjustment = "adjustment"
	MovementTypeTransfer   = "transfer"
)

type StockMovement struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SKU          string          `gorm:"index;size:100;not null" json:"sku"`
	VariantId    string          `gorm:"size:64" json:"variant_id"`
	LocationId   int             `gorm:"index" json:"location_id"`
	MovementType string          `gorm:"size:20;not null" json:"movement_type"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Reference    string          `gorm:"size:128" json:"reference"`
	MovedAt      time.Time       `json:"moved_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type Location struct {
	ID              int       `gorm:"primary_key" json:"id"`
	KatanaId        string    `gorm:"index;size:64" json:"katana_id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	RemoteDepotCode string    `gorm:"size:64" json:"remote_depot_code"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
