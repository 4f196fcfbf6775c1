package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusDraft     = "draft"
	OrderStatusConfirmed = "confirmed"
	OrderStatusFulfilled = "fulfilled"
	OrderStatusCancelled = "cancelled"
)

type SalesOrder struct {
	ID              int               `gorm:"primary_key" json:"id"`
	KatanaId        string            `gorm:"index;size:64" json:"katana_id"`
	OrderNo         string            `gorm:"index;size:100;not null" json:"order_no" binding:"required"`
	CustomerId      int               `gorm:"index;not null" json:"customer_id" binding:"required"`
	Status          string            `gorm:"size:20;not null;default:'draft'" json:"status"`
	Total           decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total"`
	CurrencyCode    string            `gorm:"size:10;default:'TRY'" json:"currency_code"`
	RemoteOrderCode string            `gorm:"size:128" json:"remote_order_code"`
	SyncedAt        *time.Time        `json:"synced_at"`
	Lines           []*SalesOrderLine `gorm:"foreignKey:SalesOrderId" json:"lines"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type SalesOrderLine struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null" json:"sales_order_id"`
	SKU          string          `gorm:"index;size:100;not null" json:"sku"`
	VariantId    string          `gorm:"size:64" json:"variant_id"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
