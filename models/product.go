package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product mirrors a sellable item pulled from the manufacturing system. SKU is
// the business key used for matching against remote stock cards; KatanaId is
// the upstream identifier.
type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	KatanaId     string          `gorm:"index;size:64" json:"katana_id"`
	SKU          string          `gorm:"uniqueIndex;size:100;not null" json:"sku" binding:"required"`
	Name         string          `gorm:"size:255;not null" json:"name" binding:"required"`
	VariantId    string          `gorm:"size:64" json:"variant_id"`
	CategoryName string          `gorm:"size:100" json:"category_name"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	UomCode      string          `gorm:"size:20" json:"uom_code"`
	IsSellable   *bool           `gorm:"not null;default:true" json:"is_sellable"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
