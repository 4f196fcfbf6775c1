package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID         int             `gorm:"primary_key" json:"id"`
	KatanaId   string          `gorm:"index;size:64" json:"katana_id"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Email      string          `gorm:"size:100" json:"email"`
	Phone      string          `gorm:"size:30" json:"phone"`
	TaxNumber  string          `gorm:"size:30" json:"tax_number"`
	TaxOffice  string          `gorm:"size:100" json:"tax_office"`
	Address    string          `gorm:"type:text" json:"address"`
	City       string          `gorm:"size:100" json:"city"`
	Country    string          `gorm:"size:100" json:"country"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	IsSupplier *bool           `gorm:"not null;default:false" json:"is_supplier"`
	IsActive   *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
