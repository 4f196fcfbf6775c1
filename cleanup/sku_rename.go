package cleanup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const moduleName = "cleanup"

// Strict form is PRODUCT-VARIANT-ATTRIBUTE; the relaxed form accepts any
// number of hyphenated uppercase alphanumeric segments.
var (
	strictSKUPattern  = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+-[A-Z0-9]+$`)
	relaxedSKUPattern = regexp.MustCompile(`^[A-Z0-9]+(-[A-Z0-9]+)*$`)
)

type SKUValidationResult struct {
	SKU             string `json:"sku"`
	IsValid         bool   `json:"is_valid"`
	IsStrict        bool   `json:"is_strict"`
	Message         string `json:"message,omitempty"`
	SuggestedFormat string `json:"suggested_format,omitempty"`
}

// ValidateSKU checks a SKU against the strict three-segment convention and
// falls back to the relaxed form with a suggestion.
func ValidateSKU(sku string) SKUValidationResult {
	sku = strings.TrimSpace(sku)
	result := SKUValidationResult{SKU: sku}

	if sku == "" {
		result.Message = "SKU is empty"
		return result
	}
	if strictSKUPattern.MatchString(sku) {
		result.IsValid = true
		result.IsStrict = true
		return result
	}
	if relaxedSKUPattern.MatchString(sku) {
		result.IsValid = true
		result.Message = "SKU does not follow the PRODUCT-VARIANT-ATTRIBUTE convention"
		result.SuggestedFormat = "PRODUCT-VARIANT-ATTRIBUTE"
		return result
	}
	result.Message = "SKU must be uppercase alphanumeric segments separated by hyphens"
	result.SuggestedFormat = "PRODUCT-VARIANT-ATTRIBUTE"
	return result
}

type RenamePreview struct {
	OldSKU            string `json:"old_sku"`
	NewSKU            string `json:"new_sku"`
	Products          int64  `json:"products"`
	SalesOrderLines   int64  `json:"sales_order_lines"`
	StockMovements    int64  `json:"stock_movements"`
	SyncMappings      int64  `json:"sync_mappings"`
	TotalAffectedRows int64  `json:"total_affected_rows"`
}

type RenameResult struct {
	RenamePreview
	Executed bool `json:"executed"`
}

type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// PreviewRename validates both SKUs, checks for collisions and counts the
// rows an execution would touch, without writing anything.
func (s *Service) PreviewRename(ctx context.Context, oldSKU string, newSKU string) (*RenamePreview, error) {
	oldSKU = strings.TrimSpace(oldSKU)
	newSKU = strings.TrimSpace(newSKU)

	if oldSKU == newSKU {
		return nil, errors.New("old and new SKU are identical")
	}
	if v := ValidateSKU(newSKU); !v.IsValid {
		return nil, fmt.Errorf("new SKU is invalid: %s", v.Message)
	}

	db := s.db.WithContext(ctx)

	var oldCount int64
	if err := db.Model(&models.Product{}).Where("sku = ?", oldSKU).Count(&oldCount).Error; err != nil {
		return nil, err
	}
	if oldCount == 0 {
		return nil, fmt.Errorf("no product found with SKU %s", oldSKU)
	}

	var collision int64
	if err := db.Model(&models.Product{}).Where("sku = ?", newSKU).Count(&collision).Error; err != nil {
		return nil, err
	}
	if collision > 0 {
		return nil, fmt.Errorf("a product with SKU %s already exists", newSKU)
	}

	preview := RenamePreview{OldSKU: oldSKU, NewSKU: newSKU, Products: oldCount}
	if err := db.Model(&models.SalesOrderLine{}).Where("sku = ?", oldSKU).Count(&preview.SalesOrderLines).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.StockMovement{}).Where("sku = ?", oldSKU).Count(&preview.StockMovements).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.SyncMapping{}).
		Where("entity_type = ? AND local_id = ?", models.EntityTypeProduct, oldSKU).
		Count(&preview.SyncMappings).Error; err != nil {
		return nil, err
	}
	preview.TotalAffectedRows = preview.Products + preview.SalesOrderLines + preview.StockMovements + preview.SyncMappings
	return &preview, nil
}

// ExecuteRename performs the cascading rename in one transaction; any
// failure rolls the whole rename back. Re-running after success is a no-op
// error (the old SKU no longer exists).
func (s *Service) ExecuteRename(ctx context.Context, oldSKU string, newSKU string, performedBy string) (*RenameResult, error) {
	preview, err := s.PreviewRename(ctx, oldSKU, newSKU)
	if err != nil {
		return nil, err
	}

	result := RenameResult{RenamePreview: *preview}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Product{}).Where("sku = ?", oldSKU).
			Update("sku", newSKU).Error; err != nil {
			return fmt.Errorf("rename products: %w", err)
		}
		if err := tx.Model(&models.SalesOrderLine{}).Where("sku = ?", oldSKU).
			Update("sku", newSKU).Error; err != nil {
			return fmt.Errorf("rename sales order lines: %w", err)
		}
		if err := tx.Model(&models.StockMovement{}).Where("sku = ?", oldSKU).
			Update("sku", newSKU).Error; err != nil {
			return fmt.Errorf("rename stock movements: %w", err)
		}
		if err := tx.Model(&models.SyncMapping{}).
			Where("entity_type = ? AND local_id = ?", models.EntityTypeProduct, oldSKU).
			Update("local_id", newSKU).Error; err != nil {
			return fmt.Errorf("rename sync mappings: %w", err)
		}

		logRow := models.CleanupActionLog{
			Action:      models.CleanupActionRenameSKU,
			EntityType:  models.EntityTypeProduct,
			Reference:   oldSKU,
			Detail:      fmt.Sprintf("renamed to %s; rows: products=%d lines=%d movements=%d mappings=%d", newSKU, preview.Products, preview.SalesOrderLines, preview.StockMovements, preview.SyncMappings),
			PerformedBy: performedBy,
		}
		return tx.Create(&logRow).Error
	})
	if err != nil {
		return nil, err
	}

	result.Executed = true
	s.logger.WithFields(logrus.Fields{
		"module": moduleName,
		"oldSku": oldSKU,
		"newSku": newSKU,
		"rows":   result.TotalAffectedRows,
		"user":   performedBy,
	}).Info("sku renamed")
	return &result, nil
}
