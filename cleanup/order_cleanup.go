package cleanup

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Malformed order numbers produced by repeated imports:
// "SO-SO-84" (stuttered SO prefix) and "ABC-ABC-123" (any repeated prefix).
var (
	stutteredSOPattern    = regexp.MustCompile(`^(?:SO-)+SO-(\d+)$`)
	repeatedPrefixPattern = regexp.MustCompile(`^([A-Z]+-)(?:[A-Z]+-)+(\d+)$`)
)

// NormalizeOrderNo collapses malformed order numbers to their intended form
// and reports whether anything changed.
func NormalizeOrderNo(orderNo string) (string, bool) {
	orderNo = strings.TrimSpace(orderNo)
	if m := stutteredSOPattern.FindStringSubmatch(orderNo); m != nil {
		return "SO-" + m[1], true
	}
	if m := repeatedPrefixPattern.FindStringSubmatch(orderNo); m != nil {
		// Only collapse when every segment repeats the same prefix.
		prefix := m[1]
		body := strings.TrimSuffix(orderNo, m[2])
		collapsed := strings.ReplaceAll(body, prefix, "")
		if collapsed == "" {
			return prefix + m[2], true
		}
	}
	return orderNo, false
}

type DuplicateOrderGroup struct {
	Key        string              `json:"key"`
	Keep       models.SalesOrder   `json:"keep"`
	Duplicates []models.SalesOrder `json:"duplicates"`
}

type MalformedOrder struct {
	Order         models.SalesOrder `json:"order"`
	CorrectedNo   string            `json:"corrected_no"`
	MergeTargetId int               `json:"merge_target_id,omitempty"`
}

type OrderError struct {
	OrderId int    `json:"order_id"`
	OrderNo string `json:"order_no"`
	Message string `json:"message"`
}

type OrderCleanupResult struct {
	DryRun        bool         `json:"dry_run"`
	OrdersMerged  int          `json:"orders_merged"`
	OrdersDeleted int          `json:"orders_deleted"`
	OrdersRenamed int          `json:"orders_renamed"`
	LinesMoved    int          `json:"lines_moved"`
	LinesMerged   int          `json:"lines_merged"`
	Errors        []OrderError `json:"errors,omitempty"`
}

// keepRank orders candidates for survival: an order already synced to the
// accounting side wins, then one holding a remote order code, then the
// earliest created.
func keepRank(o models.SalesOrder) int {
	if o.SyncedAt != nil {
		return 0
	}
	if o.RemoteOrderCode != "" {
		return 1
	}
	return 2
}

func preferKeep(a, b models.SalesOrder) bool {
	ra, rb := keepRank(a), keepRank(b)
	if ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// AnalyzeDuplicateOrders loads all orders and returns duplicate groups
// (same normalized order number, customer and rounded total) plus malformed
// singletons that need a rename or merge.
func (s *Service) AnalyzeDuplicateOrders(ctx context.Context) ([]DuplicateOrderGroup, []MalformedOrder, error) {
	var orders []models.SalesOrder
	if err := s.db.WithContext(ctx).Preload("Lines").Find(&orders).Error; err != nil {
		return nil, nil, err
	}

	type groupEntry struct {
		key    string
		orders []models.SalesOrder
	}
	groupsByKey := make(map[string]*groupEntry)
	var keys []string
	for _, o := range orders {
		normalized, _ := NormalizeOrderNo(o.OrderNo)
		key := fmt.Sprintf("%s|%d|%s", normalized, o.CustomerId, o.Total.Round(2).String())
		entry, ok := groupsByKey[key]
		if !ok {
			entry = &groupEntry{key: key}
			groupsByKey[key] = entry
			keys = append(keys, key)
		}
		entry.orders = append(entry.orders, o)
	}

	inDuplicateGroup := make(map[int]bool)
	var groups []DuplicateOrderGroup
	for _, key := range keys {
		entry := groupsByKey[key]
		if len(entry.orders) < 2 {
			continue
		}
		sorted := make([]models.SalesOrder, len(entry.orders))
		copy(sorted, entry.orders)
		sort.Slice(sorted, func(i, j int) bool { return preferKeep(sorted[i], sorted[j]) })

		groups = append(groups, DuplicateOrderGroup{
			Key:        entry.key,
			Keep:       sorted[0],
			Duplicates: sorted[1:],
		})
		for _, o := range sorted {
			inDuplicateGroup[o.ID] = true
		}
	}

	// Malformed numbers outside any duplicate group: rename in place, or
	// merge when the corrected number already belongs to another order of
	// the same customer.
	ordersByNoCustomer := make(map[string]models.SalesOrder)
	for _, o := range orders {
		ordersByNoCustomer[fmt.Sprintf("%s|%d", o.OrderNo, o.CustomerId)] = o
	}

	var malformed []MalformedOrder
	for _, o := range orders {
		if inDuplicateGroup[o.ID] {
			continue
		}
		corrected, changed := NormalizeOrderNo(o.OrderNo)
		if !changed {
			continue
		}
		m := MalformedOrder{Order: o, CorrectedNo: corrected}
		if target, ok := ordersByNoCustomer[fmt.Sprintf("%s|%d", corrected, o.CustomerId)]; ok && target.ID != o.ID {
			m.MergeTargetId = target.ID
		}
		malformed = append(malformed, m)
	}
	return groups, malformed, nil
}

// CleanupOrders resolves duplicate groups and malformed order numbers.
// Every order-level failure is isolated: it is recorded on the result and
// the run continues. With dryRun the identical counts are computed but no
// domain row is touched; only flagged audit rows are written.
func (s *Service) CleanupOrders(ctx context.Context, dryRun bool, performedBy string) (*OrderCleanupResult, error) {
	groups, malformed, err := s.AnalyzeDuplicateOrders(ctx)
	if err != nil {
		return nil, err
	}

	result := &OrderCleanupResult{DryRun: dryRun}

	for _, group := range groups {
		for _, dup := range group.Duplicates {
			if err := s.mergeOrder(ctx, group.Keep, dup, dryRun, performedBy, result); err != nil {
				result.Errors = append(result.Errors, OrderError{OrderId: dup.ID, OrderNo: dup.OrderNo, Message: err.Error()})
				config.LogError(s.logger, moduleName, "CleanupOrders", "failed to merge duplicate order", dup.OrderNo, err)
			}
		}
	}

	for _, m := range malformed {
		if err := s.fixMalformedOrder(ctx, m, dryRun, performedBy, result); err != nil {
			result.Errors = append(result.Errors, OrderError{OrderId: m.Order.ID, OrderNo: m.Order.OrderNo, Message: err.Error()})
			config.LogError(s.logger, moduleName, "CleanupOrders", "failed to fix malformed order number", m.Order.OrderNo, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"module":  moduleName,
		"dryRun":  dryRun,
		"merged":  result.OrdersMerged,
		"deleted": result.OrdersDeleted,
		"renamed": result.OrdersRenamed,
		"errors":  len(result.Errors),
	}).Info("order cleanup finished")
	return result, nil
}

// mergeOrder folds the duplicate's lines onto the kept order and deletes the
// duplicate, all within one transaction per order.
func (s *Service) mergeOrder(ctx context.Context, keep models.SalesOrder, dup models.SalesOrder, dryRun bool, performedBy string, result *OrderCleanupResult) error {
	linesMoved, linesMerged := 0, 0

	keptBySKU := make(map[string]*models.SalesOrderLine)
	for _, line := range keep.Lines {
		keptBySKU[line.SKU+"|"+line.VariantId] = line
	}
	for _, line := range dup.Lines {
		if _, ok := keptBySKU[line.SKU+"|"+line.VariantId]; ok {
			linesMerged++
		} else {
			linesMoved++
		}
	}

	if !dryRun {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, line := range dup.Lines {
				if kept, ok := keptBySKU[line.SKU+"|"+line.VariantId]; ok {
					if err := tx.Model(&models.SalesOrderLine{}).
						Where("id = ?", kept.ID).
						Update("quantity", gorm.Expr("quantity + ?", line.Quantity)).Error; err != nil {
						return fmt.Errorf("merge line %d: %w", line.ID, err)
					}
					if err := tx.Delete(&models.SalesOrderLine{}, line.ID).Error; err != nil {
						return fmt.Errorf("delete merged line %d: %w", line.ID, err)
					}
				} else {
					if err := tx.Model(&models.SalesOrderLine{}).
						Where("id = ?", line.ID).
						Update("sales_order_id", keep.ID).Error; err != nil {
						return fmt.Errorf("move line %d: %w", line.ID, err)
					}
				}
			}
			if err := tx.Delete(&models.SalesOrder{}, dup.ID).Error; err != nil {
				return fmt.Errorf("delete duplicate order: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.auditOrder(ctx, models.CleanupActionMergeOrder, dup.OrderNo,
		fmt.Sprintf("merged into %s (id=%d): %d lines merged, %d lines moved", keep.OrderNo, keep.ID, linesMerged, linesMoved),
		dryRun, performedBy)
	s.auditOrder(ctx, models.CleanupActionDeleteOrder, dup.OrderNo,
		fmt.Sprintf("removed after merge into %s", keep.OrderNo), dryRun, performedBy)

	result.OrdersMerged++
	result.OrdersDeleted++
	result.LinesMoved += linesMoved
	result.LinesMerged += linesMerged
	return nil
}

func (s *Service) fixMalformedOrder(ctx context.Context, m MalformedOrder, dryRun bool, performedBy string, result *OrderCleanupResult) error {
	if m.MergeTargetId != 0 {
		var target models.SalesOrder
		if err := s.db.WithContext(ctx).Preload("Lines").First(&target, m.MergeTargetId).Error; err != nil {
			return fmt.Errorf("load merge target %d: %w", m.MergeTargetId, err)
		}
		return s.mergeOrder(ctx, target, m.Order, dryRun, performedBy, result)
	}

	if !dryRun {
		if err := s.db.WithContext(ctx).Model(&models.SalesOrder{}).
			Where("id = ?", m.Order.ID).
			Update("order_no", m.CorrectedNo).Error; err != nil {
			return fmt.Errorf("rename order: %w", err)
		}
	}
	s.auditOrder(ctx, models.CleanupActionRenameOrder, m.Order.OrderNo,
		fmt.Sprintf("renamed to %s", m.CorrectedNo), dryRun, performedBy)
	result.OrdersRenamed++
	return nil
}

func (s *Service) auditOrder(ctx context.Context, action string, reference string, detail string, dryRun bool, performedBy string) {
	row := models.CleanupActionLog{
		Action:      action,
		EntityType:  models.EntityTypeSalesOrder,
		Reference:   reference,
		Detail:      detail,
		DryRun:      dryRun,
		PerformedBy: performedBy,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		config.LogError(s.logger, moduleName, "auditOrder", "failed to write cleanup action log", reference, err)
	}
}
