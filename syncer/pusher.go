package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/batchjob"
	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/koza"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncstore"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const moduleName = "syncer"

var tracer = otel.Tracer("katsync.syncer")

// RemoteWriter is the slice of the accounting client the pusher needs.
type RemoteWriter interface {
	CreateStockCard(ctx context.Context, card koza.StockCard) (*koza.StockCard, error)
	CreateCari(ctx context.Context, rec koza.CariRecord) (*koza.CariRecord, error)
	CreateDepot(ctx context.Context, depot koza.Depot) (*koza.Depot, error)
	CreateInvoice(ctx context.Context, inv koza.Invoice) (*koza.Invoice, error)
}

// Pusher turns local entities into one-way pushes against the accounting
// API, gated by the mapping store's change detection: an entity whose
// snapshot hash matches its last synced hash makes zero remote calls.
type Pusher struct {
	db     *gorm.DB
	store  *syncstore.Store
	remote RemoteWriter
	logger *logrus.Logger
}

func NewPusher(db *gorm.DB, store *syncstore.Store, remote RemoteWriter, logger *logrus.Logger) *Pusher {
	return &Pusher{db: db, store: store, remote: remote, logger: logger}
}

var entityTypes = []string{
	models.EntityTypeProduct,
	models.EntityTypeCustomer,
	models.EntityTypeSalesOrder,
	models.EntityTypeLocation,
}

func EntityTypes() []string {
	return entityTypes
}

func ValidEntityType(entityType string) bool {
	for _, t := range entityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

// PushFunc returns the per-item push function for an entity type, suitable
// for handing to the batch orchestrator.
func (p *Pusher) PushFunc(entityType string) (batchjob.ItemPusher, error) {
	switch entityType {
	case models.EntityTypeProduct:
		return p.pushProduct, nil
	case models.EntityTypeCustomer:
		return p.pushCustomer, nil
	case models.EntityTypeSalesOrder:
		return p.pushSalesOrder, nil
	case models.EntityTypeLocation:
		return p.pushLocation, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

// ListPendingIds returns the local ids that currently need a push for the
// given entity type: new, changed, or due for retry.
func (p *Pusher) ListPendingIds(ctx context.Context, entityType string) ([]string, error) {
	hashes, err := p.currentHashes(ctx, entityType)
	if err != nil {
		return nil, err
	}

	// Entities never seen before have no mapping row yet; GetOrCreate here
	// so ListPending sees them in PENDING.
	for localId := range hashes {
		if _, err := p.store.GetOrCreate(ctx, entityType, localId); err != nil {
			return nil, err
		}
	}

	pending, err := p.store.ListPending(ctx, entityType, hashes, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, m := range pending {
		ids = append(ids, m.LocalId)
	}
	return ids, nil
}

func (p *Pusher) currentHashes(ctx context.Context, entityType string) (map[string]string, error) {
	hashes := make(map[string]string)
	switch entityType {
	case models.EntityTypeProduct:
		var products []models.Product
		if err := p.db.WithContext(ctx).Find(&products).Error; err != nil {
			return nil, err
		}
		for _, prod := range products {
			h, err := syncstore.ComputeHash(productSnapshot(prod))
			if err != nil {
				return nil, err
			}
			hashes[prod.SKU] = h
		}
	case models.EntityTypeCustomer:
		var customers []models.Customer
		if err := p.db.WithContext(ctx).Find(&customers).Error; err != nil {
			return nil, err
		}
		for _, cust := range customers {
			h, err := syncstore.ComputeHash(customerSnapshot(cust))
			if err != nil {
				return nil, err
			}
			hashes[fmt.Sprint(cust.ID)] = h
		}
	case models.EntityTypeSalesOrder:
		var orders []models.SalesOrder
		if err := p.db.WithContext(ctx).Preload("Lines").Find(&orders).Error; err != nil {
			return nil, err
		}
		for _, order := range orders {
			h, err := syncstore.ComputeHash(orderSnapshot(order))
			if err != nil {
				return nil, err
			}
			hashes[fmt.Sprint(order.ID)] = h
		}
	case models.EntityTypeLocation:
		var locations []models.Location
		if err := p.db.WithContext(ctx).Find(&locations).Error; err != nil {
			return nil, err
		}
		for _, loc := range locations {
			h, err := syncstore.ComputeHash(locationSnapshot(loc))
			if err != nil {
				return nil, err
			}
			hashes[fmt.Sprint(loc.ID)] = h
		}
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return hashes, nil
}

// push is the shared gate-lock-push-mark sequence. snapshot and remoteCall
// close over the loaded entity.
func (p *Pusher) push(ctx context.Context, entityType string, localId string, snapshot syncstore.Snapshot, remoteCall func(ctx context.Context) (string, error)) error {
	ctx, span := tracer.Start(ctx, "syncer.push")
	defer span.End()

	hash, err := syncstore.ComputeHash(snapshot)
	if err != nil {
		return err
	}

	m, err := p.store.GetOrCreate(ctx, entityType, localId)
	if err != nil {
		return err
	}
	if m.SyncStatus == models.SyncStatusError {
		return fmt.Errorf("%s/%s is in ERROR state; clear the error before retrying", entityType, localId)
	}
	if m.SyncStatus == models.SyncStatusSynced && m.LastSyncHash == hash {
		// Unchanged since the last push.
		return nil
	}
	if m.NextRetryAt != nil && m.NextRetryAt.After(time.Now().UTC()) {
		// Still inside the retry backoff window; the next run will pick
		// it up.
		return nil
	}

	release, err := utils.EntityRedisLock(ctx, entityType, localId, moduleName, "push")
	if err != nil {
		return err
	}
	defer release()

	if err := utils.AcquireEntityLock(p.db, entityType, localId); err != nil {
		return err
	}
	defer utils.ReleaseEntityLock(p.db, entityType, localId)

	// Re-read under the lock; another pusher may have finished first.
	m, err = p.store.GetOrCreate(ctx, entityType, localId)
	if err != nil {
		return err
	}
	if m.SyncStatus == models.SyncStatusSynced && m.LastSyncHash == hash {
		return nil
	}

	remoteCode, pushErr := remoteCall(ctx)
	now := time.Now().UTC()
	if pushErr != nil {
		permanent := !koza.IsTemporary(pushErr)
		if markErr := p.store.MarkError(ctx, m, pushErr.Error(), now, permanent); markErr != nil {
			config.LogError(p.logger, moduleName, "push", "failed to record sync error", localId, markErr)
		}
		config.LogError(p.logger, moduleName, "push", "remote push failed", map[string]any{
			"entityType": entityType,
			"localId":    localId,
			"permanent":  permanent,
		}, pushErr)
		return pushErr
	}

	if err := p.store.MarkSynced(ctx, m, remoteCode, hash, now); err != nil {
		return err
	}
	p.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"entityType": entityType,
		"localId":    localId,
		"remoteCode": remoteCode,
	}).Debug("entity pushed")
	return nil
}

func (p *Pusher) pushProduct(ctx context.Context, sku string) error {
	var product models.Product
	if err := p.db.WithContext(ctx).Where("sku = ?", sku).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("product %s not found", sku)
		}
		return err
	}
	return p.push(ctx, models.EntityTypeProduct, product.SKU, productSnapshot(product), func(ctx context.Context) (string, error) {
		created, err := p.remote.CreateStockCard(ctx, koza.StockCard{
			Code:     product.SKU,
			Name:     product.Name,
			UomCode:  product.UomCode,
			IsActive: product.IsSellable == nil || *product.IsSellable,
		})
		if err != nil {
			return "", err
		}
		return created.Code, nil
	})
}

func (p *Pusher) pushCustomer(ctx context.Context, id string) error {
	var customer models.Customer
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("customer %s not found", id)
		}
		return err
	}
	return p.push(ctx, models.EntityTypeCustomer, fmt.Sprint(customer.ID), customerSnapshot(customer), func(ctx context.Context) (string, error) {
		created, err := p.remote.CreateCari(ctx, koza.CariRecord{
			Name:       customer.Name,
			TaxNumber:  customer.TaxNumber,
			TaxOffice:  customer.TaxOffice,
			Email:      customer.Email,
			Phone:      utils.NormalizePhoneE164(customer.Phone, os.Getenv("DEFAULT_PHONE_REGION")),
			Address:    customer.Address,
			City:       customer.City,
			IsSupplier: customer.IsSupplier != nil && *customer.IsSupplier,
		})
		if err != nil {
			return "", err
		}
		return created.Code, nil
	})
}

func (p *Pusher) pushSalesOrder(ctx context.Context, id string) error {
	var order models.SalesOrder
	if err := p.db.WithContext(ctx).Preload("Lines").Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("sales order %s not found", id)
		}
		return err
	}

	// The invoice references the customer's cari code; the customer must
	// have synced first.
	cariMapping, err := p.store.GetOrCreate(ctx, models.EntityTypeCustomer, fmt.Sprint(order.CustomerId))
	if err != nil {
		return err
	}
	if cariMapping.SyncStatus != models.SyncStatusSynced || cariMapping.RemoteCode == nil {
		return fmt.Errorf("customer %d has not been synced yet", order.CustomerId)
	}

	return p.push(ctx, models.EntityTypeSalesOrder, fmt.Sprint(order.ID), orderSnapshot(order), func(ctx context.Context) (string, error) {
		lines := make([]koza.InvoiceLine, 0, len(order.Lines))
		for _, line := range order.Lines {
			lines = append(lines, koza.InvoiceLine{
				StockCardCode: line.SKU,
				Quantity:      line.Quantity.String(),
				UnitPrice:     line.UnitPrice.String(),
			})
		}
		created, err := p.remote.CreateInvoice(ctx, koza.Invoice{
			Code:         order.OrderNo,
			CariCode:     *cariMapping.RemoteCode,
			CurrencyCode: order.CurrencyCode,
			Total:        order.Total.String(),
			IssuedAt:     order.CreatedAt.UTC(),
			Lines:        lines,
		})
		if err != nil {
			return "", err
		}

		now := time.Now().UTC()
		if err := p.db.WithContext(ctx).Model(&models.SalesOrder{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{"remote_order_code": created.Code, "synced_at": now}).Error; err != nil {
			config.LogError(p.logger, moduleName, "pushSalesOrder", "failed to record remote order code", order.OrderNo, err)
		}
		return created.Code, nil
	})
}

func (p *Pusher) pushLocation(ctx context.Context, id string) error {
	var location models.Location
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&location).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("location %s not found", id)
		}
		return err
	}
	return p.push(ctx, models.EntityTypeLocation, fmt.Sprint(location.ID), locationSnapshot(location), func(ctx context.Context) (string, error) {
		created, err := p.remote.CreateDepot(ctx, koza.Depot{
			Code: location.RemoteDepotCode,
			Name: location.Name,
		})
		if err != nil {
			return "", err
		}
		return created.Code, nil
	})
}
