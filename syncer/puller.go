package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/katsync_backend/config"
	"bitbucket.org/mmdatafocus/katsync_backend/katana"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RemoteReader is the slice of the manufacturing client the puller needs.
type RemoteReader interface {
	ListProducts(ctx context.Context) ([]katana.Product, error)
	ListCustomers(ctx context.Context) ([]katana.Customer, error)
	ListSalesOrders(ctx context.Context) ([]katana.SalesOrder, error)
	ListLocations(ctx context.Context) ([]katana.Location, error)
}

type PullResult struct {
	EntityType string `json:"entity_type"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
}

// Puller refreshes the local mirror tables from the manufacturing API ahead
// of a push run. Rows are matched on KatanaId; a pull creates and updates but
// never deletes, so local history survives upstream archival.
type Puller struct {
	db     *gorm.DB
	remote RemoteReader
	logger *logrus.Logger
}

func NewPuller(db *gorm.DB, remote RemoteReader, logger *logrus.Logger) *Puller {
	return &Puller{db: db, remote: remote, logger: logger}
}

// PullAll refreshes every mirror table. Customers come before orders because
// an order row references its customer's local id.
func (p *Puller) PullAll(ctx context.Context) ([]PullResult, error) {
	ordered := []string{
		models.EntityTypeLocation,
		models.EntityTypeProduct,
		models.EntityTypeCustomer,
		models.EntityTypeSalesOrder,
	}
	results := make([]PullResult, 0, len(ordered))
	for _, entityType := range ordered {
		res, err := p.Pull(ctx, entityType)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (p *Puller) Pull(ctx context.Context, entityType string) (*PullResult, error) {
	switch entityType {
	case models.EntityTypeProduct:
		return p.pullProducts(ctx)
	case models.EntityTypeCustomer:
		return p.pullCustomers(ctx)
	case models.EntityTypeSalesOrder:
		return p.pullSalesOrders(ctx)
	case models.EntityTypeLocation:
		return p.pullLocations(ctx)
	}
	return nil, fmt.Errorf("unknown entity type %q", entityType)
}

func (p *Puller) pullProducts(ctx context.Context) (*PullResult, error) {
	items, err := p.remote.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list katana products: %w", err)
	}
	res := &PullResult{EntityType: models.EntityTypeProduct, Fetched: len(items)}

	for _, item := range items {
		row, err := productFromKatana(item)
		if err != nil {
			res.Failed++
			config.LogError(p.logger, moduleName, "pullProducts", "skipping product", fmt.Sprint(item.ID), err)
			continue
		}

		var existing models.Product
		lookupErr := p.db.WithContext(ctx).Where("katana_id = ?", row.KatanaId).First(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullProducts", "failed to create product", row.SKU, err)
				continue
			}
			res.Created++
		case lookupErr != nil:
			return res, lookupErr
		default:
			if err := p.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", existing.ID).
				Updates(map[string]any{
					"sku":           row.SKU,
					"name":          row.Name,
					"variant_id":    row.VariantId,
					"category_name": row.CategoryName,
					"unit_price":    row.UnitPrice,
					"uom_code":      row.UomCode,
					"is_sellable":   row.IsSellable,
				}).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullProducts", "failed to update product", row.SKU, err)
				continue
			}
			res.Updated++
		}
	}
	p.logPull(res)
	return res, nil
}

func (p *Puller) pullCustomers(ctx context.Context) (*PullResult, error) {
	items, err := p.remote.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list katana customers: %w", err)
	}
	res := &PullResult{EntityType: models.EntityTypeCustomer, Fetched: len(items)}
	region := strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION"))
	if region == "" {
		region = "TR"
	}

	for _, item := range items {
		row, err := customerFromKatana(item)
		if err != nil {
			res.Failed++
			config.LogError(p.logger, moduleName, "pullCustomers", "skipping customer", fmt.Sprint(item.ID), err)
			continue
		}
		if row.Phone != "" {
			if err := utils.ValidatePhoneNumber(row.Phone, region); err != nil {
				p.logger.WithFields(logrus.Fields{
					"module":   moduleName,
					"customer": row.KatanaId,
				}).Warn("customer phone failed validation: " + err.Error())
			}
		}

		var existing models.Customer
		lookupErr := p.db.WithContext(ctx).Where("katana_id = ?", row.KatanaId).First(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullCustomers", "failed to create customer", row.KatanaId, err)
				continue
			}
			res.Created++
		case lookupErr != nil:
			return res, lookupErr
		default:
			if err := p.db.WithContext(ctx).Model(&models.Customer{}).Where("id = ?", existing.ID).
				Updates(map[string]any{
					"name":       row.Name,
					"email":      row.Email,
					"phone":      row.Phone,
					"tax_number": row.TaxNumber,
					"address":    row.Address,
					"city":       row.City,
					"country":    row.Country,
				}).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullCustomers", "failed to update customer", row.KatanaId, err)
				continue
			}
			res.Updated++
		}
	}
	p.logPull(res)
	return res, nil
}

func (p *Puller) pullSalesOrders(ctx context.Context) (*PullResult, error) {
	items, err := p.remote.ListSalesOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list katana sales orders: %w", err)
	}
	res := &PullResult{EntityType: models.EntityTypeSalesOrder, Fetched: len(items)}

	for _, item := range items {
		var customer models.Customer
		customerErr := p.db.WithContext(ctx).
			Where("katana_id = ?", strconv.FormatInt(item.CustomerId, 10)).
			First(&customer).Error
		if errors.Is(customerErr, gorm.ErrRecordNotFound) {
			res.Failed++
			config.LogError(p.logger, moduleName, "pullSalesOrders", "order references a customer not pulled yet",
				item.OrderNo, fmt.Errorf("katana customer %d not found", item.CustomerId))
			continue
		}
		if customerErr != nil {
			return res, customerErr
		}

		row, err := orderFromKatana(item, customer.ID)
		if err != nil {
			res.Failed++
			config.LogError(p.logger, moduleName, "pullSalesOrders", "skipping order", item.OrderNo, err)
			continue
		}

		var existing models.SalesOrder
		lookupErr := p.db.WithContext(ctx).Where("katana_id = ?", row.KatanaId).First(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullSalesOrders", "failed to create order", row.OrderNo, err)
				continue
			}
			res.Created++
		case lookupErr != nil:
			return res, lookupErr
		default:
			if err := p.replaceOrder(ctx, existing.ID, row); err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullSalesOrders", "failed to update order", row.OrderNo, err)
				continue
			}
			res.Updated++
		}
	}
	p.logPull(res)
	return res, nil
}

// replaceOrder updates the order header and swaps its line set for the
// upstream one in a single transaction.
func (p *Puller) replaceOrder(ctx context.Context, orderId int, row models.SalesOrder) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", orderId).
			Updates(map[string]any{
				"order_no":      row.OrderNo,
				"customer_id":   row.CustomerId,
				"status":        row.Status,
				"total":         row.Total,
				"currency_code": row.CurrencyCode,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("sales_order_id = ?", orderId).Delete(&models.SalesOrderLine{}).Error; err != nil {
			return err
		}
		for _, line := range row.Lines {
			line.SalesOrderId = orderId
			if err := tx.Create(line).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Puller) pullLocations(ctx context.Context) (*PullResult, error) {
	items, err := p.remote.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list katana locations: %w", err)
	}
	res := &PullResult{EntityType: models.EntityTypeLocation, Fetched: len(items)}

	for _, item := range items {
		row, err := locationFromKatana(item)
		if err != nil {
			res.Failed++
			config.LogError(p.logger, moduleName, "pullLocations", "skipping location", fmt.Sprint(item.ID), err)
			continue
		}

		var existing models.Location
		lookupErr := p.db.WithContext(ctx).Where("katana_id = ?", row.KatanaId).First(&existing).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullLocations", "failed to create location", row.KatanaId, err)
				continue
			}
			res.Created++
		case lookupErr != nil:
			return res, lookupErr
		default:
			// RemoteDepotCode is owned by the push side; never overwrite it.
			if err := p.db.WithContext(ctx).Model(&models.Location{}).Where("id = ?", existing.ID).
				Update("name", row.Name).Error; err != nil {
				res.Failed++
				config.LogError(p.logger, moduleName, "pullLocations", "failed to update location", row.KatanaId, err)
				continue
			}
			res.Updated++
		}
	}
	p.logPull(res)
	return res, nil
}

func (p *Puller) logPull(res *PullResult) {
	p.logger.WithFields(logrus.Fields{
		"module":     moduleName,
		"entityType": res.EntityType,
		"fetched":    res.Fetched,
		"created":    res.Created,
		"updated":    res.Updated,
		"failed":     res.Failed,
	}).Info("pull finished")
}

func productFromKatana(in katana.Product) (models.Product, error) {
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return models.Product{}, fmt.Errorf("product %d has no sku", in.ID)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Product{}, fmt.Errorf("product %s has no name", sku)
	}

	row := models.Product{
		KatanaId:     strconv.FormatInt(in.ID, 10),
		SKU:          sku,
		Name:         name,
		VariantId:    strings.TrimSpace(in.VariantId),
		CategoryName: strings.TrimSpace(in.CategoryName),
		UomCode:      strings.TrimSpace(in.UomCode),
	}
	// A missing or malformed price mirrors as zero rather than failing the row.
	if price, err := utils.ParseDecimal(in.SalesPrice); err == nil {
		row.UnitPrice = price
	}
	if in.IsSellable {
		row.IsSellable = utils.NewTrue()
	} else {
		row.IsSellable = utils.NewFalse()
	}
	return row, nil
}

func customerFromKatana(in katana.Customer) (models.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Customer{}, fmt.Errorf("customer %d has no name", in.ID)
	}
	return models.Customer{
		KatanaId:  strconv.FormatInt(in.ID, 10),
		Name:      name,
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		TaxNumber: strings.TrimSpace(in.TaxNumber),
		Address:   strings.TrimSpace(in.Address),
		City:      strings.TrimSpace(in.City),
		Country:   strings.TrimSpace(in.Country),
		IsActive:  utils.NewTrue(),
	}, nil
}

func orderFromKatana(in katana.SalesOrder, customerId int) (models.SalesOrder, error) {
	orderNo := strings.TrimSpace(in.OrderNo)
	if orderNo == "" {
		return models.SalesOrder{}, fmt.Errorf("order %d has no order number", in.ID)
	}

	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = models.OrderStatusDraft
	}
	currency := strings.TrimSpace(in.Currency)
	if currency == "" {
		currency = "TRY"
	}

	row := models.SalesOrder{
		KatanaId:     strconv.FormatInt(in.ID, 10),
		OrderNo:      orderNo,
		CustomerId:   customerId,
		Status:       status,
		CurrencyCode: currency,
	}
	if total, err := utils.ParseDecimal(in.Total); err == nil {
		row.Total = total
	}

	for _, r := range in.Rows {
		quantity, err := utils.ParseDecimal(r.Quantity)
		if err != nil {
			return models.SalesOrder{}, fmt.Errorf("order %s: row %s has invalid quantity %q", orderNo, r.SKU, r.Quantity)
		}
		line := models.SalesOrderLine{
			SKU:       strings.TrimSpace(r.SKU),
			VariantId: strings.TrimSpace(r.VariantId),
			Quantity:  quantity,
		}
		if price, err := utils.ParseDecimal(r.PricePerUnit); err == nil {
			line.UnitPrice = price
		}
		row.Lines = append(row.Lines, &line)
	}
	return row, nil
}

func locationFromKatana(in katana.Location) (models.Location, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Location{}, fmt.Errorf("location %d has no name", in.ID)
	}
	katanaId := strconv.FormatInt(in.ID, 10)
	return models.Location{
		KatanaId:        katanaId,
		Name:            name,
		RemoteDepotCode: "LOC-" + katanaId,
		IsActive:        utils.NewTrue(),
	}, nil
}
