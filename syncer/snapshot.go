package syncer

import (
	"os"

	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncstore"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
)

// Snapshots hold exactly the fields pushed to the remote side. Local
// bookkeeping (timestamps, ids, sync columns) stays out so it can never
// force a re-push on its own.

func productSnapshot(p models.Product) syncstore.Snapshot {
	return syncstore.Snapshot{
		"sku":         p.SKU,
		"name":        p.Name,
		"uom_code":    p.UomCode,
		"is_sellable": p.IsSellable == nil || *p.IsSellable,
	}
}

func customerSnapshot(c models.Customer) syncstore.Snapshot {
	return syncstore.Snapshot{
		"name":        c.Name,
		"email":       c.Email,
		"phone":       utils.NormalizePhoneE164(c.Phone, os.Getenv("DEFAULT_PHONE_REGION")),
		"tax_number":  c.TaxNumber,
		"tax_office":  c.TaxOffice,
		"address":     c.Address,
		"city":        c.City,
		"is_supplier": c.IsSupplier != nil && *c.IsSupplier,
	}
}

func orderSnapshot(o models.SalesOrder) syncstore.Snapshot {
	lines := make([]any, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, map[string]any{
			"sku":        line.SKU,
			"variant_id": line.VariantId,
			"quantity":   line.Quantity,
			"unit_price": line.UnitPrice,
		})
	}
	return syncstore.Snapshot{
		"order_no":    o.OrderNo,
		"customer_id": o.CustomerId,
		"currency":    o.CurrencyCode,
		"total":       o.Total,
		"issued_at":   o.CreatedAt,
		"lines":       lines,
	}
}

func locationSnapshot(l models.Location) syncstore.Snapshot {
	return syncstore.Snapshot{
		"code": l.RemoteDepotCode,
		"name": l.Name,
	}
}
