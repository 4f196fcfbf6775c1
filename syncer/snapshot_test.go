package syncer

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/models"
	"bitbucket.org/mmdatafocus/katsync_backend/syncstore"
	"bitbucket.org/mmdatafocus/katsync_backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They pin down which fields
// participate in change detection: bookkeeping columns must never force a
// re-push, pushed fields always must.

func hashOf(t *testing.T, s syncstore.Snapshot) string {
	t.Helper()
	h, err := syncstore.ComputeHash(s)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	return h
}

func TestProductSnapshot_IgnoresBookkeeping(t *testing.T) {
	base := models.Product{
		ID:        1,
		SKU:       "WIDGET-A-STD",
		Name:      "Widget A",
		UomCode:   "pcs",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	touched := base
	touched.ID = 999
	touched.KatanaId = "k-42"
	touched.UpdatedAt = time.Now()
	touched.UnitPrice = decimal.RequireFromString("99.99")

	if hashOf(t, productSnapshot(base)) != hashOf(t, productSnapshot(touched)) {
		t.Fatal("bookkeeping changes must not change the product hash")
	}

	renamed := base
	renamed.Name = "Widget A Pro"
	if hashOf(t, productSnapshot(base)) == hashOf(t, productSnapshot(renamed)) {
		t.Fatal("a rename must change the product hash")
	}
}

func TestProductSnapshot_NilSellableDefaultsTrue(t *testing.T) {
	implicit := models.Product{SKU: "WIDGET-A-STD", Name: "Widget A"}
	explicit := implicit
	explicit.IsSellable = utils.NewTrue()

	if hashOf(t, productSnapshot(implicit)) != hashOf(t, productSnapshot(explicit)) {
		t.Fatal("nil IsSellable must hash like an explicit true")
	}
}

func TestCustomerSnapshot_PhoneFormattingIsNormalized(t *testing.T) {
	t.Setenv("DEFAULT_PHONE_REGION", "TR")

	a := models.Customer{Name: "Acme", Phone: "0532 123 45 67"}
	b := models.Customer{Name: "Acme", Phone: "+90 532 123 45 67"}

	if hashOf(t, customerSnapshot(a)) != hashOf(t, customerSnapshot(b)) {
		t.Fatal("equivalent phone formats must hash identically")
	}
}

func TestOrderSnapshot_LinesParticipate(t *testing.T) {
	issued := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	order := func(qty string) models.SalesOrder {
		return models.SalesOrder{
			OrderNo:      "SO-84",
			CustomerId:   7,
			CurrencyCode: "TRY",
			Total:        decimal.RequireFromString("120.00"),
			CreatedAt:    issued,
			Lines: []*models.SalesOrderLine{{
				SKU:      "WIDGET-A-STD",
				Quantity: decimal.RequireFromString(qty),
			}},
		}
	}

	if hashOf(t, orderSnapshot(order("2"))) != hashOf(t, orderSnapshot(order("2.0"))) {
		t.Fatal("equivalent quantities must hash identically")
	}
	if hashOf(t, orderSnapshot(order("2"))) == hashOf(t, orderSnapshot(order("3"))) {
		t.Fatal("a quantity change must change the order hash")
	}

	resynced := order("2")
	now := time.Now()
	resynced.RemoteOrderCode = "INV-9"
	resynced.SyncedAt = &now
	if hashOf(t, orderSnapshot(order("2"))) != hashOf(t, orderSnapshot(resynced)) {
		t.Fatal("sync bookkeeping must not change the order hash")
	}
}

func TestEntityTypes(t *testing.T) {
	for _, et := range EntityTypes() {
		if !ValidEntityType(et) {
			t.Errorf("%q should be valid", et)
		}
	}
	if ValidEntityType("invoice") {
		t.Error("unknown entity type accepted")
	}
}
