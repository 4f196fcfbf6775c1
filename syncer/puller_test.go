package syncer

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/katana"
	"bitbucket.org/mmdatafocus/katsync_backend/models"
)

// NOTE: These tests cover the pure conversion layer; the upsert paths run
// against a real database in the integration tests.

func TestProductFromKatana(t *testing.T) {
	row, err := productFromKatana(katana.Product{
		ID:         42,
		SKU:        " WIDGET-A-STD ",
		Name:       " Widget A ",
		SalesPrice: "10.50",
		UomCode:    "pcs",
		IsSellable: true,
	})
	if err != nil {
		t.Fatalf("productFromKatana: %v", err)
	}
	if row.KatanaId != "42" || row.SKU != "WIDGET-A-STD" || row.Name != "Widget A" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.UnitPrice.String() != "10.5" {
		t.Errorf("unexpected price %s", row.UnitPrice)
	}
	if row.IsSellable == nil || !*row.IsSellable {
		t.Error("sellable flag not carried over")
	}

	notSellable, err := productFromKatana(katana.Product{ID: 43, SKU: "X-1", Name: "X", IsSellable: false})
	if err != nil {
		t.Fatalf("productFromKatana: %v", err)
	}
	if notSellable.IsSellable == nil || *notSellable.IsSellable {
		t.Error("non-sellable product must mirror as not sellable")
	}
	// Malformed prices mirror as zero rather than failing the row.
	if !notSellable.UnitPrice.IsZero() {
		t.Errorf("expected zero price, got %s", notSellable.UnitPrice)
	}

	if _, err := productFromKatana(katana.Product{ID: 44, Name: "No SKU"}); err == nil {
		t.Error("expected error for a product without a sku")
	}
	if _, err := productFromKatana(katana.Product{ID: 45, SKU: "Y-1"}); err == nil {
		t.Error("expected error for a product without a name")
	}
}

func TestCustomerFromKatana(t *testing.T) {
	row, err := customerFromKatana(katana.Customer{
		ID:    7,
		Name:  " Acme Ltd ",
		Email: "billing@acme.example",
		Phone: " 0532 123 45 67 ",
		City:  "Istanbul",
	})
	if err != nil {
		t.Fatalf("customerFromKatana: %v", err)
	}
	if row.KatanaId != "7" || row.Name != "Acme Ltd" || row.Phone != "0532 123 45 67" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.IsActive == nil || !*row.IsActive {
		t.Error("pulled customers must start active")
	}

	if _, err := customerFromKatana(katana.Customer{ID: 8}); err == nil {
		t.Error("expected error for a customer without a name")
	}
}

func TestOrderFromKatana(t *testing.T) {
	in := katana.SalesOrder{
		ID:         100,
		OrderNo:    " SO-84 ",
		CustomerId: 7,
		Status:     "CONFIRMED",
		Currency:   "",
		Total:      "120.00",
		CreatedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Rows: []katana.SalesOrderRow{
			{SKU: "WIDGET-A-STD", Quantity: "2", PricePerUnit: "10"},
			{SKU: "GIZMO-B-STD", Quantity: "1.5"},
		},
	}
	row, err := orderFromKatana(in, 3)
	if err != nil {
		t.Fatalf("orderFromKatana: %v", err)
	}
	if row.OrderNo != "SO-84" || row.CustomerId != 3 || row.KatanaId != "100" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Status != models.OrderStatusConfirmed {
		t.Errorf("unexpected status %q", row.Status)
	}
	if row.CurrencyCode != "TRY" {
		t.Errorf("expected TRY default, got %q", row.CurrencyCode)
	}
	if row.Total.String() != "120" {
		t.Errorf("unexpected total %s", row.Total)
	}
	if len(row.Lines) != 2 || row.Lines[1].Quantity.String() != "1.5" {
		t.Fatalf("unexpected lines: %+v", row.Lines)
	}

	in.Rows[0].Quantity = "abc"
	if _, err := orderFromKatana(in, 3); err == nil {
		t.Error("expected error for an unparseable quantity")
	}

	if _, err := orderFromKatana(katana.SalesOrder{ID: 101}, 3); err == nil {
		t.Error("expected error for an order without an order number")
	}
}

func TestLocationFromKatana(t *testing.T) {
	row, err := locationFromKatana(katana.Location{ID: 5, Name: " Main Warehouse "})
	if err != nil {
		t.Fatalf("locationFromKatana: %v", err)
	}
	if row.KatanaId != "5" || row.Name != "Main Warehouse" || row.RemoteDepotCode != "LOC-5" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if _, err := locationFromKatana(katana.Location{ID: 6}); err == nil {
		t.Error("expected error for a location without a name")
	}
}
