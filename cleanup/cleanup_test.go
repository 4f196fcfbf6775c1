package cleanup

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/katsync_backend/models"
)

// NOTE: These tests are intentionally DB-free; they cover the validation and
// normalization rules. Database paths are exercised by the integration tests.

func TestValidateSKU(t *testing.T) {
	cases := []struct {
		sku    string
		valid  bool
		strict bool
	}{
		{"WIDGET-A-STD", true, true},
		{" WIDGET-A-STD ", true, true},
		{"WIDGET-A", true, false},
		{"WIDGET", true, false},
		{"W1-A2-B3-C4", true, false},
		{"widget-a-std", false, false},
		{"WIDGET A STD", false, false},
		{"WIDGET--A", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		got := ValidateSKU(c.sku)
		if got.IsValid != c.valid || got.IsStrict != c.strict {
			t.Errorf("ValidateSKU(%q) = valid=%v strict=%v, want valid=%v strict=%v",
				c.sku, got.IsValid, got.IsStrict, c.valid, c.strict)
		}
		if !got.IsStrict && got.SuggestedFormat == "" && c.sku != "" {
			t.Errorf("ValidateSKU(%q): expected a format suggestion", c.sku)
		}
	}
}

func TestNormalizeOrderNo(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		changed bool
	}{
		{"SO-84", "SO-84", false},
		{"SO-SO-84", "SO-84", true},
		{"SO-SO-SO-84", "SO-84", true},
		{" SO-SO-9 ", "SO-9", true},
		{"ABC-ABC-123", "ABC-123", true},
		{"ABC-ABC-ABC-123", "ABC-123", true},
		// Distinct segments are a real order number, not a stutter.
		{"ABC-DEF-123", "ABC-DEF-123", false},
		{"PO-1001", "PO-1001", false},
	}
	for _, c := range cases {
		got, changed := NormalizeOrderNo(c.in)
		if got != c.want || changed != c.changed {
			t.Errorf("NormalizeOrderNo(%q) = (%q, %v), want (%q, %v)", c.in, got, changed, c.want, c.changed)
		}
	}
}

func TestPreferKeep(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	earlier := now.Add(-24 * time.Hour)

	synced := models.SalesOrder{ID: 4, SyncedAt: &now, CreatedAt: now}
	withRemote := models.SalesOrder{ID: 3, RemoteOrderCode: "INV-1", CreatedAt: earlier}
	oldest := models.SalesOrder{ID: 2, CreatedAt: earlier}
	newest := models.SalesOrder{ID: 1, CreatedAt: now}

	if !preferKeep(synced, withRemote) {
		t.Error("a synced order must win over one with just a remote code")
	}
	if !preferKeep(withRemote, oldest) {
		t.Error("a remote order code must win over a plain order")
	}
	if !preferKeep(oldest, newest) {
		t.Error("the earlier created order must win among plain orders")
	}

	tieA := models.SalesOrder{ID: 5, CreatedAt: now}
	tieB := models.SalesOrder{ID: 6, CreatedAt: now}
	if !preferKeep(tieA, tieB) || preferKeep(tieB, tieA) {
		t.Error("ties must break on the lower id")
	}
}
