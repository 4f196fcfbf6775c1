package syncstore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the change
// detection contract: a snapshot hash depends only on the values the remote
// side receives, never on the formatting the source system used.

func mustHash(t *testing.T, s Snapshot) string {
	t.Helper()
	h, err := ComputeHash(s)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	return h
}

func TestComputeHash_EquivalentFormattingMatches(t *testing.T) {
	istanbul := time.FixedZone("TRT", 3*60*60)
	a := Snapshot{
		"name":      "  Widget A ",
		"total":     decimal.RequireFromString("10.50"),
		"issued_at": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b := Snapshot{
		"name":      "Widget A",
		"total":     decimal.RequireFromString("10.5"),
		"issued_at": time.Date(2026, 3, 1, 15, 0, 0, 0, istanbul),
	}

	if ha, hb := mustHash(t, a), mustHash(t, b); ha != hb {
		t.Fatalf("equivalent snapshots hashed differently:\n%s\n%s", ha, hb)
	}
}

func TestComputeHash_ValueChangeChangesHash(t *testing.T) {
	base := Snapshot{"name": "Widget A", "qty": decimal.RequireFromString("3")}
	changed := Snapshot{"name": "Widget A", "qty": decimal.RequireFromString("4")}

	if mustHash(t, base) == mustHash(t, changed) {
		t.Fatal("different quantities produced the same hash")
	}
}

func TestComputeHash_NilPointersEqualNil(t *testing.T) {
	var sp *string
	var dp *decimal.Decimal
	var tp *time.Time

	a := Snapshot{"code": sp, "price": dp, "at": tp}
	b := Snapshot{"code": nil, "price": nil, "at": nil}

	if mustHash(t, a) != mustHash(t, b) {
		t.Fatal("nil typed pointers hashed differently from nil")
	}
}

func TestComputeHash_NestedLines(t *testing.T) {
	line := func(qty string) []any {
		return []any{map[string]any{
			"sku":      "WIDGET-A-STD",
			"quantity": decimal.RequireFromString(qty),
		}}
	}

	same := mustHash(t, Snapshot{"lines": line("2.0")})
	if same != mustHash(t, Snapshot{"lines": line("2")}) {
		t.Fatal("equivalent line quantities hashed differently")
	}
	if same == mustHash(t, Snapshot{"lines": line("3")}) {
		t.Fatal("changed line quantity did not change the hash")
	}
}

func TestRetryBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{50, time.Hour},
	}
	for _, c := range cases {
		if got := RetryBackoff(c.retryCount); got != c.want {
			t.Errorf("RetryBackoff(%d) = %s, want %s", c.retryCount, got, c.want)
		}
	}
}
