package dedup

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Widget A ", "WIDGET A"},
		{"ürün  Gömlek", "URUN GOMLEK"},
		{"ÇİÇEK\tŞişe", "CICEK SISE"},
		{"WIDGET-A", "WIDGET-A"},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCollapseSeparators(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"WIDGET A", "WIDGET-A"},
		{"WIDGET_A", "WIDGET-A"},
		{"WIDGET-A", "WIDGET-A"},
		{"WIDGET - _ A", "WIDGET-A"},
		{"WIDGET", "WIDGET"},
	}
	for _, c := range cases {
		if got := CollapseSeparators(c.in); got != c.want {
			t.Errorf("CollapseSeparators(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStripVersionSuffix(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"WIDGET-A-V2", "WIDGET-A"},
		{"WIDGET-A-2", "WIDGET-A"},
		{"WIDGET-A (2)", "WIDGET-A"},
		{"WIDGET-A v2", "WIDGET-A"},
		{"WIDGET-AV2", "WIDGET-A"},
		{"WIDGET-A", "WIDGET-A"},
		// A name that is nothing but a version marker stays untouched.
		{"V2", "V2"},
	}
	for _, c := range cases {
		if got := StripVersionSuffix(c.in, nil); got != c.want {
			t.Errorf("StripVersionSuffix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestVersionNumber(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"WIDGET-A", 0},
		{"WIDGET-A-V2", 2},
		{"WIDGET-A (3)", 3},
		{"WIDGET-A v12", 12},
	}
	for _, c := range cases {
		if got := VersionNumber(c.in, nil); got != c.want {
			t.Errorf("VersionNumber(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSplitConcatenation(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"WIDGET-AWIDGET-A", "WIDGET-A", true},
		{"FOO-FOO", "FOO", true},
		{"BAR_BAR", "BAR", true},
		{"AB AB", "AB", true},
		{"WIDGET-A", "", false},
		{"ABC-DEF", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := SplitConcatenation(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("SplitConcatenation(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestMatchesCorrupted(t *testing.T) {
	if !MatchesCorrupted("?RUN G?MLEK", "URUN GOMLEK") {
		t.Error("expected wildcard match for placeholder characters")
	}
	if MatchesCorrupted("?RUN", "URUNLER") {
		t.Error("length mismatch must not match")
	}
	if MatchesCorrupted("?X", "YY") {
		t.Error("literal characters must still match exactly")
	}
}

func TestHasEncodingIssue(t *testing.T) {
	if !HasEncodingIssue("?RUN G?MLEK") || !HasEncodingIssue("�RUN") {
		t.Error("placeholder characters not detected")
	}
	if HasEncodingIssue("URUN GOMLEK") {
		t.Error("clean name flagged as corrupted")
	}
}

func TestHasSpecialCharacters(t *testing.T) {
	if HasSpecialCharacters("WIDGET-A 2") {
		t.Error("letters, digits, spaces and hyphens are not special")
	}
	if !HasSpecialCharacters("WIDGET@A") {
		t.Error("expected @ to be flagged")
	}
}
