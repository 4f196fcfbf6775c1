package utils

import "testing"

func TestNormalizePhoneE164(t *testing.T) {
	cases := []struct {
		in     string
		region string
		want   string
	}{
		{"0532 123 45 67", "TR", "+905321234567"},
		{"+90 532 123 45 67", "", "+905321234567"},
		{"  +90 532 123 45 67  ", "TR", "+905321234567"},
		// Unparseable input passes through trimmed rather than being lost.
		{" not-a-number ", "TR", "not-a-number"},
		{"", "TR", ""},
	}
	for _, c := range cases {
		if got := NormalizePhoneE164(c.in, c.region); got != c.want {
			t.Errorf("NormalizePhoneE164(%q, %q) = %q, want %q", c.in, c.region, got, c.want)
		}
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal(" 10.50 ")
	if err != nil {
		t.Fatalf("ParseDecimal: %v", err)
	}
	if d.String() != "10.5" {
		t.Errorf("unexpected value %s", d)
	}
	if _, err := ParseDecimal(""); err == nil {
		t.Error("empty string must fail")
	}
	if _, err := ParseDecimal("abc"); err == nil {
		t.Error("non-numeric string must fail")
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("UniqueSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UniqueSlice = %v, want %v", got, want)
		}
	}
}
