package money

import "testing"

func TestParseAndString(t *testing.T) {
	cases := []struct {
		raw     string
		tinybar int64
		text    string
	}{
		{"10", 1_000_000_000, "10"},
		{"0.5", 50_000_000, "0.5"},
		{"0.00000001", 1, "0.00000001"},
		{"123.45", 12_345_000_000, "123.45"},
		{"0", 0, "0"},
	}
	for _, tc := range cases {
		amount, err := Parse(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if amount.Tinybar() != tc.tinybar {
			t.Fatalf("parse %q: expected %d tinybar, got %d", tc.raw, tc.tinybar, amount.Tinybar())
		}
		if amount.String() != tc.text {
			t.Fatalf("parse %q: expected text %q, got %q", tc.raw, tc.text, amount.String())
		}
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	for _, raw := range []string{"", "abc", "1.2.3", "0.123456789", "1e5"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseRejectsOverflow(t *testing.T) {
	overflowing := []string{
		"9223372036854775808",            // 超过 int64
		"92233720368.54775808",           // 恰好越过最大 tinybar
		"999999999999999999999999999999", // 整数位溢出后回绕
	}
	for _, raw := range overflowing {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected overflow error for %q", raw)
		}
	}
	// 最大可表示值本身仍然合法。
	max, err := Parse("92233720368.54775807")
	if err != nil {
		t.Fatalf("parse max: %v", err)
	}
	if max.Tinybar() != 9223372036854775807 {
		t.Fatalf("unexpected tinybar: %d", max.Tinybar())
	}
}

func TestRoundTripThroughText(t *testing.T) {
	original := MustParse("42.00000123")
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Amount
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Fatalf("expected %v, got %v", original, decoded)
	}
}
