package money

import "testing"

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"1.00000001", "1.00000001"},
		{"0.001", "0.001"},
		{"1000000", "1000000"},
		{"10.1", "10.1"},
	}
	for _, c := range cases {
		a, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", c.in, err)
		}
		if got := a.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseRejectsOutOfRange(t *testing.T) {
	if _, err := Parse("0"); err == nil {
		t.Error("expected error for zero amount below Min")
	}
	if _, err := Parse("1000001"); err == nil {
		t.Error("expected error for amount above Max")
	}
	if _, err := Parse("-1"); err == nil {
		t.Error("expected error for negative amount")
	}
	if _, err := Parse("1.123456789"); err == nil {
		t.Error("expected error for too many fractional digits")
	}
}

func TestMul(t *testing.T) {
	price := MustParse("1.00000000")
	amount := MustParse("10")
	got := price.Mul(amount)
	want := MustParse("10")
	if got != want {
		t.Errorf("Mul = %s, want %s", got, want)
	}

	// fee rate 0.001 applied to 10 BASE -> 0.01
	rate := MustParse("0.001")
	fee := amount.Mul(rate)
	if fee.String() != "0.01" {
		t.Errorf("fee = %s, want 0.01", fee)
	}
}

func TestAddSubCmp(t *testing.T) {
	a := MustParse("5")
	b := MustParse("3")
	if a.Add(b).String() != "8" {
		t.Errorf("Add mismatch")
	}
	if a.Sub(b).String() != "2" {
		t.Errorf("Sub mismatch")
	}
	if a.Cmp(b) != 1 || b.Cmp(a) != -1 || a.Cmp(a) != 0 {
		t.Errorf("Cmp mismatch")
	}
}
