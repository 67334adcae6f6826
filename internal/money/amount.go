// Package money implements fixed-point arithmetic for every balance, price,
// and fee the ledger touches. No binary float ever reaches a computation
// that affects a balance, per the exchange's decimal-arithmetic rule.
package money

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of fractional digits every amount is quantized to.
const Decimals = 8

// scale is 10^Decimals, the number of smallest units per whole coin.
var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Min and Max bound the amounts the exchange will accept on the wire,
// expressed in smallest units (10^-8 and 10^6 respectively).
var (
	Min = Amount(1)
	Max = Amount(1_000_000 * 100_000_000)
)

// Amount is a quantity of coin in units of 10^-8, stored as an int64.
// 10^6 whole coins at 8 fractional digits is 10^14, well within int64 range.
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// Parse converts a decimal wire string (up to 8 fractional digits) into an
// Amount, quantizing to the smallest unit. It rejects negative amounts,
// malformed input, and anything outside [Min, Max].
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if s[0] == '-' {
		return 0, fmt.Errorf("negative amount: %s", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("amount has more than %d fractional digits: %s", Decimals, s)
	}
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character in amount: %q", s)
		}
	}
	frac += strings.Repeat("0", Decimals-len(frac))

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %s", s)
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}

	a := Amount(n.Int64())
	if a < Min || a > Max {
		return 0, fmt.Errorf("amount %s out of range [%s, %s]", s, Min, Max)
	}
	return a, nil
}

// MustParse parses s and panics on error. Reserved for constants in tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a decimal string with trailing zeros trimmed.
func (a Amount) String() string {
	neg := a < 0
	n := int64(a)
	if neg {
		n = -n
	}

	whole := n / int64(1e8)
	frac := n % int64(1e8)

	fracStr := fmt.Sprintf("%08d", frac)
	fracStr = strings.TrimRight(fracStr, "0")

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	fmt.Fprintf(&sb, "%d", whole)
	if fracStr != "" {
		sb.WriteByte('.')
		sb.WriteString(fracStr)
	}
	return sb.String()
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Neg returns -a.
func (a Amount) Neg() Amount { return -a }

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether a is exactly zero.
func (a Amount) IsZero() bool { return a == 0 }

// Sign returns -1, 0, or 1 depending on the sign of a.
func (a Amount) Sign() int {
	switch {
	case a < 0:
		return -1
	case a > 0:
		return 1
	default:
		return 0
	}
}

// Mul multiplies two fixed-point amounts (e.g. price * amount, a quote
// volume), rounding the result down to the smallest unit. Intermediate
// arithmetic runs in big.Int to avoid overflow: two int64 values up to
// 10^14 multiply to up to 10^28, which does not fit in any machine int.
func (a Amount) Mul(b Amount) Amount {
	prod := new(big.Int).Mul(big.NewInt(int64(a)), big.NewInt(int64(b)))
	prod.Quo(prod, scale)
	if !prod.IsInt64() {
		panic(fmt.Sprintf("money: multiplication overflow: %s * %s", a, b))
	}
	return Amount(prod.Int64())
}
