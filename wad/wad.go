// Package wad implements exact integer arithmetic over the 18-decimal
// fixed-point scale used for all price, size and fee math.
package wad

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed-point scale. One WAD unit is 10^18.
const Decimals = 18

var one = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// One returns 10^18 as a fresh big.Int.
func One() *big.Int {
	return new(big.Int).Set(one)
}

// FromInt scales a whole number into WAD.
func FromInt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), one)
}

// Mul multiplies two WAD values, truncating toward zero.
func Mul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, one)
}

// Div divides two WAD values, truncating toward zero.
func Div(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, one)
	return out.Quo(out, b)
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ToDecimals rescales a WAD value into a token's native decimal count.
// Truncates when the token has fewer than 18 decimals.
func ToDecimals(x *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(x)
	switch {
	case decimals == Decimals:
		return out
	case decimals < Decimals:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-decimals)), nil)
		return out.Quo(out, scale)
	default:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-Decimals), nil)
		return out.Mul(out, scale)
	}
}

// FromDecimals rescales a native-decimal value into WAD.
func FromDecimals(x *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(x)
	switch {
	case decimals == Decimals:
		return out
	case decimals < Decimals:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(Decimals-decimals)), nil)
		return out.Mul(out, scale)
	default:
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-Decimals), nil)
		return out.Quo(out, scale)
	}
}

// ParseDecimal converts a decimal string such as "1.05" or "0.01" into WAD.
// At most 18 fractional digits are accepted.
func ParseDecimal(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal string")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("too many fractional digits in %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	frac = frac + strings.Repeat("0", Decimals-len(frac))
	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal string %q", s)
	}
	if neg {
		out.Neg(out)
	}
	return out, nil
}
