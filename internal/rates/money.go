package rates

import (
	"math/big"
	"strconv"
	"strings"
)

// ReferenceCurrency is the bookkeeping currency for all order amounts.
const ReferenceCurrency = "USD"

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimal = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

// NormalizeCurrency upper-cases and trims an ISO 4217 code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// Decimals returns the number of minor-unit digits for currency.
func Decimals(currency string) int {
	currency = NormalizeCurrency(currency)
	switch {
	case zeroDecimal[currency]:
		return 0
	case threeDecimal[currency]:
		return 3
	default:
		return 2
	}
}

// FromReference converts reference cents into currency minor units at
// rate (units of currency per USD), rounding half up once.
func FromReference(usdCents int64, rate float64, currency string) int64 {
	if usdCents <= 0 || rate <= 0 {
		return 0
	}
	r := new(big.Rat).SetInt64(usdCents)
	r.Mul(r, ratFromFloat(rate))
	r.Mul(r, pow10(Decimals(currency)))
	r.Quo(r, big.NewRat(100, 1))
	return RoundHalfUp(r)
}

// ToReference converts currency minor units back into reference cents.
func ToReference(amountMinor int64, rate float64, currency string) int64 {
	if amountMinor <= 0 || rate <= 0 {
		return 0
	}
	r := new(big.Rat).SetInt64(amountMinor)
	r.Mul(r, big.NewRat(100, 1))
	denom := ratFromFloat(rate)
	denom.Mul(denom, pow10(Decimals(currency)))
	r.Quo(r, denom)
	return RoundHalfUp(r)
}

// RoundHalfUp rounds a non-negative rational to the nearest integer, ties up.
func RoundHalfUp(r *big.Rat) int64 {
	num := new(big.Int).Mul(r.Num(), big.NewInt(2))
	num.Add(num, r.Denom())
	den := new(big.Int).Mul(r.Denom(), big.NewInt(2))
	return new(big.Int).Quo(num, den).Int64()
}

func ratFromFloat(f float64) *big.Rat {
	r, ok := new(big.Rat).SetString(trimFloat(f))
	if !ok {
		return new(big.Rat).SetFloat64(f)
	}
	return r
}

// trimFloat renders f in its shortest decimal form so 0.92 stays 92/100
// instead of the nearest binary fraction.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func pow10(n int) *big.Rat {
	return new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil))
}

// FormatMinor renders minor units as a decimal string, e.g. 1850 EUR as "18.50".
func FormatMinor(amountMinor int64, currency string) string {
	decimals := Decimals(currency)
	r := new(big.Rat).SetInt64(amountMinor)
	r.Quo(r, pow10(decimals))
	return r.FloatString(decimals)
}
