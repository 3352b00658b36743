package validator

import (
	"math"
	"strconv"
	"strings"
)

const (
	// MaxAmount is the largest major-unit amount accepted anywhere in checkout
	MaxAmount = 10_000_000.0
	// MaxCents is MaxAmount in minor units
	MaxCents = 1_000_000_000
)

// ParseNumber parses a numeric string. NaN, infinities and anything that is
// not a plain number are rejected.
func ParseNumber(value string) (float64, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !IsFinite(f) {
		return 0, false
	}
	return f, true
}

// IsFinite reports whether f is neither NaN nor an infinity
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NormalizeAmount returns value when it is a finite non-negative number and
// fallback otherwise. Amounts above MaxAmount are capped, so money math
// downstream never sees NaN, Inf or a value that overflows int cents.
func NormalizeAmount(value, fallback float64) float64 {
	if !IsFinite(value) || value < 0 {
		if !IsFinite(fallback) || fallback < 0 {
			return 0
		}
		value = fallback
	}
	return math.Min(value, MaxAmount)
}

// ToCents converts a major-unit amount to minor units, rounding half away
// from zero. The result is capped to [-MaxCents, MaxCents].
func ToCents(amount float64) int {
	if !IsFinite(amount) {
		return 0
	}
	amount = math.Max(-MaxAmount, math.Min(amount, MaxAmount))
	return int(math.Round(amount * 100))
}

// BoundedInt rounds f to an int. ok is false for NaN, infinities, negative
// values and anything above limit.
func BoundedInt(f float64, limit int) (int, bool) {
	if !IsFinite(f) || f < 0 || f > float64(limit) {
		return 0, false
	}
	return int(math.Round(f)), true
}

// ClampCents clamps cents into [0, limit]
func ClampCents(cents, limit int) int {
	if limit < 0 {
		limit = 0
	}
	if cents < 0 {
		return 0
	}
	if cents > limit {
		return limit
	}
	return cents
}
