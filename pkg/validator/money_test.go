package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
		name     string
	}{
		{"115", 115, true, "Integer"},
		{"115.50", 115.5, true, "Decimal"},
		{" 42 ", 42, true, "Whitespace"},
		{"-3", -3, true, "Negative parses"},
		{"NaN", 0, false, "NaN"},
		{"Infinity", 0, false, "Infinity"},
		{"-Inf", 0, false, "Negative infinity"},
		{"abc", 0, false, "Garbage"},
		{"", 0, false, "Empty"},
		{"12abc", 0, false, "Trailing garbage"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			value, ok := ParseNumber(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, value)
		})
	}
}

func TestNormalizeAmount_AlwaysFiniteNonNegative(t *testing.T) {
	inputs := []float64{0, 1, 115, 99.99, -1, math.NaN(), math.Inf(1), math.Inf(-1), math.MaxFloat64}
	fallbacks := []float64{0, 50, math.NaN(), -10}

	for _, in := range inputs {
		for _, fb := range fallbacks {
			out := NormalizeAmount(in, fb)
			assert.True(t, IsFinite(out), "input %v fallback %v", in, fb)
			assert.GreaterOrEqual(t, out, 0.0, "input %v fallback %v", in, fb)
		}
	}

	assert.Equal(t, 115.0, NormalizeAmount(115, 0))
	assert.Equal(t, 50.0, NormalizeAmount(math.NaN(), 50))
	assert.Equal(t, 50.0, NormalizeAmount(-4, 50))
	assert.Equal(t, 0.0, NormalizeAmount(math.Inf(1), math.NaN()))
}

func TestNormalizeAmount_HugeValues(t *testing.T) {
	tests := []struct {
		value    float64
		fallback float64
		expected float64
		name     string
	}{
		{1e300, 0, MaxAmount, "Far above the ceiling"},
		{math.MaxFloat64, 50, MaxAmount, "Largest float"},
		{MaxAmount, 0, MaxAmount, "At the ceiling"},
		{MaxAmount + 0.01, 0, MaxAmount, "Just above the ceiling"},
		{-1e300, 50, 50, "Huge negative uses fallback"},
		{-1, 1e300, MaxAmount, "Huge fallback is capped"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeAmount(tc.value, tc.fallback))
		})
	}
}

func TestToCents(t *testing.T) {
	tests := []struct {
		amount   float64
		expected int
		name     string
	}{
		{115, 11500, "Whole amount"},
		{19.99, 1999, "Decimal amount"},
		{0.005, 1, "Half cent rounds up"},
		{math.NaN(), 0, "NaN"},
		{math.Inf(1), 0, "Infinity"},
		{1e300, MaxCents, "Huge amount is capped"},
		{-1e300, -MaxCents, "Huge negative amount is capped"},
		{math.MaxFloat64, MaxCents, "Largest float"},
		{MaxAmount, MaxCents, "At the ceiling"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ToCents(tc.amount))
		})
	}
}

func TestBoundedInt(t *testing.T) {
	tests := []struct {
		value    float64
		limit    int
		expected int
		ok       bool
		name     string
	}{
		{60, 1440, 60, true, "In range"},
		{59.6, 1440, 60, true, "Rounds"},
		{1440, 1440, 1440, true, "At the limit"},
		{1441, 1440, 0, false, "Above the limit"},
		{1e300, MaxCents, 0, false, "Huge"},
		{-1, 1440, 0, false, "Negative"},
		{math.NaN(), 1440, 0, false, "NaN"},
		{math.Inf(1), 1440, 0, false, "Infinity"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			value, ok := BoundedInt(tc.value, tc.limit)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, value)
		})
	}
}

func TestClampCents(t *testing.T) {
	assert.Equal(t, 0, ClampCents(-10, 500))
	assert.Equal(t, 500, ClampCents(900, 500))
	assert.Equal(t, 250, ClampCents(250, 500))
	assert.Equal(t, 0, ClampCents(250, -1))
}
