package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClock_ValidInputs(t *testing.T) {
	validClocks := []struct {
		input    string
		expected string
		name     string
	}{
		{"09:30", "09:30", "24h HH:MM"},
		{"9:30", "09:30", "24h single digit hour"},
		{"14:05:59", "14:05", "24h with seconds"},
		{"00:00", "00:00", "Midnight"},
		{"23:59", "23:59", "Last minute"},
		{"9:30am", "09:30", "12h am"},
		{"9:30pm", "21:30", "12h pm"},
		{"12:00am", "00:00", "12 am is midnight"},
		{"12:15pm", "12:15", "12 pm is noon"},
		{"3:45 PM", "15:45", "Uppercase with space"},
		{"7pm", "19:00", "Hour only"},
		{"8:00 a.m.", "08:00", "Dotted am"},
		{"  10:00  ", "10:00", "Surrounding whitespace"},
	}

	for _, tc := range validClocks {
		t.Run(tc.name, func(t *testing.T) {
			clock, ok := NormalizeClock(tc.input)
			require.True(t, ok)
			assert.Equal(t, tc.expected, clock)
		})
	}
}

func TestNormalizeClock_InvalidInputs(t *testing.T) {
	invalidClocks := []struct {
		input string
		name  string
	}{
		{"", "Empty string"},
		{"noon", "Word"},
		{"24:00", "Hour out of range"},
		{"10:60", "Minute out of range"},
		{"10:30:75", "Second out of range"},
		{"13:00pm", "12h hour out of range"},
		{"0:30am", "Zero hour in 12h form"},
		{"1030", "Missing separator"},
		{"10:3", "Single digit minute"},
		{"ten thirty", "Spelled out"},
	}

	for _, tc := range invalidClocks {
		t.Run(tc.name, func(t *testing.T) {
			clock, ok := NormalizeClock(tc.input)
			assert.False(t, ok)
			assert.Empty(t, clock)
		})
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
		name     string
	}{
		{"2025-03-14", "2025-03-14", true, "Plain date"},
		{"2025-03-14T10:00:00Z", "2025-03-14", true, "RFC3339 UTC"},
		{"2025-03-14T23:30:00-08:00", "2025-03-14", true, "RFC3339 with offset keeps written day"},
		{"2025-03-14T10:00:00.123Z", "2025-03-14", true, "RFC3339 nano"},
		{"2025-03-14T10:00:00", "2025-03-14", true, "ISO without zone"},
		{"2025-03-14 10:00:00", "2025-03-14", true, "Space separated"},
		{"", "", false, "Empty"},
		{"next tuesday", "", false, "Garbage"},
		{"2025-13-01", "", false, "Invalid month"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			date, ok := NormalizeDate(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, date)
		})
	}
}

func TestMinutesBetween(t *testing.T) {
	minutes, ok := MinutesBetween("10:00", "11:30")
	require.True(t, ok)
	assert.Equal(t, 90, minutes)

	minutes, ok = MinutesBetween("2:00pm", "15:45:00")
	require.True(t, ok)
	assert.Equal(t, 105, minutes)

	_, ok = MinutesBetween("11:00", "10:00")
	assert.False(t, ok, "negative span is not a duration")

	_, ok = MinutesBetween("10:00", "10:00")
	assert.False(t, ok, "zero span is not a duration")

	_, ok = MinutesBetween("bogus", "10:00")
	assert.False(t, ok)
}

func TestAddMinutes(t *testing.T) {
	end, ok := AddMinutes("09:30", 60)
	require.True(t, ok)
	assert.Equal(t, "10:30", end)

	end, ok = AddMinutes("23:30", 45)
	require.True(t, ok)
	assert.Equal(t, "00:15", end)

	_, ok = AddMinutes("", 30)
	assert.False(t, ok)
}
