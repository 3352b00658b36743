package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// clock24Regex matches HH:MM and HH:MM:SS
	clock24Regex = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

	// clock12Regex matches h:mma, h:mm am, h:mmpm, ham and dotted a.m./p.m. variants
	clock12Regex = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?$`)
)

// MaxLessonMinutes is the longest lesson duration accepted
const MaxLessonMinutes = 24 * 60

// dateLayouts are tried in order when normalizing a lesson date
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// NormalizeClock converts a wall-clock string to 24-hour HH:MM.
// Accepts HH:MM, HH:MM:SS (seconds are dropped) and 12-hour forms such as
// 9:30am, 9:30 PM or 9pm. Returns false for anything else.
func NormalizeClock(value string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(value))
	if s == "" {
		return "", false
	}

	if m := clock24Regex.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return "", false
		}
		if m[3] != "" {
			if sec, _ := strconv.Atoi(m[3]); sec > 59 {
				return "", false
			}
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}

	if m := clock12Regex.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 || minute > 59 {
			return "", false
		}
		switch {
		case m[3] == "a" && hour == 12:
			hour = 0
		case m[3] == "p" && hour < 12:
			hour += 12
		}
		return fmt.Sprintf("%02d:%02d", hour, minute), true
	}

	return "", false
}

// NormalizeDate converts a date or datetime string to its YYYY-MM-DD calendar form.
// The calendar day is taken as written; no timezone conversion happens.
func NormalizeDate(value string) (string, bool) {
	s := strings.TrimSpace(value)
	if s == "" {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// ClockMinutes returns minutes since midnight for a clock string
func ClockMinutes(value string) (int, bool) {
	clock, ok := NormalizeClock(value)
	if !ok {
		return 0, false
	}
	hour, _ := strconv.Atoi(clock[:2])
	minute, _ := strconv.Atoi(clock[3:])
	return hour*60 + minute, true
}

// MinutesBetween returns end-start in minutes. ok is false unless both parse
// and the difference is positive.
func MinutesBetween(start, end string) (int, bool) {
	startMin, ok := ClockMinutes(start)
	if !ok {
		return 0, false
	}
	endMin, ok := ClockMinutes(end)
	if !ok {
		return 0, false
	}
	diff := endMin - startMin
	if diff <= 0 {
		return 0, false
	}
	return diff, true
}

// AddMinutes adds minutes to a clock string, wrapping past midnight
func AddMinutes(clock string, minutes int) (string, bool) {
	start, ok := ClockMinutes(clock)
	if !ok {
		return "", false
	}
	total := ((start+minutes)%(24*60) + 24*60) % (24 * 60)
	return fmt.Sprintf("%02d:%02d", total/60, total%60), true
}
