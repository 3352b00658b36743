package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/lessonmarket/checkout-service/pkg/validator"
)

// Loose is a number that may arrive as a JSON number or as a numeric string.
// The raw text is kept; an empty Loose means the field was absent.
type Loose string

// Num builds a Loose from a float
func Num(f float64) Loose {
	return Loose(strconv.FormatFloat(f, 'f', -1, 64))
}

// Int builds a Loose from an int
func Int(i int) Loose {
	return Loose(strconv.Itoa(i))
}

// IsSet reports whether a value was supplied
func (l Loose) IsSet() bool {
	return strings.TrimSpace(string(l)) != ""
}

// Float returns the numeric value. ok is false for absent, non-numeric or
// non-finite values.
func (l Loose) Float() (float64, bool) {
	return validator.ParseNumber(string(l))
}

// Amount returns a finite non-negative amount or fallback
func (l Loose) Amount(fallback float64) float64 {
	f, ok := l.Float()
	if !ok {
		return validator.NormalizeAmount(fallback, 0)
	}
	return validator.NormalizeAmount(f, fallback)
}

// UnmarshalJSON accepts numbers, numeric strings and null
func (l *Loose) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Loose(s)
		return nil
	}
	*l = Loose(data)
	return nil
}

// MarshalJSON writes a number when the value parses and a string otherwise
func (l Loose) MarshalJSON() ([]byte, error) {
	if !l.IsSet() {
		return []byte("null"), nil
	}
	if f, ok := l.Float(); ok {
		return []byte(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return json.Marshal(string(l))
}
