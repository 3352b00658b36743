package models

import (
	"strings"
)

// BookingType distinguishes immediate-charge bookings from authorize-later ones
type BookingType string

const (
	// BookingTypeStandard bookings are authorized now and captured closer to the lesson
	BookingTypeStandard BookingType = "standard"
	// BookingTypeLastMinute bookings are charged immediately
	BookingTypeLastMinute BookingType = "last_minute"
)

// ChargesImmediately reports whether payment is captured at checkout
func (t BookingType) ChargesImmediately() bool {
	return t == BookingTypeLastMinute
}

// BookingDraft is the mutable view of the lesson being paid for
type BookingDraft struct {
	BookingID      string         `json:"booking_id,omitempty"`
	InstructorID   string         `json:"instructor_id,omitempty"`
	InstructorName string         `json:"instructor_name,omitempty"`
	ServiceID      string         `json:"service_id,omitempty"`
	LessonType     string         `json:"lesson_type,omitempty"`
	Date           string         `json:"date,omitempty"`
	StartTime      string         `json:"start_time,omitempty"`
	EndTime        string         `json:"end_time,omitempty"`
	Duration       Loose          `json:"duration,omitempty"`
	Location       string         `json:"location,omitempty"`
	Description    string         `json:"description,omitempty"`
	BasePrice      Loose          `json:"base_price,omitempty"`
	TotalAmount    Loose          `json:"total_amount,omitempty"`
	BookingType    BookingType    `json:"booking_type,omitempty"`
	PaymentStatus  string         `json:"payment_status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with d
func (d BookingDraft) Clone() BookingDraft {
	out := d
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// TotalAmountValue returns the normalized total in major units
func (d BookingDraft) TotalAmountValue() float64 {
	return d.TotalAmount.Amount(0)
}

// BasePriceValue returns the normalized base price in major units
func (d BookingDraft) BasePriceValue() float64 {
	return d.BasePrice.Amount(0)
}

// MetaString returns the first non-empty string value among keys
func (d BookingDraft) MetaString(keys ...string) string {
	for _, key := range keys {
		v, ok := d.Metadata[key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		case Loose:
			if val.IsSet() {
				return string(val)
			}
		default:
			if s := strings.TrimSpace(stringify(val)); s != "" {
				return s
			}
		}
	}
	return ""
}

// SetMeta writes a metadata key, allocating the bag if needed
func (d *BookingDraft) SetMeta(key string, value any) {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	d.Metadata[key] = value
}
