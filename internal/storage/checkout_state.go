package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	creditsUIKeyPrefix      = "credits-ui:"
	creditDecisionKeyPrefix = "credit-decision:"
	selectedSlotKey         = "selected-slot"
	lastBookingDataKey      = "booking-data"
)

// SlotHint is a cached slot or booking blob used to recover fields missing from a draft
type SlotHint struct {
	InstructorID string `json:"instructorId,omitempty"`
	ServiceID    string `json:"serviceId,omitempty"`
	Date         string `json:"date,omitempty"`
	StartTime    string `json:"time,omitempty"`
	Duration     int    `json:"duration,omitempty"`
}

// CheckoutState reads and writes typed checkout preferences on top of a Store
type CheckoutState struct {
	store  Store
	logger *logrus.Logger
}

// NewCheckoutState wraps store. A nil store reads as empty.
func NewCheckoutState(store Store, logger *logrus.Logger) *CheckoutState {
	if store == nil {
		store = NoopStore{}
	}
	return &CheckoutState{store: store, logger: logger}
}

// LoadCreditsCollapsed returns the stored accordion preference for a booking key
func (s *CheckoutState) LoadCreditsCollapsed(ctx context.Context, bookingKey string) (collapsed bool, ok bool) {
	raw, found := s.read(ctx, creditsUIKeyPrefix+bookingKey)
	if !found {
		return false, false
	}
	r := gjson.Get(raw, "creditsCollapsed")
	if !r.Exists() {
		return false, false
	}
	// Bool parses string payloads, so a stored "false" stays false
	return r.Bool(), true
}

// SaveCreditsCollapsed persists the accordion preference
func (s *CheckoutState) SaveCreditsCollapsed(ctx context.Context, bookingKey string, collapsed bool) {
	s.write(ctx, creditsUIKeyPrefix+bookingKey, map[string]bool{"creditsCollapsed": collapsed})
}

// LoadCreditDecision returns the last committed credit decision for a booking key
func (s *CheckoutState) LoadCreditDecision(ctx context.Context, bookingKey string) (models.CreditDecision, bool) {
	raw, found := s.read(ctx, creditDecisionKeyPrefix+bookingKey)
	if !found {
		return models.CreditDecision{}, false
	}
	last := gjson.Get(raw, "lastCreditCents")
	removed := gjson.Get(raw, "explicitlyRemoved")
	if !last.Exists() && !removed.Exists() {
		return models.CreditDecision{}, false
	}
	// negative, non-numeric or out of range amounts read as no credit
	cents := 0
	if f, ok := numberOf(last); ok {
		cents, _ = validator.BoundedInt(f, validator.MaxCents)
	}
	return models.CreditDecision{
		LastCreditCents:   cents,
		ExplicitlyRemoved: removed.Bool(),
	}, true
}

// SaveCreditDecision persists a committed credit decision
func (s *CheckoutState) SaveCreditDecision(ctx context.Context, bookingKey string, decision models.CreditDecision) {
	s.write(ctx, creditDecisionKeyPrefix+bookingKey, decision)
}

// ClearCreditDecision forgets the credit decision for a booking key
func (s *CheckoutState) ClearCreditDecision(ctx context.Context, bookingKey string) {
	s.store.Remove(ctx, creditDecisionKeyPrefix+bookingKey)
}

// LoadSelectedSlot returns the slot picked on the availability screen.
// The instructor-scoped entry wins over the global one.
func (s *CheckoutState) LoadSelectedSlot(ctx context.Context, instructorID string) (SlotHint, bool) {
	if instructorID != "" {
		if hint, ok := s.readHint(ctx, selectedSlotKey+":"+instructorID); ok {
			return hint, true
		}
	}
	return s.readHint(ctx, selectedSlotKey)
}

// SaveSelectedSlot caches a selected slot
func (s *CheckoutState) SaveSelectedSlot(ctx context.Context, hint SlotHint) {
	key := selectedSlotKey
	if hint.InstructorID != "" {
		key += ":" + hint.InstructorID
	}
	s.write(ctx, key, hint)
}

// LoadLastBookingData returns the last known booking blob
func (s *CheckoutState) LoadLastBookingData(ctx context.Context) (SlotHint, bool) {
	return s.readHint(ctx, lastBookingDataKey)
}

// SaveLastBookingData caches the last known booking blob
func (s *CheckoutState) SaveLastBookingData(ctx context.Context, hint SlotHint) {
	s.write(ctx, lastBookingDataKey, hint)
}

func (s *CheckoutState) readHint(ctx context.Context, key string) (SlotHint, bool) {
	raw, found := s.read(ctx, key)
	if !found {
		return SlotHint{}, false
	}
	hint := SlotHint{
		InstructorID: firstString(raw, "instructorId", "instructor_id"),
		ServiceID:    firstString(raw, "serviceId", "service_id", "instructorServiceId", "instructor_service_id"),
		Date:         firstString(raw, "date", "selectedDate", "booking_date", "bookingDate"),
		StartTime:    firstString(raw, "time", "startTime", "start_time", "selectedTime"),
	}
	for _, path := range []string{"duration", "durationMinutes", "duration_minutes"} {
		d, ok := numberOf(gjson.Get(raw, path))
		if !ok {
			continue
		}
		if mins, ok := validator.BoundedInt(d, validator.MaxLessonMinutes); ok && mins > 0 {
			hint.Duration = mins
			break
		}
	}
	if hint == (SlotHint{}) {
		return SlotHint{}, false
	}
	return hint, true
}

// read returns a raw JSON blob, treating corrupt contents as absent
func (s *CheckoutState) read(ctx context.Context, key string) (string, bool) {
	raw, ok := s.store.Get(ctx, key)
	if !ok || strings.TrimSpace(raw) == "" {
		return "", false
	}
	if !gjson.Valid(raw) {
		if s.logger != nil {
			s.logger.WithField("key", key).Debug("Ignoring corrupt checkout state")
		}
		return "", false
	}
	return raw, true
}

func (s *CheckoutState) write(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to encode checkout state")
		}
		return
	}
	s.store.Set(ctx, key, string(data))
}

func firstString(raw string, paths ...string) string {
	for _, p := range paths {
		r := gjson.Get(raw, p)
		if !r.Exists() {
			continue
		}
		if v := strings.TrimSpace(r.String()); v != "" {
			return v
		}
	}
	return ""
}

// numberOf reads a JSON number or numeric string
func numberOf(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Num, true
	case gjson.String:
		return validator.ParseNumber(r.Str)
	}
	return 0, false
}
