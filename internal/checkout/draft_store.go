package checkout

import (
	"strings"
	"sync"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/pkg/validator"
)

// DraftChange describes the effect of one draft update
type DraftChange struct {
	Changed         bool   `json:"changed"`
	PricingRelevant bool   `json:"pricing_relevant"`
	Version         uint64 `json:"version"`
}

// DraftStore holds the single mutable booking draft of a checkout session
type DraftStore struct {
	mu      sync.RWMutex
	draft   models.BookingDraft
	version uint64
	frozen  bool
}

// NewDraftStore creates a store seeded with a caller snapshot
func NewDraftStore(initial models.BookingDraft) *DraftStore {
	return &DraftStore{draft: initial.Clone(), version: 1}
}

// Get returns a copy of the current draft
func (s *DraftStore) Get() models.BookingDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft.Clone()
}

// Version returns the number of accepted updates plus one
func (s *DraftStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Update applies updater to a copy of the draft. A nil result leaves the
// store unchanged, as does any update after Freeze.
func (s *DraftStore) Update(updater func(models.BookingDraft) *models.BookingDraft) DraftChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen || updater == nil {
		return DraftChange{Version: s.version}
	}
	next := updater(s.draft.Clone())
	if next == nil {
		return DraftChange{Version: s.version}
	}

	prev := s.draft
	s.draft = next.Clone()
	s.version++
	return DraftChange{
		Changed:         true,
		PricingRelevant: PricingRelevantChange(prev, s.draft),
		Version:         s.version,
	}
}

// Replace swaps the whole draft
func (s *DraftStore) Replace(draft models.BookingDraft) DraftChange {
	return s.Update(func(models.BookingDraft) *models.BookingDraft {
		return &draft
	})
}

// Freeze stops all further updates. Called once checkout has succeeded.
func (s *DraftStore) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether Freeze was called
func (s *DraftStore) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// MergeBookingDetails folds a refreshed order summary into the draft.
// Missing or unparseable fields keep their previous values.
func (s *DraftStore) MergeBookingDetails(rec models.RawBookingRecord) DraftChange {
	return s.Update(func(d models.BookingDraft) *models.BookingDraft {
		if id := strings.TrimSpace(rec.ID); id != "" {
			d.BookingID = id
		}
		if rec.InstructorID != nil && *rec.InstructorID != "" {
			d.InstructorID = *rec.InstructorID
		}
		if rec.InstructorName != nil && *rec.InstructorName != "" {
			d.InstructorName = *rec.InstructorName
		}
		if rec.ServiceName != "" {
			d.LessonType = rec.ServiceName
		}
		if rec.ServiceID != "" {
			d.ServiceID = rec.ServiceID
		}
		if rec.BookingDate != "" {
			d.Date = rec.BookingDate
		}
		if rec.StartTime != "" {
			d.StartTime = rec.StartTime
		}
		if rec.EndTime != "" {
			d.EndTime = rec.EndTime
		}
		if rec.DurationMinutes != nil && *rec.DurationMinutes > 0 {
			d.Duration = models.Int(*rec.DurationMinutes)
		}
		if rec.Location != nil {
			d.Location = *rec.Location
		}
		if rec.LocationType != "" {
			d.SetMeta("location_type", rec.LocationType)
		}
		if rec.HourlyRate.IsSet() {
			d.BasePrice = models.Num(rec.HourlyRate.Amount(d.BasePriceValue()))
		}
		if rec.TotalPrice.IsSet() {
			d.TotalAmount = models.Num(rec.TotalPrice.Amount(d.TotalAmountValue()))
		}
		if rec.PaymentStatus != "" {
			d.PaymentStatus = rec.PaymentStatus
		}
		return &d
	})
}

// PricingRelevantChange compares date, start time and duration only. A field
// that cannot be read on either side counts as unchanged.
func PricingRelevantChange(prev, next models.BookingDraft) bool {
	if a, ok := validator.NormalizeDate(prev.Date); ok {
		if b, ok := validator.NormalizeDate(next.Date); ok && a != b {
			return true
		}
	}
	if a, ok := validator.NormalizeClock(prev.StartTime); ok {
		if b, ok := validator.NormalizeClock(next.StartTime); ok && a != b {
			return true
		}
	}
	if a, ok := draftDuration(prev); ok {
		if b, ok := draftDuration(next); ok && a != b {
			return true
		}
	}
	return false
}

func draftDuration(d models.BookingDraft) (int, bool) {
	f, ok := d.Duration.Float()
	if !ok {
		return 0, false
	}
	return validator.BoundedInt(f, validator.MaxLessonMinutes)
}
