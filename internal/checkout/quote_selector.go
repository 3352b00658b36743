package checkout

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"golang.org/x/crypto/blake2b"
)

// SlotSource recovers booking fields cached by earlier screens
type SlotSource interface {
	LoadSelectedSlot(ctx context.Context, instructorID string) (storage.SlotHint, bool)
	LoadLastBookingData(ctx context.Context) (storage.SlotHint, bool)
}

// SelectQuote derives the pricing request for a draft. It returns nil when any
// required field is missing; that means "cannot price yet", not an error.
func SelectQuote(ctx context.Context, draft models.BookingDraft, fallback SlotSource) *models.QuoteSelection {
	draft = recoverDraftFields(ctx, draft, fallback)

	instructorID := strings.TrimSpace(draft.InstructorID)
	serviceID := resolveServiceID(draft)
	if instructorID == "" || serviceID == "" {
		return nil
	}
	date, ok := validator.NormalizeDate(draft.Date)
	if !ok {
		return nil
	}
	start, ok := validator.NormalizeClock(draft.StartTime)
	if !ok {
		return nil
	}
	duration := resolveDuration(draft)
	if duration <= 0 {
		return nil
	}

	meeting := strings.TrimSpace(draft.Location)
	if meeting == "" {
		meeting = models.DefaultMeetingLocation
	}

	return &models.QuoteSelection{
		InstructorID:        instructorID,
		InstructorServiceID: serviceID,
		BookingDate:         date,
		StartTime:           start,
		SelectedDuration:    duration,
		LocationType:        normalizeModality(resolveModalityHint(draft), draft.Location),
		MeetingLocation:     meeting,
	}
}

// recoverDraftFields fills a missing date or service id from cached slot data.
// Hints that belong to another instructor are ignored.
func recoverDraftFields(ctx context.Context, draft models.BookingDraft, fallback SlotSource) models.BookingDraft {
	if fallback == nil {
		return draft
	}
	needDate := strings.TrimSpace(draft.Date) == ""
	needService := resolveServiceID(draft) == ""
	if !needDate && !needService {
		return draft
	}

	hints := make([]storage.SlotHint, 0, 2)
	if hint, ok := fallback.LoadSelectedSlot(ctx, draft.InstructorID); ok {
		hints = append(hints, hint)
	}
	if hint, ok := fallback.LoadLastBookingData(ctx); ok {
		hints = append(hints, hint)
	}

	for _, hint := range hints {
		if hint.InstructorID != "" && draft.InstructorID != "" && hint.InstructorID != draft.InstructorID {
			continue
		}
		if needDate && hint.Date != "" {
			draft.Date = hint.Date
			needDate = false
		}
		if needService && hint.ServiceID != "" {
			draft.ServiceID = hint.ServiceID
			needService = false
		}
	}
	return draft
}

// QuoteKey is a stable fingerprint of a selection, used to key credit
// decisions before a booking id exists
func QuoteKey(sel *models.QuoteSelection) string {
	if sel == nil {
		return ""
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return "quote-" + hex.EncodeToString(sum[:16])
}

// DecisionKey identifies a booking for credit persistence: the booking id
// when there is one, else the quote fingerprint
func DecisionKey(draft models.BookingDraft, sel *models.QuoteSelection) string {
	if id := strings.TrimSpace(draft.BookingID); id != "" {
		return id
	}
	return QuoteKey(sel)
}
