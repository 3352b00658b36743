package checkout

import (
	"strings"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/pkg/validator"
)

// Metadata keys in lookup order. Older clients wrote snake_case keys, newer
// ones camelCase; the first non-empty value wins.
var (
	serviceIDKeys = []string{
		"serviceId",             // current booking flow
		"service_id",            // legacy booking payloads
		"instructor_service_id", // pricing request shape
		"instructorServiceId",   // availability screen
	}
	modalityKeys = []string{
		"modality",      // current booking flow
		"location_type", // booking records
		"locationType",  // availability screen
		"meeting_type",  // legacy drafts
	}
	durationKeys = []string{
		"duration_minutes", // booking records
		"duration",         // legacy drafts
	}
	timezoneKeys = []string{
		"timezone",            // explicit choice
		"lesson_timezone",     // lesson record
		"lessonTimezone",      // availability screen
		"instructor_timezone", // instructor profile
		"instructorTimezone",  // instructor profile, camelCase
	}
)

func resolveServiceID(d models.BookingDraft) string {
	if id := strings.TrimSpace(d.ServiceID); id != "" {
		return id
	}
	return d.MetaString(serviceIDKeys...)
}

func resolveModalityHint(d models.BookingDraft) string {
	return d.MetaString(modalityKeys...)
}

func resolveTimezone(d models.BookingDraft) string {
	return d.MetaString(timezoneKeys...)
}

// resolveDuration returns lesson minutes: the draft's own duration, then
// metadata, then end minus start. Zero means unknown. Values longer than a
// day are ignored.
func resolveDuration(d models.BookingDraft) int {
	if f, ok := d.Duration.Float(); ok {
		if mins, ok := validator.BoundedInt(f, validator.MaxLessonMinutes); ok && mins > 0 {
			return mins
		}
	}
	if raw := d.MetaString(durationKeys...); raw != "" {
		if f, ok := validator.ParseNumber(raw); ok {
			if mins, ok := validator.BoundedInt(f, validator.MaxLessonMinutes); ok && mins > 0 {
				return mins
			}
		}
	}
	if mins, ok := validator.MinutesBetween(d.StartTime, d.EndTime); ok {
		return mins
	}
	return 0
}

// normalizeModality maps legacy modality spellings to canonical location types
func normalizeModality(hint, location string) models.LocationType {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "student_home":
		return models.LocationStudent
	case "neutral":
		return models.LocationNeutral
	case "online", "virtual", "remote":
		return models.LocationRemote
	case "":
		if mentionsRemote(location) {
			return models.LocationRemote
		}
		return models.LocationStudent
	}
	return models.LocationType(strings.TrimSpace(hint))
}

func mentionsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.Contains(l, "online") || strings.Contains(l, "remote") || strings.Contains(l, "virtual")
}
