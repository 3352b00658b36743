package models

// LocationType is the canonical modality tag of a lesson
type LocationType string

const (
	LocationRemote         LocationType = "remote"
	LocationInPerson       LocationType = "in_person"
	LocationStudent        LocationType = "student_location"
	LocationInstructor     LocationType = "instructor_location"
	LocationNeutral        LocationType = "neutral_location"
	DefaultMeetingLocation              = "Student provided address"
)

// QuoteSelection is the validated subset of a draft needed to price a lesson.
// A nil *QuoteSelection means "cannot price yet".
type QuoteSelection struct {
	InstructorID        string       `json:"instructor_id"`
	InstructorServiceID string       `json:"instructor_service_id"`
	BookingDate         string       `json:"booking_date"`
	StartTime           string       `json:"start_time"`
	SelectedDuration    int          `json:"selected_duration"`
	LocationType        LocationType `json:"location_type"`
	MeetingLocation     string       `json:"meeting_location"`
}

// Equal reports whether two selections would produce the same quote
func (q *QuoteSelection) Equal(other *QuoteSelection) bool {
	if q == nil || other == nil {
		return q == other
	}
	return *q == *other
}
