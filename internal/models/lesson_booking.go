package models

// CreateBookingRequest is sent to the booking collaborator
type CreateBookingRequest struct {
	InstructorID        string       `json:"instructor_id"`
	InstructorServiceID string       `json:"instructor_service_id"`
	BookingDate         string       `json:"booking_date"`
	StartTime           string       `json:"start_time"`
	EndTime             string       `json:"end_time"`
	SelectedDuration    int          `json:"selected_duration"`
	LocationType        LocationType `json:"location_type"`
	MeetingLocation     string       `json:"meeting_location"`
	StudentNote         string       `json:"student_note,omitempty"`
	Timezone            string       `json:"timezone,omitempty"`
}

// BookingRecord is the minimal answer of a booking creation
type BookingRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RawBookingRecord is an order summary as returned by the booking details endpoint.
// Nullable fields stay nil when the backend omits or nulls them.
type RawBookingRecord struct {
	ID              string
	InstructorID    *string
	InstructorName  *string
	ServiceName     string
	ServiceID       string
	BookingDate     string
	StartTime       string
	EndTime         string
	DurationMinutes *int
	Location        *string
	LocationType    string
	HourlyRate      Loose
	TotalPrice      Loose
	Status          string
	PaymentStatus   string
}
