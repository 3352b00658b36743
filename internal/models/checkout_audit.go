package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutEventType represents the type of checkout event
type CheckoutEventType string

const (
	CheckoutEventInitiated             CheckoutEventType = "checkout_initiated"
	CheckoutEventBookingCreated        CheckoutEventType = "booking_created"
	CheckoutEventBookingCreationFailed CheckoutEventType = "booking_creation_failed"
	CheckoutEventSucceeded             CheckoutEventType = "checkout_succeeded"
	CheckoutEventFailed                CheckoutEventType = "checkout_failed"
	CheckoutEventActionRequired        CheckoutEventType = "action_required"
	CheckoutEventBookingRolledBack     CheckoutEventType = "booking_rolled_back"
	CheckoutEventRollbackFailed        CheckoutEventType = "booking_rollback_failed"
)

// CheckoutEventSource identifies where the event originated
type CheckoutEventSource string

const (
	CheckoutSourceEngine    CheckoutEventSource = "engine"
	CheckoutSourceProcessor CheckoutEventSource = "processor"
	CheckoutSourceUser      CheckoutEventSource = "user"
)

// CheckoutAudit is an immutable audit log entry for one checkout milestone
type CheckoutAudit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	SessionID       *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	UserID          *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	BookingID       *string    `json:"booking_id,omitempty" db:"booking_id"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty" db:"payment_intent_id"`

	EventType   CheckoutEventType   `json:"event_type" db:"event_type"`
	EventSource CheckoutEventSource `json:"event_source" db:"event_source"`

	// Amounts in minor units
	TotalCents     *int `json:"total_cents,omitempty" db:"total_cents"`
	CreditCents    *int `json:"credit_cents,omitempty" db:"credit_cents"`
	ReferralCents  *int `json:"referral_cents,omitempty" db:"referral_cents"`
	AmountDueCents *int `json:"amount_due_cents,omitempty" db:"amount_due_cents"`

	PaymentMethod *string `json:"payment_method,omitempty" db:"payment_method"`
	PaymentStatus *string `json:"payment_status,omitempty" db:"payment_status"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorCode    *string `json:"error_code,omitempty" db:"error_code"`

	Details JSONB `json:"details,omitempty" db:"details"`

	ProcessingTimeMs *int    `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IdempotencyKey   *string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// NewCheckoutAudit creates a new audit entry with required fields
func NewCheckoutAudit(eventType CheckoutEventType, source CheckoutEventSource) *CheckoutAudit {
	return &CheckoutAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetSession sets the checkout session ID
func (a *CheckoutAudit) SetSession(sessionID uuid.UUID) *CheckoutAudit {
	a.SessionID = &sessionID
	return a
}

// SetUser sets the student ID
func (a *CheckoutAudit) SetUser(userID uuid.UUID) *CheckoutAudit {
	if userID != uuid.Nil {
		a.UserID = &userID
	}
	return a
}

// SetBooking sets the booking ID
func (a *CheckoutAudit) SetBooking(bookingID string) *CheckoutAudit {
	if bookingID != "" {
		a.BookingID = &bookingID
	}
	return a
}

// SetPaymentIntent sets the processor intent ID
func (a *CheckoutAudit) SetPaymentIntent(intentID string) *CheckoutAudit {
	if intentID != "" {
		a.PaymentIntentID = &intentID
	}
	return a
}

// SetAmounts records the money breakdown of the attempt
func (a *CheckoutAudit) SetAmounts(totalCents, creditCents, referralCents, amountDueCents int) *CheckoutAudit {
	a.TotalCents = &totalCents
	a.CreditCents = &creditCents
	a.ReferralCents = &referralCents
	a.AmountDueCents = &amountDueCents
	return a
}

// SetPaymentMethod sets the chosen payment method
func (a *CheckoutAudit) SetPaymentMethod(method PaymentMethod) *CheckoutAudit {
	if method != "" {
		m := string(method)
		a.PaymentMethod = &m
	}
	return a
}

// SetPaymentStatus sets the processor status
func (a *CheckoutAudit) SetPaymentStatus(status string) *CheckoutAudit {
	if status != "" {
		a.PaymentStatus = &status
	}
	return a
}

// SetError sets error information
func (a *CheckoutAudit) SetError(message string, code string) *CheckoutAudit {
	a.ErrorMessage = &message
	if code != "" {
		a.ErrorCode = &code
	}
	return a
}

// SetDetails stores free-form context
func (a *CheckoutAudit) SetDetails(details map[string]interface{}) *CheckoutAudit {
	a.Details = JSONB(details)
	return a
}

// SetMetadata sets request metadata
func (a *CheckoutAudit) SetMetadata(ip, userAgent string) *CheckoutAudit {
	if ip != "" {
		a.IPAddress = &ip
	}
	if userAgent != "" {
		a.UserAgent = &userAgent
	}
	return a
}

// SetProcessingTime calculates and sets processing time
func (a *CheckoutAudit) SetProcessingTime(startTime time.Time) *CheckoutAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	a.ProcessingTimeMs = &durationMs
	now := time.Now()
	a.ProcessedAt = &now
	return a
}

// SetIdempotencyKey sets the idempotency key sent to the processor
func (a *CheckoutAudit) SetIdempotencyKey(key string) *CheckoutAudit {
	if key != "" {
		a.IdempotencyKey = &key
	}
	return a
}
