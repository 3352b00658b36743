package models

import (
	"strings"

	"github.com/lessonmarket/checkout-service/pkg/validator"
)

// PaymentStep is a state of the checkout flow
type PaymentStep string

const (
	StepMethodSelection PaymentStep = "METHOD_SELECTION"
	StepConfirmation    PaymentStep = "CONFIRMATION"
	StepProcessing      PaymentStep = "PROCESSING"
	StepSuccess         PaymentStep = "SUCCESS"
	StepError           PaymentStep = "ERROR"
)

// PaymentMethod is how the student pays
type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodCredits    PaymentMethod = "CREDITS"
	MethodMixed      PaymentMethod = "MIXED"
)

// Valid reports whether m is a known method
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCreditCard, MethodCredits, MethodMixed:
		return true
	}
	return false
}

// UsesCard reports whether the method may charge a saved card
func (m PaymentMethod) UsesCard() bool {
	return m == MethodCreditCard || m == MethodMixed
}

// PaymentFlowState is the observable state of the payment state machine
type PaymentFlowState struct {
	Step              PaymentStep   `json:"step"`
	Method            PaymentMethod `json:"method,omitempty"`
	SelectedCardID    string        `json:"selected_card_id,omitempty"`
	CreditsToUseCents int           `json:"credits_to_use_cents"`
	Error             string        `json:"error,omitempty"`
	SelectorOpen      bool          `json:"selector_open"`
}

// CreditDecision is the session-scoped record of a student's credit choice
type CreditDecision struct {
	LastCreditCents   int  `json:"lastCreditCents"`
	ExplicitlyRemoved bool `json:"explicitlyRemoved"`
}

// CheckoutRequest is submitted to the payment collaborator once a booking exists
type CheckoutRequest struct {
	BookingID            string  `json:"booking_id"`
	PaymentMethodID      *string `json:"payment_method_id,omitempty"`
	RequestedCreditCents *int    `json:"requested_credit_cents,omitempty"`
	IdempotencyKey       string  `json:"-"`
}

// CheckoutResult is the payment processor response
type CheckoutResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	Amount          int    `json:"amount"`
	ClientSecret    string `json:"client_secret,omitempty"`
	RequiresAction  bool   `json:"requires_action"`
}

var successStatuses = map[string]bool{
	"succeeded":        true,
	"processing":       true,
	"authorized":       true,
	"scheduled":        true,
	"requires_capture": true,
}

var actionStatuses = map[string]bool{
	"requires_action":        true,
	"requires_source_action": true,
}

// IsSuccessStatus reports whether a processor status means the booking is paid or safely pending
func IsSuccessStatus(status string) bool {
	return successStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// IsActionRequiredStatus reports whether the processor needs the customer to authenticate
func IsActionRequiredStatus(status string) bool {
	return actionStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// SavedCard is a stored payment method
type SavedCard struct {
	ID        string `json:"id"`
	Last4     string `json:"last4"`
	Brand     string `json:"brand"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreditBalance is the student's platform credit wallet
type CreditBalance struct {
	Available float64 `json:"available"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// AvailableCents returns the balance in minor units, never negative
func (b *CreditBalance) AvailableCents() int {
	if b == nil {
		return 0
	}
	cents := validator.ToCents(b.Available)
	if cents < 0 {
		return 0
	}
	return cents
}

// ReferralResult is the outcome of applying a referral or promo code
type ReferralResult struct {
	Code         string `json:"code"`
	AppliedCents int    `json:"applied_cents"`
	Message      string `json:"message,omitempty"`
}
