package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lessonmarket/checkout-service/internal/models"
)

var (
	ErrInvalidTransition     = errors.New("invalid payment flow transition")
	ErrMethodNotSelected     = errors.New("no payment method selected")
	ErrInvalidMethod         = errors.New("unknown payment method")
	ErrPaymentInProgress     = errors.New("payment is already being processed")
	ErrResetRequired         = errors.New("previous payment attempt failed, reset before retrying")
	ErrAlreadyPaid           = errors.New("checkout already completed")
	ErrMissingDate           = errors.New("booking date is missing")
	ErrIncompleteBooking     = errors.New("booking details are incomplete")
	ErrBookingCreation       = errors.New("booking creation returned no booking")
	ErrPaymentMethodRequired = errors.New("payment method required")
	ErrActionRequired        = errors.New("payment requires additional authentication")
	ErrCreditUpdateInFlight  = errors.New("a credit update is already in flight")
	ErrStaleResponse         = errors.New("response superseded by a newer request")
	ErrCannotPrice           = errors.New("booking cannot be priced yet")
	ErrInvalidReferral       = errors.New("referral code is required")
	ErrUnknownCard           = errors.New("payment method does not belong to this student")
	ErrSessionNotFound       = errors.New("checkout session not found")
)

// User-facing messages
const (
	MsgMissingDate        = "Missing booking date. Please go back and select a lesson time."
	MsgIncompleteBooking  = "Booking details are incomplete. Please go back and reselect your lesson."
	MsgBookingCreation    = "Failed to create booking. Please try again."
	MsgMethodRequired     = "Please select a payment method to continue."
	MsgActionRequired     = "Additional authentication required. Please complete the verification with your bank and try again."
	MsgInsufficientFunds  = "Your card has insufficient funds. Please use a different payment method."
	MsgCardDeclined       = "Your card was declined. Please try a different card."
	MsgCardExpired        = "Your card has expired. Please update your payment method."
	MsgMethodAlreadyUsed  = "This payment method has already been used. Please select a different card."
	MsgInstructorNotReady = "This instructor is not yet set up to receive payments. Please try again later."
	MsgStatusFailure      = "Payment could not be completed. Please try again or use a different payment method."
	MsgTimedOut           = "Payment timed out. Please check your lessons before trying again."
	MsgUnknownFailure     = "Payment failed. Please try again."

	TitleBookingFailed = "Booking Failed"
	TitlePaymentFailed = "Payment Failed"
)

// statusError is a processor answer with a status outside the success and
// action-required sets
type statusError struct {
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("Payment failed with status: %s", e.Status)
}

type errorPattern struct {
	codes    []string
	contains []string
	message  string
}

// Structured codes are checked across every pattern before any substring.
var paymentErrorPatterns = []errorPattern{
	{
		codes:    []string{"insufficient_funds"},
		contains: []string{"insufficient funds", "insufficient_funds"},
		message:  MsgInsufficientFunds,
	},
	{
		codes:    []string{"card_declined", "generic_decline", "do_not_honor"},
		contains: []string{"declined"},
		message:  MsgCardDeclined,
	},
	{
		codes:    []string{"expired_card"},
		contains: []string{"expired"},
		message:  MsgCardExpired,
	},
	{
		codes:    []string{"payment_method_already_used", "payment_method_unexpected_state"},
		contains: []string{"already been used", "already used"},
		message:  MsgMethodAlreadyUsed,
	},
	{
		codes:    []string{"instructor_account_not_configured", "instructor_payments_not_enabled"},
		contains: []string{"instructor account not configured", "instructor payment account", "instructor has not completed"},
		message:  MsgInstructorNotReady,
	},
	{
		contains: []string{"payment failed with status"},
		message:  MsgStatusFailure,
	},
}

// ClassifyPaymentError turns a raw checkout failure into a user-facing message.
// Engine sentinels map directly, then APIError codes, then message substrings.
// Anything unrecognised passes through unchanged.
func ClassifyPaymentError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimedOut
	case errors.Is(err, ErrMissingDate):
		return MsgMissingDate
	case errors.Is(err, ErrIncompleteBooking):
		return MsgIncompleteBooking
	case errors.Is(err, ErrBookingCreation):
		return MsgBookingCreation
	case errors.Is(err, ErrPaymentMethodRequired):
		return MsgMethodRequired
	case errors.Is(err, ErrActionRequired):
		return MsgActionRequired
	}

	if apiErr, ok := models.AsAPIError(err); ok && apiErr.Code != "" {
		for _, p := range paymentErrorPatterns {
			if apiErr.HasCode(p.codes...) {
				return p.message
			}
		}
	}

	text := strings.ToLower(err.Error())
	for _, p := range paymentErrorPatterns {
		for _, needle := range p.contains {
			if strings.Contains(text, needle) {
				return p.message
			}
		}
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return MsgUnknownFailure
}

// ErrorTitle picks the heading shown above an error message
func ErrorTitle(message string) string {
	if strings.Contains(strings.ToLower(message), "booking") {
		return TitleBookingFailed
	}
	return TitlePaymentFailed
}

// isMinimumPriceError reports whether a booking failure is the recoverable
// "below minimum price" rejection
func isMinimumPriceError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := models.AsAPIError(err); ok && apiErr.HasCode("minimum_price", "price_floor", "below_minimum_price") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "minimum price")
}

// isActionRequiredError reports whether a checkout failure carries a client
// secret for customer authentication
func isActionRequiredError(err error) bool {
	apiErr, ok := models.AsAPIError(err)
	return ok && apiErr.ClientSecret != ""
}
