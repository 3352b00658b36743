package checkout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPaymentError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"Nil", nil, ""},
		{"Insufficient funds text", errors.New("Your card has Insufficient Funds."), MsgInsufficientFunds},
		{"Insufficient funds code", &models.APIError{Status: 402, Code: "insufficient_funds", Detail: "Card error"}, MsgInsufficientFunds},
		{"Declined text", errors.New("card was declined by issuer"), MsgCardDeclined},
		{"Declined code", &models.APIError{Status: 402, Code: "generic_decline"}, MsgCardDeclined},
		{"Expired", errors.New("Your card has expired."), MsgCardExpired},
		{"Already used", errors.New("This PaymentMethod was previously used and has already been used"), MsgMethodAlreadyUsed},
		{"Instructor not configured", errors.New("Instructor account not configured for payouts"), MsgInstructorNotReady},
		{"Instructor code", &models.APIError{Status: 409, Code: "instructor_account_not_configured"}, MsgInstructorNotReady},
		{"Status failure", &statusError{Status: "canceled"}, MsgStatusFailure},
		{"Code beats text", &models.APIError{Status: 402, Code: "expired_card", Detail: "declined"}, MsgCardExpired},
		{"Raw passthrough", errors.New("Lesson no longer offered"), "Lesson no longer offered"},
		{"Missing date", ErrMissingDate, MsgMissingDate},
		{"Method required", fmt.Errorf("wrapped: %w", ErrPaymentMethodRequired), MsgMethodRequired},
		{"Action required", ErrActionRequired, MsgActionRequired},
		{"Timeout", fmt.Errorf("%w: %w", context.DeadlineExceeded, errors.New("declined")), MsgTimedOut},
		{"Empty message", errors.New("  "), MsgUnknownFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ClassifyPaymentError(tc.err))
		})
	}
}

func TestErrorTitle(t *testing.T) {
	assert.Equal(t, TitleBookingFailed, ErrorTitle("booking slot is no longer available"))
	assert.Equal(t, TitleBookingFailed, ErrorTitle("Booking could not be created"))
	assert.Equal(t, TitlePaymentFailed, ErrorTitle(MsgCardDeclined))
	assert.Equal(t, TitlePaymentFailed, ErrorTitle(MsgActionRequired))
}

func TestIsMinimumPriceError(t *testing.T) {
	assert.True(t, isMinimumPriceError(errors.New("Price below MINIMUM PRICE")))
	assert.True(t, isMinimumPriceError(&models.APIError{Status: 400, Code: "minimum_price"}))
	assert.False(t, isMinimumPriceError(errors.New("slot taken")))
	assert.False(t, isMinimumPriceError(nil))
}

func TestInterpretCheckout(t *testing.T) {
	_, err := interpretCheckout(nil, nil)
	assert.Error(t, err)

	_, err = interpretCheckout(&models.CheckoutResult{Status: "requires_source_action"}, nil)
	assert.ErrorIs(t, err, ErrActionRequired)

	_, err = interpretCheckout(&models.CheckoutResult{Status: "succeeded", RequiresAction: true}, nil)
	assert.ErrorIs(t, err, ErrActionRequired)

	_, err = interpretCheckout(&models.CheckoutResult{Success: true}, nil)
	assert.NoError(t, err)

	_, err = interpretCheckout(&models.CheckoutResult{Status: "failed"}, nil)
	var se *statusError
	assert.True(t, errors.As(err, &se))
}
