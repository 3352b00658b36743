package checkout

import (
	"context"

	"github.com/lessonmarket/checkout-service/internal/models"
)

// BookingCreator creates the lesson booking that a checkout pays for
type BookingCreator interface {
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingRecord, error)
}

// BookingCanceller rolls back a booking whose payment failed
type BookingCanceller interface {
	CancelBooking(ctx context.Context, bookingID string) error
}

// BookingDetailsClient fetches the current order summary of a booking
type BookingDetailsClient interface {
	FetchBookingDetails(ctx context.Context, bookingID string) (*models.RawBookingRecord, error)
}

// CheckoutProcessor submits the payment for a created booking
type CheckoutProcessor interface {
	CreateCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResult, error)
}

// PaymentMethodLister lists the student's saved cards
type PaymentMethodLister interface {
	ListPaymentMethods(ctx context.Context) ([]models.SavedCard, error)
}

// WalletClient reads the student's platform credit balance
type WalletClient interface {
	GetCredits(ctx context.Context) (*models.CreditBalance, error)
}

// ReferralClient applies referral and promo codes
type ReferralClient interface {
	ApplyReferral(ctx context.Context, bookingID, code string) (*models.ReferralResult, error)
}

// AuditRecorder stores checkout milestones. Recording never fails the checkout.
type AuditRecorder interface {
	Record(ctx context.Context, audit *models.CheckoutAudit)
}

// Collaborators are the backends a session talks to. Cancel, Details,
// Referrals, PaymentMethods and Wallet are optional.
type Collaborators struct {
	Pricing        PricingClient
	Bookings       BookingCreator
	Cancel         BookingCanceller
	Details        BookingDetailsClient
	Checkout       CheckoutProcessor
	PaymentMethods PaymentMethodLister
	Wallet         WalletClient
	Referrals      ReferralClient
}
