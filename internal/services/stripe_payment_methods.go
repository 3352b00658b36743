package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v82"
)

// StripePaymentMethodLister lists a Stripe customer's saved cards directly
// from Stripe instead of through the marketplace backend
type StripePaymentMethodLister struct {
	client     *stripe.Client
	customerID string
	logger     *logrus.Logger
}

// NewStripePaymentMethodLister creates a lister bound to no customer yet
func NewStripePaymentMethodLister(secretKey string, logger *logrus.Logger) *StripePaymentMethodLister {
	return &StripePaymentMethodLister{
		client: stripe.NewClient(secretKey),
		logger: logger,
	}
}

// ForCustomer returns a lister for one Stripe customer
func (l *StripePaymentMethodLister) ForCustomer(customerID string) *StripePaymentMethodLister {
	clone := *l
	clone.customerID = customerID
	return &clone
}

// ListPaymentMethods lists the customer's cards. A student without a Stripe
// customer has no saved cards.
func (l *StripePaymentMethodLister) ListPaymentMethods(ctx context.Context) ([]models.SavedCard, error) {
	if l.customerID == "" {
		return []models.SavedCard{}, nil
	}

	list := l.client.V1PaymentMethods.List(ctx, &stripe.PaymentMethodListParams{
		Customer: stripe.String(l.customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	})

	paymentMethods := make([]*stripe.PaymentMethod, 0)
	for pm, err := range list {
		if err != nil {
			return nil, fmt.Errorf("failed to list payment methods: %w", err)
		}
		paymentMethods = append(paymentMethods, pm)
	}

	return toSavedCards(paymentMethods, l.defaultPaymentMethodID(ctx)), nil
}

// defaultPaymentMethodID reads the customer's invoice default. Failure only
// loses the preselection.
func (l *StripePaymentMethodLister) defaultPaymentMethodID(ctx context.Context) string {
	customer, err := l.client.V1Customers.Retrieve(ctx, l.customerID, nil)
	if err != nil {
		l.logger.WithError(err).WithField("customer_id", l.customerID).Warn("Failed to read default payment method")
		return ""
	}
	if customer == nil || customer.InvoiceSettings == nil || customer.InvoiceSettings.DefaultPaymentMethod == nil {
		return ""
	}
	return customer.InvoiceSettings.DefaultPaymentMethod.ID
}

func toSavedCards(paymentMethods []*stripe.PaymentMethod, defaultID string) []models.SavedCard {
	cards := make([]models.SavedCard, 0, len(paymentMethods))
	for _, pm := range paymentMethods {
		if pm == nil || pm.ID == "" {
			continue
		}
		card := models.SavedCard{
			ID:        pm.ID,
			IsDefault: pm.ID == defaultID,
		}
		if pm.Card != nil {
			card.Last4 = pm.Card.Last4
			card.Brand = strings.ToLower(string(pm.Card.Brand))
		}
		if pm.Created > 0 {
			card.CreatedAt = time.Unix(pm.Created, 0).UTC().Format(time.RFC3339)
		}
		cards = append(cards, card)
	}
	return cards
}
