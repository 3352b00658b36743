package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/sirupsen/logrus"
)

// CheckoutAuditRepository stores checkout milestones
type CheckoutAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewCheckoutAuditRepository creates a new checkout audit repository
func NewCheckoutAuditRepository(db *sqlx.DB, logger *logrus.Logger) *CheckoutAuditRepository {
	return &CheckoutAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log inserts one audit entry. Rows are never updated.
func (r *CheckoutAuditRepository) Log(ctx context.Context, audit *models.CheckoutAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO checkout_audits (
			id, session_id, user_id, booking_id, payment_intent_id,
			event_type, event_source,
			total_cents, credit_cents, referral_cents, amount_due_cents,
			payment_method, payment_status,
			error_message, error_code, details,
			processing_time_ms, idempotency_key,
			ip_address, user_agent,
			created_at, processed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15, $16,
			$17, $18,
			$19, $20,
			$21, $22
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.SessionID, audit.UserID, audit.BookingID, audit.PaymentIntentID,
		audit.EventType, audit.EventSource,
		audit.TotalCents, audit.CreditCents, audit.ReferralCents, audit.AmountDueCents,
		audit.PaymentMethod, audit.PaymentStatus,
		audit.ErrorMessage, audit.ErrorCode, audit.Details,
		audit.ProcessingTimeMs, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent,
		audit.CreatedAt, audit.ProcessedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"session_id": audit.SessionID,
		}).Error("Failed to log checkout audit")
		return fmt.Errorf("failed to log checkout audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Checkout audit logged")

	return nil
}

// GetBySession retrieves all audit entries of a checkout session
func (r *CheckoutAuditRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CheckoutAudit, error) {
	var audits []*models.CheckoutAudit
	query := `
		SELECT * FROM checkout_audits
		WHERE session_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get audits by session: %w", err)
	}
	return audits, nil
}

// GetByBooking retrieves all audit entries that mention a booking
func (r *CheckoutAuditRepository) GetByBooking(ctx context.Context, bookingID string) ([]*models.CheckoutAudit, error) {
	var audits []*models.CheckoutAudit
	query := `
		SELECT * FROM checkout_audits
		WHERE booking_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to get audits by booking: %w", err)
	}
	return audits, nil
}
