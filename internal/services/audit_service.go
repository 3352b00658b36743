package services

import (
	"context"
	"time"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// AuditWriter persists checkout audit rows
type AuditWriter interface {
	Log(ctx context.Context, audit *models.CheckoutAudit) error
}

// AuditService records checkout milestones with device information.
// Recording is best-effort: a failed write is logged and dropped.
type AuditService struct {
	writer  AuditWriter
	logger  *logrus.Logger
	timeout time.Duration
}

// NewAuditService creates a new audit service. A nil writer logs events only.
func NewAuditService(writer AuditWriter, logger *logrus.Logger) *AuditService {
	return &AuditService{
		writer:  writer,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Record enriches the audit with device info and stores it
func (s *AuditService) Record(ctx context.Context, audit *models.CheckoutAudit) {
	if audit == nil {
		return
	}

	if audit.UserAgent != nil {
		details := map[string]interface{}{}
		for k, v := range audit.Details {
			details[k] = v
		}
		details["device_info"] = utils.ParseUserAgent(*audit.UserAgent)
		audit.SetDetails(details)
	}

	entry := s.logger.WithFields(logrus.Fields{
		"event_type": audit.EventType,
		"session_id": audit.SessionID,
		"booking_id": audit.BookingID,
	})

	if s.writer == nil {
		entry.Info("Checkout audit")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.Log(writeCtx, audit); err != nil {
		entry.WithError(err).Warn("Failed to record checkout audit")
	}
}
