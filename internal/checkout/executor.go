package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"github.com/sirupsen/logrus"
)

const rollbackTimeout = 10 * time.Second

// IdempotencyKey is the key sent with the checkout of a booking
func IdempotencyKey(bookingID string) string {
	return "checkout-" + bookingID
}

// ============================================================================
// PROCESS PAYMENT
// ============================================================================

// ProcessPayment runs one confirmed checkout: create the booking, charge what
// is owed, and roll the booking back if the charge fails. It is not
// re-entrant, and after a failure Reset must be called first.
//
// The returned error is the checkout failure, if any; the flow state already
// reflects it.
func (s *Session) ProcessPayment(ctx context.Context) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ErrPaymentInProgress
	}
	switch s.flow.Step() {
	case models.StepError:
		s.mu.Unlock()
		return ErrResetRequired
	case models.StepSuccess:
		s.mu.Unlock()
		return ErrAlreadyPaid
	}
	if err := s.flow.BeginProcessing(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.processing = true
	s.bookingError = ""
	s.touched = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	if s.checkoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.checkoutTimeout)
		defer cancel()
	}
	return s.execute(ctx)
}

func (s *Session) execute(ctx context.Context) error {
	started := time.Now()
	draft := s.draft.Get()
	flow := s.flow.State()

	// 1. Resolve the booking date, never defaulting to today
	date := s.resolveBookingDate(ctx, draft)
	if date == "" {
		return s.fail(ctx, ErrMissingDate, "", Totals{}, started)
	}
	draft.Date = date

	sel := SelectQuote(ctx, draft, s.state)
	if sel == nil {
		return s.fail(ctx, ErrIncompleteBooking, "", Totals{}, started)
	}

	// 2. Amounts come from a preview quoted for this exact selection. An edit
	// may have dropped the preview before its re-quote ran, so quote inline.
	preview := s.pricing.PreviewFor(sel)
	if preview == nil {
		s.log().WithField("quote_key", QuoteKey(sel)).Info("No current pricing preview, re-quoting before checkout")
		s.pricing.Refresh(ctx, sel)
		s.reconcileCredits(ctx, sel)
		preview = s.pricing.PreviewFor(sel)
	}
	totals := s.totalsFrom(preview)

	// 3. A free booking with no credit skips the processor
	shouldProcessCheckout := totals.AmountDueCents > 0 || totals.AppliedCreditCents > 0

	cardID := ""
	if totals.AmountDueCents > 0 {
		cardID = flow.SelectedCardID
		if cardID == "" && flow.Method.UsesCard() {
			cardID = s.defaultCardID()
		}
		if cardID == "" {
			return s.fail(ctx, ErrPaymentMethodRequired, "", totals, started)
		}
	}

	s.record(ctx, models.CheckoutEventInitiated, models.CheckoutSourceUser, func(a *models.CheckoutAudit) {
		a.SetAmounts(totals.TotalCents, totals.AppliedCreditCents, totals.ReferralCents, totals.AmountDueCents).
			SetPaymentMethod(flow.Method)
	})

	// 4. Create the booking
	booking, err := s.collab.Bookings.CreateBooking(ctx, buildBookingRequest(draft, sel))
	if err != nil || booking == nil || booking.ID == "" {
		if err == nil {
			err = ErrBookingCreation
		}
		err = withDeadline(ctx, err)

		s.mu.Lock()
		s.bookingError = err.Error()
		s.mu.Unlock()

		s.record(ctx, models.CheckoutEventBookingCreationFailed, models.CheckoutSourceEngine, func(a *models.CheckoutAudit) {
			a.SetError(err.Error(), errorCode(err)).SetProcessingTime(started)
		})

		if isMinimumPriceError(err) {
			s.log().WithError(err).Warn("Booking rejected below minimum price, returning to confirmation")
			_ = s.flow.ReturnToConfirmation(err.Error())
			return err
		}
		return s.fail(ctx, err, "", totals, started)
	}

	s.mu.Lock()
	s.bookingID = booking.ID
	s.mu.Unlock()
	s.record(ctx, models.CheckoutEventBookingCreated, models.CheckoutSourceEngine, func(a *models.CheckoutAudit) {
		a.SetBooking(booking.ID)
	})

	// 5. Charge what is owed
	var result *models.CheckoutResult
	if shouldProcessCheckout {
		req := models.CheckoutRequest{
			BookingID:      booking.ID,
			IdempotencyKey: IdempotencyKey(booking.ID),
		}
		if totals.AppliedCreditCents > 0 {
			req.RequestedCreditCents = models.IntPtr(totals.AppliedCreditCents)
		}
		if totals.AmountDueCents > 0 {
			req.PaymentMethodID = models.StringPtr(cardID)
		}

		res, err := s.collab.Checkout.CreateCheckout(ctx, req)

		// 6. Interpret the processor status
		result, err = interpretCheckout(res, err)
		if err != nil {
			return s.fail(ctx, withDeadline(ctx, err), booking.ID, totals, started)
		}
	}

	// 7. Success
	if totals.AppliedCreditCents > 0 {
		if err := s.LoadWallet(ctx); err != nil {
			s.log().WithError(err).Warn("Wallet refresh after checkout failed")
		}
	}
	s.draft.Freeze()
	_ = s.flow.Succeed()
	s.credits.Forget(ctx)

	s.record(ctx, models.CheckoutEventSucceeded, models.CheckoutSourceProcessor, func(a *models.CheckoutAudit) {
		a.SetBooking(booking.ID).
			SetAmounts(totals.TotalCents, totals.AppliedCreditCents, totals.ReferralCents, totals.AmountDueCents).
			SetPaymentMethod(flow.Method).
			SetIdempotencyKey(IdempotencyKey(booking.ID)).
			SetProcessingTime(started)
		if result != nil {
			a.SetPaymentIntent(result.PaymentIntentID).SetPaymentStatus(result.Status)
		} else {
			a.SetPaymentStatus("not_required")
		}
	})

	s.log().WithFields(logrus.Fields{
		"booking_id":       booking.ID,
		"amount_due_cents": totals.AmountDueCents,
		"credit_cents":     totals.AppliedCreditCents,
	}).Info("Checkout completed")

	if s.onSuccess != nil {
		s.onSuccess(booking.ID)
	}
	return nil
}

// resolveBookingDate returns the draft date, else the cached selected slot's
func (s *Session) resolveBookingDate(ctx context.Context, draft models.BookingDraft) string {
	if date, ok := validator.NormalizeDate(draft.Date); ok {
		return date
	}
	if hint, ok := s.state.LoadSelectedSlot(ctx, draft.InstructorID); ok {
		if hint.InstructorID == "" || draft.InstructorID == "" || hint.InstructorID == draft.InstructorID {
			if date, ok := validator.NormalizeDate(hint.Date); ok {
				return date
			}
		}
	}
	return ""
}

func buildBookingRequest(draft models.BookingDraft, sel *models.QuoteSelection) models.CreateBookingRequest {
	end, ok := validator.NormalizeClock(draft.EndTime)
	if !ok {
		end, _ = validator.AddMinutes(sel.StartTime, sel.SelectedDuration)
	}
	return models.CreateBookingRequest{
		InstructorID:        sel.InstructorID,
		InstructorServiceID: sel.InstructorServiceID,
		BookingDate:         sel.BookingDate,
		StartTime:           sel.StartTime,
		EndTime:             end,
		SelectedDuration:    sel.SelectedDuration,
		LocationType:        sel.LocationType,
		MeetingLocation:     sel.MeetingLocation,
		StudentNote:         draft.Description,
		Timezone:            resolveTimezone(draft),
	}
}

// interpretCheckout partitions a processor answer into success, action
// required, and failure
func interpretCheckout(result *models.CheckoutResult, err error) (*models.CheckoutResult, error) {
	if err != nil {
		if isActionRequiredError(err) {
			return nil, fmt.Errorf("%w: %w", ErrActionRequired, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, &statusError{Status: "unknown"}
	}
	if result.RequiresAction || models.IsActionRequiredStatus(result.Status) {
		return result, ErrActionRequired
	}
	if models.IsSuccessStatus(result.Status) || (result.Status == "" && result.Success) {
		return result, nil
	}
	return result, &statusError{Status: result.Status}
}

// withDeadline marks err as a timeout when the checkout deadline passed
func withDeadline(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// fail moves the flow to ERROR. A booking created by this attempt is rolled
// back first.
func (s *Session) fail(ctx context.Context, err error, bookingID string, totals Totals, started time.Time) error {
	message := ClassifyPaymentError(err)
	s.log().WithError(err).WithFields(logrus.Fields{
		"booking_id": bookingID,
		"message":    message,
	}).Error("Checkout failed")

	// 8. Roll back the booking we just created
	if bookingID != "" {
		s.rollback(ctx, bookingID)
	}

	event := models.CheckoutEventFailed
	if errors.Is(err, ErrActionRequired) {
		event = models.CheckoutEventActionRequired
	}
	s.record(ctx, event, models.CheckoutSourceEngine, func(a *models.CheckoutAudit) {
		a.SetAmounts(totals.TotalCents, totals.AppliedCreditCents, totals.ReferralCents, totals.AmountDueCents).
			SetError(message, errorCode(err)).
			SetProcessingTime(started)
		if bookingID != "" {
			a.SetBooking(bookingID).SetIdempotencyKey(IdempotencyKey(bookingID))
		}
	})

	_ = s.flow.Fail(message)
	if s.onError != nil {
		s.onError(message)
	}
	return err
}

func (s *Session) rollback(ctx context.Context, bookingID string) {
	if s.collab.Cancel == nil {
		return
	}
	// the checkout deadline may already have passed
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := s.collab.Cancel.CancelBooking(rbCtx, bookingID); err != nil {
		s.log().WithError(err).WithField("booking_id", bookingID).Warn("Failed to roll back booking")
		s.record(ctx, models.CheckoutEventRollbackFailed, models.CheckoutSourceEngine, func(a *models.CheckoutAudit) {
			a.SetBooking(bookingID).SetError(err.Error(), errorCode(err))
		})
		return
	}

	s.mu.Lock()
	if s.bookingID == bookingID {
		s.bookingID = ""
	}
	s.mu.Unlock()
	s.record(ctx, models.CheckoutEventBookingRolledBack, models.CheckoutSourceEngine, func(a *models.CheckoutAudit) {
		a.SetBooking(bookingID)
	})
}

// record writes an audit row. A session without a recorder skips it.
func (s *Session) record(ctx context.Context, event models.CheckoutEventType, source models.CheckoutEventSource, fill func(*models.CheckoutAudit)) {
	if s.audit == nil {
		return
	}
	audit := models.NewCheckoutAudit(event, source).
		SetSession(s.id).
		SetMetadata(s.clientIP, s.userAgent)
	if s.userID != uuid.Nil {
		audit.SetUser(s.userID)
	}
	if fill != nil {
		fill(audit)
	}
	s.audit.Record(context.WithoutCancel(ctx), audit)
}

func errorCode(err error) string {
	if apiErr, ok := models.AsAPIError(err); ok {
		return apiErr.Code
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status
	}
	return ""
}
