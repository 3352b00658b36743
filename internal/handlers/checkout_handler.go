package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/checkout"
	"github.com/lessonmarket/checkout-service/internal/middleware"
	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/services"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/lessonmarket/checkout-service/internal/utils"
	"github.com/sirupsen/logrus"
)

// CollaboratorsFunc builds the backend clients of one student's session
type CollaboratorsFunc func(user middleware.UserContext) checkout.Collaborators

// OutcomePublisher announces finished checkouts
type OutcomePublisher interface {
	CheckoutSucceeded(ctx context.Context, event services.CheckoutEvent) error
	CheckoutFailed(ctx context.Context, event services.CheckoutEvent) error
}

// AuditReader reads stored checkout audits
type AuditReader interface {
	GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.CheckoutAudit, error)
	GetByBooking(ctx context.Context, bookingID string) ([]*models.CheckoutAudit, error)
}

// CheckoutHandlerConfig holds what every new session is created with
type CheckoutHandlerConfig struct {
	Inline          bool
	DemoCards       bool
	CheckoutTimeout time.Duration
	Store           storage.Store
	Audit           checkout.AuditRecorder
	Scheduler       checkout.Scheduler
}

// CheckoutHandler exposes checkout sessions over HTTP
type CheckoutHandler struct {
	registry      *services.SessionRegistry
	collaborators CollaboratorsFunc
	publisher     OutcomePublisher
	audits        AuditReader
	config        CheckoutHandlerConfig
	logger        *logrus.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler. publisher and audits may be nil.
func NewCheckoutHandler(
	registry *services.SessionRegistry,
	collaborators CollaboratorsFunc,
	publisher OutcomePublisher,
	audits AuditReader,
	config CheckoutHandlerConfig,
	logger *logrus.Logger,
) *CheckoutHandler {
	if config.Store == nil {
		config.Store = storage.NewMemoryStore()
	}
	return &CheckoutHandler{
		registry:      registry,
		collaborators: collaborators,
		publisher:     publisher,
		audits:        audits,
		config:        config,
		logger:        logger,
	}
}

// ============================================================================
// REQUEST TYPES
// ============================================================================

// CreateSessionRequest starts a checkout for a booking draft
type CreateSessionRequest struct {
	BookingData models.BookingDraft `json:"booking_data"`
	Inline      *bool               `json:"inline"`
}

// UpdateDraftRequest is an inline edit of the lesson being booked
type UpdateDraftRequest struct {
	Date         *string `json:"date" binding:"omitempty,lessondate"`
	StartTime    *string `json:"start_time" binding:"omitempty,clocktime"`
	EndTime      *string `json:"end_time" binding:"omitempty,clocktime"`
	Duration     *int    `json:"duration" binding:"omitempty,min=15,max=480"`
	Location     *string `json:"location" binding:"omitempty,max=500"`
	LocationType *string `json:"location_type" binding:"omitempty,max=64"`
	Description  *string `json:"description" binding:"omitempty,max=2000"`
}

// SelectPaymentMethodRequest picks how the student pays
type SelectPaymentMethodRequest struct {
	Method models.PaymentMethod `json:"method" binding:"required,oneof=CREDIT_CARD CREDITS MIXED"`
	CardID string               `json:"card_id" binding:"omitempty,max=255"`
}

// ToggleCreditsRequest turns credits on or off
type ToggleCreditsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetCreditsRequest moves the credit slider
type SetCreditsRequest struct {
	AmountCents *int `json:"amount_cents" binding:"required,min=0"`
}

// SetCreditsExpandedRequest opens or closes the credits section
type SetCreditsExpandedRequest struct {
	Expanded *bool `json:"expanded" binding:"required"`
}

// ApplyReferralRequest applies a referral or promo code
type ApplyReferralRequest struct {
	Code string `json:"code" binding:"required,max=64"`
}

// ============================================================================
// CREATE SESSION - POST /api/v1/checkout/sessions
// ============================================================================

// CreateSession starts a checkout session for a booking draft
func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.BookingData.InstructorID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_data.instructor_id is required"})
		return
	}

	inline := h.config.Inline
	if req.Inline != nil {
		inline = *req.Inline
	}

	sessionID := uuid.New()
	var session *checkout.Session
	session = checkout.NewSession(req.BookingData, h.collaborators(userCtx), checkout.Options{
		ID:              sessionID,
		UserID:          userCtx.UserID,
		Inline:          inline,
		DemoCards:       h.config.DemoCards,
		CheckoutTimeout: h.config.CheckoutTimeout,
		Scheduler:       h.config.Scheduler,
		Store:           storage.Scoped(h.config.Store, "user:"+userCtx.UserID.String()+":"),
		Audit:           h.config.Audit,
		Logger:          h.logger,
		ClientIP:        utils.GetRealIP(c),
		UserAgent:       utils.GetUserAgent(c),
		OnSuccess: func(bookingID string) {
			h.publishOutcome(session, userCtx.UserID, bookingID, "")
		},
		OnError: func(message string) {
			h.publishOutcome(session, userCtx.UserID, "", message)
		},
		OnBack: func() {
			h.registry.Remove(sessionID)
		},
	})

	session.Start(c.Request.Context())
	h.registry.Add(session)

	h.logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"user_id":       userCtx.UserID,
		"instructor_id": req.BookingData.InstructorID,
	}).Info("Checkout session created")

	c.JSON(http.StatusCreated, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// publishOutcome is best-effort: a broker failure never changes the checkout result
func (h *CheckoutHandler) publishOutcome(session *checkout.Session, userID uuid.UUID, bookingID, message string) {
	if h.publisher == nil || session == nil {
		return
	}
	totals := session.Totals()
	event := services.CheckoutEvent{
		SessionID:      session.ID(),
		UserID:         userID,
		BookingID:      bookingID,
		Message:        message,
		AmountDueCents: totals.AmountDueCents,
		CreditCents:    totals.AppliedCreditCents,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if message == "" {
		err = h.publisher.CheckoutSucceeded(ctx, event)
	} else {
		err = h.publisher.CheckoutFailed(ctx, event)
	}
	if err != nil {
		h.logger.WithError(err).WithField("session_id", session.ID()).Warn("Checkout outcome not published")
	}
}

// ============================================================================
// GET SESSION - GET /api/v1/checkout/sessions/:id
// ============================================================================

// GetSession returns the current snapshot of a session
func (h *CheckoutHandler) GetSession(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// ============================================================================
// DRAFT - PATCH /api/v1/checkout/sessions/:id/draft
// ============================================================================

// UpdateDraft applies an inline edit to the lesson details
func (h *CheckoutHandler) UpdateDraft(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	change, err := session.UpdateDraft(c.Request.Context(), checkout.DraftPatch{
		Date:         req.Date,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Duration:     req.Duration,
		Location:     req.Location,
		LocationType: req.LocationType,
		Description:  req.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changed":          change.Changed,
		"pricing_relevant": change.PricingRelevant,
		"session":          session.Snapshot(c.Request.Context()),
	})
}

// ============================================================================
// PAYMENT METHOD
// ============================================================================

// SelectPaymentMethod handles POST /sessions/:id/payment-method
func (h *CheckoutHandler) SelectPaymentMethod(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SelectPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := session.SelectPaymentMethod(req.Method, req.CardID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// ConfirmPaymentMethod handles POST /sessions/:id/payment-method/confirm
func (h *CheckoutHandler) ConfirmPaymentMethod(c *gin.Context) {
	h.transition(c, (*checkout.Session).ConfirmPaymentMethod)
}

// ChangePaymentMethod handles POST /sessions/:id/payment-method/change
func (h *CheckoutHandler) ChangePaymentMethod(c *gin.Context) {
	h.transition(c, (*checkout.Session).ChangePaymentMethod)
}

// ============================================================================
// CREDITS
// ============================================================================

// ToggleCredits handles POST /sessions/:id/credits/toggle
func (h *CheckoutHandler) ToggleCredits(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req ToggleCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := session.ToggleCredits(c.Request.Context(), *req.Enabled); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// SetCredits handles PUT /sessions/:id/credits
func (h *CheckoutHandler) SetCredits(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SetCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := session.SetCreditAmount(c.Request.Context(), *req.AmountCents); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// SetCreditsExpanded handles POST /sessions/:id/credits/expanded
func (h *CheckoutHandler) SetCreditsExpanded(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req SetCreditsExpandedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	session.SetCreditsExpanded(c.Request.Context(), *req.Expanded)
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// ============================================================================
// REFERRAL - POST /api/v1/checkout/sessions/:id/referral
// ============================================================================

// ApplyReferral applies a referral or promo code
func (h *CheckoutHandler) ApplyReferral(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req ApplyReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	result, err := session.ApplyReferral(c.Request.Context(), req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"referral": result,
		"session":  session.Snapshot(c.Request.Context()),
	})
}

// ============================================================================
// PAY - POST /api/v1/checkout/sessions/:id/pay
// ============================================================================

// Pay runs the checkout. A failed payment answers 402 with the user-facing
// message; the session snapshot carries the same state.
func (h *CheckoutHandler) Pay(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	// The checkout outlives a dropped connection; the session timeout bounds it
	ctx := context.WithoutCancel(c.Request.Context())

	err := session.ProcessPayment(ctx)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(ctx)})
	case errors.Is(err, checkout.ErrPaymentInProgress),
		errors.Is(err, checkout.ErrResetRequired),
		errors.Is(err, checkout.ErrAlreadyPaid),
		errors.Is(err, checkout.ErrMethodNotSelected),
		errors.Is(err, checkout.ErrInvalidTransition):
		h.respondError(c, err)
	default:
		snap := session.Snapshot(ctx)
		message := snap.ErrorMessage
		if message == "" {
			message = checkout.ClassifyPaymentError(err)
		}
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   message,
			"title":   checkout.ErrorTitle(message),
			"session": snap,
		})
	}
}

// ============================================================================
// RETRY / CANCEL
// ============================================================================

// Retry handles POST /sessions/:id/retry
func (h *CheckoutHandler) Retry(c *gin.Context) {
	h.transition(c, (*checkout.Session).Reset)
}

// Cancel handles POST /sessions/:id/cancel. The session is discarded.
func (h *CheckoutHandler) Cancel(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := session.Cancel(); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "checkout cancelled"})
}

// ============================================================================
// AUDIT - GET /api/v1/checkout/sessions/:id/audit
// ============================================================================

// GetSessionAudit lists the stored milestones of one of the student's sessions
func (h *CheckoutHandler) GetSessionAudit(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	if h.audits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log not configured"})
		return
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	audits, err := h.audits.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read checkout audits")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": ownedBy(audits, userCtx.UserID)})
}

// GetBookingAudit lists the stored milestones that touched one booking
func (h *CheckoutHandler) GetBookingAudit(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}
	if h.audits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log not configured"})
		return
	}

	audits, err := h.audits.GetByBooking(c.Request.Context(), c.Param("booking_id"))
	if err != nil {
		h.logger.WithError(err).Error("Failed to read checkout audits")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audits": ownedBy(audits, userCtx.UserID)})
}

func ownedBy(audits []*models.CheckoutAudit, userID uuid.UUID) []*models.CheckoutAudit {
	owned := make([]*models.CheckoutAudit, 0, len(audits))
	for _, a := range audits {
		if a.UserID != nil && *a.UserID == userID {
			owned = append(owned, a)
		}
	}
	return owned
}

// ============================================================================
// HELPERS
// ============================================================================

// lookup resolves :id to a session of the authenticated student, writing the
// error response itself when it cannot
func (h *CheckoutHandler) lookup(c *gin.Context) (*checkout.Session, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return nil, false
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return nil, false
	}

	session, err := h.registry.Get(sessionID, userCtx.UserID)
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return session, true
}

func (h *CheckoutHandler) transition(c *gin.Context, fn func(*checkout.Session) error) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := fn(session); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session.Snapshot(c.Request.Context())})
}

// respondError maps checkout errors to HTTP statuses
func (h *CheckoutHandler) respondError(c *gin.Context, err error) {
	var pricingErr *checkout.PricingError

	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "checkout session not found"})
	case errors.Is(err, checkout.ErrInvalidMethod),
		errors.Is(err, checkout.ErrUnknownCard),
		errors.Is(err, checkout.ErrInvalidReferral),
		errors.Is(err, checkout.ErrMethodNotSelected):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrPaymentInProgress),
		errors.Is(err, checkout.ErrResetRequired),
		errors.Is(err, checkout.ErrAlreadyPaid),
		errors.Is(err, checkout.ErrCreditUpdateInFlight),
		errors.Is(err, checkout.ErrStaleResponse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, checkout.ErrCannotPrice):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &pricingErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           pricingErr.Error(),
			"floor_violation": pricingErr.IsFloorViolation(),
		})
	default:
		if apiErr, ok := models.AsAPIError(err); ok && apiErr.Status >= 400 && apiErr.Status < 500 {
			c.JSON(apiErr.Status, gin.H{"error": apiErr.Error(), "code": apiErr.Code})
			return
		}
		h.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Checkout request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service error"})
	}
}

// RegisterRoutes mounts the checkout endpoints. payLimiter guards the pay
// endpoint and may be nil.
func (h *CheckoutHandler) RegisterRoutes(rg *gin.RouterGroup, payLimiter gin.HandlerFunc) {
	sessions := rg.Group("/checkout/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.PATCH("/:id/draft", h.UpdateDraft)
		sessions.POST("/:id/payment-method", h.SelectPaymentMethod)
		sessions.POST("/:id/payment-method/confirm", h.ConfirmPaymentMethod)
		sessions.POST("/:id/payment-method/change", h.ChangePaymentMethod)
		sessions.POST("/:id/credits/toggle", h.ToggleCredits)
		sessions.PUT("/:id/credits", h.SetCredits)
		sessions.POST("/:id/credits/expanded", h.SetCreditsExpanded)
		sessions.POST("/:id/referral", h.ApplyReferral)
		if payLimiter != nil {
			sessions.POST("/:id/pay", payLimiter, h.Pay)
		} else {
			sessions.POST("/:id/pay", h.Pay)
		}
		sessions.POST("/:id/retry", h.Retry)
		sessions.POST("/:id/cancel", h.Cancel)
		sessions.GET("/:id/audit", h.GetSessionAudit)
	}
	rg.GET("/checkout/bookings/:booking_id/audit", h.GetBookingAudit)
}
