package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"github.com/sirupsen/logrus"
)

// Options configure a session
type Options struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Inline    bool
	DemoCards bool

	// CheckoutTimeout bounds one ProcessPayment call. Zero means no limit.
	CheckoutTimeout time.Duration

	Scheduler Scheduler
	Store     storage.Store
	Audit     AuditRecorder
	Logger    *logrus.Logger

	ClientIP  string
	UserAgent string

	OnSuccess func(bookingID string)
	OnError   func(message string)
	OnBack    func()
}

// DraftPatch is an inline edit of the draft. Nil fields are left alone.
type DraftPatch struct {
	Date         *string `json:"date,omitempty"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      *string `json:"end_time,omitempty"`
	Duration     *int    `json:"duration,omitempty"`
	Location     *string `json:"location,omitempty"`
	LocationType *string `json:"location_type,omitempty"`
	Description  *string `json:"description,omitempty"`
}

// Totals is what the student owes right now, in minor units
type Totals struct {
	TotalCents         int `json:"total_cents"`
	AppliedCreditCents int `json:"applied_credit_cents"`
	ReferralCents      int `json:"referral_cents"`
	AmountDueCents     int `json:"amount_due_cents"`
}

// Snapshot is a read-only view of a session
type Snapshot struct {
	ID           string                  `json:"id"`
	Inline       bool                    `json:"inline"`
	ChargesNow   bool                    `json:"charges_now"`
	Flow         models.PaymentFlowState `json:"flow"`
	Draft        models.BookingDraft     `json:"draft"`
	Selection    *models.QuoteSelection  `json:"selection"`
	Pricing      PricingSnapshot         `json:"pricing"`
	Credits      CreditState             `json:"credits"`
	Totals       Totals                  `json:"totals"`
	Processing   bool                    `json:"processing"`
	BookingID    string                  `json:"booking_id,omitempty"`
	BookingError string                  `json:"booking_error,omitempty"`
	ErrorTitle   string                  `json:"error_title,omitempty"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Cards        []models.SavedCard      `json:"cards"`
	Wallet       *models.CreditBalance   `json:"wallet,omitempty"`
	Referral     *models.ReferralResult  `json:"referral,omitempty"`
}

// Session is one student's checkout of one lesson
type Session struct {
	id              uuid.UUID
	userID          uuid.UUID
	collab          Collaborators
	state           *storage.CheckoutState
	scheduler       Scheduler
	audit           AuditRecorder
	logger          *logrus.Logger
	demoCards       bool
	checkoutTimeout time.Duration
	clientIP        string
	userAgent       string
	onSuccess       func(string)
	onError         func(string)
	onBack          func()

	draft   *DraftStore
	pricing *PricingController
	credits *CreditReconciler
	flow    *PaymentFlow

	mu           sync.Mutex
	processing   bool
	bookingID    string
	bookingError string
	cards        []models.SavedCard
	wallet       *models.CreditBalance
	referral     *models.ReferralResult
	touched      time.Time
}

// NewSession creates a session for a draft. Call Start before use.
func NewSession(draft models.BookingDraft, collab Collaborators, opts Options) *Session {
	if opts.ID == uuid.Nil {
		opts.ID = uuid.New()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = GoScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	state := storage.NewCheckoutState(opts.Store, opts.Logger)
	pricing := NewPricingController(collab.Pricing, opts.Logger)

	return &Session{
		id:              opts.ID,
		userID:          opts.UserID,
		collab:          collab,
		state:           state,
		scheduler:       opts.Scheduler,
		audit:           opts.Audit,
		logger:          opts.Logger,
		demoCards:       opts.DemoCards,
		checkoutTimeout: opts.CheckoutTimeout,
		clientIP:        opts.ClientIP,
		userAgent:       opts.UserAgent,
		onSuccess:       opts.OnSuccess,
		onError:         opts.OnError,
		onBack:          opts.OnBack,
		draft:           NewDraftStore(draft),
		pricing:         pricing,
		credits:         NewCreditReconciler(pricing, state, opts.Logger),
		flow:            NewPaymentFlow(opts.Inline),
		cards:           []models.SavedCard{},
		touched:         time.Now(),
	}
}

// ID returns the session id
func (s *Session) ID() uuid.UUID {
	return s.id
}

// UserID returns the owning student
func (s *Session) UserID() uuid.UUID {
	return s.userID
}

// LastTouched returns when the session was last used
func (s *Session) LastTouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

// Processing reports whether a checkout is running
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("session_id", s.id.String())
}

// Start restores stored credit choices, loads cards and wallet, then quotes
func (s *Session) Start(ctx context.Context) {
	draft := s.draft.Get()
	sel := SelectQuote(ctx, draft, s.state)
	decision, restored := s.credits.Restore(ctx, DecisionKey(draft, sel))

	s.LoadPaymentMethods(ctx)
	_ = s.LoadWallet(ctx)

	// Quote with the remembered credit so the preview already carries it
	if restored && !decision.ExplicitlyRemoved && decision.LastCreditCents > 0 {
		seed := decision.LastCreditCents
		if wallet := s.walletCents(); wallet > 0 {
			seed = min(seed, wallet)
		}
		s.pricing.SeedCredit(seed)
	}

	s.rememberSlot(ctx, sel)
	s.RefreshPricing(ctx)
}

// rememberSlot caches the priced slot so a later draft missing its date or
// service can recover them
func (s *Session) rememberSlot(ctx context.Context, sel *models.QuoteSelection) {
	if sel == nil {
		return
	}
	hint := storage.SlotHint{
		InstructorID: sel.InstructorID,
		ServiceID:    sel.InstructorServiceID,
		Date:         sel.BookingDate,
		StartTime:    sel.StartTime,
		Duration:     sel.SelectedDuration,
	}
	s.state.SaveSelectedSlot(ctx, hint)
	s.state.SaveLastBookingData(ctx, hint)
}

// ============================================================================
// PRICING
// ============================================================================

func (s *Session) selection(ctx context.Context) *models.QuoteSelection {
	return SelectQuote(ctx, s.draft.Get(), s.state)
}

// RefreshPricing re-quotes the current draft and runs credit auto-apply
func (s *Session) RefreshPricing(ctx context.Context) {
	sel := s.selection(ctx)
	s.pricing.Refresh(ctx, sel)
	s.reconcileCredits(ctx, sel)
}

// schedulePricingRefresh drops the current preview at once and re-quotes in
// the background, so nothing can charge from the old quote meanwhile
func (s *Session) schedulePricingRefresh() {
	s.pricing.Invalidate()
	s.scheduler.Schedule(func() {
		s.RefreshPricing(context.Background())
	})
}

func (s *Session) reconcileCredits(ctx context.Context, sel *models.QuoteSelection) {
	snap := s.pricing.Snapshot()
	if err := s.credits.Observe(ctx, sel, snap.Preview, snap.Err(), s.walletCents()); err != nil {
		s.log().WithError(err).Debug("Credit auto-apply did not complete")
	}
	s.syncCredits()
}

func (s *Session) syncCredits() {
	s.flow.SetCredits(s.credits.State().LastSuccessfulCents)
}

// Totals computes the amounts from the live preview, falling back to the
// draft total while no preview exists
func (s *Session) Totals() Totals {
	return s.totalsFrom(s.pricing.Preview())
}

func (s *Session) totalsFrom(preview *models.PricingPreview) Totals {
	draft := s.draft.Get()

	s.mu.Lock()
	referral := 0
	if s.referral != nil && s.referral.AppliedCents > 0 {
		referral = s.referral.AppliedCents
	}
	s.mu.Unlock()

	t := Totals{ReferralCents: referral}
	if preview != nil {
		t.TotalCents = preview.TotalBeforeCreditCents()
		t.AppliedCreditCents = max(0, preview.CreditAppliedCents)
	} else {
		t.TotalCents = validator.ToCents(draft.TotalAmountValue())
	}
	t.AmountDueCents = max(0, t.TotalCents-t.AppliedCreditCents-t.ReferralCents)
	return t
}

func (s *Session) totalBeforeCreditCents() int {
	if preview := s.pricing.Preview(); preview != nil {
		return preview.TotalBeforeCreditCents()
	}
	return validator.ToCents(s.draft.Get().TotalAmountValue())
}

// ============================================================================
// DRAFT
// ============================================================================

// UpdateDraft applies an inline edit. Only date, start time and duration
// changes re-quote, unless the edit makes an unpriceable draft priceable.
func (s *Session) UpdateDraft(ctx context.Context, patch DraftPatch) (DraftChange, error) {
	if err := s.ensureEditable(); err != nil {
		return DraftChange{}, err
	}
	s.touch()

	before := s.selection(ctx)
	change := s.draft.Update(func(d models.BookingDraft) *models.BookingDraft {
		if patch.Date != nil {
			d.Date = *patch.Date
		}
		if patch.StartTime != nil {
			d.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			d.EndTime = *patch.EndTime
		}
		if patch.Duration != nil {
			d.Duration = models.Int(*patch.Duration)
		}
		if patch.Location != nil {
			d.Location = *patch.Location
		}
		if patch.LocationType != nil {
			d.SetMeta("location_type", *patch.LocationType)
		}
		if patch.Description != nil {
			d.Description = *patch.Description
		}
		return &d
	})
	if !change.Changed {
		return change, nil
	}

	after := s.selection(ctx)
	s.rememberSlot(ctx, after)
	if change.PricingRelevant || (before == nil && after != nil) {
		s.schedulePricingRefresh()
	}
	return change, nil
}

// ============================================================================
// PAYMENT METHODS AND WALLET
// ============================================================================

func demoCard() models.SavedCard {
	return models.SavedCard{
		ID:        "pm_demo_visa",
		Last4:     "4242",
		Brand:     "visa",
		IsDefault: true,
	}
}

// LoadPaymentMethods fetches saved cards. Failures and empty answers become
// an empty list; the default card is preselected.
func (s *Session) LoadPaymentMethods(ctx context.Context) []models.SavedCard {
	var cards []models.SavedCard
	if s.collab.PaymentMethods != nil {
		list, err := s.collab.PaymentMethods.ListPaymentMethods(ctx)
		if err != nil {
			s.log().WithError(err).Warn("Failed to load payment methods")
		} else {
			cards = list
		}
	}
	if cards == nil {
		cards = []models.SavedCard{}
	}
	if len(cards) == 0 && s.demoCards {
		cards = append(cards, demoCard())
	}

	for _, card := range cards {
		if card.IsDefault {
			s.flow.PreselectCard(card.ID)
			break
		}
	}

	s.mu.Lock()
	s.cards = cards
	s.mu.Unlock()

	out := make([]models.SavedCard, len(cards))
	copy(out, cards)
	return out
}

// LoadWallet refreshes the credit balance and re-runs auto-apply
func (s *Session) LoadWallet(ctx context.Context) error {
	if s.collab.Wallet == nil {
		return nil
	}
	balance, err := s.collab.Wallet.GetCredits(ctx)
	if err != nil {
		s.log().WithError(err).Warn("Failed to load credit balance")
		return fmt.Errorf("failed to load credit balance: %w", err)
	}

	s.mu.Lock()
	s.wallet = balance
	s.mu.Unlock()

	s.reconcileCredits(ctx, s.selection(ctx))
	return nil
}

func (s *Session) walletCents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet.AvailableCents()
}

func (s *Session) defaultCardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, card := range s.cards {
		if card.IsDefault {
			return card.ID
		}
	}
	return ""
}

func (s *Session) hasCard(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, card := range s.cards {
		if card.ID == id {
			return true
		}
	}
	return false
}

// ============================================================================
// FLOW EVENTS
// ============================================================================

func (s *Session) ensureEditable() error {
	s.mu.Lock()
	processing := s.processing
	s.mu.Unlock()
	if processing {
		return ErrPaymentInProgress
	}
	switch s.flow.Step() {
	case models.StepProcessing:
		return ErrPaymentInProgress
	case models.StepSuccess:
		return ErrAlreadyPaid
	}
	return nil
}

// SelectPaymentMethod picks how to pay. cardID must be one of the loaded cards.
func (s *Session) SelectPaymentMethod(method models.PaymentMethod, cardID string) error {
	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.touch()
	if cardID != "" && !s.hasCard(cardID) {
		return ErrUnknownCard
	}
	return s.flow.SelectMethod(method, cardID)
}

// ConfirmPaymentMethod moves a stepwise flow to confirmation
func (s *Session) ConfirmPaymentMethod() error {
	s.touch()
	return s.flow.ConfirmMethod()
}

// ChangePaymentMethod returns to method selection
func (s *Session) ChangePaymentMethod() error {
	s.touch()
	return s.flow.ChangeMethod()
}

// ToggleCredits turns credits on or off
func (s *Session) ToggleCredits(ctx context.Context, enabled bool) error {
	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.touch()
	sel := s.selection(ctx)
	if sel == nil {
		return ErrCannotPrice
	}

	var err error
	if enabled {
		err = s.credits.Enable(ctx, sel, s.walletCents(), s.totalBeforeCreditCents())
	} else {
		err = s.credits.Disable(ctx, sel)
	}
	s.syncCredits()
	return err
}

// SetCreditAmount applies a manual credit amount
func (s *Session) SetCreditAmount(ctx context.Context, cents int) error {
	if err := s.ensureEditable(); err != nil {
		return err
	}
	s.touch()
	sel := s.selection(ctx)
	if sel == nil {
		return ErrCannotPrice
	}
	err := s.credits.SetAmount(ctx, sel, cents, s.totalBeforeCreditCents())
	s.syncCredits()
	return err
}

// SetCreditsExpanded records the credits accordion preference
func (s *Session) SetCreditsExpanded(ctx context.Context, expanded bool) {
	s.touch()
	s.credits.SetExpanded(ctx, expanded)
}

// ApplyReferral applies a referral or promo code and refreshes the order
// summary when a booking already exists
func (s *Session) ApplyReferral(ctx context.Context, code string) (*models.ReferralResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidReferral
	}
	if err := s.ensureEditable(); err != nil {
		return nil, err
	}
	if s.collab.Referrals == nil {
		return nil, fmt.Errorf("referrals are not available")
	}
	s.touch()

	draft := s.draft.Get()
	result, err := s.collab.Referrals.ApplyReferral(ctx, draft.BookingID, code)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("referral service returned no result")
	}

	s.mu.Lock()
	s.referral = result
	s.mu.Unlock()

	if draft.BookingID != "" && s.collab.Details != nil {
		rec, err := s.collab.Details.FetchBookingDetails(ctx, draft.BookingID)
		if err != nil {
			s.log().WithError(err).Warn("Failed to refresh booking after referral")
		} else if rec != nil {
			if change := s.draft.MergeBookingDetails(*rec); change.PricingRelevant {
				s.schedulePricingRefresh()
			}
		}
	}
	return result, nil
}

// Reset clears the processing flag, local errors and any booking error.
// An errored flow goes back to method selection. A paid session cannot be
// reset.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing {
		return ErrPaymentInProgress
	}
	if s.flow.Step() == models.StepSuccess {
		return ErrAlreadyPaid
	}
	if s.flow.Step() == models.StepError {
		if err := s.flow.Retry(); err != nil {
			return err
		}
	} else {
		s.flow.ClearError()
	}
	s.credits.ClearLocalError()
	s.bookingID = ""
	s.bookingError = ""
	s.touched = time.Now()
	return nil
}

// Cancel resets local payment state and calls the back callback
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return ErrPaymentInProgress
	}
	if err := s.flow.Cancel(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.bookingID = ""
	s.bookingError = ""
	s.touched = time.Now()
	onBack := s.onBack
	s.mu.Unlock()

	if onBack != nil {
		onBack()
	}
	return nil
}

// Snapshot returns a consistent read-only view for rendering
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	flow := s.flow.State()
	snap := Snapshot{
		ID:        s.id.String(),
		Inline:    s.flow.Inline(),
		Flow:      flow,
		Draft:     s.draft.Get(),
		Selection: s.selection(ctx),
		Pricing:   s.pricing.Snapshot(),
		Credits:   s.credits.State(),
		Totals:    s.Totals(),
	}
	snap.ChargesNow = snap.Draft.BookingType.ChargesImmediately()
	if flow.Error != "" {
		snap.ErrorMessage = flow.Error
		snap.ErrorTitle = ErrorTitle(flow.Error)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Processing = s.processing
	snap.BookingID = s.bookingID
	snap.BookingError = s.bookingError
	snap.Cards = make([]models.SavedCard, len(s.cards))
	copy(snap.Cards, s.cards)
	if s.wallet != nil {
		w := *s.wallet
		snap.Wallet = &w
	}
	if s.referral != nil {
		r := *s.referral
		snap.Referral = &r
	}
	return snap
}
