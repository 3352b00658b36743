package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"github.com/sirupsen/logrus"
)

const (
	FloorViolationFallback = "Credits cannot reduce the lesson price below the minimum."
	CreditErrorMessage     = "Unable to apply credits. Please try again."
)

// CreditApplier re-quotes a selection with a credit amount
type CreditApplier interface {
	ApplyCredit(ctx context.Context, cents int, sel *models.QuoteSelection) (*models.PricingPreview, error)
}

// CreditState is everything the reconciler knows about one booking's credits
type CreditState struct {
	Key                 string                `json:"-"`
	SliderCents         int                   `json:"slider_cents"`
	LastSuccessfulCents int                   `json:"last_successful_cents"`
	FloorViolation      string                `json:"floor_violation,omitempty"`
	LocalError          string                `json:"local_error,omitempty"`
	AutoApplied         bool                  `json:"auto_applied"`
	Expanded            bool                  `json:"expanded"`
	ExpansionTouched    bool                  `json:"expansion_touched"`
	Decision            models.CreditDecision `json:"decision"`
	InFlight            bool                  `json:"in_flight"`
}

// CreditReconciler decides how many credits to request against a quote and
// remembers the student's choice across re-quotes. State changes only through
// the named transitions below.
type CreditReconciler struct {
	pricing CreditApplier
	store   *storage.CheckoutState
	logger  *logrus.Logger

	mu sync.Mutex
	st CreditState
}

// NewCreditReconciler creates a reconciler. store may be nil.
func NewCreditReconciler(pricing CreditApplier, store *storage.CheckoutState, logger *logrus.Logger) *CreditReconciler {
	if store == nil {
		store = storage.NewCheckoutState(nil, logger)
	}
	return &CreditReconciler{pricing: pricing, store: store, logger: logger}
}

// State returns a copy of the current state
func (r *CreditReconciler) State() CreditState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

// Restore resets state for bookingKey and reloads the stored expansion
// preference and credit decision. It returns the restored decision.
func (r *CreditReconciler) Restore(ctx context.Context, bookingKey string) (models.CreditDecision, bool) {
	st := CreditState{Key: bookingKey}
	var (
		decision models.CreditDecision
		found    bool
	)
	if bookingKey != "" {
		if collapsed, ok := r.store.LoadCreditsCollapsed(ctx, bookingKey); ok {
			st.Expanded = !collapsed
			st.ExpansionTouched = true
		}
		decision, found = r.store.LoadCreditDecision(ctx, bookingKey)
		if found {
			st.Decision = decision
		}
	}

	r.mu.Lock()
	r.st = st
	r.mu.Unlock()
	return decision, found
}

// Observe runs auto-apply against a new preview or wallet balance
func (r *CreditReconciler) Observe(ctx context.Context, sel *models.QuoteSelection, preview *models.PricingPreview, previewErr error, walletCents int) error {
	r.mu.Lock()
	// 1. Nothing to auto-apply against
	if r.st.AutoApplied || r.st.InFlight || r.st.FloorViolation != "" || previewErr != nil || preview == nil || walletCents <= 0 {
		r.mu.Unlock()
		return nil
	}
	maxApplicable := min(preview.TotalBeforeCreditCents(), walletCents)
	if maxApplicable <= 0 {
		r.mu.Unlock()
		return nil
	}

	// 2. The server already applied credit on this quote
	if preview.CreditAppliedCents > 0 {
		r.st.SliderCents = preview.CreditAppliedCents
		r.st.LastSuccessfulCents = preview.CreditAppliedCents
		r.st.AutoApplied = true
		r.expandForCredit()
		r.st.Decision = models.CreditDecision{LastCreditCents: preview.CreditAppliedCents}
		decision, key := r.st.Decision, r.st.Key
		r.mu.Unlock()
		r.persist(ctx, key, decision)
		return nil
	}

	// 3. Fall back to the stored decision
	if r.st.Decision.ExplicitlyRemoved {
		r.st.AutoApplied = true
		r.mu.Unlock()
		return nil
	}
	desired := validator.ClampCents(r.st.Decision.LastCreditCents, maxApplicable)
	r.st.AutoApplied = true
	r.mu.Unlock()

	if desired == 0 {
		return nil
	}
	return r.commit(ctx, sel, desired, false)
}

// Enable turns credits on with as much as the wallet covers
func (r *CreditReconciler) Enable(ctx context.Context, sel *models.QuoteSelection, walletCents, totalDueCents int) error {
	amount := validator.ClampCents(walletCents, totalDueCents)
	if amount == 0 {
		r.mu.Lock()
		r.st.Decision.ExplicitlyRemoved = false
		decision, key := r.st.Decision, r.st.Key
		r.mu.Unlock()
		r.persist(ctx, key, decision)
		return nil
	}
	return r.commit(ctx, sel, amount, false)
}

// Disable turns credits off and records the removal
func (r *CreditReconciler) Disable(ctx context.Context, sel *models.QuoteSelection) error {
	r.mu.Lock()
	r.st.FloorViolation = ""
	r.st.LocalError = ""
	if r.st.SliderCents == 0 && r.st.LastSuccessfulCents == 0 && !r.st.InFlight {
		r.st.Decision = models.CreditDecision{ExplicitlyRemoved: true}
		decision, key := r.st.Decision, r.st.Key
		r.mu.Unlock()
		r.persist(ctx, key, decision)
		return nil
	}
	r.mu.Unlock()
	return r.commit(ctx, sel, 0, true)
}

// SetAmount applies a manual credit amount clamped to [0, totalDueCents].
// Re-sending the current amount is a no-op.
func (r *CreditReconciler) SetAmount(ctx context.Context, sel *models.QuoteSelection, cents, totalDueCents int) error {
	clamped := validator.ClampCents(cents, totalDueCents)

	r.mu.Lock()
	same := clamped == r.st.SliderCents
	r.mu.Unlock()
	if same {
		return nil
	}
	return r.commit(ctx, sel, clamped, clamped == 0)
}

// SetExpanded records the student's accordion choice. Auto-apply never
// overrides it afterwards.
func (r *CreditReconciler) SetExpanded(ctx context.Context, expanded bool) {
	r.mu.Lock()
	r.st.Expanded = expanded
	r.st.ExpansionTouched = true
	key := r.st.Key
	r.mu.Unlock()

	if key != "" {
		r.store.SaveCreditsCollapsed(ctx, key, !expanded)
	}
}

// ClearLocalError drops the generic credit error. Floor violations stay until
// credits change.
func (r *CreditReconciler) ClearLocalError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.LocalError = ""
}

// commit requests cents and settles state on the answer. Only one commit
// runs at a time per reconciler.
func (r *CreditReconciler) commit(ctx context.Context, sel *models.QuoteSelection, cents int, removal bool) error {
	r.mu.Lock()
	if r.st.InFlight {
		r.mu.Unlock()
		return ErrCreditUpdateInFlight
	}
	r.st.InFlight = true
	r.st.SliderCents = cents
	r.mu.Unlock()

	preview, err := r.pricing.ApplyCredit(ctx, cents, sel)

	r.mu.Lock()
	r.st.InFlight = false
	if err != nil {
		r.st.SliderCents = r.st.LastSuccessfulCents
		if !errors.Is(err, ErrStaleResponse) {
			if pe := newPricingError(err); pe.IsFloorViolation() {
				r.st.FloorViolation = pe.Detail
				if r.st.FloorViolation == "" {
					r.st.FloorViolation = FloorViolationFallback
				}
			} else {
				r.st.LocalError = CreditErrorMessage
			}
		}
		r.mu.Unlock()
		r.logger.WithError(err).WithField("requested_cents", cents).Warn("Credit update rejected")
		return err
	}

	applied := preview.CreditAppliedCents
	r.st.SliderCents = applied
	r.st.LastSuccessfulCents = applied
	r.st.FloorViolation = ""
	r.st.LocalError = ""
	if applied > 0 {
		r.expandForCredit()
	}
	r.st.Decision = models.CreditDecision{LastCreditCents: applied, ExplicitlyRemoved: removal}
	decision, key := r.st.Decision, r.st.Key
	r.mu.Unlock()

	r.persist(ctx, key, decision)
	return nil
}

// expandForCredit opens the accordion unless the student already chose. Caller holds mu.
func (r *CreditReconciler) expandForCredit() {
	if !r.st.ExpansionTouched {
		r.st.Expanded = true
	}
}

// Forget drops the stored decision for the current booking. Called once the
// booking is paid.
func (r *CreditReconciler) Forget(ctx context.Context) {
	r.mu.Lock()
	key := r.st.Key
	r.mu.Unlock()
	if key == "" {
		return
	}
	r.store.ClearCreditDecision(ctx, key)
}

func (r *CreditReconciler) persist(ctx context.Context, key string, decision models.CreditDecision) {
	if key == "" {
		return
	}
	r.store.SaveCreditDecision(ctx, key, decision)
}
