package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/sirupsen/logrus"
)

// PricingClient is the quoting service
type PricingClient interface {
	PricingPreview(ctx context.Context, req models.PricingPreviewRequest) (*models.PricingPreview, error)
}

// PricingError is a failed quote. Floor violations are recoverable: the
// student can retry with fewer credits.
type PricingError struct {
	Status int
	Code   string
	Detail string
	Err    error
}

func (e *PricingError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("pricing request failed with status %d", e.Status)
}

func (e *PricingError) Unwrap() error {
	return e.Err
}

// IsFloorViolation reports whether the requested credit would take the price
// below the server-side minimum
func (e *PricingError) IsFloorViolation() bool {
	if e.Status == 422 {
		return true
	}
	switch e.Code {
	case "price_floor", "minimum_price", "below_minimum_price":
		return true
	}
	return false
}

func newPricingError(err error) *PricingError {
	var pe *PricingError
	if errors.As(err, &pe) {
		return pe
	}
	if apiErr, ok := models.AsAPIError(err); ok {
		return &PricingError{Status: apiErr.Status, Code: apiErr.Code, Detail: apiErr.Detail, Err: err}
	}
	return &PricingError{Err: err}
}

// PricingSnapshot is the observable state of the pricing controller
type PricingSnapshot struct {
	Preview                *models.PricingPreview `json:"preview,omitempty"`
	Loading                bool                   `json:"loading"`
	Error                  string                 `json:"error,omitempty"`
	LastAppliedCreditCents int                    `json:"last_applied_credit_cents"`
	err                    error
}

// Err returns the last quote failure
func (p PricingSnapshot) Err() error {
	return p.err
}

// PricingController owns the current price preview. Every request takes a new
// generation; a response is applied only if its generation is still the
// latest, so superseded in-flight answers are dropped on arrival. The preview
// remembers the selection it was quoted for.
type PricingController struct {
	client PricingClient
	logger *logrus.Logger

	mu                     sync.Mutex
	preview                *models.PricingPreview
	quoted                 *models.QuoteSelection
	loading                bool
	err                    error
	lastAppliedCreditCents int
	generation             uint64
}

// NewPricingController creates a controller for one checkout session
func NewPricingController(client PricingClient, logger *logrus.Logger) *PricingController {
	return &PricingController{client: client, logger: logger}
}

// SeedCredit sets the credit amount requested by the next refresh. Used when
// restoring a stored credit decision.
func (c *PricingController) SeedCredit(cents int) {
	if cents < 0 {
		cents = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAppliedCreditCents = cents
}

// Refresh re-quotes sel with the last applied credit amount. A nil selection
// clears the preview.
func (c *PricingController) Refresh(ctx context.Context, sel *models.QuoteSelection) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	if sel == nil {
		c.preview = nil
		c.quoted = nil
		c.loading = false
		c.err = nil
		c.mu.Unlock()
		return
	}
	c.loading = true
	req := models.PricingPreviewRequest{QuoteSelection: *sel, AppliedCreditCents: c.lastAppliedCreditCents}
	c.mu.Unlock()

	preview, err := c.client.PricingPreview(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.logger.WithField("generation", gen).Debug("Dropping stale pricing preview")
		return
	}
	c.loading = false
	if err == nil && preview == nil {
		err = errors.New("pricing service returned no preview")
	}
	if err != nil {
		c.logger.WithError(err).Warn("Pricing preview failed")
		c.preview = nil
		c.quoted = nil
		c.err = err
		return
	}
	c.setPreview(preview, sel)
}

// ApplyCredit re-quotes sel with a specific credit amount. Failures come back
// as *PricingError; a response overtaken by a newer request returns
// ErrStaleResponse and changes nothing.
func (c *PricingController) ApplyCredit(ctx context.Context, cents int, sel *models.QuoteSelection) (*models.PricingPreview, error) {
	if sel == nil {
		return nil, ErrCannotPrice
	}
	if cents < 0 {
		cents = 0
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.loading = true
	c.mu.Unlock()

	preview, err := c.client.PricingPreview(ctx, models.PricingPreviewRequest{QuoteSelection: *sel, AppliedCreditCents: cents})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil, ErrStaleResponse
	}
	c.loading = false
	if err == nil && preview == nil {
		err = errors.New("pricing service returned no preview")
	}
	if err != nil {
		// the previous preview still describes the last accepted credit
		return nil, newPricingError(err)
	}
	c.setPreview(preview, sel)
	out := *preview
	return &out, nil
}

func (c *PricingController) setPreview(preview *models.PricingPreview, sel *models.QuoteSelection) {
	quoted := *sel
	c.preview = preview
	c.quoted = &quoted
	c.err = nil
	c.lastAppliedCreditCents = preview.CreditAppliedCents
}

// Invalidate drops the current preview and any in-flight answer. Called as
// soon as the selection changes, before the re-quote is issued.
func (c *PricingController) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.preview = nil
	c.quoted = nil
	c.loading = false
	c.err = nil
}

// Preview returns a copy of the current preview, or nil
func (c *PricingController) Preview() *models.PricingPreview {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil {
		return nil
	}
	out := *c.preview
	return &out
}

// PreviewFor returns a copy of the current preview only if it was quoted for
// sel, else nil
func (c *PricingController) PreviewFor(sel *models.QuoteSelection) *models.PricingPreview {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.preview == nil || sel == nil || !c.quoted.Equal(sel) {
		return nil
	}
	out := *c.preview
	return &out
}

// Snapshot returns a copy of the observable fields
func (c *PricingController) Snapshot() PricingSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := PricingSnapshot{
		Loading:                c.loading,
		LastAppliedCreditCents: c.lastAppliedCreditCents,
		err:                    c.err,
	}
	if c.preview != nil {
		p := *c.preview
		snap.Preview = &p
	}
	if c.err != nil {
		snap.Error = c.err.Error()
	}
	return snap
}
