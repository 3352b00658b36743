package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pricingAnswer struct {
	preview *models.PricingPreview
	err     error
}

// gatedPricing holds every request until the test answers it
type gatedPricing struct {
	mu      sync.Mutex
	gates   []chan pricingAnswer
	started chan models.PricingPreviewRequest
}

func newGatedPricing() *gatedPricing {
	return &gatedPricing{started: make(chan models.PricingPreviewRequest, 8)}
}

func (g *gatedPricing) PricingPreview(_ context.Context, req models.PricingPreviewRequest) (*models.PricingPreview, error) {
	gate := make(chan pricingAnswer, 1)
	g.mu.Lock()
	g.gates = append(g.gates, gate)
	g.mu.Unlock()

	g.started <- req
	answer := <-gate
	return answer.preview, answer.err
}

func (g *gatedPricing) answer(i int, a pricingAnswer) {
	g.mu.Lock()
	gate := g.gates[i]
	g.mu.Unlock()
	gate <- a
}

func testSelection() *models.QuoteSelection {
	return SelectQuote(context.Background(), baseDraft(), nil)
}

func TestPricingController_IgnoresStaleRefresh(t *testing.T) {
	ctx := context.Background()
	client := newGatedPricing()
	c := NewPricingController(client, testLogger())
	sel := testSelection()

	first := make(chan struct{})
	go func() { c.Refresh(ctx, sel); close(first) }()
	<-client.started

	second := make(chan struct{})
	go func() { c.Refresh(ctx, sel); close(second) }()
	<-client.started

	client.answer(1, pricingAnswer{preview: quote(2000, 300, 0)})
	<-second
	client.answer(0, pricingAnswer{preview: quote(1000, 150, 0)})
	<-first

	snap := c.Snapshot()
	require.NotNil(t, snap.Preview)
	assert.Equal(t, 2000, snap.Preview.BasePriceCents)
	assert.False(t, snap.Loading)
}

func TestPricingController_StaleApplyCredit(t *testing.T) {
	ctx := context.Background()
	client := newGatedPricing()
	c := NewPricingController(client, testLogger())
	sel := testSelection()

	type result struct {
		preview *models.PricingPreview
		err     error
	}
	applied := make(chan result, 1)
	go func() {
		p, err := c.ApplyCredit(ctx, 500, sel)
		applied <- result{p, err}
	}()
	<-client.started

	refreshed := make(chan struct{})
	go func() { c.Refresh(ctx, sel); close(refreshed) }()
	<-client.started

	client.answer(1, pricingAnswer{preview: quote(1000, 150, 0)})
	<-refreshed
	client.answer(0, pricingAnswer{preview: quote(1000, 150, 500)})

	r := <-applied
	assert.ErrorIs(t, r.err, ErrStaleResponse)
	assert.Nil(t, r.preview)
	assert.Equal(t, 0, c.Preview().CreditAppliedCents)
}

func TestPricingController_PreviewFor(t *testing.T) {
	ctx := context.Background()
	fake := &fakePricing{baseCents: 4000, feeCents: 600}
	c := NewPricingController(fake, testLogger())
	sel := testSelection()

	assert.Nil(t, c.PreviewFor(sel), "nothing quoted yet")

	c.Refresh(ctx, sel)
	require.NotNil(t, c.PreviewFor(sel))
	assert.Nil(t, c.PreviewFor(nil))

	longer := *sel
	longer.SelectedDuration = 120
	assert.Nil(t, c.PreviewFor(&longer), "preview belongs to another selection")
	assert.NotNil(t, c.Preview())

	_, err := c.ApplyCredit(ctx, 500, &longer)
	require.NoError(t, err)
	assert.Nil(t, c.PreviewFor(sel))
	require.NotNil(t, c.PreviewFor(&longer))
	assert.Equal(t, 500, c.PreviewFor(&longer).CreditAppliedCents)
}

func TestPricingController_Invalidate(t *testing.T) {
	ctx := context.Background()
	client := newGatedPricing()
	c := NewPricingController(client, testLogger())
	sel := testSelection()

	done := make(chan struct{})
	go func() { c.Refresh(ctx, sel); close(done) }()
	<-client.started

	c.Invalidate()
	client.answer(0, pricingAnswer{preview: quote(1000, 150, 0)})
	<-done

	assert.Nil(t, c.Preview(), "answer issued before the invalidation is dropped")
	assert.Nil(t, c.PreviewFor(sel))
	assert.False(t, c.Snapshot().Loading)
}

func TestPricingController_Refresh(t *testing.T) {
	ctx := context.Background()
	fake := &fakePricing{baseCents: 4000, feeCents: 600}
	c := NewPricingController(fake, testLogger())

	c.Refresh(ctx, nil)
	assert.Equal(t, 0, fake.callCount(), "nil selection is not priced")
	assert.Nil(t, c.Preview())

	c.SeedCredit(700)
	c.Refresh(ctx, testSelection())
	assert.Equal(t, 700, fake.lastCall().AppliedCreditCents)
	snap := c.Snapshot()
	require.NotNil(t, snap.Preview)
	assert.Equal(t, 700, snap.Preview.CreditAppliedCents)
	assert.Equal(t, 700, snap.LastAppliedCreditCents)

	fake.fn = func(models.PricingPreviewRequest) (*models.PricingPreview, error) {
		return nil, errors.New("upstream down")
	}
	c.Refresh(ctx, testSelection())
	snap = c.Snapshot()
	assert.Nil(t, snap.Preview, "failed quote drops the preview")
	assert.Equal(t, "upstream down", snap.Error)
	assert.Error(t, snap.Err())

	fake.fn = func(models.PricingPreviewRequest) (*models.PricingPreview, error) { return nil, nil }
	c.Refresh(ctx, testSelection())
	assert.NotEmpty(t, c.Snapshot().Error)
}

func TestPricingController_ApplyCreditErrors(t *testing.T) {
	ctx := context.Background()
	fake := &fakePricing{baseCents: 4000, feeCents: 600}
	c := NewPricingController(fake, testLogger())
	c.Refresh(ctx, testSelection())

	_, err := c.ApplyCredit(ctx, 100, nil)
	assert.ErrorIs(t, err, ErrCannotPrice)

	tests := []struct {
		name  string
		err   error
		floor bool
	}{
		{"422 status", &models.APIError{Status: 422, Detail: "Below minimum price floor"}, true},
		{"Floor code", &models.APIError{Status: 400, Code: "price_floor"}, true},
		{"Server error", &models.APIError{Status: 500, Detail: "oops"}, false},
		{"Transport error", errors.New("connection reset"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fake.fn = func(models.PricingPreviewRequest) (*models.PricingPreview, error) { return nil, tc.err }
			_, err := c.ApplyCredit(ctx, 1000, testSelection())

			var pe *PricingError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tc.floor, pe.IsFloorViolation())
			require.NotNil(t, c.Preview(), "previous preview survives a rejected credit")
			assert.Equal(t, 4600, c.Preview().StudentPayCents)
		})
	}
}
