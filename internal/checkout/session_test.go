package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateDraft_RequotesOnlyForPricingChanges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft())
	h.session.Start(ctx)
	require.Equal(t, 1, h.pricing.callCount())

	t.Run("Location only", func(t *testing.T) {
		change, err := h.session.UpdateDraft(ctx, DraftPatch{
			Location:    models.StringPtr("Student home, 12 Elm St"),
			Description: models.StringPtr("Bring sheet music"),
		})
		require.NoError(t, err)
		assert.True(t, change.Changed)
		assert.False(t, change.PricingRelevant)
		assert.Equal(t, 0, h.scheduler.Pending())
		assert.Equal(t, 1, h.pricing.callCount())
	})

	t.Run("Same time in another format", func(t *testing.T) {
		change, err := h.session.UpdateDraft(ctx, DraftPatch{StartTime: models.StringPtr("10:00am")})
		require.NoError(t, err)
		assert.False(t, change.PricingRelevant)
		assert.Equal(t, 0, h.scheduler.Pending())
	})

	t.Run("New date", func(t *testing.T) {
		change, err := h.session.UpdateDraft(ctx, DraftPatch{Date: models.StringPtr("2025-05-02")})
		require.NoError(t, err)
		assert.True(t, change.PricingRelevant)
		assert.Equal(t, 1, h.scheduler.Pending(), "refresh is scheduled, not run inline")
		assert.Equal(t, 1, h.pricing.callCount())

		h.scheduler.RunPending()
		assert.Equal(t, 2, h.pricing.callCount())
		assert.Equal(t, "2025-05-02", h.pricing.lastCall().BookingDate)
	})

	t.Run("Selected slot is cached", func(t *testing.T) {
		state := storage.NewCheckoutState(h.store, testLogger())
		hint, ok := state.LoadSelectedSlot(ctx, "inst-1")
		require.True(t, ok)
		assert.Equal(t, "2025-05-02", hint.Date)
		assert.Equal(t, "svc-1", hint.ServiceID)

		last, ok := state.LoadLastBookingData(ctx)
		require.True(t, ok)
		assert.Equal(t, "2025-05-02", last.Date)
		assert.Equal(t, "inst-1", last.InstructorID)
	})
}

func TestUpdateDraft_BecomingPriceable(t *testing.T) {
	ctx := context.Background()
	draft := baseDraft()
	draft.StartTime = ""
	h := newHarness(t, draft)
	h.session.Start(ctx)
	assert.Equal(t, 0, h.pricing.callCount())

	_, err := h.session.UpdateDraft(ctx, DraftPatch{StartTime: models.StringPtr("2:30pm")})
	require.NoError(t, err)
	h.scheduler.RunPending()
	require.Equal(t, 1, h.pricing.callCount())
	assert.Equal(t, "14:30", h.pricing.lastCall().StartTime)
}

func TestSetCreditAmount_SameValueIsOneRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft(), withWallet(50))
	h.session.Start(ctx)
	before := h.pricing.callCount()

	require.NoError(t, h.session.SetCreditAmount(ctx, 2000))
	require.NoError(t, h.session.SetCreditAmount(ctx, 2000))
	assert.Equal(t, before+1, h.pricing.callCount())

	// clamped to the total, which equals the new slider value only once
	require.NoError(t, h.session.SetCreditAmount(ctx, 999999))
	require.NoError(t, h.session.SetCreditAmount(ctx, 11500))
	assert.Equal(t, before+2, h.pricing.callCount())
	assert.Equal(t, 11500, h.session.flow.State().CreditsToUseCents)
}

func TestCreditDecision_RestoredOnRemount(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	draft := baseDraft()
	draft.BookingID = "draft-1"

	first := newHarness(t, draft, withStore(store), withWallet(100))
	first.session.Start(ctx)
	require.NoError(t, first.session.SetCreditAmount(ctx, 2500))

	second := newHarness(t, draft, withStore(store), withWallet(100))
	second.session.Start(ctx)

	assert.Equal(t, 1, second.pricing.callCount(), "only the initial quote")
	assert.Equal(t, 2500, second.pricing.lastCall().AppliedCreditCents)
	state := second.session.credits.State()
	assert.Equal(t, 2500, state.SliderCents)
	assert.True(t, state.AutoApplied)
	assert.True(t, state.Expanded)
	assert.Equal(t, 2500, second.session.Totals().AppliedCreditCents)
}

func TestCreditDecision_ExplicitRemovalSurvivesRemount(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	draft := baseDraft()
	draft.BookingID = "draft-1"

	first := newHarness(t, draft, withStore(store), withWallet(100))
	first.session.Start(ctx)
	require.NoError(t, first.session.ToggleCredits(ctx, true))
	assert.Equal(t, 10000, first.session.credits.State().SliderCents)
	require.NoError(t, first.session.ToggleCredits(ctx, false))

	second := newHarness(t, draft, withStore(store), withWallet(100))
	second.session.Start(ctx)

	assert.Equal(t, 1, second.pricing.callCount())
	assert.Equal(t, 0, second.pricing.lastCall().AppliedCreditCents)
	assert.Equal(t, 0, second.session.credits.State().SliderCents)
	assert.True(t, second.session.credits.State().Decision.ExplicitlyRemoved)
}

func TestCreditsExpanded_NotOverriddenByAutoApply(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	draft := baseDraft()
	draft.BookingID = "draft-1"

	first := newHarness(t, draft, withStore(store), withWallet(100))
	first.session.Start(ctx)
	first.session.SetCreditsExpanded(ctx, false)
	require.NoError(t, first.session.SetCreditAmount(ctx, 2500))
	assert.False(t, first.session.credits.State().Expanded)

	second := newHarness(t, draft, withStore(store), withWallet(100))
	second.session.Start(ctx)
	state := second.session.credits.State()
	assert.Equal(t, 2500, state.SliderCents)
	assert.False(t, state.Expanded)
	assert.True(t, state.ExpansionTouched)
}

func TestLoadPaymentMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("Failure becomes empty list", func(t *testing.T) {
		h := newHarness(t, baseDraft())
		h.cards.err = errors.New("boom")
		cards := h.session.LoadPaymentMethods(ctx)
		assert.NotNil(t, cards)
		assert.Empty(t, cards)
	})

	t.Run("Demo card in development", func(t *testing.T) {
		h := newHarness(t, baseDraft(), func(_ *harness, opts *Options) { opts.DemoCards = true })
		cards := h.session.LoadPaymentMethods(ctx)
		require.Len(t, cards, 1)
		assert.Equal(t, "pm_demo_visa", cards[0].ID)
		assert.Equal(t, "pm_demo_visa", h.session.flow.State().SelectedCardID)
	})

	t.Run("Default card is preselected", func(t *testing.T) {
		h := newHarness(t, baseDraft(), withCards(
			models.SavedCard{ID: "pm_a"},
			models.SavedCard{ID: "pm_b", IsDefault: true},
		))
		h.session.LoadPaymentMethods(ctx)
		assert.Equal(t, "pm_b", h.session.flow.State().SelectedCardID)

		assert.ErrorIs(t, h.session.SelectPaymentMethod(models.MethodCreditCard, "pm_other"), ErrUnknownCard)
		require.NoError(t, h.session.SelectPaymentMethod(models.MethodCreditCard, "pm_a"))
		assert.Equal(t, "pm_a", h.session.flow.State().SelectedCardID)
	})
}

func TestApplyReferral(t *testing.T) {
	ctx := context.Background()
	draft := baseDraft()
	draft.BookingID = "bk-existing"
	h := newHarness(t, draft)
	h.referrals.result = &models.ReferralResult{Code: "FRIEND", AppliedCents: 2000}
	h.details.record = &models.RawBookingRecord{
		ID:         "bk-existing",
		TotalPrice: models.Loose("95.00"),
		Location:   models.StringPtr("Online"),
	}
	h.session.Start(ctx)

	_, err := h.session.ApplyReferral(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidReferral)

	result, err := h.session.ApplyReferral(ctx, " FRIEND ")
	require.NoError(t, err)
	assert.Equal(t, 2000, result.AppliedCents)
	assert.Equal(t, []string{"FRIEND"}, h.referrals.codes)
	assert.Equal(t, 1, h.details.calls)
	assert.Equal(t, 0, h.scheduler.Pending())

	totals := h.session.Totals()
	assert.Equal(t, 2000, totals.ReferralCents)
	assert.Equal(t, 9500, totals.AmountDueCents)
	assert.InDelta(t, 95.0, h.session.draft.Get().TotalAmountValue(), 0.001)
}

func TestApplyReferral_Rejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft())
	h.referrals.err = &models.APIError{Status: 404, Detail: "Unknown code"}
	h.session.Start(ctx)

	_, err := h.session.ApplyReferral(ctx, "NOPE")
	apiErr, ok := models.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, 0, h.session.Totals().ReferralCents)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft(), withCards(models.SavedCard{ID: "pm_1", IsDefault: true}))
	h.checkout.result = &models.CheckoutResult{Status: "failed"}
	h.session.Start(ctx)
	confirmMethod(t, h.session, models.MethodCreditCard, "")
	require.Error(t, h.session.ProcessPayment(ctx))

	require.NoError(t, h.session.Cancel())
	assert.Equal(t, 1, h.backCalls)
	snap := h.session.Snapshot(ctx)
	assert.Equal(t, models.StepMethodSelection, snap.Flow.Step)
	assert.Empty(t, snap.ErrorMessage)
}

func TestInlineSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft(),
		withCards(models.SavedCard{ID: "pm_1", IsDefault: true}),
		func(_ *harness, opts *Options) { opts.Inline = true },
	)
	h.session.Start(ctx)

	require.NoError(t, h.session.SelectPaymentMethod(models.MethodCreditCard, ""))
	assert.Equal(t, models.StepConfirmation, h.session.flow.Step())
	assert.ErrorIs(t, h.session.ConfirmPaymentMethod(), ErrInvalidTransition)

	require.NoError(t, h.session.ChangePaymentMethod())
	state := h.session.flow.State()
	assert.Equal(t, models.StepConfirmation, state.Step)
	assert.True(t, state.SelectorOpen)

	require.NoError(t, h.session.ProcessPayment(ctx))
	assert.Equal(t, models.StepSuccess, h.session.flow.Step())
}

func TestStart_RemembersSlotForLaterDrafts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	first := newHarness(t, baseDraft(), withStore(store))
	first.session.Start(ctx)

	last, ok := storage.NewCheckoutState(store, testLogger()).LoadLastBookingData(ctx)
	require.True(t, ok)
	assert.Equal(t, "2025-05-01", last.Date)
	assert.Equal(t, "svc-1", last.ServiceID)
	assert.Equal(t, 60, last.Duration)

	// a later draft from the same instructor arrives without date or service
	draft := baseDraft()
	draft.Date = ""
	draft.ServiceID = ""
	second := newHarness(t, draft, withStore(store))
	second.session.Start(ctx)

	require.Equal(t, 1, second.pricing.callCount())
	assert.Equal(t, "2025-05-01", second.pricing.lastCall().BookingDate)
	assert.Equal(t, "svc-1", second.pricing.lastCall().InstructorServiceID)
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("After failure", func(t *testing.T) {
		h := newHarness(t, baseDraft(), withCards(models.SavedCard{ID: "pm_1", IsDefault: true}))
		h.checkout.result = &models.CheckoutResult{Status: "failed"}
		h.session.Start(ctx)
		confirmMethod(t, h.session, models.MethodCreditCard, "")
		require.Error(t, h.session.ProcessPayment(ctx))

		require.NoError(t, h.session.Reset())
		snap := h.session.Snapshot(ctx)
		assert.Equal(t, models.StepMethodSelection, snap.Flow.Step)
		assert.Empty(t, snap.BookingID)
	})

	t.Run("After success", func(t *testing.T) {
		h := newHarness(t, baseDraft(), withCards(models.SavedCard{ID: "pm_1", IsDefault: true}))
		h.session.Start(ctx)
		confirmMethod(t, h.session, models.MethodCreditCard, "")
		require.NoError(t, h.session.ProcessPayment(ctx))

		assert.ErrorIs(t, h.session.Reset(), ErrAlreadyPaid)
		snap := h.session.Snapshot(ctx)
		assert.Equal(t, models.StepSuccess, snap.Flow.Step)
		assert.Equal(t, "bk-1", snap.BookingID, "paid booking id is kept")
	})
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, baseDraft(), withWallet(20), withCards(models.SavedCard{ID: "pm_1", IsDefault: true}))
	h.session.Start(ctx)

	snap := h.session.Snapshot(ctx)
	assert.Equal(t, h.session.ID().String(), snap.ID)
	require.NotNil(t, snap.Selection)
	assert.Equal(t, "svc-1", snap.Selection.InstructorServiceID)
	require.NotNil(t, snap.Pricing.Preview)
	assert.Equal(t, 11500, snap.Totals.TotalCents)
	require.NotNil(t, snap.Wallet)
	assert.Equal(t, 2000, snap.Wallet.AvailableCents())
	assert.Len(t, snap.Cards, 1)
	assert.Empty(t, snap.ErrorTitle)
	assert.False(t, snap.ChargesNow)

	draft := baseDraft()
	draft.BookingType = models.BookingTypeLastMinute
	lastMinute := newHarness(t, draft)
	assert.True(t, lastMinute.session.Snapshot(ctx).ChargesNow)
}
