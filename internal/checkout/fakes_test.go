package checkout

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/internal/storage"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func quote(baseCents, feeCents, creditCents int) *models.PricingPreview {
	total := baseCents + feeCents
	applied := min(max(creditCents, 0), total)
	return &models.PricingPreview{
		BasePriceCents:     baseCents,
		StudentFeeCents:    feeCents,
		StudentPayCents:    total - applied,
		CreditAppliedCents: applied,
	}
}

type fakePricing struct {
	mu        sync.Mutex
	baseCents int
	feeCents  int
	calls     []models.PricingPreviewRequest
	fn        func(req models.PricingPreviewRequest) (*models.PricingPreview, error)
}

func (f *fakePricing) PricingPreview(_ context.Context, req models.PricingPreviewRequest) (*models.PricingPreview, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	base, fee := f.baseCents, f.feeCents
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return quote(base, fee, req.AppliedCreditCents), nil
}

func (f *fakePricing) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePricing) lastCall() models.PricingPreviewRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeBookings struct {
	mu      sync.Mutex
	calls   []models.CreateBookingRequest
	result  *models.BookingRecord
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeBookings) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	result, err := f.result, f.err
	entered, block := f.entered, f.block
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func (f *fakeBookings) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCheckout struct {
	mu     sync.Mutex
	calls  []models.CheckoutRequest
	result *models.CheckoutResult
	err    error
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.result, f.err
}

func (f *fakeCheckout) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCanceller struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCanceller) CancelBooking(_ context.Context, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bookingID)
	return f.err
}

type fakeWallet struct {
	mu      sync.Mutex
	balance *models.CreditBalance
	err     error
	calls   int
}

func (f *fakeWallet) GetCredits(context.Context) (*models.CreditBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balance, f.err
}

type fakeCards struct {
	cards []models.SavedCard
	err   error
}

func (f *fakeCards) ListPaymentMethods(context.Context) ([]models.SavedCard, error) {
	return f.cards, f.err
}

type fakeReferrals struct {
	result *models.ReferralResult
	err    error
	codes  []string
}

func (f *fakeReferrals) ApplyReferral(_ context.Context, _ string, code string) (*models.ReferralResult, error) {
	f.codes = append(f.codes, code)
	return f.result, f.err
}

type fakeDetails struct {
	record *models.RawBookingRecord
	err    error
	calls  int
}

func (f *fakeDetails) FetchBookingDetails(context.Context, string) (*models.RawBookingRecord, error) {
	f.calls++
	return f.record, f.err
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.CheckoutEventType
}

func (f *fakeAudit) Record(_ context.Context, audit *models.CheckoutAudit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, audit.EventType)
}

func (f *fakeAudit) has(event models.CheckoutEventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	session   *Session
	pricing   *fakePricing
	bookings  *fakeBookings
	checkout  *fakeCheckout
	cancel    *fakeCanceller
	wallet    *fakeWallet
	cards     *fakeCards
	referrals *fakeReferrals
	details   *fakeDetails
	audit     *fakeAudit
	store     *storage.MemoryStore
	scheduler *ManualScheduler

	successIDs []string
	errorMsgs  []string
	backCalls  int
}

func baseDraft() models.BookingDraft {
	return models.BookingDraft{
		InstructorID:   "inst-1",
		InstructorName: "Ada",
		ServiceID:      "svc-1",
		LessonType:     "Piano",
		Date:           "2025-05-01",
		StartTime:      "10:00",
		Duration:       models.Int(60),
		Location:       "Online",
		BasePrice:      models.Num(100),
		TotalAmount:    models.Num(115),
		BookingType:    models.BookingTypeStandard,
	}
}

// newHarness wires a session to fakes. The lesson quotes at 100.00 plus a
// 15.00 fee, the booking is created as bk-1 and the charge succeeds.
func newHarness(t *testing.T, draft models.BookingDraft, configure ...func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		pricing:   &fakePricing{baseCents: 10000, feeCents: 1500},
		bookings:  &fakeBookings{result: &models.BookingRecord{ID: "bk-1", Status: "pending"}},
		checkout:  &fakeCheckout{result: &models.CheckoutResult{PaymentIntentID: "pi_1", Success: true, Status: "succeeded"}},
		cancel:    &fakeCanceller{},
		wallet:    &fakeWallet{balance: &models.CreditBalance{Available: 0}},
		cards:     &fakeCards{},
		referrals: &fakeReferrals{},
		details:   &fakeDetails{},
		audit:     &fakeAudit{},
		store:     storage.NewMemoryStore(),
		scheduler: NewManualScheduler(),
	}

	opts := Options{
		Scheduler: h.scheduler,
		Audit:     h.audit,
		Logger:    testLogger(),
		OnSuccess: func(id string) { h.successIDs = append(h.successIDs, id) },
		OnError:   func(msg string) { h.errorMsgs = append(h.errorMsgs, msg) },
		OnBack:    func() { h.backCalls++ },
	}
	for _, fn := range configure {
		fn(h, &opts)
	}
	opts.Store = h.store

	h.session = NewSession(draft, Collaborators{
		Pricing:        h.pricing,
		Bookings:       h.bookings,
		Cancel:         h.cancel,
		Details:        h.details,
		Checkout:       h.checkout,
		PaymentMethods: h.cards,
		Wallet:         h.wallet,
		Referrals:      h.referrals,
	}, opts)
	return h
}

func withCards(cards ...models.SavedCard) func(*harness, *Options) {
	return func(h *harness, _ *Options) {
		h.cards.cards = cards
	}
}

func withWallet(available float64) func(*harness, *Options) {
	return func(h *harness, _ *Options) {
		h.wallet.balance = &models.CreditBalance{Available: available}
	}
}

func withStore(store *storage.MemoryStore) func(*harness, *Options) {
	return func(h *harness, _ *Options) {
		h.store = store
	}
}
