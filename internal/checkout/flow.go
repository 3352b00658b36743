package checkout

import (
	"fmt"
	"sync"

	"github.com/lessonmarket/checkout-service/internal/models"
)

// PaymentFlow is the payment state machine. Each event has one method; an
// event that is illegal in the current step returns ErrInvalidTransition and
// leaves the state untouched.
//
// In inline mode method selection and confirmation share one screen: picking
// a method moves straight to CONFIRMATION and "change method" only reopens
// the selector.
type PaymentFlow struct {
	mu     sync.Mutex
	inline bool
	st     models.PaymentFlowState
}

// NewPaymentFlow starts at METHOD_SELECTION
func NewPaymentFlow(inline bool) *PaymentFlow {
	return &PaymentFlow{
		inline: inline,
		st:     models.PaymentFlowState{Step: models.StepMethodSelection},
	}
}

// Inline reports the rendering mode
func (f *PaymentFlow) Inline() bool {
	return f.inline
}

// State returns a copy of the current state
func (f *PaymentFlow) State() models.PaymentFlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

// Step returns the current step
func (f *PaymentFlow) Step() models.PaymentStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Step
}

func (f *PaymentFlow) invalid(event string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, f.st.Step)
}

// SelectMethod records the chosen method and card
func (f *PaymentFlow) SelectMethod(method models.PaymentMethod, cardID string) error {
	if !method.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.st.Step == models.StepMethodSelection:
	case f.inline && f.st.Step == models.StepConfirmation:
	default:
		return f.invalid("select method")
	}

	f.st.Method = method
	if cardID != "" || !method.UsesCard() {
		f.st.SelectedCardID = cardID
	}
	f.st.Error = ""
	if f.inline {
		f.st.Step = models.StepConfirmation
		f.st.SelectorOpen = false
	}
	return nil
}

// PreselectCard sets the card without any transition, unless the student
// already picked one
func (f *PaymentFlow) PreselectCard(cardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.SelectedCardID == "" && f.st.Step != models.StepProcessing && f.st.Step != models.StepSuccess {
		f.st.SelectedCardID = cardID
	}
}

// SetCredits mirrors the committed credit amount into the flow
func (f *PaymentFlow) SetCredits(cents int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.Step != models.StepProcessing && f.st.Step != models.StepSuccess {
		f.st.CreditsToUseCents = cents
	}
}

// ConfirmMethod advances a stepwise flow to CONFIRMATION
func (f *PaymentFlow) ConfirmMethod() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inline || f.st.Step != models.StepMethodSelection {
		return f.invalid("confirm method")
	}
	if f.st.Method == "" {
		return ErrMethodNotSelected
	}
	f.st.Step = models.StepConfirmation
	return nil
}

// ChangeMethod goes back to method selection. Inline flows stay in
// CONFIRMATION with the selector reopened.
func (f *PaymentFlow) ChangeMethod() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepConfirmation {
		return f.invalid("change method")
	}
	if f.inline {
		f.st.SelectorOpen = true
		return nil
	}
	f.st.Step = models.StepMethodSelection
	return nil
}

// BeginProcessing enters PROCESSING from CONFIRMATION
func (f *PaymentFlow) BeginProcessing() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepConfirmation {
		return f.invalid("begin processing")
	}
	if f.st.Method == "" {
		return ErrMethodNotSelected
	}
	f.st.Step = models.StepProcessing
	f.st.Error = ""
	f.st.SelectorOpen = false
	return nil
}

// Succeed ends the flow
func (f *PaymentFlow) Succeed() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepProcessing {
		return f.invalid("succeed")
	}
	f.st.Step = models.StepSuccess
	f.st.Error = ""
	return nil
}

// Fail moves PROCESSING to ERROR with a user-facing message
func (f *PaymentFlow) Fail(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepProcessing {
		return f.invalid("fail")
	}
	f.st.Step = models.StepError
	f.st.Error = message
	return nil
}

// ReturnToConfirmation handles a recoverable failure during processing
func (f *PaymentFlow) ReturnToConfirmation(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepProcessing {
		return f.invalid("return to confirmation")
	}
	f.st.Step = models.StepConfirmation
	f.st.Error = message
	return nil
}

// ClearError drops the message without changing step
func (f *PaymentFlow) ClearError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Error = ""
}

// Retry resets an errored flow to the start
func (f *PaymentFlow) Retry() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step != models.StepError {
		return f.invalid("retry")
	}
	f.reset()
	return nil
}

// Cancel resets local payment state. Not allowed while processing or after success.
func (f *PaymentFlow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.st.Step == models.StepProcessing || f.st.Step == models.StepSuccess {
		return f.invalid("cancel")
	}
	f.reset()
	return nil
}

// reset keeps the preselected card and committed credits. Caller holds mu.
func (f *PaymentFlow) reset() {
	f.st = models.PaymentFlowState{
		Step:              models.StepMethodSelection,
		SelectedCardID:    f.st.SelectedCardID,
		CreditsToUseCents: f.st.CreditsToUseCents,
	}
}
