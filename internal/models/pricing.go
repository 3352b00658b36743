package models

// LineItem is one row of a price breakdown
type LineItem struct {
	Label       string `json:"label"`
	AmountCents int    `json:"amount_cents"`
}

// PricingPreview is the server's price breakdown for a selection and a
// requested credit amount. All amounts are minor currency units.
type PricingPreview struct {
	BasePriceCents     int        `json:"base_price_cents"`
	StudentFeeCents    int        `json:"student_fee_cents"`
	StudentPayCents    int        `json:"student_pay_cents"`
	CreditAppliedCents int        `json:"credit_applied_cents"`
	LineItems          []LineItem `json:"line_items,omitempty"`
}

// TotalBeforeCreditCents is what the lesson costs before credits
func (p *PricingPreview) TotalBeforeCreditCents() int {
	if p == nil {
		return 0
	}
	return p.BasePriceCents + p.StudentFeeCents
}

// PricingPreviewRequest is the body sent to the quoting service
type PricingPreviewRequest struct {
	QuoteSelection
	AppliedCreditCents int `json:"applied_credit_cents"`
}
