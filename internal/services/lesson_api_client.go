package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lessonmarket/checkout-service/internal/config"
	"github.com/lessonmarket/checkout-service/internal/models"
	"github.com/lessonmarket/checkout-service/pkg/validator"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// LessonAPIClient talks to the lesson marketplace backend. It implements
// every backend collaborator of a checkout session.
type LessonAPIClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logrus.Logger
}

// NewLessonAPIClient creates a new marketplace API client
func NewLessonAPIClient(cfg config.LessonAPIConfig, logger *logrus.Logger) *LessonAPIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LessonAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithToken returns a client that forwards the student's bearer token
func (c *LessonAPIClient) WithToken(token string) *LessonAPIClient {
	clone := *c
	clone.token = token
	return &clone
}

// ============================================================================
// PRICING
// ============================================================================

// PricingPreview quotes a selection with the requested credit applied
func (c *LessonAPIClient) PricingPreview(ctx context.Context, req models.PricingPreviewRequest) (*models.PricingPreview, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/pricing/preview", req, nil)
	if err != nil {
		return nil, err
	}

	var preview models.PricingPreview
	if err := json.Unmarshal(body, &preview); err != nil {
		return nil, fmt.Errorf("failed to decode pricing preview: %w", err)
	}
	return &preview, nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

// CreateBooking creates the lesson booking a checkout pays for
func (c *LessonAPIClient) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingRecord, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/bookings", req, nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	id := firstOf(raw, "id", "booking.id", "booking_id").String()
	if id == "" {
		return nil, nil
	}
	return &models.BookingRecord{
		ID:     id,
		Status: firstOf(raw, "status", "booking.status").String(),
	}, nil
}

// CancelBooking rolls back a booking whose payment failed
func (c *LessonAPIClient) CancelBooking(ctx context.Context, bookingID string) error {
	path := fmt.Sprintf("/api/v1/bookings/%s/cancel", url.PathEscape(bookingID))
	_, err := c.do(ctx, http.MethodPost, path, map[string]string{"reason": "payment_failed"}, nil)
	return err
}

// FetchBookingDetails returns the current order summary of a booking
func (c *LessonAPIClient) FetchBookingDetails(ctx context.Context, bookingID string) (*models.RawBookingRecord, error) {
	path := "/api/v1/bookings/" + url.PathEscape(bookingID)
	body, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	if b := raw.Get("booking"); b.IsObject() {
		raw = b
	}
	return parseBookingRecord(raw), nil
}

func parseBookingRecord(raw gjson.Result) *models.RawBookingRecord {
	record := &models.RawBookingRecord{
		ID:            raw.Get("id").String(),
		ServiceName:   firstOf(raw, "service_name", "lesson_type").String(),
		ServiceID:     firstOf(raw, "instructor_service_id", "service_id").String(),
		BookingDate:   raw.Get("booking_date").String(),
		StartTime:     raw.Get("start_time").String(),
		EndTime:       raw.Get("end_time").String(),
		LocationType:  raw.Get("location_type").String(),
		HourlyRate:    looseOf(raw.Get("hourly_rate")),
		TotalPrice:    looseOf(raw.Get("total_price")),
		Status:        raw.Get("status").String(),
		PaymentStatus: raw.Get("payment_status").String(),
	}
	record.InstructorID = nullableString(raw.Get("instructor_id"))
	record.InstructorName = nullableString(firstOf(raw, "instructor_name", "instructor.name"))
	record.Location = nullableString(firstOf(raw, "meeting_location", "location"))
	if d := firstOf(raw, "duration_minutes", "selected_duration"); d.Exists() && d.Type != gjson.Null {
		if f, ok := looseOf(d).Float(); ok {
			if mins, ok := validator.BoundedInt(f, validator.MaxLessonMinutes); ok {
				record.DurationMinutes = models.IntPtr(mins)
			}
		}
	}
	return record
}

// ============================================================================
// PAYMENTS
// ============================================================================

// CreateCheckout submits the payment for a created booking. The idempotency
// key travels as a header so a replayed request charges once.
func (c *LessonAPIClient) CreateCheckout(ctx context.Context, req models.CheckoutRequest) (*models.CheckoutResult, error) {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/payments/checkout", req, headers)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	result := &models.CheckoutResult{
		PaymentIntentID: firstOf(raw, "payment_intent_id", "payment_intent.id").String(),
		Success:         raw.Get("success").Bool(),
		Status:          firstOf(raw, "status", "payment_intent.status").String(),
		Amount:          int(raw.Get("amount").Int()),
		ClientSecret:    firstOf(raw, "client_secret", "payment_intent.client_secret").String(),
		RequiresAction:  raw.Get("requires_action").Bool(),
	}
	return result, nil
}

// ListPaymentMethods lists the student's saved cards
func (c *LessonAPIClient) ListPaymentMethods(ctx context.Context) ([]models.SavedCard, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/payments/methods", nil, nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	if !raw.IsArray() {
		raw = firstOf(raw, "payment_methods", "data")
	}

	cards := []models.SavedCard{}
	raw.ForEach(func(_, pm gjson.Result) bool {
		card := models.SavedCard{
			ID:        pm.Get("id").String(),
			Last4:     firstOf(pm, "last4", "card.last4").String(),
			Brand:     firstOf(pm, "brand", "card.brand").String(),
			IsDefault: pm.Get("is_default").Bool(),
			CreatedAt: pm.Get("created_at").String(),
		}
		if card.ID != "" {
			cards = append(cards, card)
		}
		return true
	})
	return cards, nil
}

// GetCredits reads the student's credit balance
func (c *LessonAPIClient) GetCredits(ctx context.Context) (*models.CreditBalance, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/payments/credits", nil, nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	available, _ := looseOf(firstOf(raw, "available", "balance", "available_credit")).Float()
	balance := &models.CreditBalance{Available: available}
	if exp := raw.Get("expires_at"); exp.Type == gjson.String && exp.String() != "" {
		balance.ExpiresAt = models.StringPtr(exp.String())
	}
	return balance, nil
}

// ApplyReferral applies a referral or promo code to the student's checkout
func (c *LessonAPIClient) ApplyReferral(ctx context.Context, bookingID, code string) (*models.ReferralResult, error) {
	payload := map[string]string{"code": code}
	if bookingID != "" {
		payload["booking_id"] = bookingID
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/referrals/apply", payload, nil)
	if err != nil {
		return nil, err
	}

	raw := gjson.ParseBytes(body)
	result := &models.ReferralResult{
		Code:    firstOf(raw, "code").String(),
		Message: raw.Get("message").String(),
	}
	if result.Code == "" {
		result.Code = code
	}
	if cents := raw.Get("applied_cents"); cents.Exists() {
		result.AppliedCents = int(cents.Int())
	} else if amount, ok := looseOf(firstOf(raw, "discount_amount", "amount")).Float(); ok {
		result.AppliedCents = int(amount*100 + 0.5)
	}
	return result, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

// do sends one JSON request and returns the body of a 2xx answer. Any other
// status becomes an *models.APIError.
func (c *LessonAPIClient) do(ctx context.Context, method, path string, payload interface{}, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"method": method,
			"path":   path,
		}).Warn("Lesson API request failed")
		return nil, fmt.Errorf("failed to call lesson API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("Lesson API response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// decodeAPIError reads the backend's error envelope. It may carry detail,
// message or a nested error object.
func decodeAPIError(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{Status: status}
	if !gjson.ValidBytes(body) {
		apiErr.Detail = strings.TrimSpace(string(body))
		return apiErr
	}

	raw := gjson.ParseBytes(body)
	apiErr.Code = firstOf(raw, "code", "error.code", "error_code").String()
	apiErr.ClientSecret = firstOf(raw, "client_secret", "error.payment_intent.client_secret").String()

	detail := firstOf(raw, "detail", "message", "error.message")
	if !detail.Exists() {
		if e := raw.Get("error"); e.Type == gjson.String {
			detail = e
		}
	}
	if detail.Type == gjson.String {
		apiErr.Detail = detail.String()
	} else if detail.IsArray() {
		// validation errors arrive as a list of {msg}
		var parts []string
		detail.ForEach(func(_, item gjson.Result) bool {
			if msg := firstOf(item, "msg", "message"); msg.Exists() {
				parts = append(parts, msg.String())
			}
			return true
		})
		apiErr.Detail = strings.Join(parts, "; ")
	}
	return apiErr
}

// firstOf returns the first path that exists and is not null
func firstOf(raw gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := raw.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func looseOf(r gjson.Result) models.Loose {
	switch r.Type {
	case gjson.Number:
		return models.Loose(r.Raw)
	case gjson.String:
		return models.Loose(r.String())
	}
	return ""
}

func nullableString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return models.StringPtr(r.String())
}
