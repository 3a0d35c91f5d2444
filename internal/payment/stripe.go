package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrInvalidSignature is returned when a webhook signature cannot be verified.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Stripe implements Provider against the Stripe REST API.
type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	HTTP          *http.Client
	// Tolerance bounds the age of a signed webhook; older timestamps are
	// rejected to limit replay windows. Zero means 5 minutes.
	Tolerance time.Duration
	Now       func() time.Time
}

func (s Stripe) baseURL() string {
	if strings.TrimSpace(s.BaseURL) == "" {
		return "https://api.stripe.com"
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s Stripe) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func (s Stripe) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Stripe) tolerance() time.Duration {
	if s.Tolerance <= 0 {
		return 5 * time.Minute
	}
	return s.Tolerance
}

// CreateIntent opens a PaymentIntent for the order. The order reference rides
// along in metadata so the webhook can correlate without guessing.
func (s Stripe) CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return IntentResponse{}, errors.New("order id is required")
	}
	if req.AmountCents <= 0 {
		return IntentResponse{}, errors.New("amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", currency)
	form.Set("metadata[orderId]", req.OrderID)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	if req.ReceiptEmail != "" {
		form.Set("receipt_email", req.ReceiptEmail)
		form.Set("metadata[buyerEmail]", req.ReceiptEmail)
	}
	if req.CartSummary != "" {
		form.Set("metadata[cartSummary]", req.CartSummary)
	}
	if req.Shipping != nil {
		name := req.ShippingName
		if name == "" {
			name = req.ReceiptEmail
		}
		if name == "" {
			name = "Customer"
		}
		form.Set("shipping[name]", name)
		form.Set("shipping[address][line1]", req.Shipping.Line1)
		if req.Shipping.Line2 != "" {
			form.Set("shipping[address][line2]", req.Shipping.Line2)
		}
		form.Set("shipping[address][city]", req.Shipping.City)
		if req.Shipping.State != "" {
			form.Set("shipping[address][state]", req.Shipping.State)
		}
		form.Set("shipping[address][postal_code]", req.Shipping.PostalCode)
		form.Set("shipping[address][country]", req.Shipping.Country)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL()+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return IntentResponse{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient().Do(httpReq)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("stripe: create intent: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return IntentResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		return IntentResponse{}, fmt.Errorf("stripe: create intent: %s", msg)
	}
	var payload struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return IntentResponse{}, fmt.Errorf("stripe: decode intent: %w", err)
	}
	if payload.ID == "" || payload.ClientSecret == "" {
		return IntentResponse{}, errors.New("stripe: intent response incomplete")
	}
	return IntentResponse{Provider: "stripe", IntentID: payload.ID, ClientSecret: payload.ClientSecret}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the raw body and
// normalises the event. The signed payload is "<t>.<body>" and any of the v1
// candidates may match.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	header := r.Header.Get("Stripe-Signature")
	ts, candidates, err := parseSignatureHeader(header)
	if err != nil {
		return WebhookEvent{}, err
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age > s.tolerance() || age < -s.tolerance() {
		return WebhookEvent{}, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, []byte(s.WebhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	matched := false
	for _, candidate := range candidates {
		if hmac.Equal([]byte(expected), []byte(candidate)) {
			matched = true
			break
		}
	}
	if !matched {
		return WebhookEvent{}, ErrInvalidSignature
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Metadata struct {
					OrderID string `json:"orderId"`
				} `json:"metadata"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode event: %w", err)
	}
	if payload.ID == "" || payload.Type == "" {
		return WebhookEvent{}, errors.New("stripe: event incomplete")
	}
	return WebhookEvent{
		ID:             payload.ID,
		Type:           payload.Type,
		Status:         normaliseEventType(payload.Type),
		IntentID:       payload.Data.Object.ID,
		OrderID:        payload.Data.Object.Metadata.OrderID,
		AmountCents:    payload.Data.Object.Amount,
		FailureMessage: payload.Data.Object.LastPaymentError.Message,
		Raw:            body,
	}, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, fmt.Errorf("%w: missing Stripe-Signature header", ErrInvalidSignature)
	}
	var ts int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: header incomplete", ErrInvalidSignature)
	}
	return ts, candidates, nil
}

func normaliseEventType(eventType string) string {
	switch eventType {
	case "payment_intent.succeeded":
		return StatusSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		return StatusFailed
	default:
		return StatusIgnored
	}
}
