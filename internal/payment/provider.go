package payment

import (
	"context"
	"net/http"
)

// ShippingAddress is a structured destination forwarded to the processor.
type ShippingAddress struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IntentRequest captures the information required to open a payment intent
// with a processor. Amounts are integer cents. Buyer contact is optional:
// when present the receipt email and shipping destination are forwarded so
// the processor can deliver receipts and the metadata carries enough context
// to reconcile the charge without a database lookup.
type IntentRequest struct {
	OrderID      string
	AmountCents  int64
	Currency     string
	Description  string
	ReceiptEmail string
	ShippingName string
	Shipping     *ShippingAddress
	CartSummary  string
}

// IntentResponse is the minimal information returned when creating an intent.
type IntentResponse struct {
	Provider     string
	IntentID     string
	ClientSecret string
}

// Event statuses normalised from processor webhook event types.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusIgnored   = "IGNORED"
)

// WebhookEvent is the normalised payload extracted from a processor webhook
// after signature verification. FailureMessage carries the processor's own
// wording for a failed payment, surfaced to the order record verbatim.
type WebhookEvent struct {
	ID             string
	Type           string
	Status         string
	IntentID       string
	OrderID        string
	AmountCents    int64
	FailureMessage string
	Raw            []byte
}

// Provider abstracts the operations required from an upstream processor.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error)
}
