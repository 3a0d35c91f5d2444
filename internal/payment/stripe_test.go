package payment_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/payment"
)

const webhookSecret = "whsec_test"

func signBody(t *testing.T, ts time.Time, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), body)
	return "t=" + strconv.FormatInt(ts.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestStripeCreateIntent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "105500", r.PostForm.Get("amount"))
		require.Equal(t, "usd", r.PostForm.Get("currency"))
		require.Equal(t, "ORD-1", r.PostForm.Get("metadata[orderId]"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":            "pi_123",
			"client_secret": "pi_123_secret_abc",
		})
	}))
	defer srv.Close()

	s := payment.Stripe{SecretKey: "sk_test", BaseURL: srv.URL, HTTP: srv.Client()}
	resp, err := s.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:     "ORD-1",
		AmountCents: 105500,
	})
	require.NoError(t, err)
	require.Equal(t, "pi_123", resp.IntentID)
	require.Equal(t, "pi_123_secret_abc", resp.ClientSecret)
}

func TestStripeCreateIntentForwardsBuyerContact(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "jess@example.com", r.PostForm.Get("receipt_email"))
		require.Equal(t, "jess@example.com", r.PostForm.Get("metadata[buyerEmail]"))
		require.Equal(t, `[{"id":"gold-1oz-bar","qty":2}]`, r.PostForm.Get("metadata[cartSummary]"))
		require.Equal(t, "Jess Doe", r.PostForm.Get("shipping[name]"))
		require.Equal(t, "1 Mint St", r.PostForm.Get("shipping[address][line1]"))
		require.Equal(t, "Austin", r.PostForm.Get("shipping[address][city]"))
		require.Equal(t, "TX", r.PostForm.Get("shipping[address][state]"))
		require.Equal(t, "78701", r.PostForm.Get("shipping[address][postal_code]"))
		require.Equal(t, "US", r.PostForm.Get("shipping[address][country]"))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":            "pi_456",
			"client_secret": "pi_456_secret_def",
		})
	}))
	defer srv.Close()

	s := payment.Stripe{SecretKey: "sk_test", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := s.CreateIntent(context.Background(), payment.IntentRequest{
		OrderID:      "ORD-2",
		AmountCents:  105500,
		ReceiptEmail: "jess@example.com",
		ShippingName: "Jess Doe",
		Shipping: &payment.ShippingAddress{
			Line1:      "1 Mint St",
			City:       "Austin",
			State:      "TX",
			PostalCode: "78701",
			Country:    "US",
		},
		CartSummary: `[{"id":"gold-1oz-bar","qty":2}]`,
	})
	require.NoError(t, err)
}

func TestStripeCreateIntentAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "card declined"}})
	}))
	defer srv.Close()

	s := payment.Stripe{SecretKey: "sk_test", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := s.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ORD-1", AmountCents: 100})
	require.ErrorContains(t, err, "card declined")
}

func TestStripeVerifyWebhook(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_123", "amount": 105500, "metadata": {"orderId": "ORD-1"}}}
	}`)

	s := payment.Stripe{WebhookSecret: webhookSecret, Now: func() time.Time { return now }}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/stripe", nil)
	req.Header.Set("Stripe-Signature", signBody(t, now.Add(-time.Minute), body))

	event, err := s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)
	require.Equal(t, payment.StatusSucceeded, event.Status)
	require.Equal(t, "pi_123", event.IntentID)
	require.Equal(t, "ORD-1", event.OrderID)
	require.Equal(t, int64(105500), event.AmountCents)
}

func TestStripeVerifyWebhookKeepsFailureMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_123", "metadata": {"orderId": "ORD-1"},
			"last_payment_error": {"message": "Your card has insufficient funds."}}}
	}`)

	s := payment.Stripe{WebhookSecret: webhookSecret, Now: func() time.Time { return now }}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/stripe", nil)
	req.Header.Set("Stripe-Signature", signBody(t, now, body))

	event, err := s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.Equal(t, payment.StatusFailed, event.Status)
	require.Equal(t, "Your card has insufficient funds.", event.FailureMessage)
}

func TestStripeVerifyWebhookRejects(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{}}}`)
	s := payment.Stripe{WebhookSecret: webhookSecret, Now: func() time.Time { return now }}

	cases := map[string]string{
		"missing header":   "",
		"garbage header":   "not-a-signature",
		"wrong signature":  "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=" + hex.EncodeToString(make([]byte, 32)),
		"stale timestamp":  signBody(t, now.Add(-time.Hour), body),
		"future timestamp": signBody(t, now.Add(time.Hour), body),
		"tampered payload": signBody(t, now, []byte(`{"id":"evt_2"}`)),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/stripe", nil)
		if header != "" {
			req.Header.Set("Stripe-Signature", header)
		}
		_, err := s.VerifyWebhook(req, body)
		require.ErrorIs(t, err, payment.ErrInvalidSignature, name)
	}
}

func TestStripeVerifyWebhookUnhandledType(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{"id":"evt_9","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)
	s := payment.Stripe{WebhookSecret: webhookSecret, Now: func() time.Time { return now }}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment/stripe", nil)
	req.Header.Set("Stripe-Signature", signBody(t, now, body))

	event, err := s.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.Equal(t, payment.StatusIgnored, event.Status)
}
