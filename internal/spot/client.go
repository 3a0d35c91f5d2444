package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-bullion/internal/obs"
	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/resilience"
)

// Client fetches quotes from an upstream spot price API. A circuit breaker
// shields the upstream while it is struggling; an open breaker surfaces as
// ErrUnavailable like any other fetch failure.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Breaker *resilience.Breaker
}

// NewClient constructs a spot API client with an instrumented transport and
// a breaker tuned for a frequently polled read-only dependency.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Breaker: resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("spot"),
	}
}

type quotePayload struct {
	UsdPerOz  float64 `json:"usdPerOz"`
	UpdatedAt string  `json:"updatedAt"`
	Provider  string  `json:"provider"`
	Error     string  `json:"error"`
}

// Quote fetches a fresh quote. Non-2xx responses and zero or non-positive
// prices are reported as ErrUnavailable, never as a valid free price.
func (c *Client) Quote(ctx context.Context) (pricing.Quote, error) {
	if c == nil || c.BaseURL == "" {
		return pricing.Quote{}, fmt.Errorf("client not configured: %w", ErrUnavailable)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return pricing.Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Access-Token", c.APIKey)
	}
	guarded := resilience.HTTPClient{Client: c.HTTP, Breaker: c.Breaker}
	resp, err := guarded.Do(ctx, req)
	if err != nil {
		countFetch("error")
		return pricing.Quote{}, fmt.Errorf("fetch spot: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		countFetch("error")
		return pricing.Quote{}, fmt.Errorf("spot api status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	var payload quotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		countFetch("error")
		return pricing.Quote{}, fmt.Errorf("decode spot response: %w: %w", ErrUnavailable, err)
	}
	if payload.Error != "" {
		countFetch("error")
		return pricing.Quote{}, fmt.Errorf("spot api: %s: %w", payload.Error, ErrUnavailable)
	}
	q := pricing.Quote{
		UsdPerOz:   payload.UsdPerOz,
		ObservedAt: parseObservedAt(payload.UpdatedAt),
		Provider:   payload.Provider,
	}
	if !q.Available() {
		countFetch("invalid")
		return pricing.Quote{}, fmt.Errorf("spot api returned %v usd/oz: %w", payload.UsdPerOz, ErrUnavailable)
	}
	countFetch("ok")
	return q, nil
}

func parseObservedAt(value string) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Now().Unix()
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t.Unix()
	}
	var epoch int64
	if _, err := fmt.Sscanf(trimmed, "%d", &epoch); err == nil && epoch > 0 {
		return epoch
	}
	return time.Now().Unix()
}

func countFetch(result string) {
	if obs.SpotFetchTotal != nil {
		obs.SpotFetchTotal.WithLabelValues(result).Inc()
	}
}
