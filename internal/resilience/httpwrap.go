package resilience

import (
	"context"
	"errors"
	"net/http"
)

// HTTPClient wraps an http.Client with circuit-breaker logic. Each call is a
// single attempt; callers that need another answer ask again rather than
// having requests silently replayed. Timeouts come from the wrapped client.
type HTTPClient struct {
	Client   *http.Client
	Breaker  *Breaker
	Fallback func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request once. When the breaker is open ErrOpenCircuit is
// returned without touching the network unless a fallback is configured.
// Responses with 5xx status count as failures against the breaker.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
		if cl.Fallback != nil {
			return cl.Fallback(ctx, req, ErrOpenCircuit)
		}
		return nil, ErrOpenCircuit
	}
	resp, err := cl.Client.Do(req.WithContext(ctx))
	success := err == nil && resp.StatusCode < 500
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
	if success {
		return resp, nil
	}
	if err == nil {
		err = errors.New(resp.Status)
		// the caller never sees this response; release the connection
		_ = resp.Body.Close()
	}
	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, err)
	}
	return nil, err
}
