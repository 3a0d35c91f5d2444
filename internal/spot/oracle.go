package spot

import (
	"context"
	"errors"

	"github.com/noah-isme/backend-bullion/internal/pricing"
)

// ErrUnavailable indicates the oracle could not produce a usable quote. A
// stale or zero price is never substituted; callers surface "pricing
// temporarily unavailable" instead.
var ErrUnavailable = errors.New("spot: quote unavailable")

// Oracle supplies the current spot price per troy ounce on demand.
type Oracle interface {
	Quote(ctx context.Context) (pricing.Quote, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context) (pricing.Quote, error)

// Quote implements Oracle.
func (f OracleFunc) Quote(ctx context.Context) (pricing.Quote, error) {
	return f(ctx)
}
