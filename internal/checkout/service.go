package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bullion/internal/cart"
	"github.com/noah-isme/backend-bullion/internal/common"
	"github.com/noah-isme/backend-bullion/internal/events"
	"github.com/noah-isme/backend-bullion/internal/obs"
	"github.com/noah-isme/backend-bullion/internal/payment"
	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/repo"
	"github.com/noah-isme/backend-bullion/internal/spot"
)

// Address is a structured shipping destination.
type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
}

// String flattens the address to one line for the order record and the
// bookkeeping spreadsheet.
func (a Address) String() string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(a.PostalCode + " " + a.Country)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Buyer is the optional guest contact collected with the payment. There are
// no accounts; this is the only buyer identity the system ever sees.
type Buyer struct {
	Email    string   `json:"email" validate:"omitempty,email"`
	Name     string   `json:"name,omitempty"`
	Shipping *Address `json:"shippingAddress,omitempty"`
}

// Input is the payment-intent request payload.
type Input struct {
	CartID string `json:"cartId"`
	Buyer  *Buyer `json:"buyer,omitempty"`
}

// Output is returned to the storefront so it can confirm the intent
// client-side.
type Output struct {
	OrderID      string            `json:"orderId"`
	ClientSecret string            `json:"clientSecret"`
	AmountUsd    float64           `json:"amountUsd"`
	Breakdown    pricing.Breakdown `json:"breakdown"`
	Spot         pricing.Quote     `json:"spot"`
}

// CartReader loads the cart being checked out.
type CartReader interface {
	Get(ctx context.Context, id string) (cart.Cart, error)
}

// OrderWriter persists the order opened for the intent.
type OrderWriter interface {
	Insert(ctx context.Context, o repo.Order) (repo.Order, error)
	SetProviderRef(ctx context.Context, reference, providerRef string) error
}

// Service creates payment intents. The amount charged is always recomputed
// here from a fresh spot quote; any price lock the buyer holds is a display
// countdown, not a price guarantee.
type Service struct {
	Carts    CartReader
	Orders   OrderWriter
	Oracle   spot.Oracle
	Provider payment.Provider
	Pricing  pricing.Config
	Bus      *events.Bus
	Log      zerolog.Logger
	Now      func() time.Time
	Rand     *rand.Rand
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// newOrderID builds the public order reference: ORD-<unix millis>-<6 digits>.
func (s *Service) newOrderID() string {
	n := rand.Intn(1000000)
	if s.Rand != nil {
		n = s.Rand.Intn(1000000)
	}
	return fmt.Sprintf("ORD-%d-%06d", s.now().UnixMilli(), n)
}

// Create prices the cart against a fresh quote, opens the order and the
// processor intent. An empty cart is a client error; an unavailable oracle
// makes checkout unavailable rather than mispriced.
func (s *Service) Create(ctx context.Context, in Input) (Output, error) {
	if s == nil || s.Carts == nil || s.Orders == nil || s.Oracle == nil || s.Provider == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if in.CartID == "" {
		return Output{}, &common.AppError{
			Code: common.CodeBadRequest, Message: "cartId is required", HTTPStatus: http.StatusBadRequest,
		}
	}
	c, err := s.Carts.Get(ctx, in.CartID)
	if err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			return Output{}, &common.AppError{
				Code: common.CodeNotFound, Message: "cart not found", HTTPStatus: http.StatusNotFound, Err: err,
			}
		}
		return Output{}, err
	}
	items := c.LineItems()
	if len(items) == 0 {
		countIntent("empty_cart")
		return Output{}, &common.AppError{
			Code: common.CodeCartEmpty, Message: "cart is empty", HTTPStatus: http.StatusBadRequest,
		}
	}

	q, err := s.Oracle.Quote(ctx)
	if err != nil {
		countIntent("spot_unavailable")
		return Output{}, &common.AppError{
			Code: common.CodeSpotUnavailable, Message: "pricing temporarily unavailable",
			HTTPStatus: http.StatusServiceUnavailable, Err: err,
		}
	}
	breakdown, err := s.Pricing.Price(q, items)
	if err != nil {
		countIntent("invalid_cart")
		return Output{}, &common.AppError{
			Code: common.CodeValidation, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err,
		}
	}

	summary := summariseCart(c)
	order := repo.Order{
		Reference:        s.newOrderID(),
		CartID:           c.ID,
		Status:           repo.OrderStatusPending,
		SubtotalUsd:      breakdown.SubtotalUsd,
		ShippingUsd:      breakdown.ShippingUsd,
		ProcessingFeeUsd: breakdown.ProcessingFeeUsd,
		TotalUsd:         breakdown.TotalUsd,
		SpotUsdPerOz:     q.UsdPerOz,
		SpotProvider:     q.Provider,
		CartSummary:      summary,
	}
	if in.Buyer != nil {
		order.BuyerEmail = in.Buyer.Email
		order.BuyerName = in.Buyer.Name
		if in.Buyer.Shipping != nil {
			order.ShippingAddress = in.Buyer.Shipping.String()
		}
	}
	order, err = s.Orders.Insert(ctx, order)
	if err != nil {
		countIntent("store_error")
		return Output{}, fmt.Errorf("persist order: %w", err)
	}

	req := payment.IntentRequest{
		OrderID:     order.Reference,
		AmountCents: pricing.Cents(breakdown.TotalUsd),
		Currency:    "usd",
		Description: fmt.Sprintf("bullion order %s", order.Reference),
		CartSummary: summary,
	}
	if in.Buyer != nil {
		req.ReceiptEmail = in.Buyer.Email
		req.ShippingName = in.Buyer.Name
		if a := in.Buyer.Shipping; a != nil {
			req.Shipping = &payment.ShippingAddress{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}
	intent, err := s.Provider.CreateIntent(ctx, req)
	if err != nil {
		countIntent("provider_error")
		// the processor's own message, verbatim, so the buyer sees why
		return Output{}, &common.AppError{
			Code: common.CodePaymentFailed, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Err: err,
		}
	}
	if err := s.Orders.SetProviderRef(ctx, order.Reference, intent.IntentID); err != nil {
		s.Log.Error().Err(err).Str("order_id", order.Reference).Msg("provider ref not persisted")
	}
	if s.Bus != nil {
		payload := map[string]any{
			"orderId":   order.Reference,
			"cartId":    order.CartID,
			"totalUsd":  order.TotalUsd,
			"usdPerOz":  q.UsdPerOz,
			"provider":  q.Provider,
			"intentRef": intent.IntentID,
		}
		if _, err := s.Bus.Emit(ctx, events.TopicOrderCreated, order.Reference, payload); err != nil {
			s.Log.Warn().Err(err).Str("order_id", order.Reference).Msg("event emit incomplete")
		}
	}
	countIntent("ok")
	s.Log.Info().
		Str("order_id", order.Reference).
		Float64("total_usd", order.TotalUsd).
		Float64("usd_per_oz", q.UsdPerOz).
		Msg("payment intent created")
	return Output{
		OrderID:      order.Reference,
		ClientSecret: intent.ClientSecret,
		AmountUsd:    breakdown.TotalUsd,
		Breakdown:    breakdown,
		Spot:         q,
	}, nil
}

// summariseCart renders a compact JSON digest of the cart lines, short
// enough for processor metadata and a single spreadsheet cell.
func summariseCart(c cart.Cart) string {
	type line struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
		Qty  int    `json:"qty"`
	}
	lines := make([]line, 0, len(c.Items))
	for _, it := range c.Items {
		lines = append(lines, line{ID: it.ID, Name: it.Name, Qty: it.Qty})
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return ""
	}
	return string(data)
}

func countIntent(result string) {
	if obs.PaymentIntentTotal != nil {
		obs.PaymentIntentTotal.WithLabelValues(result).Inc()
	}
}
