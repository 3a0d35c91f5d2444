package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-bullion/internal/common"
	"github.com/noah-isme/backend-bullion/internal/events"
	"github.com/noah-isme/backend-bullion/internal/ledger"
	"github.com/noah-isme/backend-bullion/internal/obs"
	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/repo"
)

// OrderStore is the order persistence surface the webhook needs.
type OrderStore interface {
	GetByProviderRef(ctx context.Context, providerRef string) (repo.Order, error)
	GetByReference(ctx context.Context, reference string) (repo.Order, error)
	UpdateStatus(ctx context.Context, reference, status string) (repo.Order, error)
	MarkFailed(ctx context.Context, reference, reason string) (repo.Order, error)
}

// SettlementStore persists settlement records.
type SettlementStore interface {
	Insert(ctx context.Context, s repo.Settlement) (repo.Settlement, error)
}

// Bookkeeper hands settled rows to the spreadsheet ledger.
type Bookkeeper interface {
	Record(ctx context.Context, row ledger.Row) error
}

// CartCleaner empties the cart after a settled payment.
type CartCleaner interface {
	Clear(ctx context.Context, cartID string) error
}

// LockDiscarder removes the price lock after a settled payment.
type LockDiscarder interface {
	Discard(ctx context.Context, cartID string) error
}

// Webhook handles processor callbacks: signature verification, replay
// protection, order settlement and bookkeeping.
type Webhook struct {
	Provider    Provider
	Orders      OrderStore
	Settlements SettlementStore
	Bus         *events.Bus
	Ledger      Bookkeeper
	Carts       CartCleaner
	Locks       LockDiscarder
	Replay      *redis.Client
	ReplayTTL   time.Duration
	Log         zerolog.Logger
	Now         func() time.Time
}

func (h Webhook) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Handle processes one processor webhook. Signature failures are rejected
// before any state changes. Unrecognised event types are acknowledged so the
// processor stops redelivering them.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Provider == nil || h.Orders == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unable to read payload", nil)
		return
	}
	event, err := h.Provider.VerifyWebhook(r, body)
	if err != nil {
		countWebhook("unknown", "invalid_signature")
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidSignature, "signature verification failed", nil)
		return
	}
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := "wh:stripe:" + event.ID
		fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "replay store unavailable", nil)
			return
		}
		if !fresh {
			countWebhook(event.Type, "replay")
			common.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	switch event.Status {
	case StatusSucceeded:
		h.settle(r.Context(), w, event)
	case StatusFailed:
		h.fail(r.Context(), w, event)
	default:
		countWebhook(event.Type, "ignored")
		common.JSON(w, http.StatusOK, map[string]any{"received": true})
	}
}

func (h Webhook) findOrder(ctx context.Context, event WebhookEvent) (repo.Order, error) {
	if event.IntentID != "" {
		if o, err := h.Orders.GetByProviderRef(ctx, event.IntentID); err == nil {
			return o, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return repo.Order{}, err
		}
	}
	if event.OrderID == "" {
		return repo.Order{}, repo.ErrNotFound
	}
	return h.Orders.GetByReference(ctx, event.OrderID)
}

func (h Webhook) settle(ctx context.Context, w http.ResponseWriter, event WebhookEvent) {
	order, err := h.findOrder(ctx, event)
	if err != nil {
		h.orderLookupError(w, event, err)
		return
	}
	if event.AmountCents > 0 && event.AmountCents != pricing.Cents(order.TotalUsd) {
		countWebhook(event.Type, "amount_mismatch")
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "amount mismatch", nil)
		return
	}
	settled, err := h.Orders.UpdateStatus(ctx, order.Reference, repo.OrderStatusPaid)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// already settled or failed; acknowledge, nothing to redo
			countWebhook(event.Type, "already_settled")
			common.JSON(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order update failed", nil)
		return
	}
	record := repo.Settlement{
		OrderReference:   settled.Reference,
		EventID:          event.ID,
		ProviderRef:      event.IntentID,
		Status:           repo.OrderStatusPaid,
		AmountUsd:        settled.TotalUsd,
		ProcessingFeeUsd: settled.ProcessingFeeUsd,
		NetUsd:           pricing.Round2(settled.TotalUsd - settled.ProcessingFeeUsd),
		OccurredAt:       h.now(),
	}
	if h.Settlements != nil {
		if record, err = h.Settlements.Insert(ctx, record); err != nil && !errors.Is(err, repo.ErrDuplicateEvent) {
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "settlement record failed", nil)
			return
		}
	}
	if h.Bus != nil {
		payload := map[string]any{"orderId": settled.Reference, "totalUsd": settled.TotalUsd, "netUsd": record.NetUsd}
		if _, err := h.Bus.Emit(ctx, events.TopicPaymentSucceeded, settled.Reference, payload); err != nil {
			h.Log.Warn().Err(err).Str("order_id", settled.Reference).Msg("event emit incomplete")
		}
		if _, err := h.Bus.Emit(ctx, events.TopicSettlementRecorded, settled.Reference, payload); err != nil {
			h.Log.Warn().Err(err).Str("order_id", settled.Reference).Msg("event emit incomplete")
		}
	}
	// bookkeeping is best-effort and must never fail the settlement
	if h.Ledger != nil {
		row := ledger.Row{
			OrderID:          settled.Reference,
			CartID:           settled.CartID,
			EventID:          event.ID,
			ProviderRef:      event.IntentID,
			Status:           repo.OrderStatusPaid,
			SubtotalUsd:      settled.SubtotalUsd,
			ShippingUsd:      settled.ShippingUsd,
			ProcessingFeeUsd: settled.ProcessingFeeUsd,
			TotalUsd:         settled.TotalUsd,
			NetUsd:           record.NetUsd,
			SpotUsdPerOz:     settled.SpotUsdPerOz,
			SpotProvider:     settled.SpotProvider,
			BuyerEmail:       settled.BuyerEmail,
			ShippingAddress:  settled.ShippingAddress,
			CartSummary:      settled.CartSummary,
			OccurredAt:       record.OccurredAt,
		}
		if err := h.Ledger.Record(ctx, row); err != nil {
			h.Log.Error().Err(err).Str("order_id", settled.Reference).Msg("ledger record failed")
		}
	}
	if h.Carts != nil && settled.CartID != "" {
		if err := h.Carts.Clear(ctx, settled.CartID); err != nil {
			h.Log.Warn().Err(err).Str("cart_id", settled.CartID).Msg("cart clear failed")
		}
	}
	if h.Locks != nil && settled.CartID != "" {
		if err := h.Locks.Discard(ctx, settled.CartID); err != nil {
			h.Log.Warn().Err(err).Str("cart_id", settled.CartID).Msg("lock discard failed")
		}
	}
	countWebhook(event.Type, "settled")
	h.Log.Info().Str("order_id", settled.Reference).Float64("total_usd", settled.TotalUsd).Msg("order settled")
	common.JSON(w, http.StatusOK, map[string]any{"received": true, "orderId": settled.Reference})
}

// fail marks the order FAILED, keeping the processor's failure message. The
// cart and lock are left alone so the buyer can retry checkout.
func (h Webhook) fail(ctx context.Context, w http.ResponseWriter, event WebhookEvent) {
	order, err := h.findOrder(ctx, event)
	if err != nil {
		h.orderLookupError(w, event, err)
		return
	}
	failed, err := h.Orders.MarkFailed(ctx, order.Reference, event.FailureMessage)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			countWebhook(event.Type, "already_settled")
			common.JSON(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order update failed", nil)
		return
	}
	if h.Bus != nil {
		payload := map[string]any{"orderId": failed.Reference, "totalUsd": failed.TotalUsd, "reason": failed.FailureReason}
		if _, err := h.Bus.Emit(ctx, events.TopicPaymentFailed, failed.Reference, payload); err != nil {
			h.Log.Warn().Err(err).Str("order_id", failed.Reference).Msg("event emit incomplete")
		}
	}
	countWebhook(event.Type, "failed")
	h.Log.Info().Str("order_id", failed.Reference).Str("reason", failed.FailureReason).Msg("payment failed")
	common.JSON(w, http.StatusOK, map[string]any{"received": true, "orderId": failed.Reference})
}

func (h Webhook) orderLookupError(w http.ResponseWriter, event WebhookEvent, err error) {
	if errors.Is(err, repo.ErrNotFound) {
		countWebhook(event.Type, "order_not_found")
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound,
			fmt.Sprintf("no order for event %s", event.ID), nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "order lookup failed", nil)
}

func countWebhook(event, result string) {
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(event, result).Inc()
	}
}
