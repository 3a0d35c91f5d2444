package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Order statuses. An order is created PENDING when the payment intent is
// issued and moves to PAID or FAILED when the processor reports back.
const (
	OrderStatusPending = "PENDING"
	OrderStatusPaid    = "PAID"
	OrderStatusFailed  = "FAILED"
)

// Order is the persisted record of a checkout attempt, including the
// breakdown that was quoted at intent time and the guest buyer contact
// collected with the payment, when provided.
type Order struct {
	ID               int64     `json:"-"`
	Reference        string    `json:"orderId"`
	CartID           string    `json:"cartId"`
	Status           string    `json:"status"`
	SubtotalUsd      float64   `json:"subtotalUsd"`
	ShippingUsd      float64   `json:"shippingUsd"`
	ProcessingFeeUsd float64   `json:"processingFeeUsd"`
	TotalUsd         float64   `json:"totalUsd"`
	SpotUsdPerOz     float64   `json:"spotUsdPerOz"`
	SpotProvider     string    `json:"spotProvider"`
	ProviderRef      string    `json:"providerRef,omitempty"`
	BuyerEmail       string    `json:"buyerEmail,omitempty"`
	BuyerName        string    `json:"buyerName,omitempty"`
	ShippingAddress  string    `json:"shippingAddress,omitempty"`
	CartSummary      string    `json:"cartSummary,omitempty"`
	FailureReason    string    `json:"failureReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// OrdersRepo reads and writes orders.
type OrdersRepo struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, reference, cart_id, status, subtotal_usd, shipping_usd,
	processing_fee_usd, total_usd, spot_usd_per_oz, spot_provider,
	COALESCE(provider_ref, ''), buyer_email, buyer_name, shipping_address,
	cart_summary, failure_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Reference, &o.CartID, &o.Status, &o.SubtotalUsd,
		&o.ShippingUsd, &o.ProcessingFeeUsd, &o.TotalUsd, &o.SpotUsdPerOz,
		&o.SpotProvider, &o.ProviderRef, &o.BuyerEmail, &o.BuyerName,
		&o.ShippingAddress, &o.CartSummary, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// Insert persists a freshly created order and fills in its row id and
// timestamps.
func (r OrdersRepo) Insert(ctx context.Context, o Order) (Order, error) {
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO orders (reference, cart_id, status, subtotal_usd, shipping_usd,
			processing_fee_usd, total_usd, spot_usd_per_oz, spot_provider, provider_ref,
			buyer_email, buyer_name, shipping_address, cart_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14)
		RETURNING `+orderColumns,
		o.Reference, o.CartID, o.Status, o.SubtotalUsd, o.ShippingUsd,
		o.ProcessingFeeUsd, o.TotalUsd, o.SpotUsdPerOz, o.SpotProvider, o.ProviderRef,
		o.BuyerEmail, o.BuyerName, o.ShippingAddress, o.CartSummary)
	return scanOrder(row)
}

// GetByReference loads an order by its public ORD- reference.
func (r OrdersRepo) GetByReference(ctx context.Context, reference string) (Order, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE reference = $1`, reference)
	return scanOrder(row)
}

// GetByProviderRef loads an order by the processor's intent id.
func (r OrdersRepo) GetByProviderRef(ctx context.Context, providerRef string) (Order, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE provider_ref = $1`, providerRef)
	return scanOrder(row)
}

// SetProviderRef attaches the processor intent id once it is known.
func (r OrdersRepo) SetProviderRef(ctx context.Context, reference, providerRef string) error {
	tag, err := r.Pool.Exec(ctx,
		`UPDATE orders SET provider_ref = $2, updated_at = now() WHERE reference = $1`,
		reference, providerRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus transitions the order. PENDING is the only state that accepts a
// transition, so a replayed webhook cannot flip a settled order.
func (r OrdersRepo) UpdateStatus(ctx context.Context, reference, status string) (Order, error) {
	row := r.Pool.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE reference = $1 AND status = $3
		RETURNING `+orderColumns,
		reference, status, OrderStatusPending)
	return scanOrder(row)
}

// MarkFailed transitions a PENDING order to FAILED and records the
// processor's failure message verbatim.
func (r OrdersRepo) MarkFailed(ctx context.Context, reference, reason string) (Order, error) {
	row := r.Pool.QueryRow(ctx, `
		UPDATE orders SET status = $2, failure_reason = $3, updated_at = now()
		WHERE reference = $1 AND status = $4
		RETURNING `+orderColumns,
		reference, OrderStatusFailed, reason, OrderStatusPending)
	return scanOrder(row)
}
