package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Settlement is the durable record of a processor webhook outcome for an
// order. NetUsd is the total minus the processing fee, i.e. what the
// storefront keeps before processor charges.
type Settlement struct {
	ID               int64     `json:"-"`
	OrderReference   string    `json:"orderId"`
	EventID          string    `json:"eventId"`
	ProviderRef      string    `json:"providerRef"`
	Status           string    `json:"status"`
	AmountUsd        float64   `json:"amountUsd"`
	ProcessingFeeUsd float64   `json:"processingFeeUsd"`
	NetUsd           float64   `json:"netUsd"`
	OccurredAt       time.Time `json:"occurredAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SettlementsRepo reads and writes settlements.
type SettlementsRepo struct {
	Pool *pgxpool.Pool
}

// Insert persists a settlement. The event id is unique so a replayed webhook
// that slips past the Redis guard still cannot record twice.
func (r SettlementsRepo) Insert(ctx context.Context, s Settlement) (Settlement, error) {
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO settlements (order_reference, event_id, provider_ref, status,
			amount_usd, processing_fee_usd, net_usd, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, created_at`,
		s.OrderReference, s.EventID, s.ProviderRef, s.Status,
		s.AmountUsd, s.ProcessingFeeUsd, s.NetUsd, s.OccurredAt)
	err := row.Scan(&s.ID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settlement{}, ErrDuplicateEvent
	}
	if err != nil {
		return Settlement{}, err
	}
	return s, nil
}

// ListByOrder returns settlements for an order, oldest first.
func (r SettlementsRepo) ListByOrder(ctx context.Context, reference string) ([]Settlement, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, order_reference, event_id, provider_ref, status,
			amount_usd, processing_fee_usd, net_usd, occurred_at, created_at
		FROM settlements WHERE order_reference = $1 ORDER BY occurred_at`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Settlement
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(&s.ID, &s.OrderReference, &s.EventID, &s.ProviderRef,
			&s.Status, &s.AmountUsd, &s.ProcessingFeeUsd, &s.NetUsd,
			&s.OccurredAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ErrDuplicateEvent indicates the processor event was already recorded.
var ErrDuplicateEvent = errors.New("settlement event already recorded")
