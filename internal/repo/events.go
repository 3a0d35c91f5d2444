package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DomainEvent is an append-only log entry for things that happened to an
// aggregate (an order, a settlement).
type DomainEvent struct {
	ID          int64     `json:"id"`
	Topic       string    `json:"topic"`
	AggregateID string    `json:"aggregateId"`
	Payload     []byte    `json:"payload"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventsRepo appends to the domain event log.
type EventsRepo struct {
	Pool *pgxpool.Pool
}

// Insert appends an event and returns it with its id and timestamp set.
func (r EventsRepo) Insert(ctx context.Context, topic, aggregateID string, payload []byte) (DomainEvent, error) {
	ev := DomainEvent{Topic: topic, AggregateID: aggregateID, Payload: payload}
	row := r.Pool.QueryRow(ctx, `
		INSERT INTO domain_events (topic, aggregate_id, payload)
		VALUES ($1, $2, $3)
		RETURNING id, occurred_at`,
		topic, aggregateID, payload)
	if err := row.Scan(&ev.ID, &ev.OccurredAt); err != nil {
		return DomainEvent{}, err
	}
	return ev, nil
}
