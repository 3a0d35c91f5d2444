package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/events"
	"github.com/noah-isme/backend-bullion/internal/repo"
)

type stubStore struct {
	last repo.DomainEvent
	err  error
}

func (s *stubStore) Insert(_ context.Context, topic, aggregateID string, payload []byte) (repo.DomainEvent, error) {
	if s.err != nil {
		return repo.DomainEvent{}, s.err
	}
	s.last = repo.DomainEvent{
		ID:          1,
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  time.Now(),
	}
	return s.last, nil
}

type captureNotifier struct {
	got []repo.DomainEvent
	err error
}

func (n *captureNotifier) Notify(_ context.Context, ev repo.DomainEvent) error {
	n.got = append(n.got, ev)
	return n.err
}

func TestBusEmitPersistsAndNotifies(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicOrderCreated, "ORD-1",
		map[string]any{"totalUsd": 1055.0})
	require.NoError(t, err)
	require.Equal(t, events.TopicOrderCreated, ev.Topic)
	require.Equal(t, "ORD-1", ev.AggregateID)
	require.True(t, json.Valid(ev.Payload))
	require.Len(t, notifier.got, 1)
}

func TestBusEmitNotifierFailureDoesNotDropEvent(t *testing.T) {
	t.Parallel()

	store := &stubStore{}
	notifier := &captureNotifier{err: errors.New("boom")}
	bus := &events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	ev, err := bus.Emit(context.Background(), events.TopicPaymentFailed, "ORD-2", nil)
	require.Error(t, err)
	require.Equal(t, int64(1), ev.ID)
	require.JSONEq(t, "{}", string(ev.Payload))
}

func TestBusEmitValidation(t *testing.T) {
	t.Parallel()

	bus := &events.Bus{Store: &stubStore{}}

	_, err := bus.Emit(context.Background(), " ", "ORD-1", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), events.TopicOrderCreated, "ORD-1", []byte("not-json"))
	require.Error(t, err)
}
