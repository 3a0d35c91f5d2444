package lock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-bullion/internal/obs"
)

// ErrNotFound indicates no lock exists for the cart.
var ErrNotFound = errors.New("price lock not found")

// Service stores price locks in Redis. Locks are immutable once written:
// Issue replaces the whole record, and reads only compare the clock against
// the stored deadline. The record outlives its own expiry so the checkout
// page can keep rendering the expired state.
type Service struct {
	R        *redis.Client
	Duration time.Duration
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) duration() time.Duration {
	if s == nil || s.Duration <= 0 {
		return 10 * time.Minute
	}
	return s.Duration
}

func lockKey(cartID string) string {
	return "pricelock:" + cartID
}

// Issue creates a fresh lock for the cart, snapshotting the provided
// subtotal. Any previous lock for the cart is replaced.
func (s *Service) Issue(ctx context.Context, cartID string, subtotalUsd float64) (PriceLock, error) {
	if s == nil || s.R == nil {
		return PriceLock{}, errors.New("lock service not configured")
	}
	created := s.now()
	l := PriceLock{
		CartID:      cartID,
		SubtotalUsd: subtotalUsd,
		CreatedAt:   created.Unix(),
		ExpiresAt:   created.Add(s.duration()).Unix(),
	}
	data, err := json.Marshal(l)
	if err != nil {
		return PriceLock{}, err
	}
	// retain well past expiry so the expired state stays readable
	if err := s.R.Set(ctx, lockKey(cartID), data, 2*s.duration()+time.Hour).Err(); err != nil {
		return PriceLock{}, err
	}
	if obs.PriceLockIssuedTotal != nil {
		obs.PriceLockIssuedTotal.Inc()
	}
	return l, nil
}

// Get loads the lock for a cart.
func (s *Service) Get(ctx context.Context, cartID string) (PriceLock, error) {
	if s == nil || s.R == nil {
		return PriceLock{}, errors.New("lock service not configured")
	}
	data, err := s.R.Get(ctx, lockKey(cartID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PriceLock{}, ErrNotFound
		}
		return PriceLock{}, err
	}
	var l PriceLock
	if err := json.Unmarshal(data, &l); err != nil {
		return PriceLock{}, err
	}
	return l, nil
}

// Discard removes the lock, e.g. after a settled payment.
func (s *Service) Discard(ctx context.Context, cartID string) error {
	if s == nil || s.R == nil {
		return nil
	}
	return s.R.Del(ctx, lockKey(cartID)).Err()
}
