package lock

import "time"

// State describes where a price lock is in its one-way lifecycle.
type State string

const (
	// StateActive means the lock deadline has not passed.
	StateActive State = "ACTIVE"
	// StateExpired means the deadline passed. Terminal; a lock never
	// returns to ACTIVE. The buyer regenerates a fresh lock from the cart.
	StateExpired State = "EXPIRED"
)

// PriceLock snapshots a cart subtotal when checkout begins and carries an
// absolute deadline. The snapshot is what the checkout page displays as
// "locked"; it is NOT the charged amount. The charge is always recomputed
// from a fresh spot quote when the payment intent is created — the lock is a
// countdown telling the buyer how long their estimate is trusted, not a
// price freeze.
type PriceLock struct {
	CartID      string  `json:"cartId"`
	SubtotalUsd float64 `json:"subtotalUsd"`
	CreatedAt   int64   `json:"createdAt"`
	ExpiresAt   int64   `json:"expiresAt"`
}

// StateAt reports the lock state at the given instant. The transition is
// strict: the lock is EXPIRED at exactly the deadline.
func (l PriceLock) StateAt(now time.Time) State {
	if now.Unix() >= l.ExpiresAt {
		return StateExpired
	}
	return StateActive
}

// RemainingAt returns the time left before expiry, floored at zero.
func (l PriceLock) RemainingAt(now time.Time) time.Duration {
	remaining := time.Unix(l.ExpiresAt, 0).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
