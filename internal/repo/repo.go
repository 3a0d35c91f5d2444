// Package repo holds the hand-written pgx repositories backing orders,
// settlements, the product catalog and the domain event log.
package repo

import "errors"

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")
