package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-bullion/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// Item is a cart line. Fixed-weight lines carry a weight and flat premium;
// variable-amount lines carry the chosen spend and the per-gram premium, with
// the implied weight derived for display only.
type Item struct {
	ID                string       `json:"id"`
	Name              string       `json:"name,omitempty"`
	Qty               int          `json:"qty"`
	Mode              pricing.Mode `json:"mode"`
	WeightGrams       float64      `json:"weightGrams,omitempty"`
	PremiumUsd        float64      `json:"premiumUsd,omitempty"`
	ChosenAmountUsd   float64      `json:"chosenAmountUsd,omitempty"`
	PremiumPerGramUsd float64      `json:"premiumPerGramUsd,omitempty"`
	MinAmountUsd      float64      `json:"minAmountUsd,omitempty"`
	MaxAmountUsd      float64      `json:"maxAmountUsd,omitempty"`
	ImpliedGrams      float64      `json:"impliedGrams,omitempty"`
}

// Cart is an ordered multiset of items scoped to a browsing session.
type Cart struct {
	ID        string `json:"id"`
	Items     []Item `json:"items"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// LineItems converts cart lines into the shape the pricing engine consumes.
func (c Cart) LineItems() []pricing.LineItem {
	out := make([]pricing.LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, pricing.LineItem{
			ID:           it.ID,
			Name:         it.Name,
			Qty:          it.Qty,
			Mode:         it.Mode,
			Weight:       it.WeightGrams,
			Premium:      it.PremiumUsd,
			ChosenUsd:    it.ChosenAmountUsd,
			PremiumPerG:  it.PremiumPerGramUsd,
			MinAmountUsd: it.MinAmountUsd,
			MaxAmountUsd: it.MaxAmountUsd,
		})
	}
	return out
}

// Service encapsulates cart operations over Redis-stored sessions.
type Service struct {
	R   *redis.Client
	TTL time.Duration
	Now func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cartKey(id string) string {
	return "cart:" + id
}

// Create starts an empty cart for a new session.
func (s *Service) Create(ctx context.Context) (Cart, error) {
	if s == nil || s.R == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	now := s.now().Unix()
	c := Cart{ID: uuid.NewString(), Items: []Item{}, CreatedAt: now, UpdatedAt: now}
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Get loads a cart by id.
func (s *Service) Get(ctx context.Context, id string) (Cart, error) {
	if s == nil || s.R == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	data, err := s.R.Get(ctx, cartKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, err
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// AddItem inserts a line or, for fixed-weight lines already present,
// increments the quantity. Variable-amount lines are range-checked before
// anything is stored and replace any previous line for the same product.
func (s *Service) AddItem(ctx context.Context, cartID string, item Item) (Cart, error) {
	if item.ID == "" {
		return Cart{}, fmt.Errorf("item id is required: %w", ErrInvalidInput)
	}
	switch item.Mode {
	case pricing.ModeVariableAmount:
		item.Qty = 1
		if err := pricing.ValidateAmount(pricing.LineItem{
			Mode:         item.Mode,
			ChosenUsd:    item.ChosenAmountUsd,
			MinAmountUsd: item.MinAmountUsd,
			MaxAmountUsd: item.MaxAmountUsd,
		}); err != nil {
			return Cart{}, err
		}
	default:
		item.Mode = pricing.ModeFixed
		if item.Qty <= 0 {
			return Cart{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
		}
	}

	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	replaced := false
	for i := range c.Items {
		if c.Items[i].ID != item.ID {
			continue
		}
		if item.Mode == pricing.ModeVariableAmount {
			c.Items[i] = item
		} else {
			c.Items[i].Qty += item.Qty
		}
		replaced = true
		break
	}
	if !replaced {
		c.Items = append(c.Items, item)
	}
	c.UpdatedAt = s.now().Unix()
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// UpdateQty sets the quantity of a fixed-weight line.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID string, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	for i := range c.Items {
		if c.Items[i].ID != itemID {
			continue
		}
		if c.Items[i].Mode == pricing.ModeVariableAmount {
			return Cart{}, fmt.Errorf("variable-amount lines have a fixed quantity of one: %w", ErrInvalidInput)
		}
		c.Items[i].Qty = qty
		c.UpdatedAt = s.now().Unix()
		if err := s.save(ctx, c); err != nil {
			return Cart{}, err
		}
		return c, nil
	}
	return Cart{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID string) (Cart, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	kept := c.Items[:0]
	found := false
	for _, it := range c.Items {
		if it.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, it)
	}
	if !found {
		return Cart{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	}
	c.Items = kept
	c.UpdatedAt = s.now().Unix()
	if err := s.save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Clear empties the cart, e.g. after a settled payment.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	c.Items = []Item{}
	c.UpdatedAt = s.now().Unix()
	return s.save(ctx, c)
}

func (s *Service) save(ctx context.Context, c Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.R.Set(ctx, cartKey(c.ID), data, s.ttl()).Err()
}
