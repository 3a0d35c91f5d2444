package pricing

import (
	"errors"
	"fmt"
	"math"
)

// Mode selects how a line item is priced.
type Mode string

const (
	// ModeFixed prices a known weight at spot plus a flat premium.
	ModeFixed Mode = "FIXED"
	// ModeVariableAmount lets the buyer choose a spend amount; the weight is derived.
	ModeVariableAmount Mode = "VARIABLE_AMOUNT"
)

// ErrAmountOutOfRange is returned when a variable-amount line requests a spend
// outside the configured range.
var ErrAmountOutOfRange = errors.New("chosen amount out of range")

// Quote is a spot price observation from the oracle. A zero or non-finite
// UsdPerOz means pricing is unavailable, never that metal is free.
type Quote struct {
	UsdPerOz   float64 `json:"usdPerOz"`
	ObservedAt int64   `json:"observedAt"`
	Provider   string  `json:"provider,omitempty"`
}

// Available reports whether the quote can be used for pricing.
func (q Quote) Available() bool {
	return q.UsdPerOz > 0 && !math.IsInf(q.UsdPerOz, 0) && !math.IsNaN(q.UsdPerOz)
}

// LineItem is a cart line in the shape the engine prices.
type LineItem struct {
	ID           string  `json:"id"`
	Name         string  `json:"name,omitempty"`
	Qty          int     `json:"qty"`
	Mode         Mode    `json:"mode,omitempty"`
	Weight       float64 `json:"weightGrams,omitempty"`
	Premium      float64 `json:"premiumUsd,omitempty"`
	ChosenUsd    float64 `json:"chosenAmountUsd,omitempty"`
	PremiumPerG  float64 `json:"premiumPerGramUsd,omitempty"`
	MinAmountUsd float64 `json:"minAmountUsd,omitempty"`
	MaxAmountUsd float64 `json:"maxAmountUsd,omitempty"`
}

// Breakdown decomposes a charge. All fields are rounded to 2 fractional
// digits; Total is the sum of the already-rounded components.
type Breakdown struct {
	SubtotalUsd      float64 `json:"subtotalUsd"`
	ShippingUsd      float64 `json:"shippingUsd"`
	ProcessingFeeUsd float64 `json:"processingFeeUsd"`
	TotalUsd         float64 `json:"totalUsd"`
}

// Config carries the tunable pricing constants. Zero values fall back to the
// reference behaviour.
type Config struct {
	ShippingFlatUsd     float64
	ShippingFreeOverUsd float64
	ProcessingFeeRate   float64
}

// DefaultConfig returns the reference storefront constants: $15 flat
// shipping waived strictly above $500, 5.5% processing fee.
func DefaultConfig() Config {
	return Config{
		ShippingFlatUsd:     15,
		ShippingFreeOverUsd: 500,
		ProcessingFeeRate:   0.055,
	}
}

func (c Config) orDefaults() Config {
	d := DefaultConfig()
	if c.ShippingFlatUsd <= 0 {
		c.ShippingFlatUsd = d.ShippingFlatUsd
	}
	if c.ShippingFreeOverUsd <= 0 {
		c.ShippingFreeOverUsd = d.ShippingFreeOverUsd
	}
	if c.ProcessingFeeRate <= 0 {
		c.ProcessingFeeRate = d.ProcessingFeeRate
	}
	return c
}

// UnitPrice computes the price of a single unit of a fixed-weight item at the
// given spot quote. Missing weight defaults to one troy ounce, missing premium
// to zero. An unavailable quote yields 0, which callers must treat as
// "pricing unavailable" rather than a free unit.
func UnitPrice(q Quote, item LineItem) float64 {
	if !q.Available() {
		return 0
	}
	grams := item.Weight
	if grams <= 0 {
		grams = TroyOunceGrams
	}
	premium := item.Premium
	if premium < 0 {
		premium = 0
	}
	spotPerUnit := q.UsdPerOz * (grams / TroyOunceGrams)
	unit := spotPerUnit + premium
	if unit < 0 {
		return 0
	}
	return unit
}

// PricePerGram returns the per-gram rate for a variable-amount item: spot per
// gram plus the per-gram premium. Zero when the quote is unavailable.
func PricePerGram(q Quote, premiumPerGram float64) float64 {
	if !q.Available() {
		return 0
	}
	if premiumPerGram < 0 {
		premiumPerGram = 0
	}
	return q.UsdPerOz/TroyOunceGrams + premiumPerGram
}

// ImpliedGrams derives the metal weight a chosen spend buys at the given
// per-gram rate, rounded to 3 fractional digits and floored at zero. The
// buyer is charged the chosen amount exactly; the recorded weight absorbs
// the rounding residue.
func ImpliedGrams(chosenUsd, perGram float64) float64 {
	if perGram <= 0 || chosenUsd <= 0 {
		return 0
	}
	g := Round3(chosenUsd / perGram)
	if g < 0 {
		return 0
	}
	return g
}

// ValidateAmount rejects a variable-amount spend outside [min, max] before
// any price is computed. Amounts are never silently clamped.
func ValidateAmount(item LineItem) error {
	if item.Mode != ModeVariableAmount {
		return nil
	}
	min := item.MinAmountUsd
	max := item.MaxAmountUsd
	if min > 0 && item.ChosenUsd < min {
		return fmt.Errorf("amount %.2f below minimum %.2f: %w", item.ChosenUsd, min, ErrAmountOutOfRange)
	}
	if max > 0 && item.ChosenUsd > max {
		return fmt.Errorf("amount %.2f above maximum %.2f: %w", item.ChosenUsd, max, ErrAmountOutOfRange)
	}
	if item.ChosenUsd <= 0 {
		return fmt.Errorf("amount must be positive: %w", ErrAmountOutOfRange)
	}
	return nil
}

// Subtotal sums the cart at the given quote: unit price times quantity for
// fixed items, the chosen spend for variable-amount lines (quantity is fixed
// at one for that mode). Partial items are tolerated via the UnitPrice
// defaults; the result does not depend on item order.
func Subtotal(q Quote, items []LineItem) float64 {
	var sum float64
	for _, it := range items {
		if it.Mode == ModeVariableAmount {
			if it.ChosenUsd > 0 {
				sum += it.ChosenUsd
			}
			continue
		}
		qty := it.Qty
		if qty <= 0 {
			continue
		}
		sum += UnitPrice(q, it) * float64(qty)
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// Compute derives the full breakdown from a subtotal. Shipping is a step
// function: the flat rate applies unless the subtotal is strictly greater
// than the free-shipping threshold. The processing fee is rounded exactly
// once; the total is the sum of the already-rounded components.
func (c Config) Compute(subtotalUsd float64) Breakdown {
	c = c.orDefaults()
	if subtotalUsd < 0 {
		subtotalUsd = 0
	}
	shipping := c.ShippingFlatUsd
	if subtotalUsd > c.ShippingFreeOverUsd {
		shipping = 0
	}
	fee := Round2((subtotalUsd + shipping) * c.ProcessingFeeRate)
	subtotal := Round2(subtotalUsd)
	total := Round2(subtotal + shipping + fee)
	return Breakdown{
		SubtotalUsd:      subtotal,
		ShippingUsd:      shipping,
		ProcessingFeeUsd: fee,
		TotalUsd:         total,
	}
}

// Price runs the whole pipeline for a cart: validates variable amounts,
// sums the subtotal, and produces the breakdown.
func (c Config) Price(q Quote, items []LineItem) (Breakdown, error) {
	for _, it := range items {
		if err := ValidateAmount(it); err != nil {
			return Breakdown{}, err
		}
	}
	return c.Compute(Subtotal(q, items)), nil
}
