package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/cart"
	"github.com/noah-isme/backend-bullion/internal/pricing"
)

func newService(t *testing.T) *cart.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &cart.Service{
		R:   rdb,
		TTL: time.Hour,
		Now: func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestCartAddFixedIncrementsQty(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)
	require.Empty(t, c.Items)

	item := cart.Item{ID: "coin-1oz", Name: "1 oz Gold Coin", Qty: 2, WeightGrams: 31.1034768, PremiumUsd: 85}
	c, err = svc.AddItem(ctx, c.ID, item)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, pricing.ModeFixed, c.Items[0].Mode)
	require.Equal(t, 2, c.Items[0].Qty)

	c, err = svc.AddItem(ctx, c.ID, item)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, 4, c.Items[0].Qty)
}

func TestCartAddVariableValidatesRange(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	item := cart.Item{
		ID:                "custom-gold",
		Mode:              pricing.ModeVariableAmount,
		ChosenAmountUsd:   50,
		PremiumPerGramUsd: 70,
		MinAmountUsd:      100,
		MaxAmountUsd:      5000,
	}
	_, err = svc.AddItem(ctx, c.ID, item)
	require.ErrorIs(t, err, pricing.ErrAmountOutOfRange)

	// nothing was stored by the failed add
	loaded, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Items)

	item.ChosenAmountUsd = 500
	c, err = svc.AddItem(ctx, c.ID, item)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, 1, c.Items[0].Qty)

	// re-adding the same variable product replaces the chosen spend
	item.ChosenAmountUsd = 750
	c, err = svc.AddItem(ctx, c.ID, item)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, 750.0, c.Items[0].ChosenAmountUsd)
}

func TestCartUpdateQtyRejectsVariableLines(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, c.ID, cart.Item{
		ID:                "custom-gold",
		Mode:              pricing.ModeVariableAmount,
		ChosenAmountUsd:   500,
		PremiumPerGramUsd: 70,
		MinAmountUsd:      100,
		MaxAmountUsd:      5000,
	})
	require.NoError(t, err)

	_, err = svc.UpdateQty(ctx, c.ID, "custom-gold", 3)
	require.ErrorIs(t, err, cart.ErrInvalidInput)
}

func TestCartRemoveAndClear(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, c.ID, cart.Item{ID: "bar-100g", Qty: 1, WeightGrams: 100, PremiumUsd: 150})
	require.NoError(t, err)
	c, err = svc.AddItem(ctx, c.ID, cart.Item{ID: "coin-1oz", Qty: 2, WeightGrams: 31.1034768, PremiumUsd: 85})
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	c, err = svc.RemoveItem(ctx, c.ID, "bar-100g")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Equal(t, "coin-1oz", c.Items[0].ID)

	_, err = svc.RemoveItem(ctx, c.ID, "bar-100g")
	require.ErrorIs(t, err, cart.ErrNotFound)

	require.NoError(t, svc.Clear(ctx, c.ID))
	c, err = svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, c.Items)
}

func TestCartGetMissing(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	_, err := svc.Get(context.Background(), "nope")
	require.ErrorIs(t, err, cart.ErrNotFound)
}
