package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/catalog"
	"github.com/noah-isme/backend-bullion/internal/repo"
)

type fakeStore struct {
	products []repo.Product
	listed   int
	fetched  int
}

func (f *fakeStore) List(_ context.Context, limit, offset int32) ([]repo.Product, error) {
	f.listed++
	out := append([]repo.Product(nil), f.products...)
	return out, nil
}

func (f *fakeStore) GetBySlug(_ context.Context, slug string) (repo.Product, error) {
	f.fetched++
	for _, p := range f.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return repo.Product{}, repo.ErrNotFound
}

func newService(t *testing.T, products []repo.Product) (*catalog.Service, *fakeStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := &fakeStore{products: products}
	return &catalog.Service{
		Store: store,
		Cache: catalog.NewCache(rdb, time.Minute),
	}, store
}

func TestCatalogListCaches(t *testing.T) {
	t.Parallel()

	svc, store := newService(t, []repo.Product{
		{Slug: "coin-1oz", Name: "1 oz Gold Coin", Metal: "gold", Mode: "FIXED", WeightGrams: 31.1034768, PremiumUsd: 85, Active: true},
	})
	ctx := context.Background()

	first, err := svc.List(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.List(ctx, 50, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, store.listed)
}

func TestCatalogVariableDefaults(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, []repo.Product{
		{Slug: "custom-gold", Name: "Custom Gold Amount", Metal: "gold", Mode: "VARIABLE_AMOUNT", Active: true},
	})

	p, err := svc.GetBySlug(context.Background(), "custom-gold")
	require.NoError(t, err)
	require.Equal(t, catalog.DefaultMinAmountUsd, p.MinAmountUsd)
	require.Equal(t, catalog.DefaultMaxAmountUsd, p.MaxAmountUsd)
	require.Equal(t, catalog.DefaultPremiumPerGramUsd, p.PremiumPerGramUsd)
}

func TestCatalogGetMissing(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t, nil)
	_, err := svc.GetBySlug(context.Background(), "nope")
	require.ErrorIs(t, err, repo.ErrNotFound)
}
