package catalog

import (
	"context"
	"fmt"

	"github.com/noah-isme/backend-bullion/internal/pricing"
	"github.com/noah-isme/backend-bullion/internal/repo"
)

// Defaults applied to variable-amount products whose catalog row leaves the
// spend range or per-gram premium unset.
const (
	DefaultMinAmountUsd      = 100.0
	DefaultMaxAmountUsd      = 5000.0
	DefaultPremiumPerGramUsd = 70.0
)

// ProductStore is the catalog persistence surface the service needs.
type ProductStore interface {
	List(ctx context.Context, limit, offset int32) ([]repo.Product, error)
	GetBySlug(ctx context.Context, slug string) (repo.Product, error)
}

// Service serves the product catalog with a read-through Redis cache.
type Service struct {
	Store ProductStore
	Cache *Cache
}

// List returns active products, served from cache when possible.
func (s *Service) List(ctx context.Context, limit, offset int32) ([]repo.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	key := fmt.Sprintf("catalog:list:%d:%d", limit, offset)
	var cached []repo.Product
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	rows, err := s.Store.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i] = withDefaults(rows[i])
	}
	_ = s.Cache.SetJSON(ctx, key, rows)
	return rows, nil
}

// GetBySlug returns a single product, served from cache when possible.
func (s *Service) GetBySlug(ctx context.Context, slug string) (repo.Product, error) {
	key := "catalog:product:" + slug
	var cached repo.Product
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok && cached.Slug != "" {
		return cached, nil
	}
	p, err := s.Store.GetBySlug(ctx, slug)
	if err != nil {
		return repo.Product{}, err
	}
	p = withDefaults(p)
	_ = s.Cache.SetJSON(ctx, key, p)
	return p, nil
}

func withDefaults(p repo.Product) repo.Product {
	if p.Mode != string(pricing.ModeVariableAmount) {
		return p
	}
	if p.MinAmountUsd <= 0 {
		p.MinAmountUsd = DefaultMinAmountUsd
	}
	if p.MaxAmountUsd <= 0 {
		p.MaxAmountUsd = DefaultMaxAmountUsd
	}
	if p.PremiumPerGramUsd <= 0 {
		p.PremiumPerGramUsd = DefaultPremiumPerGramUsd
	}
	return p
}
