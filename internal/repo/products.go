package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Product is a sellable bullion item. Fixed products carry a weight and a
// flat premium; variable-amount products carry a per-gram premium and the
// allowed spend range.
type Product struct {
	ID                int64   `json:"-"`
	Slug              string  `json:"slug"`
	Name              string  `json:"name"`
	Metal             string  `json:"metal"`
	Mode              string  `json:"mode"`
	WeightGrams       float64 `json:"weightGrams,omitempty"`
	PremiumUsd        float64 `json:"premiumUsd,omitempty"`
	PremiumPerGramUsd float64 `json:"premiumPerGramUsd,omitempty"`
	MinAmountUsd      float64 `json:"minAmountUsd,omitempty"`
	MaxAmountUsd      float64 `json:"maxAmountUsd,omitempty"`
	Active            bool    `json:"active"`
}

// ProductsRepo reads the catalog.
type ProductsRepo struct {
	Pool *pgxpool.Pool
}

const productColumns = `id, slug, name, metal, mode, weight_grams, premium_usd,
	premium_per_gram_usd, min_amount_usd, max_amount_usd, active`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Metal, &p.Mode, &p.WeightGrams,
		&p.PremiumUsd, &p.PremiumPerGramUsd, &p.MinAmountUsd, &p.MaxAmountUsd, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// List returns active products, paginated.
func (r ProductsRepo) List(ctx context.Context, limit, offset int32) ([]Product, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE active ORDER BY slug LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Metal, &p.Mode, &p.WeightGrams,
			&p.PremiumUsd, &p.PremiumPerGramUsd, &p.MinAmountUsd, &p.MaxAmountUsd, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetBySlug returns a single product regardless of active flag.
func (r ProductsRepo) GetBySlug(ctx context.Context, slug string) (Product, error) {
	row := r.Pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
	return scanProduct(row)
}
