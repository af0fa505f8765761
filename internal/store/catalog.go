package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/montaje/internal/layout"
	"github.com/Simplici0/montaje/internal/quote"
)

// Catalog serves presses and paper prices from SQLite. It satisfies
// quote.PressCatalog and quote.PriceSource.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// PressInfo is a catalogue press.
type PressInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MaxWidth  float64 `json:"max_width"`
	MaxHeight float64 `json:"max_height"`
}

func (c *Catalog) Press(ctx context.Context, id string) (layout.PressFormat, error) {
	var f layout.PressFormat
	err := c.db.QueryRowContext(ctx, `SELECT max_width, max_height FROM presses WHERE id = ?`, id).
		Scan(&f.MaxWidth, &f.MaxHeight)
	if errors.Is(err, sql.ErrNoRows) {
		return layout.PressFormat{}, fmt.Errorf("press %q: %w", id, ErrPressNotFound)
	}
	if err != nil {
		return layout.PressFormat{}, fmt.Errorf("query press %q: %w", id, err)
	}
	return f, nil
}

// Presses lists the catalogue ordered by id.
func (c *Catalog) Presses(ctx context.Context) ([]PressInfo, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, max_width, max_height FROM presses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query presses: %w", err)
	}
	defer rows.Close()

	var out []PressInfo
	for rows.Next() {
		var p PressInfo
		if err := rows.Scan(&p.ID, &p.Name, &p.MaxWidth, &p.MaxHeight); err != nil {
			return nil, fmt.Errorf("scan press: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presses: %w", err)
	}
	return out, nil
}

// PaperPrice looks up the per-sheet price of a paper. The sheet may be given
// in either orientation. A supplier without its own price falls back to the
// house list (empty supplier).
func (c *Catalog) PaperPrice(ctx context.Context, key quote.PaperKey) (quote.PaperPrice, error) {
	suppliers := []string{key.Supplier}
	if key.Supplier != "" {
		suppliers = append(suppliers, "")
	}

	for _, supplier := range suppliers {
		var raw, origin string
		err := c.db.QueryRowContext(ctx, `
			SELECT unit_price, origin
			FROM paper_prices
			WHERE supplier = ? AND material = ? AND ABS(weight - ?) < ?
			  AND (
			    (ABS(width - ?) < ? AND ABS(height - ?) < ?)
			    OR (ABS(width - ?) < ? AND ABS(height - ?) < ?)
			  )
			LIMIT 1
		`,
			supplier, key.Material, key.Weight, dimensionTolerance,
			key.Width, dimensionTolerance, key.Height, dimensionTolerance,
			key.Height, dimensionTolerance, key.Width, dimensionTolerance,
		).Scan(&raw, &origin)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return quote.PaperPrice{}, fmt.Errorf("query paper price: %w", err)
		}

		price, err := decimal.NewFromString(raw)
		if err != nil {
			return quote.PaperPrice{}, fmt.Errorf("parse paper price %q: %w", raw, err)
		}
		return quote.PaperPrice{UnitPrice: price, Origin: origin}, nil
	}

	return quote.PaperPrice{}, fmt.Errorf("%s %gx%g %gg from %q: %w",
		key.Material, key.Width, key.Height, key.Weight, key.Supplier, ErrPriceNotFound)
}

// SetPaperPrice inserts or replaces a price.
func (c *Catalog) SetPaperPrice(ctx context.Context, key quote.PaperKey, price quote.PaperPrice) error {
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO paper_prices (supplier, material, width, height, weight, unit_price, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (supplier, material, width, height, weight)
		DO UPDATE SET unit_price = excluded.unit_price, origin = excluded.origin
	`, key.Supplier, key.Material, key.Width, key.Height, key.Weight, price.UnitPrice.String(), price.Origin); err != nil {
		return fmt.Errorf("upsert paper price: %w", err)
	}
	return nil
}
