package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Press is one press of the starting catalogue.
type Press struct {
	ID        string
	Name      string
	MaxWidth  float64
	MaxHeight float64
}

// PaperPrice is one row of the starting paper price list. An empty supplier is
// the house price list used when a supplier has no price of its own.
type PaperPrice struct {
	Supplier  string
	Material  string
	Width     float64
	Height    float64
	Weight    float64
	UnitPrice string
	Origin    string
}

// Presses is the starting press catalogue (cm).
var Presses = []Press{
	{ID: "sm52", Name: "Speedmaster SM 52", MaxWidth: 52, MaxHeight: 72},
	{ID: "gto52", Name: "GTO 52", MaxWidth: 36, MaxHeight: 52},
	{ID: "sra3", Name: "Digital SRA3", MaxWidth: 32, MaxHeight: 45},
	{ID: "kord64", Name: "KORD 64", MaxWidth: 46, MaxHeight: 64},
}

// PaperPrices is the starting paper price list, per full sheet.
var PaperPrices = []PaperPrice{
	{Material: "couche", Width: 70, Height: 100, Weight: 115, UnitPrice: "0.34", Origin: "house list"},
	{Material: "couche", Width: 70, Height: 100, Weight: 150, UnitPrice: "0.42", Origin: "house list"},
	{Material: "couche", Width: 72, Height: 102, Weight: 300, UnitPrice: "0.95", Origin: "house list"},
	{Material: "couche", Width: 64, Height: 90, Weight: 150, UnitPrice: "0.36", Origin: "house list"},
	{Material: "bond", Width: 70, Height: 100, Weight: 90, UnitPrice: "0.22", Origin: "house list"},
	{Material: "cartulina", Width: 70, Height: 100, Weight: 300, UnitPrice: "0.88", Origin: "house list"},
	{Material: "bond", Width: 50, Height: 70, Weight: 75, UnitPrice: "0.09", Origin: "house list"},
	{Supplier: "sappi", Material: "couche", Width: 70, Height: 100, Weight: 150, UnitPrice: "0.39", Origin: "sappi 2026"},
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
	Updates int
}

// Run seeds presses and paper prices in an idempotent way. Press formats are
// brought back to the catalogue values; existing paper prices are left alone
// since operators maintain them.
func Run(ctx context.Context, db *sql.DB) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	for _, p := range Presses {
		if err := ensurePress(ctx, tx, p, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}
	for _, p := range PaperPrices {
		if err := ensurePaperPrice(ctx, tx, p, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensurePress(ctx context.Context, tx *sql.Tx, p Press, stats *Stats) error {
	var width, height float64
	err := tx.QueryRowContext(ctx, `SELECT max_width, max_height FROM presses WHERE id = ?`, p.ID).Scan(&width, &height)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO presses (id, name, max_width, max_height)
			VALUES (?, ?, ?, ?)
		`, p.ID, p.Name, p.MaxWidth, p.MaxHeight); err != nil {
			return fmt.Errorf("insert press %s: %w", p.ID, err)
		}
		stats.Inserts++
		return nil
	case err != nil:
		return fmt.Errorf("check press %s: %w", p.ID, err)
	}

	if width == p.MaxWidth && height == p.MaxHeight {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE presses SET max_width = ?, max_height = ? WHERE id = ?
	`, p.MaxWidth, p.MaxHeight, p.ID); err != nil {
		return fmt.Errorf("update press %s: %w", p.ID, err)
	}
	stats.Updates++
	return nil
}

func ensurePaperPrice(ctx context.Context, tx *sql.Tx, p PaperPrice, stats *Stats) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM paper_prices
			WHERE supplier = ? AND material = ? AND width = ? AND height = ? AND weight = ?
			LIMIT 1
		)
	`, p.Supplier, p.Material, p.Width, p.Height, p.Weight).Scan(&exists); err != nil {
		return fmt.Errorf("check paper price existence: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paper_prices (supplier, material, width, height, weight, unit_price, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.Supplier, p.Material, p.Width, p.Height, p.Weight, p.UnitPrice, p.Origin); err != nil {
		return fmt.Errorf("insert paper price %s %gx%g %gg: %w", p.Material, p.Width, p.Height, p.Weight, err)
	}
	stats.Inserts++
	return nil
}
