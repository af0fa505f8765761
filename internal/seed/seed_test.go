package seed

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/db"
	"github.com/Simplici0/montaje/internal/migrations"
)

func openMigrated(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "seed-test.db"))
	require.NoError(t, err, "open sqlite database")
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.Up(context.Background(), database, zap.NewNop()), "run migrations")
	return database
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database := openMigrated(t)

	for i := 0; i < 10; i++ {
		stats, err := Run(ctx, database)
		require.NoError(t, err, "run seed (iteration=%d)", i)
		if i == 0 {
			require.Equal(t, len(Presses)+len(PaperPrices), stats.Inserts)
			continue
		}
		require.Zero(t, stats.Inserts, "iteration %d", i)
		require.Zero(t, stats.Updates, "iteration %d", i)
	}

	assertCount(t, database, `SELECT COUNT(*) FROM presses`, len(Presses))
	assertCount(t, database, `SELECT COUNT(*) FROM paper_prices`, len(PaperPrices))
}

func TestRunRestoresPressFormat(t *testing.T) {
	ctx := context.Background()
	database := openMigrated(t)

	_, err := Run(ctx, database)
	require.NoError(t, err)
	_, err = database.Exec(`UPDATE presses SET max_width = 10 WHERE id = 'gto52'`)
	require.NoError(t, err)

	stats, err := Run(ctx, database)
	require.NoError(t, err)
	require.Equal(t, Stats{Updates: 1}, stats)

	var width float64
	require.NoError(t, database.QueryRow(`SELECT max_width FROM presses WHERE id = 'gto52'`).Scan(&width))
	require.Equal(t, 36.0, width)
}

func TestRunKeepsEditedPaperPrice(t *testing.T) {
	ctx := context.Background()
	database := openMigrated(t)

	_, err := Run(ctx, database)
	require.NoError(t, err)
	_, err = database.Exec(`UPDATE paper_prices SET unit_price = '0.50' WHERE supplier = '' AND material = 'bond' AND weight = 90`)
	require.NoError(t, err)

	_, err = Run(ctx, database)
	require.NoError(t, err)

	var price string
	require.NoError(t, database.QueryRow(`SELECT unit_price FROM paper_prices WHERE supplier = '' AND material = 'bond' AND weight = 90`).Scan(&price))
	require.Equal(t, "0.50", price)
}

func assertCount(t *testing.T, database *sql.DB, query string, expected int) {
	t.Helper()

	var count int
	require.NoError(t, database.QueryRow(query).Scan(&count), "count query failed")
	require.Equal(t, expected, count)
}
