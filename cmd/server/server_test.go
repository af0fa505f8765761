package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/db"
	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/migrations"
	"github.com/Simplici0/montaje/internal/seed"
	"github.com/Simplici0/montaje/internal/store"
)

type heldScheduler struct{}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (heldScheduler) AfterFunc(time.Duration, func()) engine.Timer { return heldTimer{} }

func newTestServer(t *testing.T) (*server, http.Handler) {
	t.Helper()
	return newTestServerContext(t, context.Background())
}

func newTestServerContext(t *testing.T, ctx context.Context) (*server, http.Handler) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "server-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, migrations.Up(ctx, database, zap.NewNop()))
	_, err = seed.Run(ctx, database)
	require.NoError(t, err)

	srv := newServer(ctx, serverOptions{
		catalog:   store.NewCatalog(database),
		saved:     store.NewSessions(database),
		decimals:  2,
		scheduler: heldScheduler{},
	})
	t.Cleanup(func() { srv.closeAll(context.Background()) })
	return srv, srv.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type viewResponse struct {
	ID     string           `json:"id"`
	Fields map[string]any   `json:"fields"`
	Tiers  []map[string]any `json:"tiers"`
	Issues []map[string]any `json:"issues"`
	Flush  *flushView       `json:"flush"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const spanTiers = `{"tiers": [
	{"min_quantity": 1, "max_quantity": 20, "base_price": "10.00", "discount_percent": "0"},
	{"min_quantity": 21, "max_quantity": 100, "base_price": "9.00", "discount_percent": "10"},
	{"min_quantity": 101, "base_price": "8.00", "discount_percent": "20"}
]}`

func TestSessionLifecycle(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/sessions", `{"id": "order-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[viewResponse](t, rec)
	assert.Equal(t, "order-1", created.ID)
	assert.Equal(t, "couche", created.Fields["material"])

	rec = do(t, h, http.MethodPut, "/sessions/order-1/tiers", spanTiers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[viewResponse](t, rec).Issues)

	rec = do(t, h, http.MethodPatch, "/sessions/order-1/fields", `{
		"changes": [
			{"field": "press_id", "value": "gto52"},
			{"field": "quantity", "value": 50}
		],
		"flush": true
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[viewResponse](t, rec)
	require.NotNil(t, view.Flush)
	assert.Contains(t, view.Flush.Changed, "print_total")
	assert.Equal(t, 36.0, view.Fields["press_max_width"])
	assert.InDelta(t, 405.0, view.Fields["print_total"], 1e-9)
	assert.InDelta(t, 8.1, view.Fields["unit_price"], 1e-9)
	assert.InDelta(t, 0.42, view.Fields["paper_unit_price"], 1e-9)

	rec = do(t, h, http.MethodPost, "/sessions/order-1/save", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/sessions/order-1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/sessions/order-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionReopensFromSavedState(t *testing.T) {
	srv, h := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions", `{"id": "order-2"}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/sessions/order-2/fields",
		`{"changes": [{"field": "quantity", "value": 75}]}`).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/sessions/order-2/save", "").Code)

	_, wasOpen := srv.remove("order-2")
	require.True(t, wasOpen)

	rec := do(t, h, http.MethodGet, "/sessions/order-2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 75.0, decode[viewResponse](t, rec).Fields["quantity"])
}

func TestSetFields_Errors(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions", `{"id": "order-3"}`).Code)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown field", "/sessions/order-3/fields", `{"changes": [{"field": "colour", "value": 1}]}`, http.StatusBadRequest},
		{"missing value", "/sessions/order-3/fields", `{"changes": [{"field": "quantity"}]}`, http.StatusBadRequest},
		{"no changes", "/sessions/order-3/fields", `{"changes": []}`, http.StatusBadRequest},
		{"bad json", "/sessions/order-3/fields", `{"changes":`, http.StatusBadRequest},
		{"unknown session", "/sessions/nope/fields", `{"changes": [{"field": "quantity", "value": 1}]}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSetTiers_ReportsIssues(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions", `{"id": "order-4"}`).Code)

	rec := do(t, h, http.MethodPut, "/sessions/order-4/tiers", `{"tiers": [
		{"min_quantity": 1, "max_quantity": 20, "base_price": "10", "discount_percent": "0"},
		{"min_quantity": 15, "max_quantity": 40, "base_price": "9", "discount_percent": "5"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	issues := decode[viewResponse](t, rec).Issues
	require.Len(t, issues, 1)
	assert.Equal(t, "overlap", issues[0]["code"])
}

func TestLayoutEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/layout", `{
		"design": {"width": 21, "height": 29.7},
		"paper": {"width": 70, "height": 100},
		"press": {"max_width": 35, "max_height": 50},
		"quantity": 50
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[map[string]any](t, rec)
	assert.Equal(t, 2.0, got["copies_per_sheet"])
	assert.Equal(t, true, got["rotated"])
	assert.Equal(t, "quarter_cut", got["derivation"])
	assert.Equal(t, 25.0, got["sheets_needed"])

	rec = do(t, h, http.MethodPost, "/layout", `{
		"design": {"width": 0, "height": 29.7},
		"paper": {"width": 70, "height": 100},
		"press_id": "sm52"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "design.width")

	rec = do(t, h, http.MethodPost, "/layout", `{"design": {"width": 1, "height": 1}, "paper": {"width": 1, "height": 1}, "press_id": "nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateTiersEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	body := strings.Replace(spanTiers, `{"tiers"`, `{"quantity": 50, "tiers"`, 1)
	rec := do(t, h, http.MethodPost, "/tiers/validate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[struct {
		Issues []any `json:"issues"`
		Quote  struct {
			UnitPrice  string `json:"unit_price"`
			TotalPrice string `json:"total_price"`
			Savings    string `json:"savings"`
		} `json:"quote"`
	}](t, rec)
	assert.Empty(t, got.Issues)
	assert.Equal(t, "8.1", got.Quote.UnitPrice)
	assert.Equal(t, "405", got.Quote.TotalPrice)
	assert.Equal(t, "45", got.Quote.Savings)
}

func TestPressesAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/presses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.PressInfo](t, rec), len(seed.Presses))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "montaje_sessions_active")
}

func TestCloseAll_SavesWithLivePriceLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv, h := newTestServerContext(t, ctx)

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/sessions", `{"id": "order-9"}`).Code)
	rec := do(t, h, http.MethodPatch, "/sessions/order-9/fields",
		`{"changes": [{"field": "quantity", "value": 50}], "flush": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 0.42, decode[viewResponse](t, rec).Fields["paper_unit_price"], 1e-9)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/sessions/order-9/fields",
		`{"changes": [{"field": "paper_weight", "value": 115}]}`).Code)

	// The signal context is already done when shutdown saves the sessions.
	cancel()
	srv.closeAll(context.Background())

	state, err := srv.saved.Load(context.Background(), "order-9")
	require.NoError(t, err)
	assert.InDelta(t, 0.34, state.Fields["paper_unit_price"].Float(), 1e-9)
	assert.NotEmpty(t, state.Fields["paper_price_origin"].String())
}
