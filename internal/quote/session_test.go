package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/layout"
	"github.com/Simplici0/montaje/internal/pricing"
)

// heldScheduler never fires; tests drive flushes with Session.Flush.
type heldScheduler struct{}

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }

func (heldScheduler) AfterFunc(time.Duration, func()) engine.Timer { return heldTimer{} }

type fakePresses map[string]layout.PressFormat

func (f fakePresses) Press(_ context.Context, id string) (layout.PressFormat, error) {
	press, ok := f[id]
	if !ok {
		return layout.PressFormat{}, errors.New("press not found")
	}
	return press, nil
}

type fakePrices struct {
	mu    sync.Mutex
	calls []PaperKey
	price string
	err   error
}

func (f *fakePrices) PaperPrice(_ context.Context, key PaperKey) (PaperPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.err != nil {
		return PaperPrice{}, f.err
	}
	return PaperPrice{UnitPrice: decimal.RequireFromString(f.price), Origin: "test"}, nil
}

func (f *fakePrices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// gatedPrices blocks every lookup until release is closed.
type gatedPrices struct {
	started chan PaperKey
	release chan struct{}
}

func (g *gatedPrices) PaperPrice(ctx context.Context, key PaperKey) (PaperPrice, error) {
	g.started <- key
	select {
	case <-g.release:
		return PaperPrice{UnitPrice: decimal.RequireFromString("0.50"), Origin: "gated"}, nil
	case <-ctx.Done():
		return PaperPrice{}, ctx.Err()
	}
}

var testPresses = fakePresses{"p35": {MaxWidth: 35, MaxHeight: 50}}

func tiers(t *testing.T) []pricing.Tier {
	t.Helper()
	var out []pricing.Tier
	for _, row := range []struct {
		min, max        int
		price, discount string
	}{
		{1, 20, "10.00", "0"},
		{21, 100, "9.00", "10"},
		{101, 0, "8.00", "20"},
	} {
		tier, err := pricing.NewTier(row.min, row.max, row.price, row.discount)
		require.NoError(t, err)
		out = append(out, tier)
	}
	return out
}

func newTestSession(t *testing.T, prices PriceSource, state *State) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), Config{
		Prices:    prices,
		Presses:   testPresses,
		Scheduler: heldScheduler{},
		State:     state,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// editOrder sets up the 50-copy order on the 35x50 press.
func editOrder(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Set(FieldSupplier, engine.Text("acme"), false))
	require.NoError(t, s.Set(FieldPressID, engine.Text("p35"), false))
	require.NoError(t, s.Set(FieldQuantity, engine.Number(50), false))
	issues, err := s.SetTiers(tiers(t), false)
	require.NoError(t, err)
	require.Empty(t, issues)
}

func number(t *testing.T, s *Session, id string) float64 {
	t.Helper()
	v, ok := s.Value(id)
	require.True(t, ok, "field %s", id)
	return v.Float()
}

func text(t *testing.T, s *Session, id string) string {
	t.Helper()
	v, ok := s.Value(id)
	require.True(t, ok, "field %s", id)
	return v.String()
}

func TestNewSession_RequiresCollaborators(t *testing.T) {
	_, err := NewSession(context.Background(), Config{Presses: testPresses})
	require.Error(t, err)
	_, err = NewSession(context.Background(), Config{Prices: &fakePrices{price: "1"}})
	require.Error(t, err)
}

func TestSession_PressLookupFillsFormat(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)

	require.NoError(t, s.Set(FieldPressID, engine.Text("p35"), false))

	assert.Equal(t, 35.0, number(t, s, FieldPressMaxWidth))
	assert.Equal(t, 50.0, number(t, s, FieldPressMaxHeight))
}

func TestSession_UnknownPressKeepsPreviousFormat(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)

	require.NoError(t, s.Set(FieldPressID, engine.Text("p35"), false))
	require.NoError(t, s.Set(FieldPressID, engine.Text("missing"), false))

	assert.Equal(t, 35.0, number(t, s, FieldPressMaxWidth))
	assert.Equal(t, 50.0, number(t, s, FieldPressMaxHeight))
}

func TestSession_FullQuote(t *testing.T) {
	prices := &fakePrices{price: "0.50"}
	s := newTestSession(t, prices, nil)
	editOrder(t, s)

	report := s.Flush()
	require.NoError(t, report.Err)

	assert.Equal(t, 2.0, number(t, s, FieldCopiesPerSheet))
	rotated, _ := s.Value(FieldLayoutRotated)
	assert.True(t, rotated.Bool())
	assert.Equal(t, string(layout.QuarterCut), text(t, s, FieldLayoutDerivation))
	assert.Equal(t, 35.0, number(t, s, FieldSheetWidth))
	assert.Equal(t, 50.0, number(t, s, FieldSheetHeight))
	assert.Equal(t, 25.0, number(t, s, FieldSheetsNeeded))

	assert.Equal(t, 2.0, number(t, s, FieldTierPosition))
	assert.InDelta(t, 8.10, number(t, s, FieldUnitPrice), 1e-9)
	assert.InDelta(t, 405.0, number(t, s, FieldPrintTotal), 1e-9)
	assert.InDelta(t, 45.0, number(t, s, FieldSavings), 1e-9)
	assert.Empty(t, text(t, s, FieldPricingMessage))

	assert.InDelta(t, 0.5, number(t, s, FieldPaperUnitPrice), 1e-9)
	assert.Equal(t, "test", text(t, s, FieldPaperPriceOrigin))
	assert.InDelta(t, 12.5, number(t, s, FieldPaperCost), 1e-9)
	assert.InDelta(t, 417.5, number(t, s, FieldOrderTotal), 1e-9)

	require.Equal(t, 1, prices.count())
	assert.Equal(t, PaperKey{Supplier: "acme", Material: "couche", Width: 70, Height: 100, Weight: 150}, prices.calls[0])
}

func TestSession_QuantityOutsideTiers(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	_, err := s.SetTiers(tiers(t)[:2], false)
	require.NoError(t, err)
	require.NoError(t, s.Set(FieldQuantity, engine.Number(150), false))
	s.Flush()

	assert.Equal(t, 0.0, number(t, s, FieldTierPosition))
	assert.Equal(t, 0.0, number(t, s, FieldPrintTotal))
	assert.Contains(t, text(t, s, FieldPricingMessage), "150")
}

func TestSession_InvalidLayoutReported(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	require.NoError(t, s.Set(FieldDesignWidth, engine.Number(21), false))
	s.Flush()

	// no press chosen yet
	assert.Equal(t, 0.0, number(t, s, FieldCopiesPerSheet))
	assert.Contains(t, text(t, s, FieldLayoutMessage), "press.max_width")
}

func TestSession_PriceSourceFailureZeroesPaper(t *testing.T) {
	s := newTestSession(t, &fakePrices{err: errors.New("supplier offline")}, nil)
	editOrder(t, s)

	report := s.Flush()
	require.NoError(t, report.Err)

	assert.Equal(t, 0.0, number(t, s, FieldPaperUnitPrice))
	assert.Equal(t, 0.0, number(t, s, FieldPaperCost))
	assert.InDelta(t, 405.0, number(t, s, FieldOrderTotal), 1e-9)
}

func TestSession_StaleRecomputeIsDiscarded(t *testing.T) {
	gate := &gatedPrices{started: make(chan PaperKey, 4), release: make(chan struct{})}
	s := newTestSession(t, gate, nil)
	editOrder(t, s)

	done := make(chan engine.FlushReport)
	go func() { done <- s.Flush() }()

	<-gate.started
	require.NoError(t, s.Set(FieldQuantity, engine.Number(60), false))
	close(gate.release)
	report := <-done

	require.NoError(t, report.Err)
	assert.NotContains(t, report.Changed, FieldPrintTotal)
	assert.Equal(t, 0.0, number(t, s, FieldPrintTotal))
	assert.Equal(t, 60.0, number(t, s, FieldQuantity))

	report = s.Flush()
	require.NoError(t, report.Err)
	<-gate.started

	assert.InDelta(t, 486.0, number(t, s, FieldPrintTotal), 1e-9)
	assert.Equal(t, 30.0, number(t, s, FieldSheetsNeeded))
	assert.InDelta(t, 0.5, number(t, s, FieldPaperUnitPrice), 1e-9)
	assert.Equal(t, "gated", text(t, s, FieldPaperPriceOrigin))
	assert.InDelta(t, 501.0, number(t, s, FieldOrderTotal), 1e-9)
}

func TestSession_RecomputeIsIdempotent(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	editOrder(t, s)
	s.Flush()

	require.NoError(t, s.engine.Touch(false))
	report := s.Flush()

	require.NoError(t, report.Err)
	assert.Empty(t, report.Changed)
}

func TestSession_SetTiersReportsIssues(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	bad := tiers(t)
	bad[1].MinQuantity = 15

	issues, err := s.SetTiers(bad, false)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, pricing.IssueOverlap, issues[0].Code)
	assert.Equal(t, issues, s.Issues())
	assert.Len(t, s.Tiers(), 3)
}

func TestSession_RestoreFromState(t *testing.T) {
	prices := &fakePrices{price: "0.50"}
	first := newTestSession(t, prices, nil)
	editOrder(t, first)
	first.Flush()
	state := first.Close()

	second := newTestSession(t, prices, &state)
	assert.Equal(t, 50.0, number(t, second, FieldQuantity))
	assert.Equal(t, "p35", text(t, second, FieldPressID))
	assert.Len(t, second.Tiers(), 3)

	report := second.Flush()
	require.NoError(t, report.Err)
	assert.Empty(t, report.Changed)
	assert.InDelta(t, 417.5, number(t, second, FieldOrderTotal), 1e-9)
}

func TestSession_CloseRejectsEdits(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	s.Close()

	err := s.Set(FieldQuantity, engine.Number(1), false)
	assert.ErrorIs(t, err, engine.ErrClosed)
}

// slowPresses blocks lookups until release is closed.
type slowPresses struct {
	started chan string
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (p *slowPresses) Press(ctx context.Context, id string) (layout.PressFormat, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.started <- id
	select {
	case <-p.release:
		return layout.PressFormat{MaxWidth: 35, MaxHeight: 50}, nil
	case <-ctx.Done():
		return layout.PressFormat{}, ctx.Err()
	}
}

func TestSession_PressLookupDoesNotBlockReads(t *testing.T) {
	presses := &slowPresses{started: make(chan string, 2), release: make(chan struct{})}
	s, err := NewSession(context.Background(), Config{
		Prices:    &fakePrices{price: "0.50"},
		Presses:   presses,
		Scheduler: heldScheduler{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	set := make(chan error, 1)
	go func() { set <- s.Set(FieldPressID, engine.Text("p35"), false) }()
	<-presses.started

	read := make(chan struct{})
	go func() {
		s.Value(FieldQuantity)
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("reading a field waited for the press lookup")
	}

	close(presses.release)
	require.NoError(t, <-set)
	assert.Equal(t, 35.0, number(t, s, FieldPressMaxWidth))
	assert.Equal(t, 50.0, number(t, s, FieldPressMaxHeight))
	presses.mu.Lock()
	defer presses.mu.Unlock()
	assert.Equal(t, 1, presses.calls)
}

func TestSession_HugeQuantityIsBounded(t *testing.T) {
	s := newTestSession(t, &fakePrices{price: "0.50"}, nil)
	_, err := s.SetTiers(tiers(t)[:2], false)
	require.NoError(t, err)
	require.NoError(t, s.Set(FieldQuantity, engine.Number(1e30), false))
	s.Flush()

	assert.Contains(t, text(t, s, FieldPricingMessage), "9007199254740992")
	assert.Equal(t, 0.0, number(t, s, FieldPrintTotal))
}
