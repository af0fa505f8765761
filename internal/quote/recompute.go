package quote

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/engine"
	"github.com/Simplici0/montaje/internal/layout"
	"github.com/Simplici0/montaje/internal/metrics"
	"github.com/Simplici0/montaje/internal/pricing"
)

// recompute is the cost routine run once per flush. It reads the batch
// snapshot, works out layout, sheets, tier price and paper cost, and commits
// the results only if no edit arrived since the batch was closed.
func (s *Session) recompute(ctx context.Context, batch engine.Batch) error {
	snap := batch.Snapshot
	out := &writes{}

	copies := snap.Int(FieldCopiesPerSheet)
	if batch.Touched(layoutInputs...) || batch.Touched(FieldCopiesPerSheet) {
		copies = s.computeLayout(snap, out)
	}

	sheets := layout.SheetsNeeded(snap.Int(FieldQuantity), copies, snap.Number(FieldWastePercent))
	out.number(FieldSheetsNeeded, float64(sheets))

	printTotal := decimal.NewFromFloat(snap.Number(FieldPrintTotal))
	if batch.Touched(tierInputs...) || batch.Touched(FieldPrintTotal) {
		printTotal = s.computeTierPrice(snap, out)
	}

	unitPrice := decimal.NewFromFloat(snap.Number(FieldPaperUnitPrice))
	if batch.Touched(paperInputs...) || batch.Touched(FieldPaperUnitPrice) {
		unitPrice = s.lookupPaperPrice(ctx, snap, out)
	}
	paperCost := unitPrice.Mul(decimal.NewFromInt(int64(sheets))).Round(s.decimals)
	out.number(FieldPaperCost, paperCost.InexactFloat64())
	out.number(FieldOrderTotal, printTotal.Add(paperCost).Round(s.decimals).InexactFloat64())

	err := s.engine.Commit(snap.Revision, out.list)
	switch {
	case errors.Is(err, engine.ErrStale):
		metrics.StaleRecomputesTotal.Inc()
		s.engine.Requeue(batch)
		s.logger.Info("discarding stale recompute",
			zap.Uint64("seq", batch.Seq),
			zap.Uint64("revision", snap.Revision),
		)
		return nil
	case errors.Is(err, engine.ErrClosed):
		return nil
	case err != nil:
		return fmt.Errorf("commit recompute: %w", err)
	}
	return nil
}

func (s *Session) computeLayout(snap engine.Snapshot, out *writes) int {
	design := layout.Rectangle{Width: snap.Number(FieldDesignWidth), Height: snap.Number(FieldDesignHeight)}
	paper := layout.Rectangle{Width: snap.Number(FieldPaperWidth), Height: snap.Number(FieldPaperHeight)}
	press := layout.PressFormat{MaxWidth: snap.Number(FieldPressMaxWidth), MaxHeight: snap.Number(FieldPressMaxHeight)}

	result, err := layout.Compute(design, paper, press)
	if err != nil {
		out.number(FieldCopiesPerSheet, 0)
		out.add(FieldLayoutRotated, engine.Bool(false))
		out.add(FieldLayoutDerivation, engine.Text(""))
		out.number(FieldSheetWidth, 0)
		out.number(FieldSheetHeight, 0)
		out.add(FieldLayoutMessage, engine.Text(err.Error()))
		return 0
	}

	metrics.LayoutsTotal.WithLabelValues(string(result.Derivation)).Inc()
	out.number(FieldCopiesPerSheet, float64(result.CopiesPerSheet))
	out.add(FieldLayoutRotated, engine.Bool(result.Rotated))
	out.add(FieldLayoutDerivation, engine.Text(string(result.Derivation)))
	out.number(FieldSheetWidth, result.EffectiveSheet.Width)
	out.number(FieldSheetHeight, result.EffectiveSheet.Height)
	out.add(FieldLayoutMessage, engine.Text(result.Reason))
	return result.CopiesPerSheet
}

func (s *Session) computeTierPrice(snap engine.Snapshot, out *writes) decimal.Decimal {
	quantity := snap.Int(FieldQuantity)
	tiers := s.Tiers()

	position, ok := pricing.Locate(tiers, quantity)
	if !ok {
		out.number(FieldTierPosition, 0)
		out.number(FieldUnitPrice, 0)
		out.number(FieldPrintTotal, 0)
		out.number(FieldSavings, 0)
		out.add(FieldPricingMessage, engine.Text(fmt.Sprintf("no price tier covers a quantity of %d", quantity)))
		return decimal.Zero
	}

	tier, _ := pricing.Resolve(tiers, quantity)
	quote, err := pricing.PriceFor(&tier, quantity)
	if err != nil {
		out.add(FieldPricingMessage, engine.Text(err.Error()))
		return decimal.Zero
	}
	quote = quote.Round(s.decimals)

	out.number(FieldTierPosition, float64(position))
	out.number(FieldUnitPrice, quote.UnitPrice.InexactFloat64())
	out.number(FieldPrintTotal, quote.TotalPrice.InexactFloat64())
	out.number(FieldSavings, quote.Savings.InexactFloat64())
	out.add(FieldPricingMessage, engine.Text(""))
	return quote.TotalPrice
}

// lookupPaperPrice is the suspend point of the routine: the price source may
// block while further edits arrive.
func (s *Session) lookupPaperPrice(ctx context.Context, snap engine.Snapshot, out *writes) decimal.Decimal {
	key := PaperKey{
		Supplier: snap.Text(FieldSupplier),
		Material: snap.Text(FieldMaterial),
		Width:    snap.Number(FieldPaperWidth),
		Height:   snap.Number(FieldPaperHeight),
		Weight:   snap.Number(FieldPaperWeight),
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	price, err := s.prices.PaperPrice(lookupCtx, key)
	if err != nil {
		metrics.PriceLookupsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("paper price lookup failed",
			zap.String("supplier", key.Supplier),
			zap.String("material", key.Material),
			zap.Float64("width", key.Width),
			zap.Float64("height", key.Height),
			zap.Float64("weight", key.Weight),
			zap.Error(err),
		)
		out.number(FieldPaperUnitPrice, 0)
		out.add(FieldPaperPriceOrigin, engine.Text(""))
		return decimal.Zero
	}

	metrics.PriceLookupsTotal.WithLabelValues("ok").Inc()
	out.number(FieldPaperUnitPrice, price.UnitPrice.InexactFloat64())
	out.add(FieldPaperPriceOrigin, engine.Text(price.Origin))
	return price.UnitPrice
}

type writes struct {
	list []engine.Write
}

func (w *writes) add(field string, v engine.Value) {
	w.list = append(w.list, engine.Write{Field: field, Value: v})
}

func (w *writes) number(field string, n float64) {
	w.add(field, engine.Number(n))
}
