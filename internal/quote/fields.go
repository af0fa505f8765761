package quote

import "github.com/Simplici0/montaje/internal/engine"

// Field ids of an order-editing session.
const (
	FieldSupplier       = "supplier"
	FieldMaterial       = "material"
	FieldPaperWidth     = "paper_width"
	FieldPaperHeight    = "paper_height"
	FieldPaperWeight    = "paper_weight"
	FieldPressID        = "press_id"
	FieldPressMaxWidth  = "press_max_width"
	FieldPressMaxHeight = "press_max_height"
	FieldDesignWidth    = "design_width"
	FieldDesignHeight   = "design_height"
	FieldQuantity       = "quantity"
	FieldWastePercent   = "waste_percent"

	FieldCopiesPerSheet   = "copies_per_sheet"
	FieldLayoutRotated    = "layout_rotated"
	FieldLayoutDerivation = "layout_derivation"
	FieldSheetWidth       = "sheet_width"
	FieldSheetHeight      = "sheet_height"
	FieldLayoutMessage    = "layout_message"
	FieldSheetsNeeded     = "sheets_needed"
	FieldPaperUnitPrice   = "paper_unit_price"
	FieldPaperPriceOrigin = "paper_price_origin"
	FieldPaperCost        = "paper_cost"
	FieldTierPosition     = "tier_position"
	FieldUnitPrice        = "unit_price"
	FieldPrintTotal       = "print_total"
	FieldSavings          = "savings"
	FieldPricingMessage   = "pricing_message"
	FieldOrderTotal       = "order_total"
)

type fieldDef struct {
	id      string
	initial engine.Value
}

var catalogue = []fieldDef{
	{FieldSupplier, engine.Text("")},
	{FieldMaterial, engine.Text("couche")},
	{FieldPaperWidth, engine.Number(70)},
	{FieldPaperHeight, engine.Number(100)},
	{FieldPaperWeight, engine.Number(150)},
	{FieldPressID, engine.Text("")},
	{FieldPressMaxWidth, engine.Number(0)},
	{FieldPressMaxHeight, engine.Number(0)},
	{FieldDesignWidth, engine.Number(21)},
	{FieldDesignHeight, engine.Number(29.7)},
	{FieldQuantity, engine.Number(0)},
	{FieldWastePercent, engine.Number(0)},

	{FieldCopiesPerSheet, engine.Number(0)},
	{FieldLayoutRotated, engine.Bool(false)},
	{FieldLayoutDerivation, engine.Text("")},
	{FieldSheetWidth, engine.Number(0)},
	{FieldSheetHeight, engine.Number(0)},
	{FieldLayoutMessage, engine.Text("")},
	{FieldSheetsNeeded, engine.Number(0)},
	{FieldPaperUnitPrice, engine.Number(0)},
	{FieldPaperPriceOrigin, engine.Text("")},
	{FieldPaperCost, engine.Number(0)},
	{FieldTierPosition, engine.Number(0)},
	{FieldUnitPrice, engine.Number(0)},
	{FieldPrintTotal, engine.Number(0)},
	{FieldSavings, engine.Number(0)},
	{FieldPricingMessage, engine.Text("")},
	{FieldOrderTotal, engine.Number(0)},
}

// Inputs grouped by the part of the recompute they feed.
var (
	layoutInputs = []string{
		FieldPaperWidth, FieldPaperHeight,
		FieldPressMaxWidth, FieldPressMaxHeight,
		FieldDesignWidth, FieldDesignHeight,
	}
	sheetInputs = []string{FieldQuantity, FieldWastePercent}
	paperInputs = []string{
		FieldSupplier, FieldMaterial,
		FieldPaperWidth, FieldPaperHeight, FieldPaperWeight,
	}
	tierInputs = []string{FieldQuantity}
)

// InputFields lists the fields an operator edits.
func InputFields() []string {
	out := make([]string, 0, 12)
	for _, f := range catalogue[:12] {
		out = append(out, f.id)
	}
	return out
}

// dependency is one row of the declarative dependency table.
type dependency struct {
	source string
	target string
	rule   engine.Rule
}

func (s *Session) dependencies() []dependency {
	deps := []dependency{
		{FieldPressID, FieldPressMaxWidth, engine.Compute(s.pressDimension(true))},
		{FieldPressID, FieldPressMaxHeight, engine.Compute(s.pressDimension(false))},
	}
	for _, id := range layoutInputs {
		deps = append(deps, dependency{id, FieldCopiesPerSheet, engine.Recompute()})
	}
	for _, id := range sheetInputs {
		deps = append(deps, dependency{id, FieldSheetsNeeded, engine.Recompute()})
	}
	for _, id := range paperInputs {
		deps = append(deps, dependency{id, FieldPaperUnitPrice, engine.Recompute()})
	}
	for _, id := range tierInputs {
		deps = append(deps, dependency{id, FieldPrintTotal, engine.Recompute()})
	}
	return deps
}
