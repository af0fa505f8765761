package layout

import (
	"fmt"
	"math"
)

// Rectangle is a width x height pair in centimetres.
type Rectangle struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rotated returns the rectangle turned by 90 degrees.
func (r Rectangle) Rotated() Rectangle {
	return Rectangle{Width: r.Height, Height: r.Width}
}

// FitsWithin reports whether r fits inside bounds in either orientation.
func (r Rectangle) FitsWithin(bounds Rectangle) bool {
	if r.Width <= bounds.Width+epsilon && r.Height <= bounds.Height+epsilon {
		return true
	}
	return r.Height <= bounds.Width+epsilon && r.Width <= bounds.Height+epsilon
}

func (r Rectangle) String() string {
	return fmt.Sprintf("%gx%g", r.Width, r.Height)
}

// PressFormat is the largest sheet a press can imprint.
type PressFormat struct {
	MaxWidth  float64 `json:"max_width"`
	MaxHeight float64 `json:"max_height"`
}

func (p PressFormat) bounds() Rectangle {
	return Rectangle{Width: p.MaxWidth, Height: p.MaxHeight}
}

// Derivation names how the printable sheet was obtained from the paper.
type Derivation string

const (
	Direct     Derivation = "direct"
	QuarterCut Derivation = "quarter_cut"
	HalfCut    Derivation = "half_cut"
	CustomCut  Derivation = "custom_cut"
)

// Result is the outcome of a montage calculation. Reason is set when no copy
// fits on the sheet.
type Result struct {
	CopiesPerSheet int        `json:"copies_per_sheet"`
	Rotated        bool       `json:"rotated"`
	EffectiveSheet Rectangle  `json:"effective_sheet"`
	Derivation     Derivation `json:"derivation"`
	Reason         string     `json:"reason,omitempty"`
}

// Fits reports whether at least one copy fits on the sheet.
func (r Result) Fits() bool {
	return r.CopiesPerSheet > 0
}

// InvalidDimensionError reports a non-finite or non-positive input dimension.
type InvalidDimensionError struct {
	Field string
	Value float64
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid dimension %s: %v must be a finite number greater than 0", e.Field, e.Value)
}

const epsilon = 1e-9

func checkDimension(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &InvalidDimensionError{Field: field, Value: v}
	}
	return nil
}

func validate(design, paper Rectangle, press PressFormat) error {
	checks := []struct {
		field string
		value float64
	}{
		{"design.width", design.Width},
		{"design.height", design.Height},
		{"paper.width", paper.Width},
		{"paper.height", paper.Height},
		{"press.max_width", press.MaxWidth},
		{"press.max_height", press.MaxHeight},
	}
	for _, c := range checks {
		if err := checkDimension(c.field, c.value); err != nil {
			return err
		}
	}
	return nil
}

// Compute derives the printable sheet for paper on press and counts how many
// copies of design fit on it, trying both orientations of the design.
func Compute(design, paper Rectangle, press PressFormat) (Result, error) {
	if err := validate(design, paper, press); err != nil {
		return Result{}, err
	}

	sheet, derivation := CutDown(paper, press)
	result := Result{
		EffectiveSheet: sheet,
		Derivation:     derivation,
	}

	axis := fit(sheet.Width, design.Width) * fit(sheet.Height, design.Height)
	rotated := fit(sheet.Width, design.Height) * fit(sheet.Height, design.Width)

	switch {
	case rotated > axis:
		result.CopiesPerSheet = rotated
		result.Rotated = true
	default:
		result.CopiesPerSheet = axis
	}

	if result.CopiesPerSheet == 0 {
		result.Reason = fmt.Sprintf("design %s does not fit on a %s sheet in either orientation", design, sheet)
	}

	return result, nil
}

// maxPerAxis caps copies along one sheet side so the product of both sides
// stays well inside int.
const maxPerAxis = 1 << 24

func fit(length, size float64) int {
	n := math.Floor(length/size + epsilon)
	if n > maxPerAxis {
		return maxPerAxis
	}
	return int(n)
}

// SheetsNeeded returns the number of press sheets required to print quantity
// copies at copiesPerSheet per sheet, plus wastePercent extra sheets rounded up.
func SheetsNeeded(quantity, copiesPerSheet int, wastePercent float64) int {
	if quantity <= 0 || copiesPerSheet <= 0 {
		return 0
	}
	sheets := (quantity + copiesPerSheet - 1) / copiesPerSheet
	if wastePercent > 0 {
		sheets += int(math.Ceil(float64(sheets)*wastePercent/100.0 - epsilon))
	}
	return sheets
}
