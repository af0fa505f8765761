package layout

import (
	"math"
	"sort"
)

// PaperFamily identifies a raw paper format the cut-down table knows about.
type PaperFamily string

const (
	PaperUnknown PaperFamily = ""
	PaperB1      PaperFamily = "70x100"
	PaperB1Plus  PaperFamily = "72x102"
	PaperRA1     PaperFamily = "64x90"
	PaperB2      PaperFamily = "50x70"
)

// PressClass groups presses by the largest standard sheet they accept.
type PressClass string

const (
	PressSmall PressClass = "small"
	PressSRA3  PressClass = "sra3"
	PressB3    PressClass = "b3"
	PressB2    PressClass = "b2"
)

// familyTolerance is how far, in cm, a paper may deviate from a nominal format.
const familyTolerance = 0.5

var paperFamilies = []struct {
	family PaperFamily
	size   Rectangle
}{
	{PaperB1, Rectangle{Width: 70, Height: 100}},
	{PaperB1Plus, Rectangle{Width: 72, Height: 102}},
	{PaperRA1, Rectangle{Width: 64, Height: 90}},
	{PaperB2, Rectangle{Width: 50, Height: 70}},
}

// ordered largest first
var pressClasses = []struct {
	class  PressClass
	accept Rectangle
}{
	{PressB2, Rectangle{Width: 50, Height: 70}},
	{PressB3, Rectangle{Width: 35, Height: 50}},
	{PressSRA3, Rectangle{Width: 32, Height: 45}},
}

type ruleKey struct {
	paper PaperFamily
	press PressClass
}

var cutRules = map[ruleKey]Derivation{
	{PaperB1, PressB2}:     HalfCut,
	{PaperB1, PressB3}:     QuarterCut,
	{PaperB1Plus, PressB2}: HalfCut,
	{PaperB1Plus, PressB3}: QuarterCut,
	{PaperRA1, PressB2}:    HalfCut,
	{PaperRA1, PressB3}:    QuarterCut,
	{PaperRA1, PressSRA3}:  QuarterCut,
	{PaperB2, PressB3}:     HalfCut,
	{PaperB2, PressSRA3}:   QuarterCut,
}

// Rule is one supported paper/press combination.
type Rule struct {
	Paper      PaperFamily `json:"paper"`
	Press      PressClass  `json:"press"`
	Derivation Derivation  `json:"derivation"`
}

// Rules lists the supported cut-down combinations in a stable order.
func Rules() []Rule {
	rules := make([]Rule, 0, len(cutRules))
	for k, d := range cutRules {
		rules = append(rules, Rule{Paper: k.paper, Press: k.press, Derivation: d})
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Paper != rules[j].Paper {
			return rules[i].Paper < rules[j].Paper
		}
		return rules[i].Press < rules[j].Press
	})
	return rules
}

// FamilyOf matches paper against the known formats in either orientation.
func FamilyOf(paper Rectangle) PaperFamily {
	for _, f := range paperFamilies {
		if sameSize(paper, f.size) || sameSize(paper.Rotated(), f.size) {
			return f.family
		}
	}
	return PaperUnknown
}

func sameSize(a, b Rectangle) bool {
	return math.Abs(a.Width-b.Width) <= familyTolerance && math.Abs(a.Height-b.Height) <= familyTolerance
}

// ClassOf returns the largest standard press class whose sheet fits press.
func ClassOf(press PressFormat) PressClass {
	bounds := press.bounds()
	for _, c := range pressClasses {
		if c.accept.FitsWithin(bounds) {
			return c.class
		}
	}
	return PressSmall
}

// CutDown returns the sheet that goes on the press and how it was obtained.
// Paper that fits as-is is used directly; known paper/press pairs use the cut
// rule table; anything else is trimmed to the press bounds.
func CutDown(paper Rectangle, press PressFormat) (Rectangle, Derivation) {
	bounds := press.bounds()
	if paper.FitsWithin(bounds) {
		return paper, Direct
	}

	if d, ok := cutRules[ruleKey{paper: FamilyOf(paper), press: ClassOf(press)}]; ok {
		if sheet := apply(d, paper); sheet.FitsWithin(bounds) {
			return sheet, d
		}
	}

	return Rectangle{
		Width:  math.Min(paper.Width, press.MaxWidth),
		Height: math.Min(paper.Height, press.MaxHeight),
	}, CustomCut
}

func apply(d Derivation, paper Rectangle) Rectangle {
	switch d {
	case QuarterCut:
		return Rectangle{Width: paper.Width / 2, Height: paper.Height / 2}
	case HalfCut:
		if paper.Width >= paper.Height {
			return Rectangle{Width: paper.Width / 2, Height: paper.Height}
		}
		return Rectangle{Width: paper.Width, Height: paper.Height / 2}
	default:
		return paper
	}
}
