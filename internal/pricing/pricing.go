package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrNoApplicableTier is returned when no tier covers the requested quantity.
var ErrNoApplicableTier = errors.New("no applicable price tier")

var hundred = decimal.NewFromInt(100)

// IssueCode classifies a tier validation problem.
type IssueCode string

const (
	IssueMinQuantity      IssueCode = "min_quantity"
	IssueMaxQuantity      IssueCode = "max_quantity"
	IssuePrice            IssueCode = "price"
	IssueDiscount         IssueCode = "discount"
	IssueOverlap          IssueCode = "overlap"
	IssueOpenEndedNotLast IssueCode = "open_ended_not_last"
)

// ValidationIssue describes one problem in a tier list. Position is the
// 1-based position of the offending tier once sorted by MinQuantity; Index is
// its position in the caller's slice. Other is set for overlap issues.
type ValidationIssue struct {
	Code     IssueCode `json:"code"`
	Position int       `json:"position"`
	Index    int       `json:"index"`
	Other    int       `json:"other,omitempty"`
	Message  string    `json:"message"`
}

type indexedTier struct {
	Tier
	index int
}

func sortedCopy(tiers []Tier) []indexedTier {
	sorted := make([]indexedTier, len(tiers))
	for i, t := range tiers {
		sorted[i] = indexedTier{Tier: t, index: i}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQuantity < sorted[j].MinQuantity
	})
	return sorted
}

// Validate checks a tier list and returns every problem found. The input slice
// is not reordered.
func Validate(tiers []Tier) []ValidationIssue {
	sorted := sortedCopy(tiers)
	issues := make([]ValidationIssue, 0)

	add := func(code IssueCode, i int, format string, args ...any) {
		issues = append(issues, ValidationIssue{
			Code:     code,
			Position: i + 1,
			Index:    sorted[i].index,
			Message:  fmt.Sprintf(format, args...),
		})
	}

	for i, cur := range sorted {
		if cur.MinQuantity <= 0 {
			add(IssueMinQuantity, i, "tier %d: minimum quantity must be greater than 0", i+1)
		}
		if cur.MaxQuantity != nil && *cur.MaxQuantity <= cur.MinQuantity {
			add(IssueMaxQuantity, i, "tier %d: maximum quantity %d must be greater than minimum %d", i+1, *cur.MaxQuantity, cur.MinQuantity)
		}
		if !cur.BasePrice.IsPositive() {
			add(IssuePrice, i, "tier %d: price must be greater than 0", i+1)
		}
		if cur.DiscountPercent.IsNegative() || cur.DiscountPercent.GreaterThan(hundred) {
			add(IssueDiscount, i, "tier %d: discount must be between 0 and 100", i+1)
		}

		if i == len(sorted)-1 {
			continue
		}
		next := sorted[i+1]
		if cur.MaxQuantity == nil {
			add(IssueOpenEndedNotLast, i, "tier %d: only the last tier may be open-ended", i+1)
			continue
		}
		if *cur.MaxQuantity >= next.MinQuantity {
			add(IssueOverlap, i, "tier %d overlaps tier %d", i+1, i+2)
			issues[len(issues)-1].Other = i + 2
		}
	}

	return issues
}

// Resolve returns the first active tier, in ascending MinQuantity order, whose
// range contains quantity. Overlapping or malformed lists are tolerated.
func Resolve(tiers []Tier, quantity int) (Tier, bool) {
	pos, ok := Locate(tiers, quantity)
	if !ok {
		return Tier{}, false
	}
	return sortedCopy(tiers)[pos-1].Tier, true
}

// Locate is Resolve returning the 1-based position of the match in
// ascending MinQuantity order.
func Locate(tiers []Tier, quantity int) (int, bool) {
	for i, t := range sortedCopy(tiers) {
		if !t.Active {
			continue
		}
		if t.Contains(quantity) {
			return i + 1, true
		}
	}
	return 0, false
}

// Quote is the priced outcome of applying a tier to a quantity.
type Quote struct {
	Tier       Tier            `json:"tier"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Savings    decimal.Decimal `json:"savings"`
}

// PriceFor applies the tier's discount to its base price. A nil tier yields
// ErrNoApplicableTier.
func PriceFor(tier *Tier, quantity int) (Quote, error) {
	if tier == nil {
		return Quote{}, ErrNoApplicableTier
	}

	qty := decimal.NewFromInt(int64(quantity))
	factor := decimal.NewFromInt(1).Sub(tier.DiscountPercent.Div(hundred))
	unit := tier.BasePrice.Mul(factor)

	return Quote{
		Tier:       *tier,
		Quantity:   quantity,
		UnitPrice:  unit,
		TotalPrice: unit.Mul(qty),
		Savings:    tier.BasePrice.Sub(unit).Mul(qty),
	}, nil
}

// QuoteFor resolves the tier for quantity and prices it.
func QuoteFor(tiers []Tier, quantity int) (Quote, error) {
	tier, ok := Resolve(tiers, quantity)
	if !ok {
		return Quote{}, fmt.Errorf("quantity %d: %w", quantity, ErrNoApplicableTier)
	}
	return PriceFor(&tier, quantity)
}

// Round returns a copy with money values rounded to places decimals.
func (q Quote) Round(places int32) Quote {
	q.UnitPrice = q.UnitPrice.Round(places)
	q.TotalPrice = q.TotalPrice.Round(places)
	q.Savings = q.Savings.Round(places)
	return q
}
