package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is a quantity range with its own base unit price and discount.
// MaxQuantity nil means the range is open-ended.
type Tier struct {
	MinQuantity     int             `json:"min_quantity"`
	MaxQuantity     *int            `json:"max_quantity,omitempty"`
	BasePrice       decimal.Decimal `json:"base_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          bool            `json:"active"`
}

// NewTier builds an active tier. Pass max <= 0 for an open-ended tier.
func NewTier(min, max int, basePrice, discountPercent string) (Tier, error) {
	price, err := decimal.NewFromString(basePrice)
	if err != nil {
		return Tier{}, fmt.Errorf("parse base price: %w", err)
	}
	discount, err := decimal.NewFromString(discountPercent)
	if err != nil {
		return Tier{}, fmt.Errorf("parse discount percent: %w", err)
	}

	t := Tier{
		MinQuantity:     min,
		BasePrice:       price,
		DiscountPercent: discount,
		Active:          true,
	}
	if max > 0 {
		t.MaxQuantity = &max
	}
	return t, nil
}

// UnmarshalJSON treats a missing "active" key as an active tier.
func (t *Tier) UnmarshalJSON(data []byte) error {
	type plain Tier
	aux := plain{Active: true}
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("unmarshal tier: %w", err)
	}
	*t = Tier(aux)
	return nil
}

// Contains reports whether quantity falls inside the tier's range.
func (t Tier) Contains(quantity int) bool {
	if quantity < t.MinQuantity {
		return false
	}
	return t.MaxQuantity == nil || quantity <= *t.MaxQuantity
}

// OpenEnded reports whether the tier has no upper bound.
func (t Tier) OpenEnded() bool {
	return t.MaxQuantity == nil
}

func (t Tier) String() string {
	if t.MaxQuantity == nil {
		return fmt.Sprintf("[%d, +inf) @ %s -%s%%", t.MinQuantity, t.BasePrice, t.DiscountPercent)
	}
	return fmt.Sprintf("[%d, %d] @ %s -%s%%", t.MinQuantity, *t.MaxQuantity, t.BasePrice, t.DiscountPercent)
}
