package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
)

// LegalReserve configures the statutory legal reserve.
type LegalReserve struct {
	Rate decimal.Decimal `json:"rate" yaml:"rate" validate:"gte=0,lte=1"`
	// Ceiling caps the cumulative legal reserve. Zero means no ceiling.
	Ceiling     accounting.Amount `json:"ceiling" yaml:"ceiling" validate:"gte=0"`
	Accumulated accounting.Amount `json:"accumulated" yaml:"accumulated" validate:"gte=0"`
}

// Share is a bucket configured either as a fixed amount or as a rate of the net result.
type Share struct {
	Fixed *accounting.Amount `json:"fixed,omitempty" yaml:"fixed,omitempty" validate:"omitempty,gte=0"`
	Rate  *decimal.Decimal   `json:"rate,omitempty" yaml:"rate,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// FixedShare returns a share of a fixed amount.
func FixedShare(amount accounting.Amount) Share {
	return Share{Fixed: &amount}
}

// RateShare returns a share computed as rate × net result.
func RateShare(rate decimal.Decimal) Share {
	return Share{Rate: &rate}
}

// Policy is the allocation policy applied to a period's net result.
type Policy struct {
	LegalReserve     LegalReserve `json:"legal_reserve" yaml:"legal_reserve"`
	StatutoryReserve Share        `json:"statutory_reserve" yaml:"statutory_reserve"`
	OptionalReserve  Share        `json:"optional_reserve" yaml:"optional_reserve"`
	Dividends        Share        `json:"dividends" yaml:"dividends"`
}

// Validate rejects malformed policies before any computation.
func (p Policy) Validate() error {
	if err := shared.ValidateStruct("allocation policy", p); err != nil {
		return err
	}
	var problems []string
	if p.LegalReserve.Ceiling > 0 && p.LegalReserve.Accumulated > p.LegalReserve.Ceiling {
		problems = append(problems, fmt.Sprintf("legal_reserve.accumulated %d exceeds ceiling %d", p.LegalReserve.Accumulated, p.LegalReserve.Ceiling))
	}
	for name, share := range map[string]Share{
		"statutory_reserve": p.StatutoryReserve,
		"optional_reserve":  p.OptionalReserve,
		"dividends":         p.Dividends,
	} {
		if share.Fixed != nil && share.Rate != nil {
			problems = append(problems, name+" sets both fixed and rate")
		}
	}
	rates := p.LegalReserve.Rate
	for _, share := range []Share{p.StatutoryReserve, p.OptionalReserve, p.Dividends} {
		if share.Rate != nil {
			rates = rates.Add(*share.Rate)
		}
	}
	if rates.GreaterThan(decimal.NewFromInt(1)) {
		problems = append(problems, "rates sum to "+rates.String()+", above 1")
	}
	sort.Strings(problems)
	return shared.NewConfigError("allocation policy", problems...)
}
