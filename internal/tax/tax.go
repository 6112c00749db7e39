// Package tax computes additive tax breakdowns.
package tax

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

// DefaultPlaces is used when the currency of a price is unknown.
const DefaultPlaces int32 = 2

var ErrNoValidTaxes = errors.New("no valid taxes found")

var hundred = decimal.NewFromInt(100)

type Calculator struct {
	repo store.TaxReader
}

func NewCalculator(repo store.TaxReader) *Calculator {
	return &Calculator{repo: repo}
}

// Calculate applies every active tax in taxIDs to basePrice. Each amount is
// computed against the base, never compounded, and rounded half away from
// zero to places. The total is the sum of the rounded amounts.
func (c *Calculator) Calculate(ctx context.Context, basePrice decimal.Decimal, taxIDs []int64, places int32) (domain.TaxBreakdown, error) {
	if basePrice.IsNegative() {
		return domain.TaxBreakdown{}, fmt.Errorf("%w: base price must not be negative", store.ErrInvalidInput)
	}
	if len(taxIDs) == 0 {
		return NoTax(basePrice), nil
	}

	types, err := c.repo.GetTaxTypesByIDs(ctx, taxIDs)
	if err != nil {
		return domain.TaxBreakdown{}, fmt.Errorf("load tax types: %w", err)
	}
	if len(types) == 0 {
		return domain.TaxBreakdown{}, ErrNoValidTaxes
	}
	return Apply(basePrice, types, places), nil
}

// ForPriceEntry computes the breakdown for a price entry from its current tax
// associations.
func (c *Calculator) ForPriceEntry(ctx context.Context, entry domain.PriceEntry, places int32) (domain.TaxBreakdown, error) {
	assocs, err := c.repo.ListTaxAssociations(ctx, entry.ID)
	if err != nil {
		return domain.TaxBreakdown{}, fmt.Errorf("load tax associations for price %d: %w", entry.ID, err)
	}
	ids := make([]int64, 0, len(assocs))
	for _, a := range assocs {
		ids = append(ids, a.TaxTypeID)
	}
	breakdown, err := c.Calculate(ctx, entry.Price, ids, places)
	if errors.Is(err, ErrNoValidTaxes) {
		// Every associated tax has since been deactivated.
		return NoTax(entry.Price), nil
	}
	return breakdown, err
}

func NoTax(basePrice decimal.Decimal) domain.TaxBreakdown {
	return domain.TaxBreakdown{
		BasePrice:        basePrice,
		Lines:            []domain.TaxLine{},
		TotalTaxAmount:   decimal.Zero,
		TotalPercentage:  decimal.Zero,
		FinalPrice:       basePrice,
		UsesDefaultNoTax: true,
	}
}

// Apply is the pure part of Calculate. Inactive types are skipped.
func Apply(basePrice decimal.Decimal, types []domain.TaxType, places int32) domain.TaxBreakdown {
	if places < 0 {
		places = DefaultPlaces
	}
	out := domain.TaxBreakdown{
		BasePrice:       basePrice,
		Lines:           make([]domain.TaxLine, 0, len(types)),
		TotalTaxAmount:  decimal.Zero,
		TotalPercentage: decimal.Zero,
	}
	seen := make(map[int64]struct{}, len(types))
	for _, t := range types {
		if !t.Active {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		amount := basePrice.Mul(t.Percentage).Div(hundred).Round(places)
		out.Lines = append(out.Lines, domain.TaxLine{
			TaxTypeID:  t.ID,
			Name:       t.Name,
			Percentage: t.Percentage,
			Amount:     amount,
		})
		out.TotalTaxAmount = out.TotalTaxAmount.Add(amount)
		out.TotalPercentage = out.TotalPercentage.Add(t.Percentage)
	}
	out.FinalPrice = basePrice.Add(out.TotalTaxAmount)
	out.UsesDefaultNoTax = len(out.Lines) == 0
	return out
}
