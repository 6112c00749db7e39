// Package cart builds client-held carts and turns them into persisted
// transactions.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

// AddLine adds one unit of the resolved item. A line for the same catalog
// item has its quantity bumped instead of being duplicated.
func AddLine(c domain.Cart, result domain.LookupResult, breakdown domain.TaxBreakdown) domain.Cart {
	out := clone(c)
	for i := range out.Lines {
		if out.Lines[i].ItemID == result.Item.ID {
			out.Lines[i].Quantity++
			return out
		}
	}
	out.Lines = append(out.Lines, domain.CartLine{
		ItemID:       result.Item.ID,
		PriceEntryID: result.Price.ID,
		Description:  result.Item.Description,
		Barcode:      result.Price.Barcode,
		Unit:         result.Price.Unit,
		BasePrice:    breakdown.BasePrice,
		Taxes:        breakdown.Lines,
		TaxAmount:    breakdown.TotalTaxAmount,
		FinalPrice:   breakdown.FinalPrice,
		Quantity:     1,
	})
	return out
}

// UpdateQuantity sets the quantity of the line for itemID. A quantity of
// zero or less removes the line.
func UpdateQuantity(c domain.Cart, itemID int64, quantity int) (domain.Cart, error) {
	out := clone(c)
	for i := range out.Lines {
		if out.Lines[i].ItemID != itemID {
			continue
		}
		if quantity <= 0 {
			out.Lines = append(out.Lines[:i], out.Lines[i+1:]...)
		} else {
			out.Lines[i].Quantity = quantity
		}
		return out, nil
	}
	return c, fmt.Errorf("item %d is not in the cart: %w", itemID, store.ErrNotFound)
}

// Totals computes subtotal as the sum of final price times quantity and
// total as subtotal plus adjustment.
func Totals(c domain.Cart) domain.CartTotals {
	subtotal := decimal.Zero
	count := 0
	for _, line := range c.Lines {
		subtotal = subtotal.Add(line.FinalPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		count += line.Quantity
	}
	return domain.CartTotals{
		Subtotal:   subtotal,
		Adjustment: c.Adjustment,
		Total:      subtotal.Add(c.Adjustment),
		ItemCount:  count,
	}
}

func Response(c domain.Cart) domain.CartResponse {
	if c.Lines == nil {
		c.Lines = []domain.CartLine{}
	}
	return domain.CartResponse{Cart: c, Totals: Totals(c)}
}

func clone(c domain.Cart) domain.Cart {
	out := c
	out.Lines = make([]domain.CartLine, len(c.Lines))
	copy(out.Lines, c.Lines)
	return out
}

// toLines converts cart lines to transaction lines, recording per-unit tax
// rows for audit.
func toLines(lines []domain.CartLine) []domain.TransactionLine {
	out := make([]domain.TransactionLine, 0, len(lines))
	for _, line := range lines {
		taxes := make([]domain.TransactionLineTax, 0, len(line.Taxes))
		for _, t := range line.Taxes {
			taxes = append(taxes, domain.TransactionLineTax{
				TaxTypeID:  t.TaxTypeID,
				Name:       t.Name,
				Percentage: t.Percentage,
				Amount:     t.Amount,
			})
		}
		out = append(out, domain.TransactionLine{
			ItemID:       line.ItemID,
			PriceEntryID: line.PriceEntryID,
			Description:  line.Description,
			BasePrice:    line.BasePrice,
			TaxAmount:    line.TaxAmount,
			FinalPrice:   line.FinalPrice,
			LineTotal:    line.FinalPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
			Quantity:     line.Quantity,
			Taxes:        taxes,
		})
	}
	return out
}

func lineTotals(lines []domain.TransactionLine, adjustment decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal)
	}
	return subtotal, subtotal.Add(adjustment)
}
