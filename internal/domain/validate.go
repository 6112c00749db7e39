package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalid marks a request or row that failed shape validation.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c Cart) Validate() error {
	if c.StoreID < 1 {
		return invalidf("store_id is required")
	}
	if len(c.Lines) == 0 {
		return invalidf("cart has no lines")
	}
	seen := make(map[int64]struct{}, len(c.Lines))
	for i, line := range c.Lines {
		if err := line.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if _, dup := seen[line.ItemID]; dup {
			return invalidf("line %d: item %d appears twice", i+1, line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}

func (l CartLine) Validate() error {
	if l.ItemID < 1 || l.PriceEntryID < 1 {
		return invalidf("item_id and price_entry_id are required")
	}
	if l.Quantity < 1 {
		return invalidf("quantity must be positive")
	}
	return validateAmounts(l.BasePrice, l.TaxAmount, l.FinalPrice, l.Taxes)
}

// Validate checks a persisted line the same way a cart line is checked, so a
// malformed row never reaches totals arithmetic.
func (l TransactionLine) Validate() error {
	if l.ItemID < 1 {
		return invalidf("item_id is required")
	}
	if l.Quantity < 1 {
		return invalidf("quantity must be positive")
	}
	taxes := make([]TaxLine, 0, len(l.Taxes))
	for _, t := range l.Taxes {
		taxes = append(taxes, TaxLine{TaxTypeID: t.TaxTypeID, Amount: t.Amount})
	}
	if err := validateAmounts(l.BasePrice, l.TaxAmount, l.FinalPrice, taxes); err != nil {
		return err
	}
	if !l.LineTotal.Equal(l.FinalPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))) {
		return invalidf("line_total must equal final_price x quantity")
	}
	return nil
}

func validateAmounts(base, tax, final decimal.Decimal, taxes []TaxLine) error {
	if base.IsNegative() || tax.IsNegative() {
		return invalidf("prices must not be negative")
	}
	if !final.Equal(base.Add(tax)) {
		return invalidf("final_price %s must equal base_price %s + tax_amount %s", final, base, tax)
	}
	sum := decimal.Zero
	for _, t := range taxes {
		if t.Amount.IsNegative() {
			return invalidf("tax amounts must not be negative")
		}
		sum = sum.Add(t.Amount)
	}
	if len(taxes) > 0 && !sum.Equal(tax) {
		return invalidf("tax rows sum to %s, expected %s", sum, tax)
	}
	if len(taxes) == 0 && !tax.IsZero() {
		return invalidf("tax_amount %s has no tax rows", tax)
	}
	return nil
}

func (r SuspendRequest) Validate() error {
	if strings.TrimSpace(r.SessionName) == "" {
		return invalidf("session_name is required")
	}
	return r.Cart.Validate()
}

func (r PriceRequest) Validate() error {
	if r.ItemID < 1 || r.StoreID < 1 || r.CurrencyID < 1 {
		return invalidf("item_id, store_id and currency_id are required")
	}
	if strings.TrimSpace(r.Barcode) == "" {
		return invalidf("barcode is required")
	}
	if r.Price.IsNegative() {
		return invalidf("price must not be negative")
	}
	return nil
}

func (r TaxTypeRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return invalidf("name is required")
	}
	return validatePercentage(r.Percentage)
}

func validatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return invalidf("percentage must be between 0 and 100")
	}
	return nil
}

func (r TaxTypeUpdateRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return invalidf("name must not be empty")
	}
	if r.Percentage != nil {
		return validatePercentage(*r.Percentage)
	}
	return nil
}

func (r CurrencyRequest) Validate() error {
	if len(strings.TrimSpace(r.Code)) != 3 {
		return invalidf("code must be a 3-letter ISO code")
	}
	if strings.TrimSpace(r.Name) == "" {
		return invalidf("name is required")
	}
	if r.DecimalPlaces < 0 || r.DecimalPlaces > 8 {
		return invalidf("decimal_places must be between 0 and 8")
	}
	if !r.IsBase && !r.Factor.IsPositive() {
		return invalidf("factor must be positive")
	}
	return nil
}

func (r CatalogItemRequest) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return invalidf("description is required")
	}
	return nil
}
