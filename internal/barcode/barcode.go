// Package barcode resolves a scanned code to a priced catalog entry at a
// store.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

// ErrSearch wraps backend failures so callers can tell them apart from a
// code that simply does not exist.
var ErrSearch = errors.New("search error")

type Resolver struct {
	repo store.PriceReader
}

func NewResolver(repo store.PriceReader) *Resolver {
	return &Resolver{repo: repo}
}

// Variants expands a code into the forms a scanner may have produced:
// 12-digit UPC-A gains the zero-prefixed EAN-13 and an EAN-13 with a leading
// zero gains its UPC-A form. The original code is always first.
func Variants(code string) []string {
	code = strings.TrimSpace(code)
	variants := []string{code}
	switch {
	case len(code) == 12 && isDigits(code):
		variants = append(variants, "0"+code)
	case len(code) == 13 && isDigits(code) && code[0] == '0':
		variants = append(variants, code[1:])
	}
	return variants
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ResolveVariants tries every variant of code in turn and returns the first
// found result. When none is found the result for the original code is
// returned, so an unpriced match on it is not lost.
func (r *Resolver) ResolveVariants(ctx context.Context, code string, storeID int64, currencyID int64) (domain.LookupResult, error) {
	var first domain.LookupResult
	for i, variant := range Variants(code) {
		result, err := r.Resolve(ctx, variant, storeID, currencyID)
		if err != nil {
			return domain.LookupResult{}, err
		}
		if result.Found() {
			result.Code = strings.TrimSpace(code)
			return result, nil
		}
		if i == 0 {
			first = result
		}
	}
	return first, nil
}

// Resolve looks code up at storeID: first as a store barcode on the price
// list, then as a upc/ean/gtin on the catalog. currencyID, when non-zero, is
// preferred but not required.
func (r *Resolver) Resolve(ctx context.Context, code string, storeID int64, currencyID int64) (domain.LookupResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.LookupResult{}, fmt.Errorf("%w: code is required", store.ErrInvalidInput)
	}
	if storeID < 1 {
		return domain.LookupResult{}, fmt.Errorf("%w: store_id is required", store.ErrInvalidInput)
	}
	result := domain.LookupResult{Status: domain.LookupNotFound, Code: code}

	entry, err := r.preferCurrency(currencyID, func(cur int64) (*domain.PriceEntry, error) {
		return r.repo.FindPriceEntryByBarcode(ctx, storeID, code, cur)
	})
	if err != nil {
		return domain.LookupResult{}, err
	}
	if entry != nil {
		item, err := r.repo.GetCatalogItem(ctx, entry.ItemID)
		if err != nil {
			return domain.LookupResult{}, fmt.Errorf("%w: load item %d: %v", ErrSearch, entry.ItemID, err)
		}
		result.Status = domain.LookupFound
		result.Method = domain.MethodPriceList
		result.MatchedCode = code
		result.Item = item
		result.Price = entry
		return result, nil
	}

	items, err := r.repo.FindCatalogItemsByGlobalCode(ctx, code)
	if err != nil {
		return domain.LookupResult{}, fmt.Errorf("%w: global code %s: %v", ErrSearch, code, err)
	}
	for i := range items {
		item := items[i]
		entry, err := r.preferCurrency(currencyID, func(cur int64) (*domain.PriceEntry, error) {
			return r.repo.FindPriceEntryForItem(ctx, item.ID, storeID, cur)
		})
		if err != nil {
			return domain.LookupResult{}, err
		}
		if entry == nil {
			continue
		}
		result.Status = domain.LookupFound
		result.Method = domain.MethodGlobalCode
		result.MatchedCode = code
		result.Item = &item
		result.Price = entry
		return result, nil
	}
	if len(items) > 0 {
		result.Status = domain.LookupUnpriced
		result.Method = domain.MethodGlobalCode
		result.MatchedCode = code
		result.Item = &items[0]
	}
	return result, nil
}

// preferCurrency runs find with the preferred currency and then with any
// currency. A nil entry with a nil error means nothing matched.
func (r *Resolver) preferCurrency(currencyID int64, find func(int64) (*domain.PriceEntry, error)) (*domain.PriceEntry, error) {
	attempts := []int64{0}
	if currencyID != 0 {
		attempts = []int64{currencyID, 0}
	}
	for _, cur := range attempts {
		entry, err := find(cur)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrSearch, err)
		}
	}
	return nil, nil
}
