package barcode

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/store/memory"
)

func TestVariants(t *testing.T) {
	cases := []struct {
		code string
		want []string
	}{
		{"012345678912", []string{"012345678912", "0012345678912"}},
		{"0123456789123", []string{"0123456789123", "123456789123"}},
		{"1123456789123", []string{"1123456789123"}},
		{"1234", []string{"1234"}},
		{"ABCDEFGHIJKL", []string{"ABCDEFGHIJKL"}},
		{" 012345678912 ", []string{"012345678912", "0012345678912"}},
	}
	for _, tc := range cases {
		got := Variants(tc.code)
		if !slices.Equal(got, tc.want) {
			t.Fatalf("Variants(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestResolveStoreBarcode(t *testing.T) {
	r := NewResolver(memory.NewSeeded())

	result, err := r.Resolve(context.Background(), "1234", 1, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Status != domain.LookupFound || result.Method != domain.MethodPriceList {
		t.Fatalf("expected found/price_list, got %s/%s", result.Status, result.Method)
	}
	if !result.Price.Price.Equal(decimal.RequireFromString("23.60")) || result.Price.Unit != "ea" {
		t.Fatalf("unexpected price entry %+v", result.Price)
	}

	result, err = r.Resolve(context.Background(), "1234", 2, 0)
	if err != nil {
		t.Fatalf("resolve store 2: %v", err)
	}
	if result.Status != domain.LookupNotFound {
		t.Fatalf("expected not_found at store 2, got %s", result.Status)
	}
}

func TestResolvePrefersStoreBarcodeOverGlobalCode(t *testing.T) {
	repo := memory.NewSeeded()
	// Item 2 gets a store barcode equal to item 4's UPC.
	_, err := repo.CreatePriceEntry(context.Background(), domain.PriceEntry{
		ItemID: 2, StoreID: 1, Barcode: "036000291452", Unit: "ea",
		Price: decimal.RequireFromString("4.10"), CurrencyID: 2, Active: true,
	}, nil)
	if err != nil {
		t.Fatalf("create price entry: %v", err)
	}

	result, err := NewResolver(repo).Resolve(context.Background(), "036000291452", 1, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Method != domain.MethodPriceList || result.Item.ID != 2 {
		t.Fatalf("expected price list match on item 2, got %s item %d", result.Method, result.Item.ID)
	}
}

func TestResolveGlobalCode(t *testing.T) {
	r := NewResolver(memory.NewSeeded())

	unpriced, err := r.Resolve(context.Background(), "036000291452", 1, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if unpriced.Status != domain.LookupUnpriced || unpriced.Item == nil || unpriced.Item.ID != 4 || unpriced.Price != nil {
		t.Fatalf("expected unpriced item 4, got %+v", unpriced)
	}

	priced, err := r.Resolve(context.Background(), "036000291452", 2, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if priced.Status != domain.LookupFound || priced.Method != domain.MethodGlobalCode {
		t.Fatalf("expected found/global_code, got %s/%s", priced.Status, priced.Method)
	}
	if !priced.Price.Price.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected 1.25, got %s", priced.Price.Price)
	}
}

func TestResolvePreferredCurrency(t *testing.T) {
	r := NewResolver(memory.NewSeeded())

	eur, err := r.Resolve(context.Background(), "9003", 2, 2)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if eur.Price.CurrencyID != 2 {
		t.Fatalf("expected EUR entry, got currency %d", eur.Price.CurrencyID)
	}

	fallback, err := r.Resolve(context.Background(), "9003", 2, 3)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fallback.Status != domain.LookupFound || fallback.Price.CurrencyID != 1 {
		t.Fatalf("expected fallback to any currency, got %+v", fallback.Price)
	}
}

func TestResolveVariantsFindsUPCFromEAN(t *testing.T) {
	r := NewResolver(memory.NewSeeded())

	result, err := r.ResolveVariants(context.Background(), "0012345678905", 1, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !result.Found() || result.Item.ID != 1 {
		t.Fatalf("expected item 1 via variant, got %+v", result)
	}
	if result.Code != "0012345678905" || result.MatchedCode != "012345678905" {
		t.Fatalf("unexpected codes %q / %q", result.Code, result.MatchedCode)
	}
}

func TestResolveVariantsReturnsOriginalResultWhenNothingFound(t *testing.T) {
	r := NewResolver(memory.NewSeeded())

	result, err := r.ResolveVariants(context.Background(), "999999999999", 1, 0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Status != domain.LookupNotFound || result.Code != "999999999999" {
		t.Fatalf("expected not_found for original code, got %+v", result)
	}
}

func TestResolveSkipsInactiveItems(t *testing.T) {
	repo := memory.NewSeeded()
	ctx := context.Background()
	for _, id := range []int64{1, 4} {
		item, err := repo.GetCatalogItem(ctx, id)
		if err != nil {
			t.Fatalf("get item %d: %v", id, err)
		}
		item.Active = false
		if _, err := repo.UpdateCatalogItem(ctx, *item); err != nil {
			t.Fatalf("deactivate item %d: %v", id, err)
		}
	}
	r := NewResolver(repo)

	// Item 1 by its store barcode, item 4 by its UPC.
	for _, tc := range []struct {
		code    string
		storeID int64
	}{{"1234", 1}, {"036000291452", 2}} {
		result, err := r.Resolve(ctx, tc.code, tc.storeID, 0)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.code, err)
		}
		if result.Status != domain.LookupNotFound {
			t.Fatalf("expected %s to be not_found once inactive, got %s", tc.code, result.Status)
		}
	}
}

func TestResolveRejectsEmptyCode(t *testing.T) {
	_, err := NewResolver(memory.NewSeeded()).Resolve(context.Background(), "   ", 1, 0)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type brokenReader struct{ store.PriceReader }

func (brokenReader) FindPriceEntryByBarcode(context.Context, int64, string, int64) (*domain.PriceEntry, error) {
	return nil, errors.New("connection refused")
}

func TestResolveWrapsBackendFailure(t *testing.T) {
	_, err := NewResolver(brokenReader{}).Resolve(context.Background(), "1234", 1, 0)
	if !errors.Is(err, ErrSearch) {
		t.Fatalf("expected ErrSearch, got %v", err)
	}
}
