package cart

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/barcode"
	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/store/memory"
	"shoppingbird/backend/internal/tax"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestAssembler(pricing Pricing) (*Assembler, *memory.Store) {
	repo := memory.NewSeeded()
	conv := currency.NewConverter(repo, nil)
	return NewAssembler(repo, barcode.NewResolver(repo), tax.NewCalculator(repo), conv, pricing), repo
}

func scan(t *testing.T, a *Assembler, c domain.Cart, codes ...string) domain.Cart {
	t.Helper()
	for _, code := range codes {
		resp, err := a.Scan(context.Background(), c, code)
		if err != nil {
			t.Fatalf("scan %s: %v", code, err)
		}
		c = resp.Cart
	}
	return c
}

func setPrice(t *testing.T, repo *memory.Store, priceID int64, price string) {
	t.Helper()
	entry, err := repo.GetPriceEntry(context.Background(), priceID)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	entry.Price = d(price)
	if _, err := repo.UpdatePriceEntry(context.Background(), *entry); err != nil {
		t.Fatalf("update price: %v", err)
	}
}

func TestScanSameItemTwiceIncrementsQuantity(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)

	c := scan(t, a, domain.Cart{StoreID: 1}, "1234", "1234")
	if len(c.Lines) != 1 || c.Lines[0].Quantity != 2 {
		t.Fatalf("expected one line with quantity 2, got %+v", c.Lines)
	}
	if c.CurrencyID != 1 || c.Lines[0].Unit != "ea" || c.Lines[0].Barcode != "1234" {
		t.Fatalf("unexpected cart %+v", c)
	}
	totals := Totals(c)
	if !totals.Subtotal.Equal(d("47.20")) || totals.ItemCount != 2 {
		t.Fatalf("expected subtotal 47.20 for 2 items, got %s/%d", totals.Subtotal, totals.ItemCount)
	}
}

func TestScanAppliesTaxes(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)

	c := scan(t, a, domain.Cart{StoreID: 1}, "3001")
	line := c.Lines[0]
	if !line.FinalPrice.Equal(d("114")) || !line.TaxAmount.Equal(d("14")) || len(line.Taxes) != 2 {
		t.Fatalf("unexpected taxed line %+v", line)
	}
	if err := line.Validate(); err != nil {
		t.Fatalf("scanned line must validate: %v", err)
	}
}

func TestScanConvertsIntoCartCurrency(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)

	c := scan(t, a, domain.Cart{StoreID: 1, CurrencyID: 2}, "1234")
	// 23.60 USD * 0.92 = 21.712 EUR
	if !c.Lines[0].BasePrice.Equal(d("21.71")) {
		t.Fatalf("expected 21.71 EUR, got %s", c.Lines[0].BasePrice)
	}
}

func TestScanNotFoundAndUnpriced(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)

	_, err := a.Scan(context.Background(), domain.Cart{StoreID: 2}, "1234")
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	_, err = a.Scan(context.Background(), domain.Cart{StoreID: 1}, "036000291452")
	if !errors.Is(err, ErrItemUnpriced) {
		t.Fatalf("expected ErrItemUnpriced, got %v", err)
	}
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) || lookupErr.Result.Item == nil || lookupErr.Result.Item.ID != 4 {
		t.Fatalf("expected lookup error carrying item 4, got %v", err)
	}
}

func TestUpdateQuantity(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234", "2001")

	updated, err := UpdateQuantity(c, 1, 5)
	if err != nil || updated.Lines[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %+v err=%v", updated.Lines, err)
	}
	if c.Lines[0].Quantity != 1 {
		t.Fatalf("input cart must not be modified")
	}

	removed, err := UpdateQuantity(updated, 1, 0)
	if err != nil || len(removed.Lines) != 1 || removed.Lines[0].ItemID != 2 {
		t.Fatalf("expected item 1 removed, got %+v err=%v", removed.Lines, err)
	}

	if _, err := UpdateQuantity(c, 99, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
}

func TestCheckoutAppliesAdjustment(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234")
	c.Adjustment = d("-5.00")

	tx, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !tx.Total.Equal(d("18.60")) || !tx.Subtotal.Equal(d("23.60")) {
		t.Fatalf("expected total 18.60, got %s (subtotal %s)", tx.Total, tx.Subtotal)
	}
	if tx.Status != domain.TxStatusCompleted || tx.CompletedAt == nil || !strings.HasPrefix(tx.Number, "TXN-") {
		t.Fatalf("unexpected header %+v", tx)
	}

	stored, err := repo.GetTransaction(context.Background(), tx.ID)
	if err != nil || len(stored.Lines) != 1 {
		t.Fatalf("expected persisted transaction with one line, got %+v err=%v", stored, err)
	}
}

func TestCheckoutRejectsForeignPriceEntry(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	ctx := context.Background()

	tests := []struct {
		name string
		cart domain.Cart
	}{
		{"entry of another item", domain.Cart{StoreID: 1, CurrencyID: 1, Lines: []domain.CartLine{{
			ItemID: 3, PriceEntryID: 1, BasePrice: d("0.01"), FinalPrice: d("0.01"), Quantity: 5,
		}}}},
		{"entry of another store", domain.Cart{StoreID: 1, CurrencyID: 1, Lines: []domain.CartLine{{
			ItemID: 1, PriceEntryID: 4, BasePrice: d("24.10"), FinalPrice: d("24.10"), Quantity: 1,
		}}}},
		{"unknown entry", domain.Cart{StoreID: 1, CurrencyID: 1, Lines: []domain.CartLine{{
			ItemID: 1, PriceEntryID: 99, BasePrice: d("1"), FinalPrice: d("1"), Quantity: 1,
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Checkout(ctx, "cashier", domain.CheckoutRequest{Cart: tt.cart})
			if !errors.Is(err, store.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	all, _ := repo.ScanTransactions(ctx, domain.TransactionFilter{})
	if len(all) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(all))
	}
}

func TestCheckoutRepricesClientAmounts(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	// Consistent on its own but far below the catalog price of 100 + 14%.
	c := domain.Cart{StoreID: 1, CurrencyID: 1, Lines: []domain.CartLine{{
		ItemID: 3, PriceEntryID: 3, Description: "cheap", BasePrice: d("0.01"), FinalPrice: d("0.01"), Quantity: 5,
	}}}

	tx, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !tx.Total.Equal(d("570.00")) {
		t.Fatalf("expected catalog total 570.00, got %s", tx.Total)
	}
	line := tx.Lines[0]
	if !line.FinalPrice.Equal(d("114")) || len(line.Taxes) != 2 || line.Description != "Espresso Cups (set of 4)" {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestSuspendRejectsInactiveItem(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	ctx := context.Background()
	c := scan(t, a, domain.Cart{StoreID: 1}, "2001")

	item, err := repo.GetCatalogItem(ctx, 2)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	item.Active = false
	if _, err := repo.UpdateCatalogItem(ctx, *item); err != nil {
		t.Fatalf("deactivate item: %v", err)
	}

	_, err = a.Suspend(ctx, "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 6"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for inactive item, got %v", err)
	}
}

func TestCheckoutIsAtomic(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234")
	bad := c.Lines[0]
	bad.ItemID = 999
	c.Lines = append(c.Lines, bad)

	if _, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected checkout with unknown item to fail, got %v", err)
	}
	all, _ := repo.ScanTransactions(context.Background(), domain.TransactionFilter{})
	if len(all) != 0 {
		t.Fatalf("expected no transaction persisted, got %d", len(all))
	}
}

func TestCheckoutRejectsInconsistentLine(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "3001")
	c.Lines[0].FinalPrice = d("100")

	_, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSuspendResumeKeepsRecordedAmounts(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234", "1234", "3001")

	suspended, err := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 2", Notes: "customer fetching wallet"})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != domain.TxStatusSuspended || suspended.SuspendedAt == nil {
		t.Fatalf("unexpected suspended header %+v", suspended)
	}

	setPrice(t, repo, 1, "30.00")

	resumed, err := a.Resume(context.Background(), suspended.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(resumed.Cart.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(resumed.Cart.Lines))
	}
	first := resumed.Cart.Lines[0]
	if first.Quantity != 2 || !first.BasePrice.Equal(d("23.60")) || first.Barcode != "1234" || first.Unit != "ea" {
		t.Fatalf("unexpected resumed line %+v", first)
	}
	if !resumed.Cart.Lines[1].FinalPrice.Equal(d("114")) {
		t.Fatalf("expected recorded 114, got %s", resumed.Cart.Lines[1].FinalPrice)
	}
	if resumed.Transaction.SessionName != "Lane 2" || resumed.Transaction.Status != domain.TxStatusSuspended {
		t.Fatalf("unexpected header %+v", resumed.Transaction)
	}
	if !resumed.Totals.Subtotal.Equal(d("161.20")) {
		t.Fatalf("expected subtotal 161.20, got %s", resumed.Totals.Subtotal)
	}
}

func TestSuspendRequiresSessionName(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234")

	_, err := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateSuspendedReplacesLines(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234")
	suspended, err := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 1"})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}

	c = scan(t, a, c, "2001")
	updated, err := a.UpdateSuspended(context.Background(), suspended.ID, domain.SuspendRequest{Cart: c, SessionName: "Lane 1b"})
	if err != nil {
		t.Fatalf("update suspended: %v", err)
	}
	if len(updated.Lines) != 2 || updated.SessionName != "Lane 1b" || updated.Number != suspended.Number {
		t.Fatalf("unexpected updated transaction %+v", updated)
	}
	// 23.60 + 4.50 + 6% of 4.50 (0.27)
	if !updated.Total.Equal(d("28.37")) {
		t.Fatalf("expected total 28.37, got %s", updated.Total)
	}
}

func TestCompleteSuspendedPolicies(t *testing.T) {
	for _, tc := range []struct {
		pricing Pricing
		want    string
	}{
		{PricingLocked, "23.60"},
		{PricingReprice, "30.00"},
	} {
		a, repo := newTestAssembler(tc.pricing)
		c := scan(t, a, domain.Cart{StoreID: 1}, "1234")
		suspended, err := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 3"})
		if err != nil {
			t.Fatalf("suspend: %v", err)
		}
		setPrice(t, repo, 1, "30.00")

		completed, err := a.CompleteSuspended(context.Background(), suspended.ID)
		if err != nil {
			t.Fatalf("%s: complete: %v", tc.pricing, err)
		}
		if completed.Status != domain.TxStatusCompleted || completed.CompletedAt == nil {
			t.Fatalf("%s: expected completed, got %+v", tc.pricing, completed)
		}
		if !completed.Total.Equal(d(tc.want)) {
			t.Fatalf("%s: expected total %s, got %s", tc.pricing, tc.want, completed.Total)
		}

		if _, err := a.CompleteSuspended(context.Background(), suspended.ID); !errors.Is(err, store.ErrInvalidState) {
			t.Fatalf("%s: expected second completion to fail with invalid state, got %v", tc.pricing, err)
		}
	}
}

func TestDeleteSuspended(t *testing.T) {
	a, repo := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "3001")
	suspended, err := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 4"})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if err := a.DeleteSuspended(context.Background(), suspended.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetTransaction(context.Background(), suspended.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted transaction to be gone, got %v", err)
	}

	done, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := a.DeleteSuspended(context.Background(), done.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected completed transaction delete to fail, got %v", err)
	}
}

func TestCancelAndRefundTransitions(t *testing.T) {
	a, _ := newTestAssembler(PricingLocked)
	c := scan(t, a, domain.Cart{StoreID: 1}, "1234")

	suspended, _ := a.Suspend(context.Background(), "cashier", domain.SuspendRequest{Cart: c, SessionName: "Lane 5"})
	if _, err := a.Refund(context.Background(), suspended.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected refund of suspended to fail, got %v", err)
	}
	cancelled, err := a.Cancel(context.Background(), suspended.ID)
	if err != nil || cancelled.Status != domain.TxStatusCancelled {
		t.Fatalf("expected cancel of suspended, got %+v err=%v", cancelled, err)
	}

	done, err := a.Checkout(context.Background(), "cashier", domain.CheckoutRequest{Cart: c})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	refunded, err := a.Refund(context.Background(), done.ID)
	if err != nil || refunded.Status != domain.TxStatusRefunded {
		t.Fatalf("expected refund, got %+v err=%v", refunded, err)
	}
	if _, err := a.Cancel(context.Background(), done.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected cancel of refunded to fail, got %v", err)
	}
}
