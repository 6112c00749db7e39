package tax

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateEmptySetUsesDefaultNoTax(t *testing.T) {
	calc := NewCalculator(memory.NewSeeded())
	for _, base := range []string{"0", "1.99", "100", "12345.678"} {
		got, err := calc.Calculate(context.Background(), d(base), nil, 2)
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if !got.FinalPrice.Equal(d(base)) || !got.TotalTaxAmount.IsZero() || !got.UsesDefaultNoTax {
			t.Fatalf("base %s: unexpected breakdown %+v", base, got)
		}
		if len(got.Lines) != 0 {
			t.Fatalf("expected no lines, got %d", len(got.Lines))
		}
	}
}

func TestCalculateIsAdditive(t *testing.T) {
	calc := NewCalculator(memory.NewSeeded())

	got, err := calc.Calculate(context.Background(), d("100"), []int64{1, 2}, 2)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(got.Lines) != 2 || !got.Lines[0].Amount.Equal(d("6")) || !got.Lines[1].Amount.Equal(d("8")) {
		t.Fatalf("expected amounts [6 8], got %+v", got.Lines)
	}
	if !got.FinalPrice.Equal(d("114")) || !got.TotalTaxAmount.Equal(d("14")) {
		t.Fatalf("expected final 114 tax 14, got %s/%s", got.FinalPrice, got.TotalTaxAmount)
	}
	if !got.TotalPercentage.Equal(d("14")) || got.UsesDefaultNoTax {
		t.Fatalf("unexpected percentage/flag: %s %t", got.TotalPercentage, got.UsesDefaultNoTax)
	}
}

func TestCalculateSkipsInactiveAndDuplicates(t *testing.T) {
	calc := NewCalculator(memory.NewSeeded())

	got, err := calc.Calculate(context.Background(), d("50"), []int64{1, 1, 3}, 2)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(got.Lines) != 1 || !got.FinalPrice.Equal(d("53")) {
		t.Fatalf("expected only the active 6%% tax once, got %+v", got)
	}
}

func TestCalculateNoValidTaxes(t *testing.T) {
	calc := NewCalculator(memory.NewSeeded())

	_, err := calc.Calculate(context.Background(), d("10"), []int64{3, 99}, 2)
	if !errors.Is(err, ErrNoValidTaxes) {
		t.Fatalf("expected ErrNoValidTaxes, got %v", err)
	}
}

func TestApplyRoundsEachAmountSoTotalsAgree(t *testing.T) {
	types := []domain.TaxType{
		{ID: 1, Name: "A", Percentage: d("7.25"), Active: true},
		{ID: 2, Name: "B", Percentage: d("2.5"), Active: true},
	}
	got := Apply(d("19.99"), types, 2)

	// 19.99 * 7.25% = 1.449275 -> 1.45, 19.99 * 2.5% = 0.49975 -> 0.50
	if !got.Lines[0].Amount.Equal(d("1.45")) || !got.Lines[1].Amount.Equal(d("0.50")) {
		t.Fatalf("unexpected rounded amounts %+v", got.Lines)
	}
	sum := got.Lines[0].Amount.Add(got.Lines[1].Amount)
	if !sum.Equal(got.TotalTaxAmount) {
		t.Fatalf("breakdown sum %s differs from total %s", sum, got.TotalTaxAmount)
	}
	if !got.FinalPrice.Equal(d("21.94")) {
		t.Fatalf("expected 21.94, got %s", got.FinalPrice)
	}
}

func TestApplyZeroPlaces(t *testing.T) {
	got := Apply(d("1000"), []domain.TaxType{{ID: 1, Percentage: d("8.5"), Active: true}}, 0)
	if !got.TotalTaxAmount.Equal(d("85")) {
		t.Fatalf("expected 85, got %s", got.TotalTaxAmount)
	}
}

func TestForPriceEntryUsesAssociations(t *testing.T) {
	repo := memory.NewSeeded()
	calc := NewCalculator(repo)

	entry, err := repo.GetPriceEntry(context.Background(), 3)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	got, err := calc.ForPriceEntry(context.Background(), *entry, 2)
	if err != nil {
		t.Fatalf("for price entry: %v", err)
	}
	if !got.FinalPrice.Equal(d("114")) {
		t.Fatalf("expected 114, got %s", got.FinalPrice)
	}

	untaxed, _ := repo.GetPriceEntry(context.Background(), 1)
	got, err = calc.ForPriceEntry(context.Background(), *untaxed, 2)
	if err != nil || !got.UsesDefaultNoTax {
		t.Fatalf("expected default no-tax, got %+v err=%v", got, err)
	}
}
