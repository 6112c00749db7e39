package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(itemID, priceID int64, price string, qty int) domain.TransactionLine {
	p := d(price)
	return domain.TransactionLine{
		ItemID: itemID, PriceEntryID: priceID, Description: fmt.Sprintf("item %d", itemID),
		BasePrice: p, TaxAmount: decimal.Zero, FinalPrice: p,
		LineTotal: p.Mul(decimal.NewFromInt(int64(qty))), Quantity: qty,
	}
}

func newService(repo *memory.Store) *Service {
	return NewService(repo, currency.NewConverter(repo, nil))
}

func record(t *testing.T, repo *memory.Store, number string, storeID int64, status string, at time.Time, lines ...domain.TransactionLine) {
	t.Helper()
	recordIn(t, repo, 1, number, storeID, status, at, lines...)
}

func recordIn(t *testing.T, repo *memory.Store, currencyID int64, number string, storeID int64, status string, at time.Time, lines ...domain.TransactionLine) {
	t.Helper()
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}
	_, err := repo.CreateTransaction(context.Background(), domain.Transaction{
		Number: number, StoreID: storeID, Username: "cashier", CurrencyID: currencyID, Status: status,
		Subtotal: subtotal, Adjustment: decimal.Zero, Total: subtotal, TransactionDate: at, Lines: lines,
	})
	if err != nil {
		t.Fatalf("create transaction %s: %v", number, err)
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize(domain.TransactionFilter{PageSize: 1000})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Page != 1 || got.PageSize != MaxPageSize || got.Sort != domain.SortByDate {
		t.Fatalf("unexpected defaults %+v", got)
	}
	got, _ = Normalize(domain.TransactionFilter{})
	if got.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", got.PageSize)
	}

	bad := []domain.TransactionFilter{
		{Sort: "colour"},
		{Status: "paid"},
		{MinTotal: decimal.NewNullDecimal(d("10")), MaxTotal: decimal.NewNullDecimal(d("5"))},
	}
	for _, f := range bad {
		if _, err := Normalize(f); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", f, err)
		}
	}
}

func TestListPagesAndSorts(t *testing.T) {
	repo := memory.NewSeeded()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= 30; i++ {
		record(t, repo, fmt.Sprintf("TXN-%03d", i), 1, domain.TxStatusCompleted, start.Add(time.Duration(i)*time.Hour), line(1, 1, fmt.Sprintf("%d.00", i), 1))
	}
	svc := newService(repo)

	page, err := svc.List(context.Background(), domain.TransactionFilter{Page: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 30 || len(page.Items) != 5 || page.Items[0].Number != "TXN-026" {
		t.Fatalf("unexpected page: total=%d len=%d first=%+v", page.Total, len(page.Items), page.Items)
	}

	page, err = svc.List(context.Background(), domain.TransactionFilter{Sort: "total", Desc: true, PageSize: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !page.Items[0].Total.Equal(d("30")) || len(page.Items) != 3 {
		t.Fatalf("expected highest total first, got %+v", page.Items[0])
	}

	page, err = svc.List(context.Background(), domain.TransactionFilter{
		MinTotal: decimal.NewNullDecimal(d("10")),
		MaxTotal: decimal.NewNullDecimal(d("12")),
	})
	if err != nil || page.Total != 3 {
		t.Fatalf("expected 3 transactions between 10 and 12, got %d err=%v", page.Total, err)
	}

	page, _ = svc.List(context.Background(), domain.TransactionFilter{Query: "txn-02"})
	if page.Total != 10 {
		t.Fatalf("expected 10 matches for txn-02, got %d", page.Total)
	}

	from := start.Add(29 * time.Hour)
	page, _ = svc.List(context.Background(), domain.TransactionFilter{From: &from})
	if page.Total != 2 {
		t.Fatalf("expected 2 transactions after %s, got %d", from, page.Total)
	}
}

func TestSummary(t *testing.T) {
	repo := memory.NewSeeded()
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	record(t, repo, "A", 1, domain.TxStatusCompleted, at, line(1, 1, "10.00", 3), line(2, 2, "5.00", 1))
	record(t, repo, "B", 2, domain.TxStatusCompleted, at, line(1, 4, "10.00", 1))
	record(t, repo, "C", 1, domain.TxStatusCompleted, at, line(2, 2, "5.00", 2))
	record(t, repo, "D", 1, domain.TxStatusSuspended, at, line(3, 3, "500.00", 9))

	sum, err := newService(repo).Summary(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TransactionCount != 3 || !sum.TotalRevenue.Equal(d("55")) || sum.TotalItemsSold != 7 {
		t.Fatalf("unexpected totals %+v", sum)
	}
	if !sum.AverageTransactionValue.Equal(d("18.33")) {
		t.Fatalf("expected average 18.33, got %s", sum.AverageTransactionValue)
	}
	if len(sum.TopItems) != 2 || sum.TopItems[0].ItemID != 1 || sum.TopItems[0].Quantity != 4 {
		t.Fatalf("unexpected top items %+v", sum.TopItems)
	}
	if sum.StoreRanking[0].StoreID != 1 || sum.StoreRanking[0].Name != "Main Street" || !sum.StoreRanking[0].Revenue.Equal(d("45")) {
		t.Fatalf("unexpected ranking %+v", sum.StoreRanking)
	}
}

func TestSummarizeLimitsTopItems(t *testing.T) {
	var lines []domain.TransactionLine
	for i := int64(1); i <= 15; i++ {
		lines = append(lines, line(i, i, "1.00", int(i)))
	}
	sum, err := Summarize([]domain.Transaction{{StoreID: 1, Total: d("120"), Lines: lines}}, nil, nil)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(sum.TopItems) != TopItemsLimit || sum.TopItems[0].ItemID != 15 {
		t.Fatalf("expected top %d led by item 15, got %+v", TopItemsLimit, sum.TopItems)
	}
}

func TestExportXLSX(t *testing.T) {
	repo := memory.NewSeeded()
	record(t, repo, "TXN-X1", 1, domain.TxStatusCompleted, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), line(1, 1, "23.60", 2))

	var buf bytes.Buffer
	if err := newService(repo).ExportXLSX(context.Background(), domain.TransactionFilter{}, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Transactions" || sheets[1] != "Summary" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	number, err := f.GetCellValue("Transactions", "A2")
	if err != nil || number != "TXN-X1" {
		t.Fatalf("expected TXN-X1 in A2, got %q err=%v", number, err)
	}
	storeName, _ := f.GetCellValue("Transactions", "C2")
	if storeName != "Main Street" {
		t.Fatalf("expected store name, got %q", storeName)
	}
}

func TestSummaryConvertsToBaseCurrency(t *testing.T) {
	repo := memory.NewSeeded()
	at := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	record(t, repo, "USD-1", 1, domain.TxStatusCompleted, at, line(1, 1, "23.60", 1))
	// 3528 JPY at 149.5 per USD.
	recordIn(t, repo, 3, "JPY-1", 1, domain.TxStatusCompleted, at, line(1, 1, "3528", 1))

	svc := newService(repo)
	sum, err := svc.Summary(context.Background(), domain.TransactionFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Currency != "USD" {
		t.Fatalf("expected USD summary, got %q", sum.Currency)
	}
	if !sum.TotalRevenue.Equal(d("47.20")) {
		t.Fatalf("expected 47.20 USD revenue, got %s", sum.TotalRevenue)
	}
	if !sum.AverageTransactionValue.Equal(d("23.60")) {
		t.Fatalf("expected 23.60 average, got %s", sum.AverageTransactionValue)
	}
	if len(sum.TopItems) != 1 || !sum.TopItems[0].Revenue.Equal(d("47.20")) {
		t.Fatalf("expected item revenue in base, got %+v", sum.TopItems)
	}
	if !sum.StoreRanking[0].Revenue.Equal(d("47.20")) {
		t.Fatalf("expected store revenue in base, got %+v", sum.StoreRanking)
	}

	var buf bytes.Buffer
	if err := svc.ExportXLSX(context.Background(), domain.TransactionFilter{Sort: "number"}, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Transactions")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 || rows[0][6] != "Currency" || rows[0][10] != "Base total" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "JPY-1" || rows[1][6] != "JPY" || rows[1][9] != "3528" || rows[1][10] != "23.6" {
		t.Fatalf("unexpected JPY row %v", rows[1])
	}
	if rows[2][6] != "USD" {
		t.Fatalf("unexpected USD row %v", rows[2])
	}
	code, _ := f.GetCellValue("Summary", "B2")
	if code != "USD" {
		t.Fatalf("expected summary currency USD, got %q", code)
	}
}

func TestSummarizeRejectsUnknownCurrency(t *testing.T) {
	currencies := []domain.Currency{{ID: 1, Code: "USD", Factor: d("1"), IsBase: true, DecimalPlaces: 2}}
	_, err := Summarize([]domain.Transaction{{Number: "X", CurrencyID: 9, Total: d("1")}}, nil, currencies)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
