// Package report answers read-only questions over recorded transactions.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
	TopItemsLimit   = 10
)

type Repository interface {
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)
	ScanTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	ListStores(ctx context.Context) ([]domain.Store, error)
}

// Rates lists every currency, inactive ones included, so historic
// transactions can still be brought into the base currency.
type Rates interface {
	List(ctx context.Context) ([]domain.Currency, error)
}

type Service struct {
	repo  Repository
	rates Rates
}

func NewService(repo Repository, rates Rates) *Service {
	return &Service{repo: repo, rates: rates}
}

// Normalize fills paging defaults and rejects filters that cannot match
// anything meaningful.
func Normalize(filter domain.TransactionFilter) (domain.TransactionFilter, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}
	filter.Sort = strings.ToLower(strings.TrimSpace(filter.Sort))
	switch filter.Sort {
	case "":
		filter.Sort = domain.SortByDate
	case domain.SortByDate, domain.SortByTotal, domain.SortByNumber, domain.SortByStore:
	default:
		return filter, fmt.Errorf("%w: unknown sort %q", store.ErrInvalidInput, filter.Sort)
	}
	switch filter.Status {
	case "", domain.TxStatusSuspended, domain.TxStatusCompleted, domain.TxStatusCancelled, domain.TxStatusRefunded:
	default:
		return filter, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, fmt.Errorf("%w: date range ends before it starts", store.ErrInvalidInput)
	}
	if filter.MinTotal.Valid && filter.MaxTotal.Valid && filter.MaxTotal.Decimal.LessThan(filter.MinTotal.Decimal) {
		return filter, fmt.Errorf("%w: max_total is below min_total", store.ErrInvalidInput)
	}
	filter.Query = strings.TrimSpace(filter.Query)
	filter.Username = strings.TrimSpace(filter.Username)
	return filter, nil
}

func (s *Service) List(ctx context.Context, filter domain.TransactionFilter) (domain.TransactionPage, error) {
	filter, err := Normalize(filter)
	if err != nil {
		return domain.TransactionPage{}, err
	}
	items, total, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return domain.TransactionPage{}, fmt.Errorf("list transactions: %w", err)
	}
	if items == nil {
		items = []domain.Transaction{}
	}
	return domain.TransactionPage{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// Summary aggregates every transaction matching filter. Only completed
// transactions count unless the filter names another status.
func (s *Service) Summary(ctx context.Context, filter domain.TransactionFilter) (domain.TransactionSummary, error) {
	ds, err := s.scan(ctx, filter)
	if err != nil {
		return domain.TransactionSummary{}, err
	}
	return Summarize(ds.txs, ds.stores, ds.currencies)
}

type dataset struct {
	txs        []domain.Transaction
	stores     []domain.Store
	currencies []domain.Currency
}

func (s *Service) scan(ctx context.Context, filter domain.TransactionFilter) (dataset, error) {
	if filter.Status == "" {
		filter.Status = domain.TxStatusCompleted
	}
	filter, err := Normalize(filter)
	if err != nil {
		return dataset{}, err
	}
	txs, err := s.repo.ScanTransactions(ctx, filter)
	if err != nil {
		return dataset{}, fmt.Errorf("scan transactions: %w", err)
	}
	stores, err := s.repo.ListStores(ctx)
	if err != nil {
		return dataset{}, fmt.Errorf("list stores: %w", err)
	}
	currencies, err := s.rates.List(ctx)
	if err != nil {
		return dataset{}, fmt.Errorf("list currencies: %w", err)
	}
	return dataset{txs: txs, stores: stores, currencies: currencies}, nil
}

// baseConverter brings transaction amounts into the base currency. Without a
// base currency in the list every amount is taken as already in base.
type baseConverter struct {
	base *domain.Currency
	byID map[int64]domain.Currency
}

func newBaseConverter(currencies []domain.Currency) baseConverter {
	bc := baseConverter{byID: make(map[int64]domain.Currency, len(currencies))}
	for i, cur := range currencies {
		bc.byID[cur.ID] = cur
		if cur.IsBase {
			bc.base = &currencies[i]
		}
	}
	return bc
}

func (bc baseConverter) code() string {
	if bc.base == nil {
		return ""
	}
	return bc.base.Code
}

func (bc baseConverter) places() int32 {
	if bc.base == nil {
		return 2
	}
	return bc.base.DecimalPlaces
}

func (bc baseConverter) toBase(amount decimal.Decimal, currencyID int64) (decimal.Decimal, error) {
	if bc.base == nil || currencyID == 0 || currencyID == bc.base.ID {
		return amount, nil
	}
	from, ok := bc.byID[currencyID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: transaction currency %d is unknown", store.ErrInvalidState, currencyID)
	}
	converted, _, err := currency.Convert(amount, from, *bc.base)
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency %s: %w", from.Code, err)
	}
	return converted.Round(bc.base.DecimalPlaces), nil
}

// Summarize totals txs in the base currency found in currencies.
func Summarize(txs []domain.Transaction, stores []domain.Store, currencies []domain.Currency) (domain.TransactionSummary, error) {
	bc := newBaseConverter(currencies)
	names := make(map[int64]string, len(stores))
	for _, st := range stores {
		names[st.ID] = st.Name
	}

	out := domain.TransactionSummary{
		Currency:                bc.code(),
		TotalRevenue:            decimal.Zero,
		AverageTransactionValue: decimal.Zero,
		TopItems:                []domain.ItemSales{},
		StoreRanking:            []domain.StoreRevenue{},
	}
	items := make(map[int64]*domain.ItemSales)
	byStore := make(map[int64]*domain.StoreRevenue)

	for _, tx := range txs {
		total, err := bc.toBase(tx.Total, tx.CurrencyID)
		if err != nil {
			return domain.TransactionSummary{}, fmt.Errorf("transaction %s: %w", tx.Number, err)
		}
		out.TotalRevenue = out.TotalRevenue.Add(total)
		out.TransactionCount++

		sr, ok := byStore[tx.StoreID]
		if !ok {
			sr = &domain.StoreRevenue{StoreID: tx.StoreID, Name: names[tx.StoreID], Revenue: decimal.Zero}
			byStore[tx.StoreID] = sr
		}
		sr.Revenue = sr.Revenue.Add(total)
		sr.Transactions++

		for _, line := range tx.Lines {
			lineTotal, err := bc.toBase(line.LineTotal, tx.CurrencyID)
			if err != nil {
				return domain.TransactionSummary{}, fmt.Errorf("transaction %s: %w", tx.Number, err)
			}
			out.TotalItemsSold += line.Quantity
			is, ok := items[line.ItemID]
			if !ok {
				is = &domain.ItemSales{ItemID: line.ItemID, Description: line.Description, Revenue: decimal.Zero}
				items[line.ItemID] = is
			}
			is.Quantity += line.Quantity
			is.Revenue = is.Revenue.Add(lineTotal)
		}
	}
	if out.TransactionCount > 0 {
		out.AverageTransactionValue = out.TotalRevenue.DivRound(decimal.NewFromInt(int64(out.TransactionCount)), bc.places())
	}

	for _, is := range items {
		out.TopItems = append(out.TopItems, *is)
	}
	sort.Slice(out.TopItems, func(i, j int) bool {
		a, b := out.TopItems[i], out.TopItems[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.ItemID < b.ItemID
	})
	if len(out.TopItems) > TopItemsLimit {
		out.TopItems = out.TopItems[:TopItemsLimit]
	}

	for _, sr := range byStore {
		out.StoreRanking = append(out.StoreRanking, *sr)
	}
	sort.Slice(out.StoreRanking, func(i, j int) bool {
		a, b := out.StoreRanking[i], out.StoreRanking[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.StoreID < b.StoreID
	})
	return out, nil
}
