package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

// CreateTransaction stores header, lines and line taxes. Every reference is
// checked before anything is written, so a bad line leaves no header behind.
func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkTransactionLocked(tx); err != nil {
		return nil, err
	}
	for _, existing := range s.transactions {
		if existing.Number == tx.Number {
			return nil, fmt.Errorf("%w: transaction number %s already used", store.ErrConflict, tx.Number)
		}
	}

	now := time.Now().UTC()
	tx.ID = s.next("transaction")
	tx.CreatedAt = now
	tx.UpdatedAt = now
	s.assignLineIDsLocked(&tx)
	s.transactions[tx.ID] = cloneTransaction(&tx)
	return cloneTransaction(&tx), nil
}

func (s *Store) checkTransactionLocked(tx domain.Transaction) error {
	if _, ok := s.stores[tx.StoreID]; !ok {
		return fmt.Errorf("%w: unknown store %d", store.ErrInvalidInput, tx.StoreID)
	}
	if _, ok := s.currencies[tx.CurrencyID]; !ok {
		return fmt.Errorf("%w: unknown currency %d", store.ErrInvalidInput, tx.CurrencyID)
	}
	for i, line := range tx.Lines {
		if _, ok := s.items[line.ItemID]; !ok {
			return fmt.Errorf("%w: line %d: unknown item %d", store.ErrInvalidInput, i+1, line.ItemID)
		}
		if line.PriceEntryID != 0 {
			entry, ok := s.prices[line.PriceEntryID]
			if !ok {
				return fmt.Errorf("%w: line %d: unknown price entry %d", store.ErrInvalidInput, i+1, line.PriceEntryID)
			}
			if entry.ItemID != line.ItemID || entry.StoreID != tx.StoreID {
				return fmt.Errorf("%w: line %d: price entry %d is not for item %d at store %d", store.ErrInvalidInput, i+1, entry.ID, line.ItemID, tx.StoreID)
			}
		}
		for _, t := range line.Taxes {
			if _, ok := s.taxTypes[t.TaxTypeID]; !ok {
				return fmt.Errorf("%w: line %d: unknown tax type %d", store.ErrInvalidInput, i+1, t.TaxTypeID)
			}
		}
	}
	return nil
}

func (s *Store) assignLineIDsLocked(tx *domain.Transaction) {
	for i := range tx.Lines {
		line := &tx.Lines[i]
		line.ID = s.next("transaction_line")
		line.TransactionID = tx.ID
		for j := range line.Taxes {
			line.Taxes[j].ID = s.next("transaction_line_tax")
			line.Taxes[j].LineID = line.ID
		}
	}
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// ReplaceSuspendedTransaction swaps the lines and header amounts of a
// suspended transaction. Status may move to completed in the same write.
func (s *Store) ReplaceSuspendedTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.transactions[tx.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if existing.Status != domain.TxStatusSuspended {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, existing.Number, existing.Status)
	}
	if err := s.checkTransactionLocked(tx); err != nil {
		return nil, err
	}

	updated := cloneTransaction(existing)
	updated.CurrencyID = tx.CurrencyID
	updated.Subtotal = tx.Subtotal
	updated.Adjustment = tx.Adjustment
	updated.Total = tx.Total
	updated.SessionName = tx.SessionName
	updated.Notes = tx.Notes
	updated.UpdatedAt = time.Now().UTC()
	if tx.Status == domain.TxStatusCompleted {
		updated.Status = domain.TxStatusCompleted
		updated.CompletedAt = tx.CompletedAt
	}
	updated.Lines = cloneTransaction(&tx).Lines
	s.assignLineIDsLocked(updated)
	s.transactions[tx.ID] = updated
	return cloneTransaction(updated), nil
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id int64, from []string, to string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(from, tx.Status) {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, tx.Number, tx.Status)
	}
	tx.Status = to
	tx.UpdatedAt = at
	if to == domain.TxStatusCompleted {
		completed := at
		tx.CompletedAt = &completed
	}
	return cloneTransaction(tx), nil
}

func (s *Store) DeleteSuspendedTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Status != domain.TxStatusSuspended {
		return fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, tx.Number, tx.Status)
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListSuspendedTransactions(_ context.Context, storeID int64) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if tx.Status != domain.TxStatusSuspended || (storeID != 0 && tx.StoreID != storeID) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	sort.Slice(result, func(i, j int) bool {
		return suspendedTime(result[i]).After(suspendedTime(result[j]))
	})
	return result, nil
}

func suspendedTime(tx domain.Transaction) time.Time {
	if tx.SuspendedAt != nil {
		return *tx.SuspendedAt
	}
	return tx.CreatedAt
}

// ListTransactions returns one page of headers, without lines, plus the
// number of transactions matching the filter.
func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.filterLocked(filter)
	total := len(matched)
	offset := (filter.Page - 1) * filter.PageSize
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Transaction{}, total, nil
	}
	end := total
	if filter.PageSize > 0 && offset+filter.PageSize < end {
		end = offset + filter.PageSize
	}
	page := make([]domain.Transaction, 0, end-offset)
	for _, tx := range matched[offset:end] {
		tx.Lines = nil
		page = append(page, tx)
	}
	return page, total, nil
}

func (s *Store) ScanTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterLocked(filter), nil
}

func (s *Store) filterLocked(filter domain.TransactionFilter) []domain.Transaction {
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	result := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if filter.From != nil && tx.TransactionDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !tx.TransactionDate.Before(*filter.To) {
			continue
		}
		if filter.StoreID != 0 && tx.StoreID != filter.StoreID {
			continue
		}
		if filter.Username != "" && !strings.EqualFold(tx.Username, filter.Username) {
			continue
		}
		if filter.MinTotal.Valid && tx.Total.LessThan(filter.MinTotal.Decimal) {
			continue
		}
		if filter.MaxTotal.Valid && tx.Total.GreaterThan(filter.MaxTotal.Decimal) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(tx.Number), query) {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}

	less := func(a, b domain.Transaction) int {
		switch filter.Sort {
		case domain.SortByTotal:
			return a.Total.Cmp(b.Total)
		case domain.SortByNumber:
			return strings.Compare(a.Number, b.Number)
		case domain.SortByStore:
			return cmpInt64(a.StoreID, b.StoreID)
		default:
			return a.TransactionDate.Compare(b.TransactionDate)
		}
	}
	slices.SortStableFunc(result, func(a, b domain.Transaction) int {
		c := less(a, b)
		if c == 0 {
			c = cmpInt64(a.ID, b.ID)
		}
		if filter.Desc {
			return -c
		}
		return c
	})
	return result
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	cloned := *src
	cloned.Lines = make([]domain.TransactionLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Taxes = slices.Clone(line.Taxes)
		cloned.Lines[i] = line
	}
	return &cloned
}
