package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

const txColumns = `id, number, store_id, username, currency_id, status, subtotal, adjustment, total,
	transaction_date, session_name, notes, suspended_at, completed_at, created_at, updated_at`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var subtotal, adjustment, total decimal.NullDecimal
	var suspendedAt, completedAt sql.NullTime
	if err := row.Scan(&tx.ID, &tx.Number, &tx.StoreID, &tx.Username, &tx.CurrencyID, &tx.Status,
		&subtotal, &adjustment, &total, &tx.TransactionDate, &tx.SessionName, &tx.Notes,
		&suspendedAt, &completedAt, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return tx, err
	}
	var err error
	if tx.Subtotal, err = money(subtotal, "transactions", "subtotal"); err != nil {
		return tx, err
	}
	if tx.Adjustment, err = money(adjustment, "transactions", "adjustment"); err != nil {
		return tx, err
	}
	if tx.Total, err = money(total, "transactions", "total"); err != nil {
		return tx, err
	}
	if suspendedAt.Valid {
		at := suspendedAt.Time.UTC()
		tx.SuspendedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		tx.CompletedAt = &at
	}
	tx.TransactionDate = tx.TransactionDate.UTC()
	return tx, nil
}

// CreateTransaction writes header, lines and line taxes in one database
// transaction. A failing line leaves nothing behind.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transactions (number, store_id, username, currency_id, status, subtotal, adjustment, total,
			transaction_date, session_name, notes, suspended_at, completed_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
		RETURNING id
	`, tx.Number, tx.StoreID, tx.Username, tx.CurrencyID, tx.Status, tx.Subtotal, tx.Adjustment, tx.Total,
		tx.TransactionDate, tx.SessionName, tx.Notes, nullTime(tx.SuspendedAt), nullTime(tx.CompletedAt), now).Scan(&tx.ID)
	if err != nil {
		return nil, mapWriteErr(err, "transaction number", store.ErrInvalidInput)
	}
	if err := insertLines(ctx, pgTx, &tx); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func insertLines(ctx context.Context, q queryer, tx *domain.Transaction) error {
	for i := range tx.Lines {
		line := &tx.Lines[i]
		line.TransactionID = tx.ID
		// The price entry, when given, must be the line item's entry at the
		// transaction's store; otherwise no row is inserted.
		err := q.QueryRowContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, position, item_id, price_entry_id, description,
				base_price, tax_amount, final_price, line_total, quantity)
			SELECT $1::bigint, $2::int, $3::bigint, $4::bigint, $5::text,
				$6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::int
			WHERE $4::bigint IS NULL OR EXISTS (
				SELECT 1 FROM price_entries p JOIN transactions t ON t.id = $1
				WHERE p.id = $4 AND p.item_id = $3 AND p.store_id = t.store_id
			)
			RETURNING id
		`, tx.ID, i, line.ItemID, nullID(line.PriceEntryID), line.Description,
			line.BasePrice, line.TaxAmount, line.FinalPrice, line.LineTotal, line.Quantity).Scan(&line.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: line %d: price entry %d is not for item %d at this store", store.ErrInvalidInput, i+1, line.PriceEntryID, line.ItemID)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", i+1, mapWriteErr(err, "transaction line", store.ErrInvalidInput))
		}
		for j := range line.Taxes {
			t := &line.Taxes[j]
			t.LineID = line.ID
			err := q.QueryRowContext(ctx, `
				INSERT INTO transaction_line_taxes (line_id, tax_type_id, name, percentage, amount)
				VALUES ($1,$2,$3,$4,$5)
				RETURNING id
			`, line.ID, t.TaxTypeID, t.Name, t.Percentage, t.Amount).Scan(&t.ID)
			if err != nil {
				return fmt.Errorf("line %d tax %d: %w", i+1, j+1, mapWriteErr(err, "line tax", store.ErrInvalidInput))
			}
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return s.getTransaction(ctx, s.db, id)
}

func (s *Store) getTransaction(ctx context.Context, q queryer, id int64) (*domain.Transaction, error) {
	tx, err := scanTransaction(q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	txs := []domain.Transaction{tx}
	if err := loadLines(ctx, q, txs); err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// loadLines fills the lines and line taxes of txs with two queries.
func loadLines(ctx context.Context, q queryer, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	index := make(map[int64]int, len(txs))
	ids := make([]int64, 0, len(txs))
	for i, tx := range txs {
		index[tx.ID] = i
		ids = append(ids, tx.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, item_id, COALESCE(price_entry_id, 0), description,
			base_price, tax_amount, final_price, line_total, quantity
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, position
	`, ids)
	if err != nil {
		return err
	}
	lineOwner := make(map[int64][2]int)
	for rows.Next() {
		var line domain.TransactionLine
		var base, tax, final, lineTotal decimal.NullDecimal
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ItemID, &line.PriceEntryID, &line.Description,
			&base, &tax, &final, &lineTotal, &line.Quantity); err != nil {
			_ = rows.Close()
			return err
		}
		for _, col := range []struct {
			dst  *decimal.Decimal
			src  decimal.NullDecimal
			name string
		}{
			{&line.BasePrice, base, "base_price"},
			{&line.TaxAmount, tax, "tax_amount"},
			{&line.FinalPrice, final, "final_price"},
			{&line.LineTotal, lineTotal, "line_total"},
		} {
			if *col.dst, err = money(col.src, "transaction_lines", col.name); err != nil {
				_ = rows.Close()
				return err
			}
		}
		i := index[line.TransactionID]
		txs[i].Lines = append(txs[i].Lines, line)
		lineOwner[line.ID] = [2]int{i, len(txs[i].Lines) - 1}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if len(lineOwner) == 0 {
		return nil
	}
	lineIDs := make([]int64, 0, len(lineOwner))
	for id := range lineOwner {
		lineIDs = append(lineIDs, id)
	}
	slices.Sort(lineIDs)

	taxRows, err := q.QueryContext(ctx, `
		SELECT id, line_id, tax_type_id, name, percentage, amount
		FROM transaction_line_taxes
		WHERE line_id = ANY($1)
		ORDER BY line_id, id
	`, lineIDs)
	if err != nil {
		return err
	}
	defer taxRows.Close()
	for taxRows.Next() {
		var t domain.TransactionLineTax
		var pct, amount decimal.NullDecimal
		if err := taxRows.Scan(&t.ID, &t.LineID, &t.TaxTypeID, &t.Name, &pct, &amount); err != nil {
			return err
		}
		if t.Percentage, err = money(pct, "transaction_line_taxes", "percentage"); err != nil {
			return err
		}
		if t.Amount, err = money(amount, "transaction_line_taxes", "amount"); err != nil {
			return err
		}
		owner := lineOwner[t.LineID]
		line := &txs[owner[0]].Lines[owner[1]]
		line.Taxes = append(line.Taxes, t)
	}
	return taxRows.Err()
}

// lockTransaction reads the status of id under a row lock.
func lockTransaction(ctx context.Context, q queryer, id int64) (string, string, error) {
	var number, status string
	err := q.QueryRowContext(ctx, `SELECT number, status FROM transactions WHERE id = $1 FOR UPDATE`, id).Scan(&number, &status)
	if err != nil {
		return "", "", notFound(err)
	}
	return number, status, nil
}

// ReplaceSuspendedTransaction swaps lines and header amounts of a suspended
// transaction. Status may move to completed in the same write.
func (s *Store) ReplaceSuspendedTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	number, status, err := lockTransaction(ctx, pgTx, tx.ID)
	if err != nil {
		return nil, err
	}
	if status != domain.TxStatusSuspended {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, number, status)
	}

	newStatus := domain.TxStatusSuspended
	var completedAt any
	if tx.Status == domain.TxStatusCompleted {
		newStatus = domain.TxStatusCompleted
		completedAt = nullTime(tx.CompletedAt)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET currency_id = $2, subtotal = $3, adjustment = $4, total = $5, session_name = $6, notes = $7,
			status = $8, completed_at = COALESCE($9::timestamptz, completed_at), updated_at = now()
		WHERE id = $1
	`, tx.ID, tx.CurrencyID, tx.Subtotal, tx.Adjustment, tx.Total, tx.SessionName, tx.Notes, newStatus, completedAt); err != nil {
		return nil, mapWriteErr(err, "transaction", store.ErrInvalidInput)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM transaction_lines WHERE transaction_id = $1`, tx.ID); err != nil {
		return nil, err
	}
	if err := insertLines(ctx, pgTx, &tx); err != nil {
		return nil, err
	}
	updated, err := s.getTransaction(ctx, pgTx, tx.ID)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id int64, from []string, to string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	number, status, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, status) {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, number, status)
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, updated_at = $3,
			completed_at = CASE WHEN $2::text = 'completed' THEN $3::timestamptz ELSE completed_at END
		WHERE id = $1
	`, id, to, at); err != nil {
		return nil, err
	}
	updated, err := s.getTransaction(ctx, pgTx, id)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSuspendedTransaction removes line taxes, lines and the header in
// one database transaction.
func (s *Store) DeleteSuspendedTransaction(ctx context.Context, id int64) error {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	number, status, err := lockTransaction(ctx, pgTx, id)
	if err != nil {
		return err
	}
	if status != domain.TxStatusSuspended {
		return fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, number, status)
	}
	for _, stmt := range []string{
		`DELETE FROM transaction_line_taxes WHERE line_id IN (SELECT id FROM transaction_lines WHERE transaction_id = $1)`,
		`DELETE FROM transaction_lines WHERE transaction_id = $1`,
		`DELETE FROM transactions WHERE id = $1`,
	} {
		if _, err := pgTx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}

func (s *Store) ListSuspendedTransactions(ctx context.Context, storeID int64) ([]domain.Transaction, error) {
	txs, err := s.queryTransactions(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE status = 'suspended' AND ($1::bigint = 0 OR store_id = $1)
		ORDER BY COALESCE(suspended_at, created_at) DESC, id DESC
	`, storeID)
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, s.db, txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

var sortColumns = map[string]string{
	domain.SortByDate:   "transaction_date",
	domain.SortByTotal:  "total",
	domain.SortByNumber: "number",
	domain.SortByStore:  "store_id",
}

// filterClause renders filter as a WHERE clause plus ORDER BY. Sort columns
// come from a fixed map, everything else is a bind parameter.
func filterClause(filter domain.TransactionFilter) (string, string, []any) {
	conds := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.From != nil {
		add("transaction_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("transaction_date < $%d", *filter.To)
	}
	if filter.StoreID != 0 {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.Username != "" {
		add("lower(username) = lower($%d)", filter.Username)
	}
	if filter.MinTotal.Valid {
		add("total >= $%d", filter.MinTotal.Decimal)
	}
	if filter.MaxTotal.Valid {
		add("total <= $%d", filter.MaxTotal.Decimal)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		add(`number ILIKE $%d`, "%"+escapeLike(q)+"%")
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	column, ok := sortColumns[filter.Sort]
	if !ok {
		column = sortColumns[domain.SortByDate]
	}
	dir := "ASC"
	if filter.Desc {
		dir = "DESC"
	}
	order := fmt.Sprintf(" ORDER BY %s %s, id %s", column, dir, dir)
	return where, order, args
}

// ListTransactions returns one page of headers, without lines, plus the
// number of matching transactions.
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error) {
	where, order, args := filterClause(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := order
	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		if offset < 0 {
			offset = 0
		}
		args = append(args, filter.PageSize, offset)
		page += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	txs, err := s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions`+where+page, args...)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// ScanTransactions returns every matching transaction with its lines.
func (s *Store) ScanTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	where, order, args := filterClause(filter)
	txs, err := s.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions`+where+order, args...)
	if err != nil {
		return nil, err
	}
	if err := loadLines(ctx, s.db, txs); err != nil {
		return nil, err
	}
	return txs, nil
}
