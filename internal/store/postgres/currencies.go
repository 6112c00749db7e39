package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

const currencyColumns = `id, code, name, symbol, decimal_places, factor, is_base, active`

func scanCurrency(row rowScanner) (domain.Currency, error) {
	var cur domain.Currency
	var factor decimal.NullDecimal
	if err := row.Scan(&cur.ID, &cur.Code, &cur.Name, &cur.Symbol, &cur.DecimalPlaces, &factor, &cur.IsBase, &cur.Active); err != nil {
		return cur, err
	}
	var err error
	cur.Factor, err = money(factor, "currencies", "factor")
	return cur, err
}

func (s *Store) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+currencyColumns+` FROM currencies ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]domain.Currency, 0, 8)
	for rows.Next() {
		cur, err := scanCurrency(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, cur)
	}
	return list, rows.Err()
}

func (s *Store) getCurrency(ctx context.Context, q queryer, where string, args ...any) (*domain.Currency, error) {
	cur, err := scanCurrency(q.QueryRowContext(ctx, `SELECT `+currencyColumns+` FROM currencies WHERE `+where, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return &cur, nil
}

func (s *Store) GetCurrency(ctx context.Context, id int64) (*domain.Currency, error) {
	return s.getCurrency(ctx, s.db, `id = $1`, id)
}

func (s *Store) GetCurrencyByCode(ctx context.Context, code string) (*domain.Currency, error) {
	return s.getCurrency(ctx, s.db, `upper(code) = upper($1)`, code)
}

func (s *Store) GetBaseCurrency(ctx context.Context) (*domain.Currency, error) {
	return s.getCurrency(ctx, s.db, `is_base AND active`)
}

func (s *Store) CreateCurrency(ctx context.Context, cur domain.Currency) (*domain.Currency, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO currencies (code, name, symbol, decimal_places, factor, is_base, active)
		VALUES ($1,$2,$3,$4,$5,false,$6)
		RETURNING id
	`, cur.Code, cur.Name, cur.Symbol, cur.DecimalPlaces, cur.Factor, cur.Active).Scan(&cur.ID)
	if err != nil {
		return nil, mapWriteErr(err, "currency code", store.ErrInvalidInput)
	}
	if cur.IsBase {
		if err := rebase(ctx, pgTx, cur.ID); err != nil {
			return nil, err
		}
	}
	created, err := s.getCurrency(ctx, pgTx, `id = $1`, cur.ID)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

// UpdateCurrency keeps the code. Turning the base flag on rebases every
// other factor in the same transaction.
func (s *Store) UpdateCurrency(ctx context.Context, cur domain.Currency) (*domain.Currency, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := s.getCurrency(ctx, pgTx, `id = $1 FOR UPDATE`, cur.ID)
	if err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `
		UPDATE currencies
		SET name = $2, symbol = $3, decimal_places = $4, factor = $5, active = $6,
			is_base = is_base AND $7
		WHERE id = $1
	`, cur.ID, cur.Name, cur.Symbol, cur.DecimalPlaces, cur.Factor, cur.Active, cur.IsBase); err != nil {
		return nil, err
	}
	if cur.IsBase && !existing.IsBase {
		if err := rebase(ctx, pgTx, cur.ID); err != nil {
			return nil, err
		}
	}
	updated, err := s.getCurrency(ctx, pgTx, `id = $1`, cur.ID)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) SetBaseCurrency(ctx context.Context, id int64) (*domain.Currency, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	cur, err := s.getCurrency(ctx, pgTx, `id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, err
	}
	if !cur.Active {
		return nil, fmt.Errorf("%w: inactive currency cannot be the base", store.ErrInvalidState)
	}
	if err := rebase(ctx, pgTx, id); err != nil {
		return nil, err
	}
	updated, err := s.getCurrency(ctx, pgTx, `id = $1`, id)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// rebase makes id the only base currency. The old base flag is cleared
// before the new one is set so the single-base index never sees two rows.
func rebase(ctx context.Context, q queryer, id int64) error {
	var pivot decimal.NullDecimal
	if err := q.QueryRowContext(ctx, `SELECT factor FROM currencies WHERE id = $1`, id).Scan(&pivot); err != nil {
		return notFound(err)
	}
	factor, err := money(pivot, "currencies", "factor")
	if err != nil {
		return err
	}
	if !factor.IsPositive() {
		return fmt.Errorf("%w: currency %d has a non-positive factor", store.ErrMalformedRow, id)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE currencies
		SET is_base = false, factor = round(factor / $2, 10)
		WHERE id <> $1
	`, id, factor); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE currencies SET is_base = true, factor = 1 WHERE id = $1`, id)
	return err
}

func (s *Store) UpdateExchangeRates(ctx context.Context, factors map[int64]decimal.Decimal) error {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	one := decimal.NewFromInt(1)
	for id, factor := range factors {
		var isBase bool
		if err := pgTx.QueryRowContext(ctx, `SELECT is_base FROM currencies WHERE id = $1 FOR UPDATE`, id).Scan(&isBase); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: currency %d", store.ErrNotFound, id)
			}
			return err
		}
		if isBase && !factor.Equal(one) {
			return fmt.Errorf("%w: base currency factor is fixed at 1", store.ErrInvalidState)
		}
		if _, err := pgTx.ExecContext(ctx, `UPDATE currencies SET factor = $2 WHERE id = $1`, id, factor); err != nil {
			return err
		}
	}
	return pgTx.Commit()
}
