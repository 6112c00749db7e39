package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

const taxColumns = `id, name, percentage, active, is_default`

func scanTax(row rowScanner) (domain.TaxType, error) {
	var tax domain.TaxType
	var pct decimal.NullDecimal
	if err := row.Scan(&tax.ID, &tax.Name, &pct, &tax.Active, &tax.IsDefault); err != nil {
		return tax, err
	}
	var err error
	tax.Percentage, err = money(pct, "tax_types", "percentage")
	return tax, err
}

func queryTaxes(ctx context.Context, q queryer, query string, args ...any) ([]domain.TaxType, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taxes := make([]domain.TaxType, 0, 8)
	for rows.Next() {
		tax, err := scanTax(rows)
		if err != nil {
			return nil, err
		}
		taxes = append(taxes, tax)
	}
	return taxes, rows.Err()
}

func (s *Store) ListTaxTypes(ctx context.Context, activeOnly bool) ([]domain.TaxType, error) {
	return queryTaxes(ctx, s.db, `
		SELECT `+taxColumns+`
		FROM tax_types
		WHERE active OR NOT $1
		ORDER BY id
	`, activeOnly)
}

func (s *Store) GetTaxType(ctx context.Context, id int64) (*domain.TaxType, error) {
	tax, err := scanTax(s.db.QueryRowContext(ctx, `SELECT `+taxColumns+` FROM tax_types WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &tax, nil
}

func (s *Store) GetTaxTypesByIDs(ctx context.Context, ids []int64) ([]domain.TaxType, error) {
	if len(ids) == 0 {
		return []domain.TaxType{}, nil
	}
	return queryTaxes(ctx, s.db, `
		SELECT `+taxColumns+`
		FROM tax_types
		WHERE active AND id = ANY($1)
		ORDER BY id
	`, uniqueIDs(ids))
}

func (s *Store) GetDefaultTaxType(ctx context.Context) (*domain.TaxType, error) {
	tax, err := scanTax(s.db.QueryRowContext(ctx, `
		SELECT `+taxColumns+`
		FROM tax_types
		WHERE is_default AND active
	`))
	if err != nil {
		return nil, notFound(err)
	}
	return &tax, nil
}

// CreateTaxType clears any other default in the same transaction when the
// new type is the default.
func (s *Store) CreateTaxType(ctx context.Context, tax domain.TaxType) (*domain.TaxType, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if tax.IsDefault {
		if _, err := pgTx.ExecContext(ctx, `UPDATE tax_types SET is_default = false WHERE is_default`); err != nil {
			return nil, err
		}
	}
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO tax_types (name, percentage, active, is_default)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, tax.Name, tax.Percentage, tax.Active, tax.IsDefault).Scan(&tax.ID)
	if err != nil {
		return nil, mapWriteErr(err, "tax type name", store.ErrInvalidInput)
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tax, nil
}

// UpdateTaxType never sets the default flag; deactivating the default
// clears it.
func (s *Store) UpdateTaxType(ctx context.Context, tax domain.TaxType) (*domain.TaxType, error) {
	updated, err := scanTax(s.db.QueryRowContext(ctx, `
		UPDATE tax_types
		SET name = $2, percentage = $3, active = $4, is_default = is_default AND $4
		WHERE id = $1
		RETURNING `+taxColumns, tax.ID, tax.Name, tax.Percentage, tax.Active))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, mapWriteErr(err, "tax type name", store.ErrInvalidInput)
		}
		return nil, notFound(err)
	}
	return &updated, nil
}

func (s *Store) SetDefaultTaxType(ctx context.Context, id int64) (*domain.TaxType, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	tax, err := scanTax(pgTx.QueryRowContext(ctx, `SELECT `+taxColumns+` FROM tax_types WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if !tax.Active {
		return nil, fmt.Errorf("%w: inactive tax type cannot be the default", store.ErrInvalidState)
	}
	if _, err := pgTx.ExecContext(ctx, `UPDATE tax_types SET is_default = false WHERE is_default AND id <> $1`, id); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `UPDATE tax_types SET is_default = true WHERE id = $1`, id); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	tax.IsDefault = true
	return &tax, nil
}

func (s *Store) ListTaxAssociations(ctx context.Context, priceEntryID int64) ([]domain.TaxAssociation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT price_entry_id, tax_type_id, effective_date
		FROM tax_associations
		WHERE price_entry_id = $1
		ORDER BY tax_type_id
	`, priceEntryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assocs := make([]domain.TaxAssociation, 0, 4)
	for rows.Next() {
		var a domain.TaxAssociation
		if err := rows.Scan(&a.PriceEntryID, &a.TaxTypeID, &a.EffectiveDate); err != nil {
			return nil, err
		}
		assocs = append(assocs, a)
	}
	return assocs, rows.Err()
}

func (s *Store) ReplaceTaxAssociations(ctx context.Context, priceEntryID int64, taxIDs []int64, at time.Time) error {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM price_entries WHERE id = $1)`, priceEntryID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	if err := replaceAssociations(ctx, pgTx, priceEntryID, taxIDs, at); err != nil {
		return err
	}
	return pgTx.Commit()
}

// replaceAssociations swaps the tax set of a price entry. Every id must name
// an active tax type.
func replaceAssociations(ctx context.Context, q queryer, priceEntryID int64, taxIDs []int64, at time.Time) error {
	ids := uniqueIDs(taxIDs)
	if len(ids) > 0 {
		var active int
		if err := q.QueryRowContext(ctx, `
			SELECT count(*) FROM tax_types WHERE active AND id = ANY($1)
		`, ids).Scan(&active); err != nil {
			return err
		}
		if active != len(ids) {
			return fmt.Errorf("%w: unknown or inactive tax type in %v", store.ErrInvalidInput, ids)
		}
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM tax_associations WHERE price_entry_id = $1`, priceEntryID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO tax_associations (price_entry_id, tax_type_id, effective_date)
			VALUES ($1,$2,$3)
		`, priceEntryID, id, at); err != nil {
			return mapWriteErr(err, "tax association", store.ErrInvalidInput)
		}
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
