package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM stores
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0, 8)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Active, &st.CreatedAt); err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

func (s *Store) GetStore(ctx context.Context, id int64) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, active, created_at
		FROM stores
		WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Address, &st.Active, &st.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

func (s *Store) CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO stores (name, address, active, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, st.Name, st.Address, st.Active, st.CreatedAt).Scan(&st.ID)
	if err != nil {
		return nil, mapWriteErr(err, "store name", store.ErrInvalidInput)
	}
	return &st, nil
}

func (s *Store) UpdateStore(ctx context.Context, st domain.Store) (*domain.Store, error) {
	err := s.db.QueryRowContext(ctx, `
		UPDATE stores
		SET name = $2, address = $3, active = $4
		WHERE id = $1
		RETURNING created_at
	`, st.ID, st.Name, st.Address, st.Active).Scan(&st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, mapWriteErr(err, "store name", store.ErrInvalidInput)
		}
		return nil, notFound(err)
	}
	return &st, nil
}

const itemColumns = `id, description, title, brand, model, upc, ean, gtin, image_url, tags,
	lowest_price, highest_price, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.CatalogItem, error) {
	var item domain.CatalogItem
	var tags []byte
	if err := row.Scan(&item.ID, &item.Description, &item.Title, &item.Brand, &item.Model,
		&item.UPC, &item.EAN, &item.GTIN, &item.ImageURL, &tags,
		&item.LowestPrice, &item.HighestPrice, &item.Active, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return item, err
	}
	var err error
	item.Tags, err = decodeTags(tags)
	return item, err
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListCatalogItems(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	if limit < 1 {
		limit = 50
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.queryItems(ctx, `SELECT `+itemColumns+` FROM catalog_items ORDER BY id LIMIT $1`, limit)
	}
	pattern := "%" + escapeLike(query) + "%"
	return s.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM catalog_items
		WHERE description ILIKE $1 OR title ILIKE $1 OR brand ILIKE $1 OR model ILIKE $1
			OR upc ILIKE $1 OR ean ILIKE $1 OR gtin ILIKE $1
		ORDER BY id
		LIMIT $2
	`, pattern, limit)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) GetCatalogItem(ctx context.Context, id int64) (*domain.CatalogItem, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) FindCatalogItemsByGlobalCode(ctx context.Context, code string) ([]domain.CatalogItem, error) {
	return s.queryItems(ctx, `
		SELECT `+itemColumns+`
		FROM catalog_items
		WHERE active AND (upc = $1 OR ean = $1 OR gtin = $1)
		ORDER BY id
	`, code)
}

func (s *Store) CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO catalog_items (description, title, brand, model, upc, ean, gtin, image_url, tags,
			lowest_price, highest_price, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		RETURNING id
	`, item.Description, item.Title, item.Brand, item.Model, item.UPC, item.EAN, item.GTIN, item.ImageURL, tags,
		item.LowestPrice, item.HighestPrice, item.Active, now).Scan(&item.ID)
	if err != nil {
		return nil, err
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return &item, nil
}

func (s *Store) UpdateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return nil, err
	}
	item.UpdatedAt = time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		UPDATE catalog_items
		SET description = $2, title = $3, brand = $4, model = $5, upc = $6, ean = $7, gtin = $8,
			image_url = $9, tags = $10, lowest_price = $11, highest_price = $12, active = $13, updated_at = $14
		WHERE id = $1
		RETURNING created_at
	`, item.ID, item.Description, item.Title, item.Brand, item.Model, item.UPC, item.EAN, item.GTIN,
		item.ImageURL, tags, item.LowestPrice, item.HighestPrice, item.Active, item.UpdatedAt).Scan(&item.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return &item, nil
}

// DeleteCatalogItem cascades through price entries, tax associations and
// price history. Items referenced by a transaction line are kept.
func (s *Store) DeleteCatalogItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_items WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: item is referenced by a transaction", store.ErrConflict)
		}
		return err
	}
	return expectAffected(res)
}

const priceColumns = `id, item_id, store_id, barcode, unit, price, currency_id, active, effective_date, updated_at`

func scanPrice(row rowScanner) (domain.PriceEntry, error) {
	var entry domain.PriceEntry
	var price decimal.NullDecimal
	if err := row.Scan(&entry.ID, &entry.ItemID, &entry.StoreID, &entry.Barcode, &entry.Unit, &price,
		&entry.CurrencyID, &entry.Active, &entry.EffectiveDate, &entry.UpdatedAt); err != nil {
		return entry, err
	}
	var err error
	entry.Price, err = money(price, "price_entries", "price")
	return entry, err
}

func (s *Store) findPrice(ctx context.Context, where string, args ...any) (*domain.PriceEntry, error) {
	entry, err := scanPrice(s.db.QueryRowContext(ctx, `
		SELECT `+priceColumns+`
		FROM price_entries
		WHERE active
			AND EXISTS (SELECT 1 FROM catalog_items i WHERE i.id = price_entries.item_id AND i.active)
			AND `+where+`
		ORDER BY id
		LIMIT 1
	`, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *Store) FindPriceEntryByBarcode(ctx context.Context, storeID int64, barcode string, currencyID int64) (*domain.PriceEntry, error) {
	return s.findPrice(ctx, `store_id = $1 AND barcode = $2 AND ($3::bigint = 0 OR currency_id = $3)`, storeID, barcode, currencyID)
}

func (s *Store) FindPriceEntryForItem(ctx context.Context, itemID int64, storeID int64, currencyID int64) (*domain.PriceEntry, error) {
	return s.findPrice(ctx, `item_id = $1 AND store_id = $2 AND ($3::bigint = 0 OR currency_id = $3)`, itemID, storeID, currencyID)
}

func (s *Store) GetPriceEntry(ctx context.Context, id int64) (*domain.PriceEntry, error) {
	entry, err := scanPrice(s.db.QueryRowContext(ctx, `SELECT `+priceColumns+` FROM price_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *Store) ListPriceEntries(ctx context.Context, itemID int64) ([]domain.PriceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+priceColumns+` FROM price_entries WHERE item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.PriceEntry, 0, 8)
	for rows.Next() {
		entry, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CreatePriceEntry writes the entry and its tax associations in one
// database transaction.
func (s *Store) CreatePriceEntry(ctx context.Context, entry domain.PriceEntry, taxIDs []int64) (*domain.PriceEntry, error) {
	pgTx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	if entry.EffectiveDate.IsZero() {
		entry.EffectiveDate = now
	}
	entry.UpdatedAt = now
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO price_entries (item_id, store_id, barcode, unit, price, currency_id, active, effective_date, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, entry.ItemID, entry.StoreID, entry.Barcode, entry.Unit, entry.Price, entry.CurrencyID, entry.Active,
		entry.EffectiveDate, entry.UpdatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, mapWriteErr(err, "price for item, store and currency", store.ErrInvalidInput)
	}
	if err := replaceAssociations(ctx, pgTx, entry.ID, taxIDs, now); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpdatePriceEntry(ctx context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error) {
	entry.UpdatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		UPDATE price_entries
		SET item_id = $2, store_id = $3, barcode = $4, unit = $5, currency_id = $7, active = $8,
			effective_date = CASE WHEN price <> $6 THEN $9 ELSE effective_date END,
			price = $6, updated_at = $9
		WHERE id = $1
		RETURNING effective_date
	`, entry.ID, entry.ItemID, entry.StoreID, entry.Barcode, entry.Unit, entry.Price, entry.CurrencyID,
		entry.Active, entry.UpdatedAt).Scan(&entry.EffectiveDate)
	if err != nil {
		if isUniqueViolation(err) || isForeignKeyViolation(err) {
			return nil, mapWriteErr(err, "price for item, store and currency", store.ErrInvalidInput)
		}
		return nil, notFound(err)
	}
	return &entry, nil
}

func (s *Store) DeletePriceEntry(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (price_entry_id, item_id, store_id, old_price, new_price, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.PriceEntryID, entry.ItemID, entry.StoreID, entry.OldPrice, entry.NewPrice, entry.ChangedBy, entry.ChangedAt)
	return mapWriteErr(err, "price history", store.ErrNotFound)
}

func (s *Store) ListPriceHistory(ctx context.Context, priceEntryID int64, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, price_entry_id, item_id, store_id, old_price, new_price, changed_by, changed_at
		FROM price_history
		WHERE price_entry_id = $1
		ORDER BY changed_at DESC, id DESC
		LIMIT $2
	`, priceEntryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var h domain.PriceHistory
		var oldPrice, newPrice decimal.NullDecimal
		if err := rows.Scan(&h.ID, &h.PriceEntryID, &h.ItemID, &h.StoreID, &oldPrice, &newPrice, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		if h.OldPrice, err = money(oldPrice, "price_history", "old_price"); err != nil {
			return nil, err
		}
		if h.NewPrice, err = money(newPrice, "price_history", "new_price"); err != nil {
			return nil, err
		}
		h.ChangedAt = h.ChangedAt.UTC()
		history = append(history, h)
	}
	return history, rows.Err()
}
