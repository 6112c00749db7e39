package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/enrich"
	"shoppingbird/backend/internal/store"
)

func (s *Service) SearchCatalogItems(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListCatalogItems(ctx, query, limit)
}

func (s *Service) GetCatalogItem(ctx context.Context, id int64) (domain.CatalogItem, error) {
	item, err := s.repo.GetCatalogItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return *item, nil
}

// LookupProduct asks the external product database about a global code.
func (s *Service) LookupProduct(ctx context.Context, code string) (domain.ProductInfo, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ProductInfo{}, fmt.Errorf("%w: code is required", store.ErrInvalidInput)
	}
	info, err := s.lookup.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, enrich.ErrNoMatch) || errors.Is(err, enrich.ErrDisabled) {
			return domain.ProductInfo{}, fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
		return domain.ProductInfo{}, err
	}
	return *info, nil
}

func (s *Service) CreateCatalogItem(ctx context.Context, req domain.CatalogItemRequest) (domain.CatalogItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CatalogItem{}, err
	}

	if req.Prefill {
		req = s.prefill(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return domain.CatalogItem{}, err
	}

	item := domain.CatalogItem{
		Description: strings.TrimSpace(req.Description),
		Title:       strings.TrimSpace(req.Title),
		Brand:       strings.TrimSpace(req.Brand),
		Model:       strings.TrimSpace(req.Model),
		UPC:         strings.TrimSpace(req.UPC),
		EAN:         strings.TrimSpace(req.EAN),
		GTIN:        strings.TrimSpace(req.GTIN),
		ImageURL:    strings.TrimSpace(req.ImageURL),
		Tags:        normalizeTags(req.Tags),
		Active:      true,
	}
	created, err := s.repo.CreateCatalogItem(ctx, item)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logAudit(ctx, "item_create", "catalog_item", created.ID, fmt.Sprintf("description=%s,prefill=%t", created.Description, req.Prefill))
	return *created, nil
}

// prefill fills empty fields from the first global code that the product
// database knows. Lookup failures never block item creation.
func (s *Service) prefill(ctx context.Context, req domain.CatalogItemRequest) domain.CatalogItemRequest {
	if !s.lookup.Enabled() {
		return req
	}
	for _, code := range []string{req.UPC, req.EAN, req.GTIN} {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		info, err := s.lookup.Lookup(ctx, code)
		if err != nil {
			if !errors.Is(err, enrich.ErrNoMatch) {
				log.Warn().Err(err).Str("code", code).Msg("product prefill failed")
			}
			continue
		}
		return enrich.Prefill(req, *info)
	}
	return req
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (s *Service) UpdateCatalogItem(ctx context.Context, id int64, req domain.CatalogItemUpdateRequest) (domain.CatalogItem, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.CatalogItem{}, err
	}
	existing, err := s.repo.GetCatalogItem(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	updated := *existing
	if req.Description != nil {
		desc := strings.TrimSpace(*req.Description)
		if desc == "" {
			return domain.CatalogItem{}, fmt.Errorf("%w: description must not be empty", store.ErrInvalidInput)
		}
		updated.Description = desc
	}
	for _, field := range []struct {
		src *string
		dst *string
	}{
		{req.Title, &updated.Title},
		{req.Brand, &updated.Brand},
		{req.Model, &updated.Model},
		{req.UPC, &updated.UPC},
		{req.EAN, &updated.EAN},
		{req.GTIN, &updated.GTIN},
		{req.ImageURL, &updated.ImageURL},
	} {
		if field.src != nil {
			*field.dst = strings.TrimSpace(*field.src)
		}
	}
	if req.Tags != nil {
		updated.Tags = normalizeTags(*req.Tags)
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateCatalogItem(ctx, updated)
	if err != nil {
		return domain.CatalogItem{}, err
	}

	s.logAudit(ctx, "item_update", "catalog_item", saved.ID, fmt.Sprintf("description=%s,active=%t", saved.Description, saved.Active))
	return *saved, nil
}

func (s *Service) DeleteCatalogItem(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCatalogItem(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "item_delete", "catalog_item", id, "")
	return nil
}

func (s *Service) ListPrices(ctx context.Context, itemID int64) ([]domain.PriceEntry, error) {
	if _, err := s.repo.GetCatalogItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListPriceEntries(ctx, itemID)
}

// SetPrice prices an item at a store. A nil TaxIDs applies the default tax
// type when one exists.
func (s *Service) SetPrice(ctx context.Context, req domain.PriceRequest) (domain.PriceEntry, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PriceEntry{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.PriceEntry{}, err
	}

	taxIDs := req.TaxIDs
	if taxIDs == nil {
		def, err := s.repo.GetDefaultTaxType(ctx)
		switch {
		case err == nil:
			taxIDs = []int64{def.ID}
		case errors.Is(err, store.ErrNotFound):
			taxIDs = []int64{}
		default:
			return domain.PriceEntry{}, err
		}
	}

	entry := domain.PriceEntry{
		ItemID:     req.ItemID,
		StoreID:    req.StoreID,
		Barcode:    strings.TrimSpace(req.Barcode),
		Unit:       strings.TrimSpace(req.Unit),
		Price:      req.Price,
		CurrencyID: req.CurrencyID,
		Active:     true,
	}
	created, err := s.repo.CreatePriceEntry(ctx, entry, taxIDs)
	if err != nil {
		return domain.PriceEntry{}, err
	}

	s.widenBounds(ctx, *created)
	s.logAudit(ctx, "price_create", "price_entry", created.ID,
		fmt.Sprintf("item=%d,store=%d,price=%s,taxes=%v,by=%s", created.ItemID, created.StoreID, created.Price, taxIDs, actor.Username))
	return *created, nil
}

func (s *Service) UpdatePrice(ctx context.Context, id int64, req domain.PriceUpdateRequest) (domain.PriceEntry, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PriceEntry{}, err
	}
	existing, err := s.repo.GetPriceEntry(ctx, id)
	if err != nil {
		return domain.PriceEntry{}, err
	}

	updated := *existing
	if req.Barcode != nil {
		code := strings.TrimSpace(*req.Barcode)
		if code == "" {
			return domain.PriceEntry{}, fmt.Errorf("%w: barcode must not be empty", store.ErrInvalidInput)
		}
		updated.Barcode = code
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.PriceEntry{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		updated.Price = *req.Price
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdatePriceEntry(ctx, updated)
	if err != nil {
		return domain.PriceEntry{}, err
	}
	if req.TaxIDs != nil {
		if err := s.repo.ReplaceTaxAssociations(ctx, saved.ID, req.TaxIDs, time.Now().UTC()); err != nil {
			return domain.PriceEntry{}, err
		}
	}

	if !existing.Price.Equal(saved.Price) {
		if err := s.repo.CreatePriceHistory(ctx, domain.PriceHistory{
			PriceEntryID: saved.ID,
			ItemID:       saved.ItemID,
			StoreID:      saved.StoreID,
			OldPrice:     existing.Price,
			NewPrice:     saved.Price,
			ChangedBy:    actor.Username,
			ChangedAt:    time.Now().UTC(),
		}); err != nil {
			log.Warn().Err(err).Int64("price_entry", saved.ID).Msg("failed to record price history")
		}
		s.widenBounds(ctx, *saved)
	}

	s.logAudit(ctx, "price_update", "price_entry", saved.ID, fmt.Sprintf("active=%t,price=%s", saved.Active, saved.Price))
	return *saved, nil
}

func (s *Service) DeactivatePrice(ctx context.Context, id int64) (domain.PriceEntry, error) {
	inactive := false
	return s.UpdatePrice(ctx, id, domain.PriceUpdateRequest{Active: &inactive})
}

func (s *Service) DeletePrice(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeletePriceEntry(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "price_delete", "price_entry", id, "")
	return nil
}

func (s *Service) PriceHistory(ctx context.Context, priceEntryID int64, limit int) ([]domain.PriceHistory, error) {
	if _, err := s.repo.GetPriceEntry(ctx, priceEntryID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListPriceHistory(ctx, priceEntryID, limit)
}

// widenBounds keeps the item's lowest/highest price covering every price it
// has had in the base currency.
func (s *Service) widenBounds(ctx context.Context, entry domain.PriceEntry) {
	base, err := s.converter.Base(ctx)
	if err != nil || base.ID != entry.CurrencyID {
		return
	}
	item, err := s.repo.GetCatalogItem(ctx, entry.ItemID)
	if err != nil {
		log.Warn().Err(err).Int64("item", entry.ItemID).Msg("failed to load item for price bounds")
		return
	}
	low, high, changed := widen(item.LowestPrice, item.HighestPrice, entry.Price)
	if !changed {
		return
	}
	item.LowestPrice = low
	item.HighestPrice = high
	if _, err := s.repo.UpdateCatalogItem(ctx, *item); err != nil {
		log.Warn().Err(err).Int64("item", entry.ItemID).Msg("failed to widen price bounds")
	}
}

func widen(low, high decimal.NullDecimal, price decimal.Decimal) (decimal.NullDecimal, decimal.NullDecimal, bool) {
	changed := false
	if !low.Valid || price.LessThan(low.Decimal) {
		low = decimal.NewNullDecimal(price)
		changed = true
	}
	if !high.Valid || price.GreaterThan(high.Decimal) {
		high = decimal.NewNullDecimal(price)
		changed = true
	}
	return low, high, changed
}

func (s *Service) ListTaxAssociations(ctx context.Context, priceEntryID int64) ([]domain.TaxAssociation, error) {
	if _, err := s.repo.GetPriceEntry(ctx, priceEntryID); err != nil {
		return nil, err
	}
	return s.repo.ListTaxAssociations(ctx, priceEntryID)
}

// ReplaceTaxAssociations swaps the tax set of a price entry. An empty set
// means the entry is not taxed.
func (s *Service) ReplaceTaxAssociations(ctx context.Context, priceEntryID int64, req domain.TaxAssociationRequest) ([]domain.TaxAssociation, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceTaxAssociations(ctx, priceEntryID, req.TaxIDs, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.logAudit(ctx, "tax_association_replace", "price_entry", priceEntryID, fmt.Sprintf("taxes=%v", req.TaxIDs))
	return s.repo.ListTaxAssociations(ctx, priceEntryID)
}
