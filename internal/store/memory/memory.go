package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	seq map[string]int64

	stores       map[int64]domain.Store
	items        map[int64]domain.CatalogItem
	prices       map[int64]domain.PriceEntry
	priceHistory []domain.PriceHistory
	taxTypes     map[int64]domain.TaxType
	taxAssocs    map[int64][]domain.TaxAssociation
	currencies   map[int64]domain.Currency
	transactions map[int64]*domain.Transaction
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount
}

// New returns an empty store. Most callers want NewSeeded.
func New() *Store {
	return &Store{
		seq:          make(map[string]int64),
		stores:       make(map[int64]domain.Store),
		items:        make(map[int64]domain.CatalogItem),
		prices:       make(map[int64]domain.PriceEntry),
		taxTypes:     make(map[int64]domain.TaxType),
		taxAssocs:    make(map[int64][]domain.TaxAssociation),
		currencies:   make(map[int64]domain.Currency),
		transactions: make(map[int64]*domain.Transaction),
		auditLogs:    make([]domain.AuditLog, 0, 128),
		users:        make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; when
// unset, dev defaults are used and a warning is logged.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewSeeded returns a store with two shops, a small catalog, three
// currencies (USD base) and a handful of tax types.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, st := range []domain.Store{
		{Name: "Main Street", Address: "12 Main Street"},
		{Name: "Harbor Mall", Address: "Harbor Mall, Unit 4"},
	} {
		st.ID = s.next("store")
		st.Active = true
		st.CreatedAt = now
		s.stores[st.ID] = st
	}

	for _, cur := range []domain.Currency{
		{Code: "USD", Name: "US Dollar", Symbol: "$", DecimalPlaces: 2, Factor: decimal.NewFromInt(1), IsBase: true},
		{Code: "EUR", Name: "Euro", Symbol: "€", DecimalPlaces: 2, Factor: dec("0.92")},
		{Code: "JPY", Name: "Japanese Yen", Symbol: "¥", DecimalPlaces: 0, Factor: dec("149.5")},
	} {
		cur.ID = s.next("currency")
		cur.Active = true
		s.currencies[cur.ID] = cur
	}

	for _, tax := range []domain.TaxType{
		{Name: "State Sales Tax", Percentage: dec("6"), Active: true, IsDefault: true},
		{Name: "City Tax", Percentage: dec("8"), Active: true},
		{Name: "Luxury Tax", Percentage: dec("10"), Active: false},
	} {
		tax.ID = s.next("tax")
		s.taxTypes[tax.ID] = tax
	}

	for _, item := range []domain.CatalogItem{
		{Description: "Organic Coffee Beans 2lb", Brand: "Roastery Co", UPC: "012345678905", Tags: []string{"coffee"}},
		{Description: "Sourdough Bread", Brand: "Bakehouse", EAN: "0049000006346", Tags: []string{"bakery"}},
		{Description: "Espresso Cups (set of 4)", Brand: "Kiln", GTIN: "00812345000018", Tags: []string{"kitchen"}},
		{Description: "Sparkling Water 1L", Brand: "Springs", UPC: "036000291452", Tags: []string{"beverage"}},
	} {
		item.ID = s.next("item")
		item.Active = true
		item.CreatedAt = now
		item.UpdatedAt = now
		s.items[item.ID] = item
	}

	for _, seed := range []struct {
		entry  domain.PriceEntry
		taxIDs []int64
	}{
		{domain.PriceEntry{ItemID: 1, StoreID: 1, Barcode: "1234", Unit: "ea", Price: dec("23.60"), CurrencyID: 1}, nil},
		{domain.PriceEntry{ItemID: 2, StoreID: 1, Barcode: "2001", Unit: "ea", Price: dec("4.50"), CurrencyID: 1}, []int64{1}},
		{domain.PriceEntry{ItemID: 3, StoreID: 1, Barcode: "3001", Unit: "set", Price: dec("100.00"), CurrencyID: 1}, []int64{1, 2}},
		{domain.PriceEntry{ItemID: 1, StoreID: 2, Barcode: "9001", Unit: "ea", Price: dec("24.10"), CurrencyID: 1}, nil},
		{domain.PriceEntry{ItemID: 3, StoreID: 2, Barcode: "9003", Unit: "set", Price: dec("99.00"), CurrencyID: 1}, []int64{1}},
		{domain.PriceEntry{ItemID: 3, StoreID: 2, Barcode: "9003", Unit: "set", Price: dec("91.00"), CurrencyID: 2}, nil},
		{domain.PriceEntry{ItemID: 4, StoreID: 2, Barcode: "9004", Unit: "btl", Price: dec("1.25"), CurrencyID: 1}, nil},
	} {
		entry := seed.entry
		entry.ID = s.next("price")
		entry.Active = true
		entry.EffectiveDate = now
		entry.UpdatedAt = now
		s.prices[entry.ID] = entry
		s.setAssocsLocked(entry.ID, seed.taxIDs, now)
		if entry.CurrencyID == 1 {
			s.widenBoundsLocked(entry.ItemID, entry.Price)
		}
	}

	s.users = seedUsers()
	return s
}

func (s *Store) next(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetStore(_ context.Context, id int64) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) CreateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.stores {
		if strings.EqualFold(existing.Name, st.Name) {
			return nil, fmt.Errorf("%w: store name already exists", store.ErrConflict)
		}
	}
	st.ID = s.next("store")
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	s.stores[st.ID] = st
	return &st, nil
}

func (s *Store) UpdateStore(_ context.Context, st domain.Store) (*domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.stores[st.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	st.CreatedAt = existing.CreatedAt
	s.stores[st.ID] = st
	return &st, nil
}

func (s *Store) ListCatalogItems(_ context.Context, query string, limit int) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.CatalogItem, 0)
	for _, item := range s.items {
		if query != "" && !itemMatches(item, query) {
			continue
		}
		result = append(result, cloneItem(item))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func itemMatches(item domain.CatalogItem, query string) bool {
	for _, field := range []string{item.Description, item.Title, item.Brand, item.Model, item.UPC, item.EAN, item.GTIN} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func (s *Store) GetCatalogItem(_ context.Context, id int64) (*domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	item = cloneItem(item)
	return &item, nil
}

func (s *Store) CreateCatalogItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	item.ID = s.next("item")
	item.CreatedAt = now
	item.UpdatedAt = now
	item = cloneItem(item)
	s.items[item.ID] = item
	return &item, nil
}

func (s *Store) UpdateCatalogItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	item = cloneItem(item)
	s.items[item.ID] = item
	return &item, nil
}

// DeleteCatalogItem removes the item together with its price entries and
// their tax associations. Items referenced by a transaction stay.
func (s *Store) DeleteCatalogItem(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	for _, tx := range s.transactions {
		for _, line := range tx.Lines {
			if line.ItemID == id {
				return fmt.Errorf("%w: item is referenced by transaction %s", store.ErrConflict, tx.Number)
			}
		}
	}
	for priceID, entry := range s.prices {
		if entry.ItemID == id {
			delete(s.prices, priceID)
			delete(s.taxAssocs, priceID)
		}
	}
	s.priceHistory = slices.DeleteFunc(s.priceHistory, func(h domain.PriceHistory) bool { return h.ItemID == id })
	delete(s.items, id)
	return nil
}

func (s *Store) FindCatalogItemsByGlobalCode(_ context.Context, code string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CatalogItem, 0, 1)
	for _, item := range s.items {
		if !item.Active {
			continue
		}
		if item.UPC == code || item.EAN == code || item.GTIN == code {
			result = append(result, cloneItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) FindPriceEntryByBarcode(_ context.Context, storeID int64, barcode string, currencyID int64) (*domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findPriceLocked(func(e domain.PriceEntry) bool {
		return e.StoreID == storeID && e.Barcode == barcode && (currencyID == 0 || e.CurrencyID == currencyID)
	})
}

func (s *Store) FindPriceEntryForItem(_ context.Context, itemID int64, storeID int64, currencyID int64) (*domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.findPriceLocked(func(e domain.PriceEntry) bool {
		return e.ItemID == itemID && e.StoreID == storeID && (currencyID == 0 || e.CurrencyID == currencyID)
	})
}

// findPriceLocked returns the active entry with the lowest id that matches.
// Entries of inactive items never match.
func (s *Store) findPriceLocked(match func(domain.PriceEntry) bool) (*domain.PriceEntry, error) {
	var found *domain.PriceEntry
	for _, entry := range s.prices {
		if !entry.Active || !s.items[entry.ItemID].Active || !match(entry) {
			continue
		}
		if found == nil || entry.ID < found.ID {
			e := entry
			found = &e
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) GetPriceEntry(_ context.Context, id int64) (*domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.prices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) ListPriceEntries(_ context.Context, itemID int64) ([]domain.PriceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PriceEntry, 0)
	for _, entry := range s.prices {
		if entry.ItemID == itemID {
			result = append(result, entry)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreatePriceEntry(_ context.Context, entry domain.PriceEntry, taxIDs []int64) (*domain.PriceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPriceRefsLocked(entry); err != nil {
		return nil, err
	}
	if err := s.checkTaxIDsLocked(taxIDs); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry.ID = s.next("price")
	if entry.EffectiveDate.IsZero() {
		entry.EffectiveDate = now
	}
	entry.UpdatedAt = now
	s.prices[entry.ID] = entry
	s.setAssocsLocked(entry.ID, taxIDs, now)
	return &entry, nil
}

func (s *Store) UpdatePriceEntry(_ context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.prices[entry.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkPriceRefsLocked(entry); err != nil {
		return nil, err
	}
	entry.EffectiveDate = existing.EffectiveDate
	if !existing.Price.Equal(entry.Price) {
		entry.EffectiveDate = time.Now().UTC()
	}
	entry.UpdatedAt = time.Now().UTC()
	s.prices[entry.ID] = entry
	return &entry, nil
}

func (s *Store) checkPriceRefsLocked(entry domain.PriceEntry) error {
	if _, ok := s.items[entry.ItemID]; !ok {
		return fmt.Errorf("%w: unknown item %d", store.ErrInvalidInput, entry.ItemID)
	}
	if _, ok := s.stores[entry.StoreID]; !ok {
		return fmt.Errorf("%w: unknown store %d", store.ErrInvalidInput, entry.StoreID)
	}
	if _, ok := s.currencies[entry.CurrencyID]; !ok {
		return fmt.Errorf("%w: unknown currency %d", store.ErrInvalidInput, entry.CurrencyID)
	}
	for _, other := range s.prices {
		if other.ID != entry.ID && other.ItemID == entry.ItemID && other.StoreID == entry.StoreID && other.CurrencyID == entry.CurrencyID {
			return fmt.Errorf("%w: item already priced at this store in this currency", store.ErrConflict)
		}
	}
	return nil
}

func (s *Store) DeletePriceEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.prices, id)
	delete(s.taxAssocs, id)
	return nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.next("price_history")
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistory = append(s.priceHistory, entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, priceEntryID int64, limit int) ([]domain.PriceHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 50
	}
	result := make([]domain.PriceHistory, 0)
	for i := len(s.priceHistory) - 1; i >= 0 && len(result) < limit; i-- {
		if s.priceHistory[i].PriceEntryID == priceEntryID {
			result = append(result, s.priceHistory[i])
		}
	}
	return result, nil
}

func (s *Store) widenBoundsLocked(itemID int64, price decimal.Decimal) {
	item, ok := s.items[itemID]
	if !ok {
		return
	}
	if !item.LowestPrice.Valid || price.LessThan(item.LowestPrice.Decimal) {
		item.LowestPrice = decimal.NewNullDecimal(price)
	}
	if !item.HighestPrice.Valid || price.GreaterThan(item.HighestPrice.Decimal) {
		item.HighestPrice = decimal.NewNullDecimal(price)
	}
	s.items[itemID] = item
}

func (s *Store) ListTaxTypes(_ context.Context, activeOnly bool) ([]domain.TaxType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TaxType, 0, len(s.taxTypes))
	for _, tax := range s.taxTypes {
		if activeOnly && !tax.Active {
			continue
		}
		result = append(result, tax)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetTaxType(_ context.Context, id int64) (*domain.TaxType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tax, ok := s.taxTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tax, nil
}

func (s *Store) GetTaxTypesByIDs(_ context.Context, ids []int64) ([]domain.TaxType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{}, len(ids))
	result := make([]domain.TaxType, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if tax, ok := s.taxTypes[id]; ok && tax.Active {
			result = append(result, tax)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateTaxType(_ context.Context, tax domain.TaxType) (*domain.TaxType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.taxTypes {
		if strings.EqualFold(existing.Name, tax.Name) {
			return nil, fmt.Errorf("%w: tax type name already exists", store.ErrConflict)
		}
	}
	tax.ID = s.next("tax")
	if tax.IsDefault {
		s.clearDefaultTaxLocked()
	}
	s.taxTypes[tax.ID] = tax
	return &tax, nil
}

func (s *Store) UpdateTaxType(_ context.Context, tax domain.TaxType) (*domain.TaxType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.taxTypes[tax.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, other := range s.taxTypes {
		if other.ID != tax.ID && strings.EqualFold(other.Name, tax.Name) {
			return nil, fmt.Errorf("%w: tax type name already exists", store.ErrConflict)
		}
	}
	tax.IsDefault = existing.IsDefault && tax.Active
	s.taxTypes[tax.ID] = tax
	return &tax, nil
}

func (s *Store) SetDefaultTaxType(_ context.Context, id int64) (*domain.TaxType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tax, ok := s.taxTypes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !tax.Active {
		return nil, fmt.Errorf("%w: inactive tax type cannot be the default", store.ErrInvalidState)
	}
	s.clearDefaultTaxLocked()
	tax.IsDefault = true
	s.taxTypes[id] = tax
	return &tax, nil
}

func (s *Store) clearDefaultTaxLocked() {
	for id, tax := range s.taxTypes {
		if tax.IsDefault {
			tax.IsDefault = false
			s.taxTypes[id] = tax
		}
	}
}

func (s *Store) GetDefaultTaxType(_ context.Context) (*domain.TaxType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tax := range s.taxTypes {
		if tax.IsDefault && tax.Active {
			return &tax, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListTaxAssociations(_ context.Context, priceEntryID int64) ([]domain.TaxAssociation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.taxAssocs[priceEntryID]), nil
}

func (s *Store) ReplaceTaxAssociations(_ context.Context, priceEntryID int64, taxIDs []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[priceEntryID]; !ok {
		return store.ErrNotFound
	}
	if err := s.checkTaxIDsLocked(taxIDs); err != nil {
		return err
	}
	s.setAssocsLocked(priceEntryID, taxIDs, at)
	return nil
}

func (s *Store) checkTaxIDsLocked(taxIDs []int64) error {
	for _, id := range taxIDs {
		tax, ok := s.taxTypes[id]
		if !ok || !tax.Active {
			return fmt.Errorf("%w: unknown or inactive tax type %d", store.ErrInvalidInput, id)
		}
	}
	return nil
}

func (s *Store) setAssocsLocked(priceEntryID int64, taxIDs []int64, at time.Time) {
	assocs := make([]domain.TaxAssociation, 0, len(taxIDs))
	seen := make(map[int64]struct{}, len(taxIDs))
	for _, id := range taxIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		assocs = append(assocs, domain.TaxAssociation{PriceEntryID: priceEntryID, TaxTypeID: id, EffectiveDate: at})
	}
	if len(assocs) == 0 {
		delete(s.taxAssocs, priceEntryID)
		return
	}
	s.taxAssocs[priceEntryID] = assocs
}

func (s *Store) ListCurrencies(_ context.Context) ([]domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Currency, 0, len(s.currencies))
	for _, cur := range s.currencies {
		result = append(result, cur)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetCurrency(_ context.Context, id int64) (*domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.currencies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cur, nil
}

func (s *Store) GetCurrencyByCode(_ context.Context, code string) (*domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cur := range s.currencies {
		if strings.EqualFold(cur.Code, code) {
			return &cur, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetBaseCurrency(_ context.Context) (*domain.Currency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cur := range s.currencies {
		if cur.IsBase && cur.Active {
			return &cur, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateCurrency(_ context.Context, cur domain.Currency) (*domain.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.currencies {
		if strings.EqualFold(existing.Code, cur.Code) {
			return nil, fmt.Errorf("%w: currency code already exists", store.ErrConflict)
		}
	}
	cur.ID = s.next("currency")
	s.currencies[cur.ID] = cur
	if cur.IsBase {
		s.rebaseLocked(cur.ID)
	}
	out := s.currencies[cur.ID]
	return &out, nil
}

func (s *Store) UpdateCurrency(_ context.Context, cur domain.Currency) (*domain.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.currencies[cur.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cur.Code = existing.Code
	s.currencies[cur.ID] = cur
	if cur.IsBase && !existing.IsBase {
		s.rebaseLocked(cur.ID)
	}
	out := s.currencies[cur.ID]
	return &out, nil
}

func (s *Store) SetBaseCurrency(_ context.Context, id int64) (*domain.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.currencies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !cur.Active {
		return nil, fmt.Errorf("%w: inactive currency cannot be the base", store.ErrInvalidState)
	}
	s.rebaseLocked(id)
	out := s.currencies[id]
	return &out, nil
}

// rebaseLocked makes id the only base currency. Every other factor is
// divided by the new base's old factor so conversions keep their value; the
// new base ends up with factor 1.
func (s *Store) rebaseLocked(id int64) {
	pivot := s.currencies[id].Factor
	for cid, cur := range s.currencies {
		if cid == id {
			continue
		}
		cur.IsBase = false
		if pivot.IsPositive() {
			cur.Factor = cur.Factor.DivRound(pivot, 10)
		}
		s.currencies[cid] = cur
	}
	base := s.currencies[id]
	base.IsBase = true
	base.Factor = decimal.NewFromInt(1)
	s.currencies[id] = base
}

func (s *Store) UpdateExchangeRates(_ context.Context, factors map[int64]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, factor := range factors {
		cur, ok := s.currencies[id]
		if !ok {
			return fmt.Errorf("%w: currency %d", store.ErrNotFound, id)
		}
		if cur.IsBase && !factor.Equal(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: base currency factor is fixed at 1", store.ErrInvalidState)
		}
	}
	for id, factor := range factors {
		cur := s.currencies[id]
		cur.Factor = factor
		s.currencies[id] = cur
	}
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.next("audit")
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrConflict)
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneItem(item domain.CatalogItem) domain.CatalogItem {
	item.Tags = slices.Clone(item.Tags)
	if item.Tags == nil {
		item.Tags = []string{}
	}
	return item
}
