package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = domain.ErrInvalid
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	// ErrMalformedRow is returned when a persisted row cannot be mapped onto
	// its domain type, e.g. a NULL monetary column.
	ErrMalformedRow = errors.New("malformed row")
)

type Repository interface {
	ListStores(ctx context.Context) ([]domain.Store, error)
	GetStore(ctx context.Context, id int64) (*domain.Store, error)
	CreateStore(ctx context.Context, st domain.Store) (*domain.Store, error)
	UpdateStore(ctx context.Context, st domain.Store) (*domain.Store, error)

	ListCatalogItems(ctx context.Context, query string, limit int) ([]domain.CatalogItem, error)
	CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	UpdateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	DeleteCatalogItem(ctx context.Context, id int64) error

	PriceReader
	ListPriceEntries(ctx context.Context, itemID int64) ([]domain.PriceEntry, error)
	CreatePriceEntry(ctx context.Context, entry domain.PriceEntry, taxIDs []int64) (*domain.PriceEntry, error)
	UpdatePriceEntry(ctx context.Context, entry domain.PriceEntry) (*domain.PriceEntry, error)
	DeletePriceEntry(ctx context.Context, id int64) error
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, priceEntryID int64, limit int) ([]domain.PriceHistory, error)

	TaxReader
	ListTaxTypes(ctx context.Context, activeOnly bool) ([]domain.TaxType, error)
	GetTaxType(ctx context.Context, id int64) (*domain.TaxType, error)
	CreateTaxType(ctx context.Context, tax domain.TaxType) (*domain.TaxType, error)
	UpdateTaxType(ctx context.Context, tax domain.TaxType) (*domain.TaxType, error)
	SetDefaultTaxType(ctx context.Context, id int64) (*domain.TaxType, error)
	GetDefaultTaxType(ctx context.Context) (*domain.TaxType, error)
	ReplaceTaxAssociations(ctx context.Context, priceEntryID int64, taxIDs []int64, at time.Time) error

	CurrencyReader
	CreateCurrency(ctx context.Context, cur domain.Currency) (*domain.Currency, error)
	UpdateCurrency(ctx context.Context, cur domain.Currency) (*domain.Currency, error)
	SetBaseCurrency(ctx context.Context, id int64) (*domain.Currency, error)
	UpdateExchangeRates(ctx context.Context, factors map[int64]decimal.Decimal) error

	TransactionWriter
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, int, error)
	ScanTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// PriceReader is the read side the barcode resolver and the cart need. A
// currencyID of 0 matches any currency.
type PriceReader interface {
	FindPriceEntryByBarcode(ctx context.Context, storeID int64, barcode string, currencyID int64) (*domain.PriceEntry, error)
	FindPriceEntryForItem(ctx context.Context, itemID int64, storeID int64, currencyID int64) (*domain.PriceEntry, error)
	FindCatalogItemsByGlobalCode(ctx context.Context, code string) ([]domain.CatalogItem, error)
	GetCatalogItem(ctx context.Context, id int64) (*domain.CatalogItem, error)
	GetPriceEntry(ctx context.Context, id int64) (*domain.PriceEntry, error)
}

type TaxReader interface {
	// GetTaxTypesByIDs returns the active tax types among ids, in id order.
	GetTaxTypesByIDs(ctx context.Context, ids []int64) ([]domain.TaxType, error)
	ListTaxAssociations(ctx context.Context, priceEntryID int64) ([]domain.TaxAssociation, error)
}

type CurrencyReader interface {
	ListCurrencies(ctx context.Context) ([]domain.Currency, error)
	GetCurrency(ctx context.Context, id int64) (*domain.Currency, error)
	GetCurrencyByCode(ctx context.Context, code string) (*domain.Currency, error)
	GetBaseCurrency(ctx context.Context) (*domain.Currency, error)
}

// TransactionWriter persists transactions. Every method that touches more
// than one row does so atomically.
type TransactionWriter interface {
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ReplaceSuspendedTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, from []string, to string, at time.Time) (*domain.Transaction, error)
	DeleteSuspendedTransaction(ctx context.Context, id int64) error
	ListSuspendedTransactions(ctx context.Context, storeID int64) ([]domain.Transaction, error)
}
