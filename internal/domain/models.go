package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Store struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Active  *bool  `json:"active,omitempty"`
}

type CatalogItem struct {
	ID           int64               `json:"id"`
	Description  string              `json:"description"`
	Title        string              `json:"title,omitempty"`
	Brand        string              `json:"brand,omitempty"`
	Model        string              `json:"model,omitempty"`
	UPC          string              `json:"upc,omitempty"`
	EAN          string              `json:"ean,omitempty"`
	GTIN         string              `json:"gtin,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	Tags         []string            `json:"tags"`
	LowestPrice  decimal.NullDecimal `json:"lowest_price"`
	HighestPrice decimal.NullDecimal `json:"highest_price"`
	Active       bool                `json:"active"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// GlobalCodes returns the non-empty upc/ean/gtin values of the item.
func (c CatalogItem) GlobalCodes() []string {
	codes := make([]string, 0, 3)
	for _, code := range []string{c.UPC, c.EAN, c.GTIN} {
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

type CatalogItemRequest struct {
	Description string   `json:"description"`
	Title       string   `json:"title"`
	Brand       string   `json:"brand"`
	Model       string   `json:"model"`
	UPC         string   `json:"upc"`
	EAN         string   `json:"ean"`
	GTIN        string   `json:"gtin"`
	ImageURL    string   `json:"image_url"`
	Tags        []string `json:"tags"`
	Prefill     bool     `json:"prefill"`
}

type CatalogItemUpdateRequest struct {
	Description *string   `json:"description,omitempty"`
	Title       *string   `json:"title,omitempty"`
	Brand       *string   `json:"brand,omitempty"`
	Model       *string   `json:"model,omitempty"`
	UPC         *string   `json:"upc,omitempty"`
	EAN         *string   `json:"ean,omitempty"`
	GTIN        *string   `json:"gtin,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

type PriceEntry struct {
	ID            int64           `json:"id"`
	ItemID        int64           `json:"item_id"`
	StoreID       int64           `json:"store_id"`
	Barcode       string          `json:"barcode"`
	Unit          string          `json:"unit"`
	Price         decimal.Decimal `json:"price"`
	CurrencyID    int64           `json:"currency_id"`
	Active        bool            `json:"active"`
	EffectiveDate time.Time       `json:"effective_date"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PriceRequest sets the price of an item at a store. A nil TaxIDs applies the
// default tax type; an empty, non-nil list means no taxes.
type PriceRequest struct {
	ItemID     int64           `json:"item_id"`
	StoreID    int64           `json:"store_id"`
	Barcode    string          `json:"barcode"`
	Unit       string          `json:"unit"`
	Price      decimal.Decimal `json:"price"`
	CurrencyID int64           `json:"currency_id"`
	TaxIDs     []int64         `json:"tax_ids"`
}

type PriceUpdateRequest struct {
	Barcode *string          `json:"barcode,omitempty"`
	Unit    *string          `json:"unit,omitempty"`
	Price   *decimal.Decimal `json:"price,omitempty"`
	Active  *bool            `json:"active,omitempty"`
	TaxIDs  []int64          `json:"tax_ids,omitempty"`
}

type PriceHistory struct {
	ID           int64           `json:"id"`
	PriceEntryID int64           `json:"price_entry_id"`
	ItemID       int64           `json:"item_id"`
	StoreID      int64           `json:"store_id"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewPrice     decimal.Decimal `json:"new_price"`
	ChangedBy    string          `json:"changed_by"`
	ChangedAt    time.Time       `json:"changed_at"`
}

type TaxType struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Active     bool            `json:"active"`
	IsDefault  bool            `json:"is_default"`
}

type TaxTypeRequest struct {
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Active     *bool           `json:"active,omitempty"`
	IsDefault  bool            `json:"is_default"`
}

type TaxTypeUpdateRequest struct {
	Name       *string          `json:"name,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Active     *bool            `json:"active,omitempty"`
}

type TaxAssociation struct {
	PriceEntryID  int64     `json:"price_entry_id"`
	TaxTypeID     int64     `json:"tax_type_id"`
	EffectiveDate time.Time `json:"effective_date"`
}

type TaxAssociationRequest struct {
	TaxIDs []int64 `json:"tax_ids"`
}

type TaxCalculationRequest struct {
	BasePrice  decimal.Decimal `json:"base_price"`
	TaxIDs     []int64         `json:"tax_ids"`
	CurrencyID int64           `json:"currency_id,omitempty"`
}

type TaxLine struct {
	TaxTypeID  int64           `json:"tax_type_id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

type TaxBreakdown struct {
	BasePrice        decimal.Decimal `json:"base_price"`
	Lines            []TaxLine       `json:"lines"`
	TotalTaxAmount   decimal.Decimal `json:"total_tax_amount"`
	TotalPercentage  decimal.Decimal `json:"total_percentage"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	UsesDefaultNoTax bool            `json:"uses_default_no_tax"`
}

type Currency struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	DecimalPlaces int32           `json:"decimal_places"`
	Factor        decimal.Decimal `json:"factor"`
	IsBase        bool            `json:"is_base"`
	Active        bool            `json:"active"`
}

type CurrencyRequest struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	DecimalPlaces int32           `json:"decimal_places"`
	Factor        decimal.Decimal `json:"factor"`
	IsBase        bool            `json:"is_base"`
}

type CurrencyUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Symbol        *string          `json:"symbol,omitempty"`
	DecimalPlaces *int32           `json:"decimal_places,omitempty"`
	Factor        *decimal.Decimal `json:"factor,omitempty"`
	IsBase        *bool            `json:"is_base,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type ExchangeRate struct {
	CurrencyID int64           `json:"currency_id"`
	Factor     decimal.Decimal `json:"factor"`
}

type ExchangeRateUpdateRequest struct {
	Rates []ExchangeRate `json:"rates"`
}

type ConversionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

type Conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	Converted decimal.Decimal `json:"converted"`
	Rate      decimal.Decimal `json:"rate"`
	From      Currency        `json:"from"`
	To        Currency        `json:"to"`
	Formatted string          `json:"formatted"`
}

const (
	LookupFound    = "found"
	LookupUnpriced = "unpriced"
	LookupNotFound = "not_found"

	MethodPriceList  = "price_list"
	MethodGlobalCode = "global_code"
)

type LookupResult struct {
	Status      string       `json:"status"`
	Method      string       `json:"method,omitempty"`
	Code        string       `json:"code"`
	MatchedCode string       `json:"matched_code,omitempty"`
	Item        *CatalogItem `json:"item,omitempty"`
	Price       *PriceEntry  `json:"price,omitempty"`
}

func (r LookupResult) Found() bool {
	return r.Status == LookupFound
}

type BarcodeResolveRequest struct {
	Code       string `json:"code"`
	StoreID    int64  `json:"store_id"`
	CurrencyID int64  `json:"currency_id,omitempty"`
	Variants   *bool  `json:"variants,omitempty"`
}

// ProductInfo is what an external product-lookup API knows about a global
// product code.
type ProductInfo struct {
	Code        string   `json:"code"`
	Title       string   `json:"title,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	Model       string   `json:"model,omitempty"`
	Description string   `json:"description,omitempty"`
	Images      []string `json:"images,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            int64     `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)
