package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxStatusSuspended = "suspended"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
	TxStatusRefunded  = "refunded"
)

type Transaction struct {
	ID              int64             `json:"id"`
	Number          string            `json:"number"`
	StoreID         int64             `json:"store_id"`
	Username        string            `json:"username"`
	CurrencyID      int64             `json:"currency_id"`
	Status          string            `json:"status"`
	Subtotal        decimal.Decimal   `json:"subtotal"`
	Adjustment      decimal.Decimal   `json:"adjustment"`
	Total           decimal.Decimal   `json:"total"`
	TransactionDate time.Time         `json:"transaction_date"`
	SessionName     string            `json:"session_name,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	SuspendedAt     *time.Time        `json:"suspended_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Lines           []TransactionLine `json:"lines,omitempty"`
}

// ItemCount is the number of units sold across all lines.
func (t Transaction) ItemCount() int {
	count := 0
	for _, line := range t.Lines {
		count += line.Quantity
	}
	return count
}

type TransactionLine struct {
	ID            int64                `json:"id"`
	TransactionID int64                `json:"transaction_id"`
	ItemID        int64                `json:"item_id"`
	PriceEntryID  int64                `json:"price_entry_id"`
	Description   string               `json:"description"`
	BasePrice     decimal.Decimal      `json:"base_price"`
	TaxAmount     decimal.Decimal      `json:"tax_amount"`
	FinalPrice    decimal.Decimal      `json:"final_price"`
	LineTotal     decimal.Decimal      `json:"line_total"`
	Quantity      int                  `json:"quantity"`
	Taxes         []TransactionLineTax `json:"taxes,omitempty"`
}

// TransactionLineTax is a per-unit tax row recorded for audit.
type TransactionLineTax struct {
	ID         int64           `json:"id"`
	LineID     int64           `json:"line_id"`
	TaxTypeID  int64           `json:"tax_type_id"`
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// Cart is held by the client between requests. Every cart operation takes a
// cart and returns the new one.
type Cart struct {
	StoreID    int64           `json:"store_id"`
	CurrencyID int64           `json:"currency_id"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Lines      []CartLine      `json:"lines"`
}

type CartLine struct {
	ItemID       int64           `json:"item_id"`
	PriceEntryID int64           `json:"price_entry_id"`
	Description  string          `json:"description"`
	Barcode      string          `json:"barcode"`
	Unit         string          `json:"unit"`
	BasePrice    decimal.Decimal `json:"base_price"`
	Taxes        []TaxLine       `json:"taxes"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	FinalPrice   decimal.Decimal `json:"final_price"`
	Quantity     int             `json:"quantity"`
}

type CartTotals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Total      decimal.Decimal `json:"total"`
	ItemCount  int             `json:"item_count"`
}

type CartResponse struct {
	Cart   Cart          `json:"cart"`
	Totals CartTotals    `json:"totals"`
	Lookup *LookupResult `json:"lookup,omitempty"`
}

type ScanRequest struct {
	Cart Cart   `json:"cart"`
	Code string `json:"code"`
}

type QuantityRequest struct {
	Cart     Cart  `json:"cart"`
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type CheckoutRequest struct {
	Cart            Cart       `json:"cart"`
	TransactionDate *time.Time `json:"transaction_date,omitempty"`
}

type SuspendRequest struct {
	Cart        Cart   `json:"cart"`
	SessionName string `json:"session_name"`
	Notes       string `json:"notes"`
}

type ResumeResponse struct {
	Transaction Transaction `json:"transaction"`
	Cart        Cart        `json:"cart"`
	Totals      CartTotals  `json:"totals"`
}

type TransactionStatusRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Reason     string `json:"reason"`
}

type TransactionFilter struct {
	From     *time.Time          `json:"from,omitempty"`
	To       *time.Time          `json:"to,omitempty"`
	StoreID  int64               `json:"store_id,omitempty"`
	Username string              `json:"username,omitempty"`
	MinTotal decimal.NullDecimal `json:"min_total"`
	MaxTotal decimal.NullDecimal `json:"max_total"`
	Query    string              `json:"query,omitempty"`
	Status   string              `json:"status,omitempty"`
	Sort     string              `json:"sort,omitempty"`
	Desc     bool                `json:"desc"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

const (
	SortByDate   = "date"
	SortByTotal  = "total"
	SortByNumber = "number"
	SortByStore  = "store"
)

type TransactionPage struct {
	Items    []Transaction `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type ItemSales struct {
	ItemID      int64           `json:"item_id"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type StoreRevenue struct {
	StoreID      int64           `json:"store_id"`
	Name         string          `json:"name"`
	Revenue      decimal.Decimal `json:"revenue"`
	Transactions int             `json:"transactions"`
}

// TransactionSummary amounts are in the base currency named by Currency.
type TransactionSummary struct {
	Currency                string          `json:"currency"`
	TotalRevenue            decimal.Decimal `json:"total_revenue"`
	TransactionCount        int             `json:"transaction_count"`
	TotalItemsSold          int             `json:"total_items_sold"`
	AverageTransactionValue decimal.Decimal `json:"average_transaction_value"`
	TopItems                []ItemSales     `json:"top_items"`
	StoreRanking            []StoreRevenue  `json:"store_ranking"`
}

type Receipt struct {
	TransactionNumber string `json:"transaction_number"`
	PreviewText       string `json:"preview_text"`
	EscposBase64      string `json:"escpos_base64"`
	QRCodePNGBase64   string `json:"qr_code_png_base64"`
	FileName          string `json:"file_name"`
}
