package receipt

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/domain"
)

func sampleTransaction() domain.Transaction {
	return domain.Transaction{
		Number:          "TXN-20260301-ABCDEF12",
		Username:        "cashier",
		Status:          domain.TxStatusCompleted,
		Subtotal:        decimal.RequireFromString("123.60"),
		Adjustment:      decimal.RequireFromString("-3.60"),
		Total:           decimal.RequireFromString("120.00"),
		TransactionDate: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		Lines: []domain.TransactionLine{
			{
				ItemID:      1,
				Description: "Organic Coffee Beans",
				BasePrice:   decimal.RequireFromString("23.60"),
				FinalPrice:  decimal.RequireFromString("23.60"),
				LineTotal:   decimal.RequireFromString("23.60"),
				Quantity:    1,
			},
			{
				ItemID:      3,
				Description: "Espresso Cups",
				BasePrice:   decimal.RequireFromString("100"),
				TaxAmount:   decimal.RequireFromString("6"),
				FinalPrice:  decimal.RequireFromString("106"),
				LineTotal:   decimal.RequireFromString("106"),
				Quantity:    1,
				Taxes: []domain.TransactionLineTax{
					{TaxTypeID: 1, Name: "State Sales Tax", Percentage: decimal.RequireFromString("6"), Amount: decimal.RequireFromString("6")},
				},
			},
		},
	}
}

func TestBuildRendersTextEscposAndQR(t *testing.T) {
	usd := domain.Currency{ID: 1, Code: "USD", Symbol: "$", DecimalPlaces: 2, Factor: decimal.NewFromInt(1), IsBase: true}
	st := domain.Store{ID: 1, Name: "Main Street", Address: "1 Main St"}

	r, err := Build(sampleTransaction(), st, usd)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, want := range []string{"Main Street", "TXN-20260301-ABCDEF12", "Espresso Cups", "State Sales Tax 6%", "$6.00", "-$3.60", "$120.00 USD"} {
		if !strings.Contains(r.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, r.PreviewText)
		}
	}

	raw, err := base64.StdEncoding.DecodeString(r.EscposBase64)
	if err != nil {
		t.Fatalf("decode escpos: %v", err)
	}
	if !bytes.HasPrefix(raw, escposInit) || !bytes.HasSuffix(raw, escposCut) {
		t.Fatalf("escpos stream must start with init and end with cut")
	}

	png, err := base64.StdEncoding.DecodeString(r.QRCodePNGBase64)
	if err != nil {
		t.Fatalf("decode qr: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("qr code is not a png")
	}
	if r.FileName != "receipt-TXN-20260301-ABCDEF12.bin" {
		t.Fatalf("unexpected file name %q", r.FileName)
	}
}

func TestLinesUseCurrencyPlaces(t *testing.T) {
	jpy := domain.Currency{ID: 3, Code: "JPY", Symbol: "¥", DecimalPlaces: 0, Factor: decimal.RequireFromString("149.5")}
	tx := sampleTransaction()
	tx.Status = domain.TxStatusRefunded
	tx.Total = decimal.RequireFromString("17940")

	text := strings.Join(Lines(tx, domain.Store{Name: "Harbor Mall"}, jpy), "\n")
	if !strings.Contains(text, "¥17940 JPY") {
		t.Fatalf("expected yen total without decimals:\n%s", text)
	}
	if !strings.Contains(text, "State: REFUNDED") {
		t.Fatalf("expected status marker for non-completed receipts:\n%s", text)
	}
}
