// Package receipt renders a transaction as printable text, an ESC/POS byte
// stream and a QR code carrying the transaction number.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	qrcode "github.com/skip2/go-qrcode"

	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
)

const (
	Width  = 32
	QRSize = 256
)

var (
	escposInit = []byte{0x1b, 0x40}
	escposCut  = []byte{0x1d, 0x56, 0x41, 0x10}
)

// Build renders tx. The transaction must carry its lines.
func Build(tx domain.Transaction, st domain.Store, cur domain.Currency) (domain.Receipt, error) {
	lines := Lines(tx, st, cur)

	escpos := append([]byte{}, escposInit...)
	for _, line := range lines {
		escpos = append(escpos, line...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escposCut...)

	png, err := qrcode.Encode(tx.Number, qrcode.Medium, QRSize)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("receipt qr code: %w", err)
	}

	return domain.Receipt{
		TransactionNumber: tx.Number,
		PreviewText:       strings.Join(lines, "\n"),
		EscposBase64:      base64.StdEncoding.EncodeToString(escpos),
		QRCodePNGBase64:   base64.StdEncoding.EncodeToString(png),
		FileName:          fmt.Sprintf("receipt-%s.bin", tx.Number),
	}, nil
}

func Lines(tx domain.Transaction, st domain.Store, cur domain.Currency) []string {
	rule := strings.Repeat("=", Width)
	thin := strings.Repeat("-", Width)

	lines := []string{
		center("ShoppingBird"),
		center(st.Name),
	}
	if st.Address != "" {
		lines = append(lines, center(st.Address))
	}
	lines = append(lines,
		rule,
		"No   : "+tx.Number,
		"Date : "+tx.TransactionDate.Format("2006-01-02 15:04"),
		"User : "+tx.Username,
	)
	if tx.Status != domain.TxStatusCompleted {
		lines = append(lines, "State: "+strings.ToUpper(tx.Status))
	}
	lines = append(lines, thin)

	opts := currency.FormatOptions{Symbol: true}
	for _, line := range tx.Lines {
		lines = append(lines, truncate(line.Description))
		lines = append(lines, row(
			fmt.Sprintf("  %d x %s", line.Quantity, currency.Format(line.FinalPrice, cur, opts)),
			currency.Format(line.LineTotal, cur, opts),
		))
		for _, t := range line.Taxes {
			lines = append(lines, row(
				fmt.Sprintf("    %s %s%%", t.Name, t.Percentage.String()),
				currency.Format(t.Amount.Mul(decimal.NewFromInt(int64(line.Quantity))), cur, opts),
			))
		}
	}

	lines = append(lines,
		thin,
		row("Subtotal", currency.Format(tx.Subtotal, cur, opts)),
	)
	if !tx.Adjustment.IsZero() {
		lines = append(lines, row("Adjustment", currency.Format(tx.Adjustment, cur, opts)))
	}
	lines = append(lines,
		row("Total", currency.Format(tx.Total, cur, currency.FormatOptions{Symbol: true, Code: true})),
		row("Items", fmt.Sprintf("%d", tx.ItemCount())),
		rule,
		center("Thank you"),
		"",
	)
	return lines
}

func row(left, right string) string {
	gap := Width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func center(text string) string {
	text = truncate(text)
	pad := (Width - len(text)) / 2
	if pad <= 0 {
		return text
	}
	return strings.Repeat(" ", pad) + text
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) > Width {
		return string(runes[:Width])
	}
	return text
}
