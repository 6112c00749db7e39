package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"shoppingbird/backend/internal/domain"
)

const (
	transactionsSheet = "Transactions"
	summarySheet      = "Summary"

	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var transactionHeaders = []string{"Number", "Date", "Store", "User", "Status", "Items", "Currency", "Subtotal", "Adjustment", "Total", "Base total"}

// ExportXLSX writes the transactions matching filter and their summary as a
// two-sheet workbook.
func (s *Service) ExportXLSX(ctx context.Context, filter domain.TransactionFilter, w io.Writer) error {
	ds, err := s.scan(ctx, filter)
	if err != nil {
		return err
	}
	return WriteWorkbook(w, ds.txs, ds.stores, ds.currencies)
}

// WriteWorkbook lists each transaction in its own currency next to its base
// total; the summary sheet is in the base currency.
func WriteWorkbook(w io.Writer, txs []domain.Transaction, stores []domain.Store, currencies []domain.Currency) error {
	summary, err := Summarize(txs, stores, currencies)
	if err != nil {
		return err
	}
	bc := newBaseConverter(currencies)


	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", transactionsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"2F5597"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	names := make(map[int64]string, len(stores))
	for _, st := range stores {
		names[st.ID] = st.Name
	}

	rows := [][]any{}
	for _, tx := range txs {
		baseTotal, err := bc.toBase(tx.Total, tx.CurrencyID)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", tx.Number, err)
		}
		code := bc.code()
		if cur, ok := bc.byID[tx.CurrencyID]; ok {
			code = cur.Code
		}
		rows = append(rows, []any{
			tx.Number,
			tx.TransactionDate.Format("2006-01-02 15:04"),
			names[tx.StoreID],
			tx.Username,
			tx.Status,
			tx.ItemCount(),
			code,
			tx.Subtotal.InexactFloat64(),
			tx.Adjustment.InexactFloat64(),
			tx.Total.InexactFloat64(),
			baseTotal.InexactFloat64(),
		})
	}
	if err := writeTable(f, transactionsSheet, transactionHeaders, rows, headerStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(transactionsSheet, "A", "A", 26)
	_ = f.SetColWidth(transactionsSheet, "B", "C", 18)
	_ = f.SetPanes(transactionsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	metrics := [][]any{
		{"Currency", summary.Currency},
		{"Total revenue", summary.TotalRevenue.InexactFloat64()},
		{"Transactions", summary.TransactionCount},
		{"Items sold", summary.TotalItemsSold},
		{"Average transaction", summary.AverageTransactionValue.InexactFloat64()},
		{},
		{"Top item", "Quantity", "Revenue"},
	}
	for _, it := range summary.TopItems {
		metrics = append(metrics, []any{it.Description, it.Quantity, it.Revenue.InexactFloat64()})
	}
	metrics = append(metrics, []any{}, []any{"Store", "Transactions", "Revenue"})
	for _, sr := range summary.StoreRanking {
		metrics = append(metrics, []any{sr.Name, sr.Transactions, sr.Revenue.InexactFloat64()})
	}
	if err := writeTable(f, summarySheet, []string{"Metric", "Value"}, metrics, headerStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 28)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}
	return nil
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
