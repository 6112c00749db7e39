package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shoppingbird/backend/internal/barcode"
	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/tax"
	"shoppingbird/backend/internal/xid"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemUnpriced = errors.New("item is not priced at this store")
)

// LookupError carries the resolver result for a scan that did not produce a
// sellable line.
type LookupError struct {
	Result domain.LookupResult
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: %s", e.Result.Code, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Pricing decides what completing a suspended transaction does to its
// recorded amounts.
type Pricing string

const (
	// PricingLocked keeps the amounts recorded at suspension.
	PricingLocked Pricing = "locked"
	// PricingReprice recomputes every line against current prices and taxes.
	PricingReprice Pricing = "reprice"
)

type Repository interface {
	store.PriceReader
	store.TaxReader
	store.TransactionWriter
}

type Assembler struct {
	repo      Repository
	resolver  *barcode.Resolver
	taxes     *tax.Calculator
	converter *currency.Converter
	pricing   Pricing
	now       func() time.Time
}

func NewAssembler(repo Repository, resolver *barcode.Resolver, taxes *tax.Calculator, converter *currency.Converter, pricing Pricing) *Assembler {
	if pricing != PricingReprice {
		pricing = PricingLocked
	}
	return &Assembler{
		repo:      repo,
		resolver:  resolver,
		taxes:     taxes,
		converter: converter,
		pricing:   pricing,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (a *Assembler) Pricing() Pricing {
	return a.pricing
}

// Scan resolves code at the cart's store and adds a unit of the item.
func (a *Assembler) Scan(ctx context.Context, c domain.Cart, code string) (domain.CartResponse, error) {
	if c.StoreID < 1 {
		return domain.CartResponse{}, fmt.Errorf("%w: store_id is required", store.ErrInvalidInput)
	}
	result, err := a.resolver.ResolveVariants(ctx, code, c.StoreID, c.CurrencyID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	switch result.Status {
	case domain.LookupNotFound:
		return domain.CartResponse{}, &LookupError{Result: result, Err: ErrItemNotFound}
	case domain.LookupUnpriced:
		return domain.CartResponse{}, &LookupError{Result: result, Err: ErrItemUnpriced}
	}

	for _, line := range c.Lines {
		if line.ItemID == result.Item.ID {
			resp := Response(AddLine(c, result, domain.TaxBreakdown{}))
			resp.Lookup = &result
			return resp, nil
		}
	}

	if c.CurrencyID == 0 {
		c.CurrencyID = result.Price.CurrencyID
	}
	breakdown, err := a.priceLine(ctx, *result.Price, c.CurrencyID)
	if err != nil {
		return domain.CartResponse{}, err
	}
	resp := Response(AddLine(c, result, breakdown))
	resp.Lookup = &result
	return resp, nil
}

// priceLine computes the tax breakdown of entry in the cart currency. A price
// recorded in another currency is converted first.
func (a *Assembler) priceLine(ctx context.Context, entry domain.PriceEntry, cartCurrencyID int64) (domain.TaxBreakdown, error) {
	places, err := a.converter.Places(ctx, cartCurrencyID)
	if err != nil {
		return domain.TaxBreakdown{}, fmt.Errorf("currency %d: %w", cartCurrencyID, err)
	}
	if entry.CurrencyID != cartCurrencyID {
		conv, err := a.converter.Convert(ctx, entry.Price, entry.CurrencyID, cartCurrencyID)
		if err != nil {
			return domain.TaxBreakdown{}, fmt.Errorf("convert price %d: %w", entry.ID, err)
		}
		entry.Price = conv.Converted.Round(places)
	}
	return a.taxes.ForPriceEntry(ctx, entry, places)
}

func (a *Assembler) UpdateQuantity(c domain.Cart, itemID int64, quantity int) (domain.CartResponse, error) {
	updated, err := UpdateQuantity(c, itemID, quantity)
	if err != nil {
		return domain.CartResponse{}, err
	}
	return Response(updated), nil
}

// Checkout persists the cart as a completed transaction in one write.
func (a *Assembler) Checkout(ctx context.Context, username string, req domain.CheckoutRequest) (*domain.Transaction, error) {
	if err := req.Cart.Validate(); err != nil {
		return nil, err
	}
	now := a.now()
	tx, err := a.newTransaction(ctx, username, req.Cart, domain.TxStatusCompleted, now, nil)
	if err != nil {
		return nil, err
	}
	if req.TransactionDate != nil {
		tx.TransactionDate = req.TransactionDate.UTC()
	}
	tx.CompletedAt = &now

	created, err := a.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("save transaction %s: %w", tx.Number, err)
	}
	return created, nil
}

// Suspend persists the cart as a resumable transaction.
func (a *Assembler) Suspend(ctx context.Context, username string, req domain.SuspendRequest) (*domain.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := a.now()
	tx, err := a.newTransaction(ctx, username, req.Cart, domain.TxStatusSuspended, now, nil)
	if err != nil {
		return nil, err
	}
	tx.SessionName = strings.TrimSpace(req.SessionName)
	tx.Notes = strings.TrimSpace(req.Notes)
	tx.SuspendedAt = &now

	created, err := a.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("save suspended transaction %s: %w", tx.Number, err)
	}
	return created, nil
}

// newTransaction builds a transaction from a client cart. Line amounts are
// priced again on the server; lines found in recorded keep the amounts they
// were suspended with.
func (a *Assembler) newTransaction(ctx context.Context, username string, c domain.Cart, status string, now time.Time, recorded []domain.TransactionLine) (domain.Transaction, error) {
	currencyID := c.CurrencyID
	if currencyID == 0 {
		base, err := a.converter.Base(ctx)
		if err != nil {
			return domain.Transaction{}, err
		}
		currencyID = base.ID
	}
	priced, err := a.priceCartLines(ctx, c, currencyID, recorded)
	if err != nil {
		return domain.Transaction{}, err
	}
	lines := toLines(priced)
	subtotal, total := lineTotals(lines, c.Adjustment)
	if total.IsNegative() {
		return domain.Transaction{}, fmt.Errorf("%w: total %s is negative", store.ErrInvalidInput, total)
	}
	return domain.Transaction{
		Number:          xid.TransactionNumber(now),
		StoreID:         c.StoreID,
		Username:        username,
		CurrencyID:      currencyID,
		Status:          status,
		Subtotal:        subtotal,
		Adjustment:      c.Adjustment,
		Total:           total,
		TransactionDate: now,
		Lines:           lines,
	}, nil
}

// priceCartLines checks every line against its price entry and replaces the
// client's amounts with the catalog's. The entry must belong to the line's
// item and to the cart's store.
func (a *Assembler) priceCartLines(ctx context.Context, c domain.Cart, currencyID int64, recorded []domain.TransactionLine) ([]domain.CartLine, error) {
	kept := make(map[int64]domain.TransactionLine, len(recorded))
	for _, line := range recorded {
		kept[line.PriceEntryID] = line
	}

	out := make([]domain.CartLine, 0, len(c.Lines))
	for i, line := range c.Lines {
		entry, err := a.repo.GetPriceEntry(ctx, line.PriceEntryID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("%w: line %d: unknown price entry %d", store.ErrInvalidInput, i+1, line.PriceEntryID)
		case err != nil:
			return nil, fmt.Errorf("load price entry %d: %w", line.PriceEntryID, err)
		}
		if entry.ItemID != line.ItemID || entry.StoreID != c.StoreID {
			return nil, fmt.Errorf("%w: line %d: price entry %d is not for item %d at store %d",
				store.ErrInvalidInput, i+1, entry.ID, line.ItemID, c.StoreID)
		}

		priced := line
		priced.Barcode = entry.Barcode
		priced.Unit = entry.Unit
		if rec, ok := kept[entry.ID]; ok && rec.ItemID == line.ItemID {
			priced.Description = rec.Description
			priced.BasePrice = rec.BasePrice
			priced.TaxAmount = rec.TaxAmount
			priced.FinalPrice = rec.FinalPrice
			priced.Taxes = make([]domain.TaxLine, 0, len(rec.Taxes))
			for _, t := range rec.Taxes {
				priced.Taxes = append(priced.Taxes, domain.TaxLine{TaxTypeID: t.TaxTypeID, Name: t.Name, Percentage: t.Percentage, Amount: t.Amount})
			}
			out = append(out, priced)
			continue
		}

		item, err := a.repo.GetCatalogItem(ctx, line.ItemID)
		if err != nil {
			return nil, fmt.Errorf("load item %d: %w", line.ItemID, err)
		}
		if !entry.Active || !item.Active {
			return nil, fmt.Errorf("%w: line %d: item %d is no longer sold at store %d", store.ErrInvalidInput, i+1, line.ItemID, c.StoreID)
		}
		breakdown, err := a.priceLine(ctx, *entry, currencyID)
		if err != nil {
			return nil, err
		}
		priced.Description = item.Description
		priced.BasePrice = breakdown.BasePrice
		priced.Taxes = breakdown.Lines
		priced.TaxAmount = breakdown.TotalTaxAmount
		priced.FinalPrice = breakdown.FinalPrice
		out = append(out, priced)
	}
	return out, nil
}

func (a *Assembler) ListSuspended(ctx context.Context, storeID int64) ([]domain.Transaction, error) {
	list, err := a.repo.ListSuspendedTransactions(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list suspended transactions: %w", err)
	}
	return list, nil
}

// Resume rebuilds a cart from a suspended transaction. Barcode, unit and
// description come from the current catalog; amounts stay as recorded.
func (a *Assembler) Resume(ctx context.Context, id int64) (domain.ResumeResponse, error) {
	tx, err := a.loadSuspended(ctx, id)
	if err != nil {
		return domain.ResumeResponse{}, err
	}

	c := domain.Cart{
		StoreID:    tx.StoreID,
		CurrencyID: tx.CurrencyID,
		Adjustment: tx.Adjustment,
		Lines:      make([]domain.CartLine, 0, len(tx.Lines)),
	}
	for _, line := range tx.Lines {
		if err := line.Validate(); err != nil {
			return domain.ResumeResponse{}, fmt.Errorf("%w: transaction %s: %v", store.ErrMalformedRow, tx.Number, err)
		}
		cl := domain.CartLine{
			ItemID:       line.ItemID,
			PriceEntryID: line.PriceEntryID,
			Description:  line.Description,
			BasePrice:    line.BasePrice,
			TaxAmount:    line.TaxAmount,
			FinalPrice:   line.FinalPrice,
			Quantity:     line.Quantity,
			Taxes:        make([]domain.TaxLine, 0, len(line.Taxes)),
		}
		for _, t := range line.Taxes {
			cl.Taxes = append(cl.Taxes, domain.TaxLine{TaxTypeID: t.TaxTypeID, Name: t.Name, Percentage: t.Percentage, Amount: t.Amount})
		}
		entry, err := a.currentPrice(ctx, line.ItemID, tx.StoreID, tx.CurrencyID)
		if err != nil {
			return domain.ResumeResponse{}, err
		}
		if entry != nil {
			cl.Barcode = entry.Barcode
			cl.Unit = entry.Unit
			if cl.PriceEntryID == 0 {
				cl.PriceEntryID = entry.ID
			}
		}
		item, err := a.repo.GetCatalogItem(ctx, line.ItemID)
		switch {
		case err == nil:
			cl.Description = item.Description
		case !errors.Is(err, store.ErrNotFound):
			return domain.ResumeResponse{}, fmt.Errorf("load item %d: %w", line.ItemID, err)
		}
		c.Lines = append(c.Lines, cl)
	}

	tx.Lines = nil
	return domain.ResumeResponse{Transaction: *tx, Cart: c, Totals: Totals(c)}, nil
}

// currentPrice returns the active price entry for the item at the store,
// preferring currencyID. nil means the item is no longer priced there.
func (a *Assembler) currentPrice(ctx context.Context, itemID, storeID, currencyID int64) (*domain.PriceEntry, error) {
	for _, cur := range []int64{currencyID, 0} {
		entry, err := a.repo.FindPriceEntryForItem(ctx, itemID, storeID, cur)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load price for item %d: %w", itemID, err)
		}
	}
	return nil, nil
}

// UpdateSuspended replaces the lines and header of a suspended transaction.
func (a *Assembler) UpdateSuspended(ctx context.Context, id int64, req domain.SuspendRequest) (*domain.Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	existing, err := a.loadSuspended(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Cart.StoreID != existing.StoreID {
		return nil, fmt.Errorf("%w: a suspended transaction cannot move between stores", store.ErrInvalidInput)
	}
	recorded := existing.Lines
	if req.Cart.CurrencyID != existing.CurrencyID {
		recorded = nil
	}
	tx, err := a.newTransaction(ctx, existing.Username, req.Cart, domain.TxStatusSuspended, a.now(), recorded)
	if err != nil {
		return nil, err
	}
	tx.ID = id
	tx.Number = existing.Number
	tx.SessionName = strings.TrimSpace(req.SessionName)
	tx.Notes = strings.TrimSpace(req.Notes)

	updated, err := a.repo.ReplaceSuspendedTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("update suspended transaction %s: %w", existing.Number, err)
	}
	return updated, nil
}

// CompleteSuspended moves a suspended transaction to completed according to
// the configured pricing policy.
func (a *Assembler) CompleteSuspended(ctx context.Context, id int64) (*domain.Transaction, error) {
	now := a.now()
	if a.pricing == PricingLocked {
		tx, err := a.repo.UpdateTransactionStatus(ctx, id, []string{domain.TxStatusSuspended}, domain.TxStatusCompleted, now)
		if err != nil {
			return nil, fmt.Errorf("complete transaction %d: %w", id, err)
		}
		return tx, nil
	}

	tx, err := a.loadSuspended(ctx, id)
	if err != nil {
		return nil, err
	}
	c := domain.Cart{StoreID: tx.StoreID, CurrencyID: tx.CurrencyID, Adjustment: tx.Adjustment}
	for _, line := range tx.Lines {
		entry, err := a.currentPrice(ctx, line.ItemID, tx.StoreID, tx.CurrencyID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, fmt.Errorf("%w: item %d is no longer priced at store %d", store.ErrInvalidState, line.ItemID, tx.StoreID)
		}
		breakdown, err := a.priceLine(ctx, *entry, tx.CurrencyID)
		if err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, domain.CartLine{
			ItemID:       line.ItemID,
			PriceEntryID: entry.ID,
			Description:  line.Description,
			BasePrice:    breakdown.BasePrice,
			Taxes:        breakdown.Lines,
			TaxAmount:    breakdown.TotalTaxAmount,
			FinalPrice:   breakdown.FinalPrice,
			Quantity:     line.Quantity,
		})
	}

	repriced, err := a.newTransaction(ctx, tx.Username, c, domain.TxStatusCompleted, now, nil)
	if err != nil {
		return nil, err
	}
	repriced.ID = tx.ID
	repriced.Number = tx.Number
	repriced.SessionName = tx.SessionName
	repriced.Notes = tx.Notes
	repriced.CompletedAt = &now

	completed, err := a.repo.ReplaceSuspendedTransaction(ctx, repriced)
	if err != nil {
		return nil, fmt.Errorf("complete transaction %s: %w", tx.Number, err)
	}
	return completed, nil
}

func (a *Assembler) DeleteSuspended(ctx context.Context, id int64) error {
	if err := a.repo.DeleteSuspendedTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete suspended transaction %d: %w", id, err)
	}
	return nil
}

// Cancel voids a suspended or completed transaction.
func (a *Assembler) Cancel(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := a.repo.UpdateTransactionStatus(ctx, id, []string{domain.TxStatusSuspended, domain.TxStatusCompleted}, domain.TxStatusCancelled, a.now())
	if err != nil {
		return nil, fmt.Errorf("cancel transaction %d: %w", id, err)
	}
	return tx, nil
}

func (a *Assembler) Refund(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := a.repo.UpdateTransactionStatus(ctx, id, []string{domain.TxStatusCompleted}, domain.TxStatusRefunded, a.now())
	if err != nil {
		return nil, fmt.Errorf("refund transaction %d: %w", id, err)
	}
	return tx, nil
}

func (a *Assembler) loadSuspended(ctx context.Context, id int64) (*domain.Transaction, error) {
	tx, err := a.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", id, err)
	}
	if tx.Status != domain.TxStatusSuspended {
		return nil, fmt.Errorf("%w: transaction %s is %s", store.ErrInvalidState, tx.Number, tx.Status)
	}
	return tx, nil
}
