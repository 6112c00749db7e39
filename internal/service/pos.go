package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"shoppingbird/backend/internal/cart"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/receipt"
	"shoppingbird/backend/internal/store"
)

// ResolveBarcode runs the lookup without touching a cart. Variants are tried
// unless the request turns them off.
func (s *Service) ResolveBarcode(ctx context.Context, req domain.BarcodeResolveRequest) (domain.LookupResult, error) {
	if req.Variants != nil && !*req.Variants {
		return s.resolver.Resolve(ctx, req.Code, req.StoreID, req.CurrencyID)
	}
	return s.resolver.ResolveVariants(ctx, req.Code, req.StoreID, req.CurrencyID)
}

func (s *Service) Scan(ctx context.Context, req domain.ScanRequest) (domain.CartResponse, error) {
	return s.assembler.Scan(ctx, req.Cart, req.Code)
}

func (s *Service) UpdateCartQuantity(_ context.Context, req domain.QuantityRequest) (domain.CartResponse, error) {
	return s.assembler.UpdateQuantity(req.Cart, req.ItemID, req.Quantity)
}

func (s *Service) CartTotals(c domain.Cart) domain.CartResponse {
	return cart.Response(c)
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Transaction, error) {
	tx, err := s.assembler.Checkout(ctx, actorName(ctx), req)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "checkout", "transaction", tx.ID, fmt.Sprintf("number=%s,total=%s,items=%d", tx.Number, tx.Total, tx.ItemCount()))
	return *tx, nil
}

func (s *Service) Suspend(ctx context.Context, req domain.SuspendRequest) (domain.Transaction, error) {
	tx, err := s.assembler.Suspend(ctx, actorName(ctx), req)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_suspend", "transaction", tx.ID, fmt.Sprintf("number=%s,session=%s", tx.Number, tx.SessionName))
	return *tx, nil
}

func (s *Service) ListSuspended(ctx context.Context, storeID int64) ([]domain.Transaction, error) {
	return s.assembler.ListSuspended(ctx, storeID)
}

func (s *Service) Resume(ctx context.Context, id int64) (domain.ResumeResponse, error) {
	return s.assembler.Resume(ctx, id)
}

func (s *Service) UpdateSuspended(ctx context.Context, id int64, req domain.SuspendRequest) (domain.Transaction, error) {
	tx, err := s.assembler.UpdateSuspended(ctx, id, req)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_suspend_update", "transaction", tx.ID, fmt.Sprintf("number=%s,total=%s", tx.Number, tx.Total))
	return *tx, nil
}

func (s *Service) CompleteSuspended(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.assembler.CompleteSuspended(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_complete", "transaction", tx.ID, fmt.Sprintf("number=%s,total=%s,pricing=%s", tx.Number, tx.Total, s.assembler.Pricing()))
	return *tx, nil
}

func (s *Service) DeleteSuspended(ctx context.Context, id int64) error {
	if err := s.assembler.DeleteSuspended(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "transaction_suspend_delete", "transaction", id, "")
	return nil
}

// CancelTransaction voids a suspended or completed transaction. The caller
// has already checked the manager PIN.
func (s *Service) CancelTransaction(ctx context.Context, id int64, reason string) (domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Transaction{}, fmt.Errorf("%w: reason is required", store.ErrInvalidInput)
	}
	tx, err := s.assembler.Cancel(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_cancel", "transaction", tx.ID, fmt.Sprintf("number=%s,reason=%s", tx.Number, reason))
	return *tx, nil
}

func (s *Service) RefundTransaction(ctx context.Context, id int64, reason string) (domain.Transaction, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Transaction{}, fmt.Errorf("%w: reason is required", store.ErrInvalidInput)
	}
	tx, err := s.assembler.Refund(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logAudit(ctx, "transaction_refund", "transaction", tx.ID, fmt.Sprintf("number=%s,total=%s,reason=%s", tx.Number, tx.Total, reason))
	return *tx, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) Receipt(ctx context.Context, id int64) (domain.Receipt, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	st, err := s.repo.GetStore(ctx, tx.StoreID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("load store %d: %w", tx.StoreID, err)
	}
	cur, err := s.converter.Lookup(ctx, tx.CurrencyID)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("load currency %d: %w", tx.CurrencyID, err)
	}
	return receipt.Build(*tx, *st, cur)
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (domain.TransactionPage, error) {
	return s.reports.List(ctx, filter)
}

func (s *Service) TransactionSummary(ctx context.Context, filter domain.TransactionFilter) (domain.TransactionSummary, error) {
	return s.reports.Summary(ctx, filter)
}

func (s *Service) ExportTransactions(ctx context.Context, filter domain.TransactionFilter, w io.Writer) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.reports.ExportXLSX(ctx, filter, w)
}
