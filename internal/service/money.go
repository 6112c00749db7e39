package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

func (s *Service) ListTaxTypes(ctx context.Context, activeOnly bool) ([]domain.TaxType, error) {
	return s.repo.ListTaxTypes(ctx, activeOnly)
}

func (s *Service) CreateTaxType(ctx context.Context, req domain.TaxTypeRequest) (domain.TaxType, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.TaxType{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.TaxType{}, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	if req.IsDefault && !active {
		return domain.TaxType{}, fmt.Errorf("%w: an inactive tax type cannot be the default", store.ErrInvalidInput)
	}
	created, err := s.repo.CreateTaxType(ctx, domain.TaxType{
		Name:       strings.TrimSpace(req.Name),
		Percentage: req.Percentage,
		Active:     active,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		return domain.TaxType{}, err
	}

	s.logAudit(ctx, "tax_type_create", "tax_type", created.ID, fmt.Sprintf("name=%s,pct=%s,default=%t", created.Name, created.Percentage, created.IsDefault))
	return *created, nil
}

func (s *Service) UpdateTaxType(ctx context.Context, id int64, req domain.TaxTypeUpdateRequest) (domain.TaxType, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.TaxType{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.TaxType{}, err
	}
	existing, err := s.repo.GetTaxType(ctx, id)
	if err != nil {
		return domain.TaxType{}, err
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Percentage != nil {
		updated.Percentage = *req.Percentage
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	saved, err := s.repo.UpdateTaxType(ctx, updated)
	if err != nil {
		return domain.TaxType{}, err
	}

	s.logAudit(ctx, "tax_type_update", "tax_type", saved.ID, fmt.Sprintf("name=%s,pct=%s,active=%t", saved.Name, saved.Percentage, saved.Active))
	return *saved, nil
}

func (s *Service) SetDefaultTaxType(ctx context.Context, id int64) (domain.TaxType, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.TaxType{}, err
	}
	saved, err := s.repo.SetDefaultTaxType(ctx, id)
	if err != nil {
		return domain.TaxType{}, err
	}
	s.logAudit(ctx, "tax_type_default", "tax_type", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

// CalculateTax previews the breakdown for a base price, rounded to the
// places of the given currency (the base currency when omitted).
func (s *Service) CalculateTax(ctx context.Context, req domain.TaxCalculationRequest) (domain.TaxBreakdown, error) {
	if req.BasePrice.IsNegative() {
		return domain.TaxBreakdown{}, fmt.Errorf("%w: base_price must not be negative", store.ErrInvalidInput)
	}
	places, err := s.converter.Places(ctx, req.CurrencyID)
	if err != nil {
		return domain.TaxBreakdown{}, err
	}
	return s.taxes.Calculate(ctx, req.BasePrice, req.TaxIDs, places)
}

func (s *Service) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	return s.converter.List(ctx)
}

func (s *Service) BaseCurrency(ctx context.Context) (domain.Currency, error) {
	return s.converter.Base(ctx)
}

func (s *Service) CreateCurrency(ctx context.Context, req domain.CurrencyRequest) (domain.Currency, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Currency{}, err
	}
	if err := req.Validate(); err != nil {
		return domain.Currency{}, err
	}

	factor := req.Factor
	if !factor.IsPositive() {
		factor = decimal.NewFromInt(1)
	}
	created, err := s.repo.CreateCurrency(ctx, domain.Currency{
		Code:          strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:          strings.TrimSpace(req.Name),
		Symbol:        strings.TrimSpace(req.Symbol),
		DecimalPlaces: req.DecimalPlaces,
		Factor:        factor,
		IsBase:        req.IsBase,
		Active:        true,
	})
	if err != nil {
		return domain.Currency{}, err
	}

	s.invalidateCurrencies(ctx)
	s.logAudit(ctx, "currency_create", "currency", created.ID, fmt.Sprintf("code=%s,factor=%s,base=%t", created.Code, created.Factor, created.IsBase))
	return *created, nil
}

// UpdateCurrency saves currency fields. The base flag can be moved to this
// currency but never cleared directly: there is always exactly one base.
func (s *Service) UpdateCurrency(ctx context.Context, id int64, req domain.CurrencyUpdateRequest) (domain.Currency, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Currency{}, err
	}
	existing, err := s.repo.GetCurrency(ctx, id)
	if err != nil {
		return domain.Currency{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Currency{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.Symbol != nil {
		updated.Symbol = strings.TrimSpace(*req.Symbol)
	}
	if req.DecimalPlaces != nil {
		if *req.DecimalPlaces < 0 || *req.DecimalPlaces > 8 {
			return domain.Currency{}, fmt.Errorf("%w: decimal_places must be between 0 and 8", store.ErrInvalidInput)
		}
		updated.DecimalPlaces = *req.DecimalPlaces
	}
	if req.Factor != nil {
		if !req.Factor.IsPositive() {
			return domain.Currency{}, fmt.Errorf("%w: factor must be positive", store.ErrInvalidInput)
		}
		if existing.IsBase && !req.Factor.Equal(decimal.NewFromInt(1)) {
			return domain.Currency{}, fmt.Errorf("%w: base currency factor is fixed at 1", store.ErrInvalidState)
		}
		updated.Factor = *req.Factor
	}
	if req.IsBase != nil {
		if existing.IsBase && !*req.IsBase {
			return domain.Currency{}, fmt.Errorf("%w: make another currency the base instead", store.ErrInvalidState)
		}
		updated.IsBase = *req.IsBase
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if updated.IsBase && !updated.Active {
		return domain.Currency{}, fmt.Errorf("%w: the base currency must stay active", store.ErrInvalidState)
	}

	saved, err := s.repo.UpdateCurrency(ctx, updated)
	if err != nil {
		return domain.Currency{}, err
	}

	s.invalidateCurrencies(ctx)
	s.logAudit(ctx, "currency_update", "currency", saved.ID, fmt.Sprintf("code=%s,factor=%s,base=%t,active=%t", saved.Code, saved.Factor, saved.IsBase, saved.Active))
	return *saved, nil
}

func (s *Service) SetBaseCurrency(ctx context.Context, id int64) (domain.Currency, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Currency{}, err
	}
	saved, err := s.repo.SetBaseCurrency(ctx, id)
	if err != nil {
		return domain.Currency{}, err
	}
	s.invalidateCurrencies(ctx)
	s.logAudit(ctx, "currency_set_base", "currency", saved.ID, fmt.Sprintf("code=%s", saved.Code))
	return *saved, nil
}

func (s *Service) UpdateExchangeRates(ctx context.Context, req domain.ExchangeRateUpdateRequest) ([]domain.Currency, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if len(req.Rates) == 0 {
		return nil, fmt.Errorf("%w: rates are required", store.ErrInvalidInput)
	}
	factors := make(map[int64]decimal.Decimal, len(req.Rates))
	for _, rate := range req.Rates {
		if rate.CurrencyID < 1 || !rate.Factor.IsPositive() {
			return nil, fmt.Errorf("%w: every rate needs a currency_id and a positive factor", store.ErrInvalidInput)
		}
		if _, dup := factors[rate.CurrencyID]; dup {
			return nil, fmt.Errorf("%w: currency %d listed twice", store.ErrInvalidInput, rate.CurrencyID)
		}
		factors[rate.CurrencyID] = rate.Factor
	}
	if err := s.repo.UpdateExchangeRates(ctx, factors); err != nil {
		return nil, err
	}

	s.invalidateCurrencies(ctx)
	s.logAudit(ctx, "exchange_rates_update", "currency", 0, fmt.Sprintf("count=%d", len(factors)))
	return s.converter.List(ctx)
}

func (s *Service) Convert(ctx context.Context, req domain.ConversionRequest) (domain.Conversion, error) {
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		return domain.Conversion{}, fmt.Errorf("%w: from and to are required", store.ErrInvalidInput)
	}
	conv, err := s.converter.ConvertByCode(ctx, req.Amount, req.From, req.To)
	if err != nil {
		return domain.Conversion{}, err
	}
	conv.Formatted = currency.Format(conv.Converted, conv.To, currency.FormatOptions{Symbol: true, Code: true})
	return conv, nil
}

func (s *Service) invalidateCurrencies(ctx context.Context) {
	s.converter.Invalidate(ctx)
	log.Debug().Msg("currency cache invalidated")
}
