// Package currency converts amounts between currencies through the base
// currency and formats money for display.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"shoppingbird/backend/internal/cache"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/store"
)

type Converter struct {
	repo  store.CurrencyReader
	cache cache.CurrencyCache
}

// NewConverter wires a converter to its cache. A nil cache gets an
// in-process one without expiry.
func NewConverter(repo store.CurrencyReader, c cache.CurrencyCache) *Converter {
	if c == nil {
		c = cache.NewMemoryCurrencyCache(0)
	}
	return &Converter{repo: repo, cache: c}
}

func (c *Converter) Base(ctx context.Context) (domain.Currency, error) {
	if cur, ok, err := c.cache.GetBase(ctx); err != nil {
		log.Warn().Err(err).Msg("currency cache read failed")
	} else if ok {
		return *cur, nil
	}

	base, err := c.repo.GetBaseCurrency(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Currency{}, fmt.Errorf("base currency: %w", store.ErrNotFound)
		}
		return domain.Currency{}, fmt.Errorf("load base currency: %w", err)
	}
	if err := c.cache.SetBase(ctx, *base); err != nil {
		log.Warn().Err(err).Msg("currency cache write failed")
	}
	return *base, nil
}

func (c *Converter) List(ctx context.Context) ([]domain.Currency, error) {
	if list, ok, err := c.cache.GetList(ctx); err != nil {
		log.Warn().Err(err).Msg("currency cache read failed")
	} else if ok {
		return list, nil
	}

	list, err := c.repo.ListCurrencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	if err := c.cache.SetList(ctx, list); err != nil {
		log.Warn().Err(err).Msg("currency cache write failed")
	}
	return list, nil
}

// Get returns an active currency. Retired currencies are not found.
func (c *Converter) Get(ctx context.Context, id int64) (domain.Currency, error) {
	cur, err := c.Lookup(ctx, id)
	if err != nil {
		return domain.Currency{}, err
	}
	if !cur.Active {
		return domain.Currency{}, fmt.Errorf("currency %s is inactive: %w", cur.Code, store.ErrNotFound)
	}
	return cur, nil
}

// Lookup returns currency id whether or not it is still active, for reading
// amounts that were recorded in it.
func (c *Converter) Lookup(ctx context.Context, id int64) (domain.Currency, error) {
	list, err := c.List(ctx)
	if err != nil {
		return domain.Currency{}, err
	}
	for _, cur := range list {
		if cur.ID == id {
			return cur, nil
		}
	}
	return domain.Currency{}, fmt.Errorf("currency %d: %w", id, store.ErrNotFound)
}

func (c *Converter) GetByCode(ctx context.Context, code string) (domain.Currency, error) {
	list, err := c.List(ctx)
	if err != nil {
		return domain.Currency{}, err
	}
	code = strings.TrimSpace(code)
	for _, cur := range list {
		if !strings.EqualFold(cur.Code, code) {
			continue
		}
		if !cur.Active {
			return domain.Currency{}, fmt.Errorf("currency %s is inactive: %w", cur.Code, store.ErrNotFound)
		}
		return cur, nil
	}
	return domain.Currency{}, fmt.Errorf("currency %q: %w", code, store.ErrNotFound)
}

// Places returns the decimal places of a currency, falling back to the base
// currency when id is 0.
func (c *Converter) Places(ctx context.Context, id int64) (int32, error) {
	var (
		cur domain.Currency
		err error
	)
	if id == 0 {
		cur, err = c.Base(ctx)
	} else {
		cur, err = c.Get(ctx, id)
	}
	if err != nil {
		return 0, err
	}
	return cur.DecimalPlaces, nil
}

// Invalidate drops cached currencies. Call it after any write that touches
// the base flag or factors.
func (c *Converter) Invalidate(ctx context.Context) {
	if err := c.cache.Invalidate(ctx); err != nil {
		log.Warn().Err(err).Msg("currency cache invalidation failed")
	}
}

// Convert takes amount from fromID, which may be retired when a stored price
// was recorded in it, into the active currency toID.
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, fromID, toID int64) (domain.Conversion, error) {
	from, err := c.Lookup(ctx, fromID)
	if err != nil {
		return domain.Conversion{}, err
	}
	to, err := c.Get(ctx, toID)
	if err != nil {
		return domain.Conversion{}, err
	}
	return build(amount, from, to)
}

func (c *Converter) ConvertByCode(ctx context.Context, amount decimal.Decimal, fromCode, toCode string) (domain.Conversion, error) {
	from, err := c.GetByCode(ctx, fromCode)
	if err != nil {
		return domain.Conversion{}, err
	}
	to, err := c.GetByCode(ctx, toCode)
	if err != nil {
		return domain.Conversion{}, err
	}
	return build(amount, from, to)
}

func build(amount decimal.Decimal, from, to domain.Currency) (domain.Conversion, error) {
	converted, rate, err := Convert(amount, from, to)
	if err != nil {
		return domain.Conversion{}, err
	}
	return domain.Conversion{
		Amount:    amount,
		Converted: converted,
		Rate:      rate,
		From:      from,
		To:        to,
		Formatted: Format(converted, to, FormatOptions{Symbol: true}),
	}, nil
}

// Convert goes through the base currency: amount / from.Factor * to.Factor.
// The result is not rounded; use Format or Round for display.
func Convert(amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, decimal.Decimal, error) {
	if !from.Factor.IsPositive() || !to.Factor.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: currency factor must be positive", store.ErrInvalidState)
	}
	inBase := amount.Div(from.Factor)
	converted := inBase.Mul(to.Factor)
	rate := to.Factor.Div(from.Factor)
	return converted, rate, nil
}

type FormatOptions struct {
	Symbol bool
	Code   bool
}

// Format rounds amount to the currency's decimal places and decorates it.
func Format(amount decimal.Decimal, cur domain.Currency, opts FormatOptions) string {
	text := amount.StringFixed(cur.DecimalPlaces)
	if opts.Symbol && cur.Symbol != "" {
		if amount.IsNegative() {
			text = "-" + cur.Symbol + strings.TrimPrefix(text, "-")
		} else {
			text = cur.Symbol + text
		}
	}
	if opts.Code && cur.Code != "" {
		text += " " + cur.Code
	}
	return text
}
