// Package service is the back-office façade over the repository. It owns the
// role checks and the audit trail, and wires the point-of-sale components.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"shoppingbird/backend/internal/barcode"
	"shoppingbird/backend/internal/cache"
	"shoppingbird/backend/internal/cart"
	"shoppingbird/backend/internal/currency"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/enrich"
	"shoppingbird/backend/internal/report"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/tax"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	CurrencyCache cache.CurrencyCache
	Pricing       cart.Pricing
	ProductLookup *enrich.Client
}

type Service struct {
	repo      store.Repository
	converter *currency.Converter
	resolver  *barcode.Resolver
	taxes     *tax.Calculator
	assembler *cart.Assembler
	reports   *report.Service
	lookup    *enrich.Client
}

func New(repo store.Repository, opts Options) *Service {
	converter := currency.NewConverter(repo, opts.CurrencyCache)
	resolver := barcode.NewResolver(repo)
	taxes := tax.NewCalculator(repo)

	return &Service{
		repo:      repo,
		converter: converter,
		resolver:  resolver,
		taxes:     taxes,
		assembler: cart.NewAssembler(repo, resolver, taxes, converter, opts.Pricing),
		reports:   report.NewService(repo, converter),
		lookup:    opts.ProductLookup,
	}
}

func (s *Service) Pricing() cart.Pricing {
	return s.assembler.Pricing()
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID int64, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	id := strconv.FormatInt(entityID, 10)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      id,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+id).Msg("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -1)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: audit range ends before it starts", store.ErrInvalidInput)
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

func (s *Service) GetStore(ctx context.Context, id int64) (domain.Store, error) {
	st, err := s.repo.GetStore(ctx, id)
	if err != nil {
		return domain.Store{}, err
	}
	return *st, nil
}

func (s *Service) CreateStore(ctx context.Context, req domain.StoreRequest) (domain.Store, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Store{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Store{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := s.repo.CreateStore(ctx, domain.Store{Name: name, Address: strings.TrimSpace(req.Address), Active: active})
	if err != nil {
		return domain.Store{}, err
	}

	s.logAudit(ctx, "store_create", "store", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) UpdateStore(ctx context.Context, id int64, req domain.StoreRequest) (domain.Store, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Store{}, err
	}
	existing, err := s.repo.GetStore(ctx, id)
	if err != nil {
		return domain.Store{}, err
	}

	updated := *existing
	if name := strings.TrimSpace(req.Name); name != "" {
		updated.Name = name
	}
	updated.Address = strings.TrimSpace(req.Address)
	if req.Active != nil {
		updated.Active = *req.Active
	}
	saved, err := s.repo.UpdateStore(ctx, updated)
	if err != nil {
		return domain.Store{}, err
	}

	s.logAudit(ctx, "store_update", "store", saved.ID, fmt.Sprintf("name=%s,active=%t", saved.Name, saved.Active))
	return *saved, nil
}
