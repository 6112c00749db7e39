package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"shoppingbird/backend/internal/cache"
	"shoppingbird/backend/internal/cart"
	"shoppingbird/backend/internal/config"
	"shoppingbird/backend/internal/enrich"
	"shoppingbird/backend/internal/httpapi"
	"shoppingbird/backend/internal/logging"
	"shoppingbird/backend/internal/service"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/store/memory"
	pgstore "shoppingbird/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.Env, cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("database migration failed")
			}
			log.Info().Msg("migrations applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("repository", "postgres").Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("repository", "memory").Msg("repository ready")
	}

	currencyTTL := time.Duration(cfg.CurrencyCacheTTLSeconds) * time.Second
	var currencyCache cache.CurrencyCache = cache.NewMemoryCurrencyCache(currencyTTL)
	var productCache cache.ProductInfoCache = cache.NoopProductInfoCache{}
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCurrency := cache.NewRedisCurrencyCache(client, currencyTTL)
		if err := redisCurrency.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process caches")
			_ = client.Close()
		} else {
			currencyCache = redisCurrency
			productCache = cache.NewRedisProductInfoCache(client)
			closers = append(closers, redisCurrency.Close)
			log.Info().Str("cache", "redis").Msg("cache ready")
		}
	} else {
		log.Info().Str("cache", "memory").Msg("cache ready")
	}

	lookup := enrich.NewClient(
		cfg.ProductLookupURL,
		time.Duration(cfg.ProductLookupTimeout)*time.Second,
		productCache,
		time.Duration(cfg.ProductLookupTTLHours)*time.Hour,
	)
	if lookup.Enabled() {
		log.Info().Str("url", cfg.ProductLookupURL).Msg("product lookup enabled")
	}

	svc := service.New(repo, service.Options{
		CurrencyCache: currencyCache,
		Pricing:       cart.Pricing(cfg.CompletionPricing),
		ProductLookup: lookup,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("pricing", cfg.CompletionPricing).Msg("shoppingbird POS listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	for _, r := range cfg.ManagerPIN {
		if r < '0' || r > '9' {
			return fmt.Errorf("MANAGER_PIN must contain digits only")
		}
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects repeated, sequential and commonly used PINs.
func validatePINStrength(pin string) error {
	weak := map[string]bool{
		"121212": true, "112233": true, "123123": true, "696969": true,
		"101010": true, "159753": true, "147258": true, "202020": true,
	}
	if weak[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	repeated := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			repeated = false
			break
		}
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}

	up, down := true, true
	for i := 1; i < len(pin); i++ {
		step := int(pin[i]) - int(pin[i-1])
		up = up && step == 1
		down = down && step == -1
	}
	if up || down {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
