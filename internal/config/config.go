package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	CompletionPricingLocked  = "locked"
	CompletionPricingReprice = "reprice"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	Env                     string
	LogLevel                string
	DatabaseURL             string
	RunMigrations           bool
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	CurrencyCacheTTLSeconds int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	CompletionPricing       string
	ProductLookupURL        string
	ProductLookupTimeout    int
	ProductLookupTTLHours   int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; variables already set win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not parse .env file, using process environment")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := positiveInt("CURRENCY_CACHE_TTL_SECONDS", 300)
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	lookupTimeout := positiveInt("PRODUCT_LOOKUP_TIMEOUT_SECONDS", 5)
	lookupTTL := positiveInt("PRODUCT_LOOKUP_TTL_HOURS", 72)

	pricing := strings.ToLower(strings.TrimSpace(getEnv("COMPLETION_PRICING", CompletionPricingLocked)))
	if pricing != CompletionPricingReprice {
		pricing = CompletionPricingLocked
	}

	return Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		Env:                     getEnv("APP_ENV", "development"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RunMigrations:           parseBool(os.Getenv("RUN_MIGRATIONS")),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		CurrencyCacheTTLSeconds: cacheTTL,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		CompletionPricing:       pricing,
		ProductLookupURL:        strings.TrimSpace(os.Getenv("PRODUCT_LOOKUP_URL")),
		ProductLookupTimeout:    lookupTimeout,
		ProductLookupTTLHours:   lookupTTL,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
