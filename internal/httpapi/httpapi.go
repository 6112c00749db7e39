package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"shoppingbird/backend/internal/cart"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/service"
	"shoppingbird/backend/internal/store"
	"shoppingbird/backend/internal/tax"
	"shoppingbird/backend/internal/xid"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		log.Fatal().Err(err).Msg("failed to generate csrf secret")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour is an HMAC-SHA256 over the hour bucket, hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	for _, bucket := range []int64{current, current - 3600} {
		if hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(bucket))) {
			return true
		}
	}
	return false
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

const (
	roleAdmin   = domain.RoleAdmin
	roleCashier = domain.RoleCashier
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{roleCashier, roleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, roleAdmin))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, roleAdmin))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, roleAdmin))

	mux.HandleFunc("GET /api/v1/stores", a.requireAuth(a.handleListStores, staff...))
	mux.HandleFunc("POST /api/v1/stores", a.requireAuth(a.handleCreateStore, roleAdmin))
	mux.HandleFunc("GET /api/v1/stores/{id}", a.requireAuth(a.handleGetStore, staff...))
	mux.HandleFunc("PATCH /api/v1/stores/{id}", a.requireAuth(a.handleUpdateStore, roleAdmin))

	mux.HandleFunc("GET /api/v1/items", a.requireAuth(a.handleSearchItems, staff...))
	mux.HandleFunc("POST /api/v1/items", a.requireAuth(a.handleCreateItem, roleAdmin))
	mux.HandleFunc("GET /api/v1/items/{id}", a.requireAuth(a.handleGetItem, staff...))
	mux.HandleFunc("PATCH /api/v1/items/{id}", a.requireAuth(a.handleUpdateItem, roleAdmin))
	mux.HandleFunc("DELETE /api/v1/items/{id}", a.requireAuth(a.handleDeleteItem, roleAdmin))
	mux.HandleFunc("GET /api/v1/items/{id}/prices", a.requireAuth(a.handleListPrices, staff...))
	mux.HandleFunc("GET /api/v1/product-lookup/{code}", a.requireAuth(a.handleProductLookup, roleAdmin))

	mux.HandleFunc("POST /api/v1/prices", a.requireAuth(a.handleSetPrice, roleAdmin))
	mux.HandleFunc("PATCH /api/v1/prices/{id}", a.requireAuth(a.handleUpdatePrice, roleAdmin))
	mux.HandleFunc("POST /api/v1/prices/{id}/deactivate", a.requireAuth(a.handleDeactivatePrice, roleAdmin))
	mux.HandleFunc("DELETE /api/v1/prices/{id}", a.requireAuth(a.handleDeletePrice, roleAdmin))
	mux.HandleFunc("GET /api/v1/prices/{id}/history", a.requireAuth(a.handlePriceHistory, roleAdmin))
	mux.HandleFunc("GET /api/v1/prices/{id}/taxes", a.requireAuth(a.handleListTaxAssociations, staff...))
	mux.HandleFunc("PUT /api/v1/prices/{id}/taxes", a.requireAuth(a.handleReplaceTaxAssociations, roleAdmin))

	mux.HandleFunc("GET /api/v1/tax-types", a.requireAuth(a.handleListTaxTypes, staff...))
	mux.HandleFunc("POST /api/v1/tax-types", a.requireAuth(a.handleCreateTaxType, roleAdmin))
	mux.HandleFunc("PATCH /api/v1/tax-types/{id}", a.requireAuth(a.handleUpdateTaxType, roleAdmin))
	mux.HandleFunc("POST /api/v1/tax-types/{id}/default", a.requireAuth(a.handleSetDefaultTaxType, roleAdmin))
	mux.HandleFunc("POST /api/v1/taxes/calculate", a.requireAuth(a.handleCalculateTax, staff...))

	mux.HandleFunc("GET /api/v1/currencies", a.requireAuth(a.handleListCurrencies, staff...))
	mux.HandleFunc("GET /api/v1/currencies/base", a.requireAuth(a.handleBaseCurrency, staff...))
	mux.HandleFunc("POST /api/v1/currencies", a.requireAuth(a.handleCreateCurrency, roleAdmin))
	mux.HandleFunc("PATCH /api/v1/currencies/{id}", a.requireAuth(a.handleUpdateCurrency, roleAdmin))
	mux.HandleFunc("POST /api/v1/currencies/{id}/base", a.requireAuth(a.handleSetBaseCurrency, roleAdmin))
	mux.HandleFunc("PUT /api/v1/currencies/rates", a.requireAuth(a.handleUpdateRates, roleAdmin))
	mux.HandleFunc("POST /api/v1/currencies/convert", a.requireAuth(a.handleConvert, staff...))

	mux.HandleFunc("POST /api/v1/barcodes/resolve", a.requireAuth(a.handleResolveBarcode, staff...))
	mux.HandleFunc("POST /api/v1/cart/scan", a.requireAuth(a.handleScan, staff...))
	mux.HandleFunc("POST /api/v1/cart/quantity", a.requireAuth(a.handleCartQuantity, staff...))
	mux.HandleFunc("POST /api/v1/cart/totals", a.requireAuth(a.handleCartTotals, staff...))
	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, staff...))

	mux.HandleFunc("POST /api/v1/suspended", a.requireAuth(a.handleSuspend, staff...))
	mux.HandleFunc("GET /api/v1/suspended", a.requireAuth(a.handleListSuspended, staff...))
	mux.HandleFunc("GET /api/v1/suspended/{id}", a.requireAuth(a.handleResume, staff...))
	mux.HandleFunc("PUT /api/v1/suspended/{id}", a.requireAuth(a.handleUpdateSuspended, staff...))
	mux.HandleFunc("POST /api/v1/suspended/{id}/complete", a.requireAuth(a.handleCompleteSuspended, staff...))
	mux.HandleFunc("DELETE /api/v1/suspended/{id}", a.requireAuth(a.handleDeleteSuspended, staff...))

	mux.HandleFunc("GET /api/v1/transactions", a.requireAuth(a.handleListTransactions, staff...))
	mux.HandleFunc("GET /api/v1/transactions/summary", a.requireAuth(a.handleTransactionSummary, roleAdmin))
	mux.HandleFunc("GET /api/v1/transactions/export.xlsx", a.requireAuth(a.handleExportTransactions, roleAdmin))
	mux.HandleFunc("GET /api/v1/transactions/{id}", a.requireAuth(a.handleGetTransaction, staff...))
	mux.HandleFunc("GET /api/v1/transactions/{id}/receipt", a.requireAuth(a.handleReceipt, staff...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/cancel", a.requireAuth(a.handleCancelTransaction, staff...))
	mux.HandleFunc("POST /api/v1/transactions/{id}/refund", a.requireAuth(a.handleRefundTransaction, staff...))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"at":      time.Now().UTC().Format(time.RFC3339),
		"pricing": a.service.Pricing(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token for the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the CSRF header on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r.URL.Query().Get("from"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(r.URL.Query().Get("to"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var fromT, toT time.Time
	if from != nil {
		fromT = *from
	}
	if to != nil {
		toT = *to
	}

	logs, err := a.service.ListAuditLogs(r.Context(), fromT, toT, parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)

		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		event := log.Info()
		if rec.status >= 500 {
			event = log.Error()
		}
		event.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(startedAt)).
			Str("remote", clientKey(r)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.PathValue("id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeParam accepts RFC3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q", raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrItemUnpriced), errors.Is(err, tax.ErrNoValidTaxes), errors.Is(err, store.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps component errors onto HTTP statuses. A failed scan
// also returns what the resolver found so the client can offer to price it.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var lookupErr *cart.LookupError
	if errors.As(err, &lookupErr) {
		writeJSON(w, status, map[string]any{"error": err.Error(), "lookup": lookupErr.Result})
		return
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
