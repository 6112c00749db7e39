package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"shoppingbird/backend/internal/cart"
	"shoppingbird/backend/internal/domain"
	"shoppingbird/backend/internal/report"
	"shoppingbird/backend/internal/service"
	"shoppingbird/backend/internal/store/memory"
)

const testManagerPIN = "739154"

// newTestAPI wires the real service and auth manager over a seeded memory
// store so handler tests exercise the whole request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{Pricing: cart.PricingLocked})
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)
	return New(svc, auth, "*")
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return payload["csrf_token"]
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}
	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

func doRequest(t *testing.T, api *API, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (status %d)", err, res.Code)
	}
	return out
}

// checkout scans codes into a fresh cart at store 1 and checks it out.
func checkout(t *testing.T, api *API, token, csrf string, codes ...string) domain.Transaction {
	t.Helper()
	c := domain.Cart{StoreID: 1}
	for _, code := range codes {
		res := doRequest(t, api, http.MethodPost, "/api/v1/cart/scan", token, csrf, domain.ScanRequest{Cart: c, Code: code})
		if res.Code != http.StatusOK {
			t.Fatalf("scan %s: %d %s", code, res.Code, res.Body.String())
		}
		c = decodeBody[domain.CartResponse](t, res).Cart
	}
	res := doRequest(t, api, http.MethodPost, "/api/v1/checkout", token, csrf, domain.CheckoutRequest{Cart: c})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}
	return decodeBody[struct {
		Transaction domain.Transaction `json:"transaction"`
	}](t, res).Transaction
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	res := doRequest(t, api, http.MethodGet, "/healthz", "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody[map[string]any](t, res)
	if body["ok"] != true || body["pricing"] != "locked" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	res := doRequest(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestItemsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	res := doRequest(t, api, http.MethodGet, "/api/v1/items", "", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSearchItems(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := doRequest(t, api, http.MethodGet, "/api/v1/items?q=coffee", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody[struct {
		Items []domain.CatalogItem `json:"items"`
	}](t, res)
	if len(body.Items) != 1 || body.Items[0].ID != 1 {
		t.Fatalf("unexpected search result %+v", body.Items)
	}
}

func TestCashierCannotManageStores(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/stores", token, csrf, domain.StoreRequest{Name: "Kiosk"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/stores", token, csrf, map[string]string{"name": "Kiosk", "colour": "blue"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestScanMissesReturnLookup(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/cart/scan", token, csrf, domain.ScanRequest{Cart: domain.Cart{StoreID: 1}, Code: "no-such-code"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown code, got %d", res.Code)
	}
	missing := decodeBody[struct {
		Lookup domain.LookupResult `json:"lookup"`
	}](t, res)
	if missing.Lookup.Status != domain.LookupNotFound {
		t.Fatalf("expected not_found lookup, got %+v", missing.Lookup)
	}

	// The sourdough EAN is known but only priced at store 1.
	res = doRequest(t, api, http.MethodPost, "/api/v1/cart/scan", token, csrf, domain.ScanRequest{Cart: domain.Cart{StoreID: 2}, Code: "0049000006346"})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unpriced item, got %d", res.Code)
	}
	unpriced := decodeBody[struct {
		Lookup domain.LookupResult `json:"lookup"`
	}](t, res)
	if unpriced.Lookup.Status != domain.LookupUnpriced || unpriced.Lookup.Item == nil || unpriced.Lookup.Item.ID != 2 {
		t.Fatalf("expected unpriced lookup for item 2, got %+v", unpriced.Lookup)
	}
}

func TestCheckoutAndReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	tx := checkout(t, api, token, csrf, "1234", "1234", "3001")
	if tx.Status != domain.TxStatusCompleted || tx.ItemCount() != 3 || tx.Username != "cashier" {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	res := doRequest(t, api, http.MethodGet, "/api/v1/transactions/"+strconv.FormatInt(tx.ID, 10)+"/receipt", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("receipt: %d %s", res.Code, res.Body.String())
	}
	rec := decodeBody[domain.Receipt](t, res)
	if rec.TransactionNumber != tx.Number || rec.EscposBase64 == "" || rec.QRCodePNGBase64 == "" {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if !strings.Contains(rec.PreviewText, "City Tax") {
		t.Fatalf("expected tax rows on receipt:\n%s", rec.PreviewText)
	}
}

func TestSuspendResumeComplete(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPost, "/api/v1/cart/scan", token, csrf, domain.ScanRequest{Cart: domain.Cart{StoreID: 1}, Code: "2001"})
	if res.Code != http.StatusOK {
		t.Fatalf("scan: %d", res.Code)
	}
	c := decodeBody[domain.CartResponse](t, res).Cart

	res = doRequest(t, api, http.MethodPost, "/api/v1/suspended", token, csrf, domain.SuspendRequest{Cart: c, SessionName: "lane 2"})
	if res.Code != http.StatusCreated {
		t.Fatalf("suspend: %d %s", res.Code, res.Body.String())
	}
	suspended := decodeBody[struct {
		Transaction domain.Transaction `json:"transaction"`
	}](t, res).Transaction
	path := "/api/v1/suspended/" + strconv.FormatInt(suspended.ID, 10)

	res = doRequest(t, api, http.MethodGet, path, token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", res.Code, res.Body.String())
	}
	resumed := decodeBody[domain.ResumeResponse](t, res)
	if len(resumed.Cart.Lines) != 1 || resumed.Cart.Lines[0].ItemID != 2 {
		t.Fatalf("unexpected resumed cart %+v", resumed.Cart)
	}

	res = doRequest(t, api, http.MethodPost, path+"/complete", token, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", res.Code, res.Body.String())
	}

	res = doRequest(t, api, http.MethodDelete, path, token, csrf, nil)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 deleting a completed transaction, got %d", res.Code)
	}
}

func TestRefundNeedsManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	tx := checkout(t, api, token, csrf, "2001")
	path := "/api/v1/transactions/" + strconv.FormatInt(tx.ID, 10) + "/refund"

	res := doRequest(t, api, http.MethodPost, path, token, csrf, domain.TransactionStatusRequest{ManagerPIN: "000000", Reason: "damaged"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", res.Code)
	}

	res = doRequest(t, api, http.MethodPost, path, token, csrf, domain.TransactionStatusRequest{ManagerPIN: testManagerPIN, Reason: "damaged"})
	if res.Code != http.StatusOK {
		t.Fatalf("refund: %d %s", res.Code, res.Body.String())
	}
	refunded := decodeBody[struct {
		Transaction domain.Transaction `json:"transaction"`
	}](t, res).Transaction
	if refunded.Status != domain.TxStatusRefunded {
		t.Fatalf("expected refunded, got %s", refunded.Status)
	}

	res = doRequest(t, api, http.MethodPost, path, token, csrf, domain.TransactionStatusRequest{ManagerPIN: testManagerPIN, Reason: "again"})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 refunding twice, got %d", res.Code)
	}
}

func TestListTransactionsAndExport(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "cashier", "cashier123")
	admin := login(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	checkout(t, api, cashier, csrf, "1234")
	checkout(t, api, cashier, csrf, "3001")

	res := doRequest(t, api, http.MethodGet, "/api/v1/transactions?sort=total&order=desc&page_size=1", admin, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list: %d %s", res.Code, res.Body.String())
	}
	page := decodeBody[domain.TransactionPage](t, res)
	if page.Total != 2 || len(page.Items) != 1 || page.Items[0].Total.StringFixed(2) != "114.00" {
		t.Fatalf("unexpected page %+v", page)
	}

	res = doRequest(t, api, http.MethodGet, "/api/v1/transactions?sort=colour", admin, "", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sort, got %d", res.Code)
	}

	res = doRequest(t, api, http.MethodGet, "/api/v1/transactions/export.xlsx", cashier, "", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 export for cashier, got %d", res.Code)
	}
	res = doRequest(t, api, http.MethodGet, "/api/v1/transactions/export.xlsx", admin, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("export: %d %s", res.Code, res.Body.String())
	}
	if got := res.Header().Get("Content-Type"); got != report.XLSXContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("PK")) {
		t.Fatalf("expected a zip container")
	}
}

func TestCurrencyBaseCannotBeCleared(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	res := doRequest(t, api, http.MethodPatch, "/api/v1/currencies/1", token, csrf, map[string]bool{"is_base": false})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.Code, res.Body.String())
	}

	res = doRequest(t, api, http.MethodPost, "/api/v1/currencies/convert", token, csrf, map[string]string{"amount": "10", "from": "USD", "to": "EUR"})
	if res.Code != http.StatusOK {
		t.Fatalf("convert: %d %s", res.Code, res.Body.String())
	}
	conv := decodeBody[domain.Conversion](t, res)
	if conv.Converted.StringFixed(2) != "9.20" {
		t.Fatalf("unexpected conversion %+v", conv)
	}
}
