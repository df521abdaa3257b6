// Package api_test runs HTTP-level tests against a router backed by a
// throwaway SQLite database. They verify:
//   - Gin router routing and middleware wiring
//   - JWT auth middleware (401 without token, 401 with bad token)
//   - ownership checks on position reads and manual closes
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/api"
	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/testdb"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

type stubPricer struct{ price decimal.Decimal }

func (s stubPricer) PriceFor(context.Context, string, decimal.Decimal) decimal.Decimal {
	return s.price
}

func testCfg() *config.Config {
	cfg := config.Defaults()
	cfg.JWT.AccessSecret = "test-access-secret-abcdefghijklmnop"
	return &cfg
}

type env struct {
	db   *sqlx.DB
	h    http.Handler
	auth *service.AuthService
}

func buildTestRouter(t *testing.T, cfg *config.Config) *env {
	t.Helper()
	db := testdb.New(t)
	logger := testdb.Logger()

	positions := repository.NewPositionRepository(db)
	accounts := repository.NewAccountRepository(db)
	history := repository.NewHistoryRepository(db)
	targets := repository.NewDailyTargetRepository(db)

	ledger := service.NewLedgerWriter(db, positions, accounts, history, targets, cfg.Engine, logger)
	posSvc := service.NewPositionService(db, positions, ledger,
		stubPricer{price: decimal.RequireFromString("2660.00")}, cfg.Engine, logger)
	targetSvc := service.NewDailyTargetService(targets, accounts, ledger, cfg.Payout, logger)
	authSvc := service.NewAuthService(cfg.JWT)

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc:     authSvc,
		PositionSvc: posSvc,
		TargetSvc:   targetSvc,
		AccountRepo: accounts,
		HistoryRepo: history,
		Cfg:         cfg,
	})
	return &env{db: db, h: r, auth: authSvc}
}

func (e *env) bearer(t *testing.T, userID uuid.UUID) map[string]string {
	t.Helper()
	tok, err := e.auth.IssueAccessToken(userID, "user", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return m
}

func decimalField(t *testing.T, m map[string]interface{}, key string) decimal.Decimal {
	t.Helper()
	s, ok := m[key].(string)
	require.True(t, ok, "field %q is %T, want string", key, m[key])
	return decimal.RequireFromString(s)
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	rr := do(t, e.h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// ── JWT auth middleware ───────────────────────────────────────────────────────

func TestProtectedRoutes_NoToken_Returns401(t *testing.T) {
	e := buildTestRouter(t, testCfg())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/positions"},
		{http.MethodGet, "/api/positions/" + uuid.NewString()},
		{http.MethodPost, "/api/positions/" + uuid.NewString() + "/close"},
		{http.MethodGet, "/api/account"},
		{http.MethodGet, "/api/history"},
		{http.MethodGet, "/api/targets"},
	} {
		rr := do(t, e.h, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestInvalidToken_Returns401(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	// well-formed header and payload, wrong signature
	fakeJWT := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" +
		".eyJzdWIiOiIxMjM0NTY3ODkwIiwicm9sZSI6InVzZXIiLCJ0eXBlIjoiYWNjZXNzIn0" +
		".BADSIG"
	rr := do(t, e.h, http.MethodGet, "/api/positions", "", map[string]string{
		"Authorization": "Bearer " + fakeJWT,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTokenFromOtherSecret_Returns401(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	other := service.NewAuthService(config.JWTConfig{AccessSecret: "another-secret"})
	tok, err := other.IssueAccessToken(uuid.New(), "user", time.Hour)
	require.NoError(t, err)

	rr := do(t, e.h, http.MethodGet, "/api/account", "", map[string]string{
		"Authorization": "Bearer " + tok,
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

// ── Positions ─────────────────────────────────────────────────────────────────

func TestListPositions_OnlyOwn(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	alice := testdb.SeedAccount(t, e.db, "100.00", "0")
	bob := testdb.SeedAccount(t, e.db, "100.00", "0")
	mine := testdb.SeedPosition(t, e.db, alice, nil)
	testdb.SeedPosition(t, e.db, bob, nil)

	rr := do(t, e.h, http.MethodGet, "/api/positions", "", e.bearer(t, alice))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	data, ok := body["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, mine.ID.String(), data[0].(map[string]interface{})["position_id"])
}

func TestGetPosition_OtherUserIsNotFound(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	alice := testdb.SeedAccount(t, e.db, "100.00", "0")
	bob := testdb.SeedAccount(t, e.db, "100.00", "0")
	p := testdb.SeedPosition(t, e.db, bob, nil)

	rr := do(t, e.h, http.MethodGet, "/api/positions/"+p.ID.String(), "", e.bearer(t, alice))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "ERR_POSITION_NOT_FOUND", decodeBody(t, rr)["code"])

	rr = do(t, e.h, http.MethodGet, "/api/positions/"+p.ID.String(), "", e.bearer(t, bob))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGetPosition_BadID(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	rr := do(t, e.h, http.MethodGet, "/api/positions/not-a-uuid", "", e.bearer(t, uuid.New()))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "ERR_INVALID_ID", decodeBody(t, rr)["code"])
}

func TestClosePosition_BooksOnceAndShowsInHistory(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	alice := testdb.SeedAccount(t, e.db, "100.00", "0")
	p := testdb.SeedPosition(t, e.db, alice, nil)
	auth := e.bearer(t, alice)
	path := "/api/positions/" + p.ID.String() + "/close"

	rr := do(t, e.h, http.MethodPost, path, "", auth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Equal(t, true, data["closed"])
	// long 0.01 lot, +10.00 move, multiplier 100
	assert.True(t, decimalField(t, data, "pnl").Equal(decimal.RequireFromString("10")))
	assert.True(t, decimalField(t, data, "balance_after").Equal(decimal.RequireFromString("110")))

	rr = do(t, e.h, http.MethodPost, path, "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	again := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.Equal(t, false, again["closed"])
	assert.NotContains(t, again, "balance_after")
	assert.True(t, decimalField(t, again, "pnl").Equal(decimal.RequireFromString("10")))

	rr = do(t, e.h, http.MethodGet, "/api/history", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Len(t, body["data"], 1)
	assert.NotNil(t, body["meta"])

	rr = do(t, e.h, http.MethodGet, "/api/account", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	acct := decodeBody(t, rr)["data"].(map[string]interface{})
	assert.True(t, decimalField(t, acct, "balance").Equal(decimal.RequireFromString("110")))

	rr = do(t, e.h, http.MethodGet, "/api/account/operations", "", auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 1)
}

func TestClosePosition_OtherUserForbidden(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	alice := testdb.SeedAccount(t, e.db, "100.00", "0")
	bob := testdb.SeedAccount(t, e.db, "100.00", "0")
	p := testdb.SeedPosition(t, e.db, bob, nil)

	rr := do(t, e.h, http.MethodPost, "/api/positions/"+p.ID.String()+"/close", "", e.bearer(t, alice))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	got, err := repository.NewPositionRepository(e.db).GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, got.Status)
}

func TestAccount_MissingIsNotFound(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	rr := do(t, e.h, http.MethodGet, "/api/account", "", e.bearer(t, uuid.New()))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "ERR_ACCOUNT_NOT_FOUND", decodeBody(t, rr)["code"])
}

func TestTargets_ListsActive(t *testing.T) {
	cfg := testCfg()
	e := buildTestRouter(t, cfg)
	alice := testdb.SeedAccount(t, e.db, "100.00", "0")

	accounts := repository.NewAccountRepository(e.db)
	targets := repository.NewDailyTargetRepository(e.db)
	ledger := service.NewLedgerWriter(e.db, repository.NewPositionRepository(e.db), accounts,
		repository.NewHistoryRepository(e.db), targets, cfg.Engine, testdb.Logger())
	svc := service.NewDailyTargetService(targets, accounts, ledger, cfg.Payout, testdb.Logger())
	_, err := svc.Schedule(context.Background(), alice, decimal.RequireFromString("50"), time.Hour)
	require.NoError(t, err)

	rr := do(t, e.h, http.MethodGet, "/api/targets", "", e.bearer(t, alice))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["data"], 1)
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	rr := do(t, e.h, http.MethodGet, "/api/account", "", nil)
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	e := buildTestRouter(t, testCfg())
	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS /api/positions = %d, want 204 or 200", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("open CORS origin = %q, want *", got)
	}
}

func TestCORSAllowOrigin_Restricted(t *testing.T) {
	cfg := testCfg()
	cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	e := buildTestRouter(t, cfg)

	for origin, want := range map[string]string{
		"https://app.example.com": "https://app.example.com",
		"https://evil.example":    "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		e.h.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}
