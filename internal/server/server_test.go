package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/credit-ledger/internal/config"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/features/rewards"
	"serotonyl.ru/credit-ledger/internal/jobs"
	"serotonyl.ru/credit-ledger/internal/server/middleware"
)

const (
	testSecret   = "test-jwt-secret"
	testAdminKey = "test-admin-key"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testEnv struct {
	router http.Handler
	ledger *ledger.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hash, err := middleware.HashArgon2id(testAdminKey)
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:         testSecret,
		AdminKeyHash:      hash,
		RateLimitRequests: 3,
		RateLimitWindow:   time.Minute,
		LedgerMaxAmount:   1_000_000,
	}

	svc := ledger.NewService(ledger.NewMemoryStore())
	table, err := rewards.NewRuleTable(rewards.DefaultRules())
	require.NoError(t, err)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	t.Cleanup(limiter.Close)

	router := NewRouter(cfg, Handlers{
		Ledger:  ledger.NewHandler(svc, cfg.LedgerMaxAmount),
		Rewards: rewards.NewHandler(rewards.NewService(svc, table)),
		Jobs:    jobs.NewHandler(jobs.NewReconciler(svc, jobs.NewLocalLease(), 100, time.Hour)),
		Health:  svc,
	}, limiter)

	return &testEnv{router: router, ledger: svc}
}

func token(t *testing.T, owner string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": owner,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path string, headers map[string]string, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func bearer(t *testing.T, owner string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, owner)}
}

func admin() map[string]string {
	return map[string]string{middleware.AdminKeyHeader: testAdminKey}
}

func TestRouter_CreditFlow(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/admin/credits/add", admin(),
		`{"owner_id":"alice","amount":100,"reason":"welcome"}`)
	require.Equal(t, http.StatusCreated, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/credits/transfer", bearer(t, "alice"),
		`{"to_owner_id":"bob","amount":40,"reason":"gift"}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/credits/deduct", bearer(t, "bob"),
		`{"amount":10,"reason":"service"}`)
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodGet, "/api/v1/credits/balance", bearer(t, "bob"), "")
	require.Equal(t, http.StatusOK, code)
	var balance ledger.BalanceResponse
	require.NoError(t, json.Unmarshal(resp.Data, &balance))
	assert.Equal(t, int64(30), balance.Balance)

	ctx := context.Background()
	b, err := env.ledger.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(60), b)
}

func TestRouter_Auth(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodGet, "/api/v1/credits/balance", nil, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodGet, "/api/v1/credits/balance",
		map[string]string{"Authorization": "Bearer garbage"}, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/credits/add", nil, `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/credits/add",
		map[string]string{middleware.AdminKeyHeader: "wrong"}, `{}`)
	assert.Equal(t, http.StatusForbidden, code)

	// Правила наград публичны
	code, _ = env.do(t, http.MethodGet, "/api/v1/rewards/rules", nil, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_RateLimitsMutations(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.Credit(context.Background(), "carol", 100, "seed", "", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		code, _ := env.do(t, http.MethodPost, "/api/v1/credits/deduct", bearer(t, "carol"),
			`{"amount":1,"reason":"coffee"}`)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := env.do(t, http.MethodPost, "/api/v1/credits/deduct", bearer(t, "carol"),
		`{"amount":1,"reason":"coffee"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)

	// Чтение не лимитируется
	code, _ = env.do(t, http.MethodGet, "/api/v1/credits/balance", bearer(t, "carol"), "")
	assert.Equal(t, http.StatusOK, code)
}

func TestRouter_AdminJobsAndRewards(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/admin/rewards/account_verified", admin(),
		`{"owner_id":"dave"}`)
	require.Equal(t, http.StatusCreated, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/rewards/account_verified", admin(),
		`{"owner_id":"dave"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/rewards/unknown_event", admin(),
		`{"owner_id":"dave"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPost, "/api/v1/admin/reconcile", admin(), "")
	assert.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodGet, "/api/v1/admin/reconcile", admin(), "")
	require.Equal(t, http.StatusOK, code)
	var status jobs.StatusResponse
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "idle", status.State)
	require.NotNil(t, status.LastReport)
	assert.Equal(t, 1, status.LastReport.Scanned)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	health(pingerFunc(func(context.Context) error { return nil }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	health(pingerFunc(func(context.Context) error { return errors.New("down") }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_NotFound(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}
