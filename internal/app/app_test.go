package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/observability"
	"github.com/odyssey-erp/replenish/internal/replenishment"
	_ "github.com/odyssey-erp/replenish/testing"
)

type stubEngine struct {
	runs int
}

func (s *stubEngine) RunForClient(context.Context, int64) (replenishment.Outcome, error) {
	s.runs++
	return replenishment.Outcome{ClientID: 1, Kind: replenishment.OutcomeNoAction}, nil
}

func (s *stubEngine) Projection(context.Context, int64, int) ([]replenishment.ProjectionItem, error) {
	return nil, nil
}

func (s *stubEngine) ListInventory(context.Context, int64) ([]replenishment.LedgerEntry, error) {
	return nil, nil
}

func (s *stubEngine) UpsertInventory(context.Context, replenishment.LedgerInput) (replenishment.LedgerEntry, error) {
	return replenishment.LedgerEntry{}, nil
}

func (s *stubEngine) AdjustInventory(context.Context, int64, int64, float64) (replenishment.LedgerEntry, error) {
	return replenishment.LedgerEntry{}, nil
}

func (s *stubEngine) ListOrders(context.Context, int64, int) ([]replenishment.Order, error) {
	return nil, nil
}

func testRouter(t *testing.T) (http.Handler, *stubEngine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := &stubEngine{}
	cfg := &Config{AppEnv: "development", ServiceToken: "s3cret", RateLimitPerMin: 1000}
	return NewRouter(RouterParams{
		Logger:               logger,
		Config:               cfg,
		ReplenishmentHandler: replenishment.NewHandler(logger, engine),
		Metrics:              observability.NewMetrics(),
	}), engine
}

func TestDetectMode(t *testing.T) {
	require.True(t, InTestMode())
	require.Equal(t, ModeServe, DetectMode(func(string) string { return "" }))
	require.Equal(t, ModeTest, DetectMode(func(key string) string {
		if key == TestModeEnv {
			return "1"
		}
		return ""
	}))
}

func TestHealthzIsPublic(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestReplenishmentRequiresToken(t *testing.T) {
	router, engine := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replenishment/clients/1/run", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/replenishment/clients/1/run", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, engine.runs)

	req = httptest.NewRequest(http.MethodPost, "/replenishment/clients/1/run", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, engine.runs)
}

func TestSecureHeadersApplied(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SERVICE_TOKEN", "token")
	t.Setenv("APP_ENV", "development")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "53 19 * * *", cfg.ReplenishCron)
	require.Equal(t, "Africa/Tunis", cfg.ReplenishTimezone)
	require.Equal(t, 4, cfg.ReplenishWorkers)
	require.Equal(t, "eur", cfg.PaymentCurrency)
	require.True(t, cfg.UseSandboxGateway())
	require.GreaterOrEqual(t, cfg.AppRequestTimeout, cfg.SettlementBudget())
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		ServiceToken:      "token",
		ReplenishCron:     "53 19 * * *",
		ReplenishTimezone: "UTC",
		ReplenishWorkers:  1,
		PaymentCurrency:   "eur",
		AppRequestTimeout: 90 * time.Second,
		AppWriteTimeout:   95 * time.Second,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.ReplenishTimezone = "Mars/Olympus"
	require.Error(t, bad.Validate())

	bad = base
	bad.ReplenishWorkers = 0
	require.Error(t, bad.Validate())

	bad = base
	bad.PaymentCurrency = "zz"
	require.Error(t, bad.Validate())

	bad = base
	bad.AppEnv = "production"
	require.Error(t, bad.Validate())
	bad.StripeSecretKey = "sk_live_x"
	require.NoError(t, bad.Validate())
}

func TestSettlementBudgetCoversWorstCaseRun(t *testing.T) {
	cfg := Config{
		ReplenishLockWait: 10 * time.Second,
		PaymentTimeout:    20 * time.Second,
		NotifyTimeout:     10 * time.Second,
	}
	settle := cfg.Coordinator().MaxDuration()
	require.GreaterOrEqual(t, settle, 2*cfg.PaymentTimeout+cfg.NotifyTimeout)

	budget := cfg.SettlementBudget()
	require.GreaterOrEqual(t, budget, cfg.ReplenishLockWait+settle)
	require.Greater(t, cfg.ShutdownTimeout(), budget)
	// asynq's own default of 8s would abandon a settlement mid-charge
	require.Greater(t, cfg.ShutdownTimeout(), 8*time.Second)

	cfg.PaymentTimeout = 40 * time.Second
	require.Equal(t, budget+40*time.Second, cfg.SettlementBudget())
}

func TestConfigRejectsRequestTimeoutShorterThanRun(t *testing.T) {
	cfg := Config{
		ServiceToken:      "token",
		ReplenishCron:     "53 19 * * *",
		ReplenishTimezone: "UTC",
		ReplenishWorkers:  1,
		PaymentCurrency:   "eur",
		ReplenishLockWait: 10 * time.Second,
		PaymentTimeout:    20 * time.Second,
		NotifyTimeout:     10 * time.Second,
		AppRequestTimeout: 30 * time.Second,
		AppWriteTimeout:   30 * time.Second,
	}
	require.ErrorContains(t, cfg.Validate(), "request timeout")

	cfg.AppRequestTimeout = cfg.SettlementBudget()
	cfg.AppWriteTimeout = cfg.AppRequestTimeout - time.Second
	require.ErrorContains(t, cfg.Validate(), "write timeout")

	cfg.AppWriteTimeout = cfg.AppRequestTimeout
	require.NoError(t, cfg.Validate())
}
