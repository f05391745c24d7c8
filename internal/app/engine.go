package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/internal/payments"
	"github.com/odyssey-erp/replenish/internal/replenishment"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// EngineParams groups the runtime resources the replenishment engine is built from.
type EngineParams struct {
	Config   *Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Redis    redis.UniversalClient
	Notifier replenishment.Notifier
	Metrics  *jobmetrics.Metrics
}

// NewPaymentGateway selects Stripe, or the sandbox when no key is configured outside production.
func NewPaymentGateway(cfg *Config, logger *slog.Logger) payments.Gateway {
	if cfg.UseSandboxGateway() {
		logger.Warn("stripe key missing, using sandbox payment gateway")
		return payments.NewSandbox()
	}
	return payments.NewStripeGateway(cfg.StripeSecretKey, &http.Client{Timeout: cfg.PaymentTimeout + 5*time.Second})
}

// NewEngine wires the replenishment engine against Postgres, Redis and the payment gateway.
func NewEngine(p EngineParams) (*replenishment.Engine, error) {
	loc, err := time.LoadLocation(p.Config.ReplenishTimezone)
	if err != nil {
		return nil, err
	}
	repo := replenishment.NewRepository(p.Pool)
	coordinator := replenishment.NewCoordinator(
		repo,
		NewPaymentGateway(p.Config, p.Logger),
		p.Notifier,
		p.Logger,
		p.Metrics,
		p.Config.Coordinator(),
	)
	guard := replenishment.NewGuard(shared.NewRedisLocker(p.Redis), replenishment.GuardConfig{
		LockTTL:  p.Config.ReplenishLockTTL,
		LockWait: p.Config.ReplenishLockWait,
	}, p.Logger)

	return replenishment.NewEngine(replenishment.EngineDeps{
		Ledger:      repo,
		Clients:     repo,
		Orders:      repo,
		Synthesizer: replenishment.NewSynthesizer(repo, p.Config.PaymentCurrency),
		Coordinator: coordinator,
		Guard:       guard,
		Idempotency: shared.NewIdempotencyStore(p.Pool),
		Logger:      p.Logger,
		Metrics:     p.Metrics,
	}, replenishment.EngineConfig{
		Workers:  p.Config.ReplenishWorkers,
		Location: loc,
	}), nil
}
