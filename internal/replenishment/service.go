package replenishment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/internal/shared"
)

// EngineConfig groups scheduling settings for the engine.
type EngineConfig struct {
	// Workers bounds how many clients are replenished concurrently during a cycle.
	Workers int
	// Location decides the calendar day a cycle belongs to.
	Location             *time.Location
	IdempotencyRetention time.Duration
}

// EngineDeps collects the collaborators of the engine.
type EngineDeps struct {
	Ledger      LedgerStore
	Clients     ClientDirectory
	Orders      OrderStore
	Synthesizer *Synthesizer
	Coordinator *Coordinator
	Guard       *Guard
	Idempotency *shared.IdempotencyStore
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// Engine drives replenishment cycles and manual runs.
type Engine struct {
	ledger      LedgerStore
	clients     ClientDirectory
	orders      OrderStore
	decrementer *Decrementer
	synth       *Synthesizer
	coordinator *Coordinator
	guard       *Guard
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	metrics     *jobmetrics.Metrics
	cfg         EngineConfig
	clock       func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.IdempotencyRetention <= 0 {
		cfg.IdempotencyRetention = 90 * 24 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := deps.Guard
	if guard == nil {
		guard = NewGuard(nil, GuardConfig{}, logger)
	}
	return &Engine{
		ledger:      deps.Ledger,
		clients:     deps.Clients,
		orders:      deps.Orders,
		decrementer: NewDecrementer(deps.Ledger),
		synth:       deps.Synthesizer,
		coordinator: deps.Coordinator,
		guard:       guard,
		idempotency: deps.Idempotency,
		logger:      logger,
		metrics:     deps.Metrics,
		cfg:         cfg,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// RunCycle performs the daily cycle: one consumption pass, then detection, synthesis and
// settlement for every eligible client. Per-client failures are reported, not returned.
// ErrCycleAlreadyRan is returned when the day's pass was already applied.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	now := e.clock()
	key := CycleKey(now, e.cfg.Location)
	report := CycleReport{CycleKey: key, StartedAt: now}
	logger := e.logger.With(slog.String("cycle_key", key))

	n, err := e.decrementer.Run(ctx, key, now)
	if err != nil {
		return report, err
	}
	report.Decremented = n
	e.metrics.AddDecremented(n)
	logger.Info("consumption applied", slog.Int64("entries", n))

	clients, err := e.clients.ListAutoOrderEligibleClients(ctx)
	if err != nil {
		return report, fmt.Errorf("replenishment: list eligible clients: %w", err)
	}

	results := make([]ClientResult, len(clients))
	launched := 0
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, client := range clients {
		if ctx.Err() != nil {
			break
		}
		launched++
		g.Go(func() error {
			// A started client runs to completion even if the cycle is cancelled.
			outcome, err := e.replenish(context.WithoutCancel(ctx), client)
			res := ClientResult{ClientID: client.ID, Outcome: outcome}
			if err != nil {
				res.Err = err.Error()
				logger.Error("client replenishment failed", slog.Int64("client_id", client.ID), slog.Any("error", err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	report.Results = results[:launched]
	report.Skipped = len(clients) - launched
	report.FinishedAt = e.clock()

	if err := e.idempotency.Cleanup(context.WithoutCancel(ctx), e.cfg.IdempotencyRetention); err != nil {
		logger.Warn("idempotency cleanup", slog.Any("error", err))
	}

	logger.Info("cycle completed",
		slog.Int("clients", len(clients)),
		slog.Int("paid", report.Count(OutcomePaid)),
		slog.Int("failed", report.Count(OutcomeFailed)),
		slog.Int("no_action", report.Count(OutcomeNoAction)),
		slog.Int("errors", report.Errors()),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// RunForClient runs detection, synthesis and settlement for one client without the
// consumption pass.
func (e *Engine) RunForClient(ctx context.Context, clientID int64) (Outcome, error) {
	client, err := e.clients.GetClient(ctx, clientID)
	if err != nil {
		return Outcome{}, err
	}
	return e.replenish(ctx, client)
}

func (e *Engine) replenish(ctx context.Context, client Client) (Outcome, error) {
	return e.guard.Do(ctx, client.ID, func(ctx context.Context) (Outcome, error) {
		entries, err := e.ledger.ListByClient(ctx, client.ID)
		if err != nil {
			return Outcome{}, fmt.Errorf("replenishment: load ledger client %d: %w", client.ID, err)
		}
		due := CollectDue(entries)
		order, ok, err := e.synth.Synthesize(ctx, client.ID, due)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{ClientID: client.ID, Kind: OutcomeNoAction, Message: "no products at or below reorder point"}, nil
		}
		if err := e.orders.CreateOrder(ctx, &order); err != nil {
			return Outcome{}, fmt.Errorf("replenishment: create order client %d: %w", client.ID, err)
		}
		e.logger.Info("auto order created",
			slog.Int64("client_id", client.ID),
			slog.String("order_number", order.OrderNumber),
			slog.Int("lines", len(order.Lines)),
			slog.String("total", order.TotalAmount.StringFixed(2)),
		)
		return e.coordinator.Settle(ctx, client, &order)
	})
}

// Projection forecasts the client's ledger over days.
func (e *Engine) Projection(ctx context.Context, clientID int64, days int) ([]ProjectionItem, error) {
	if _, err := e.clients.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	entries, err := e.ledger.ListByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return Project(entries, days), nil
}

// ListInventory returns the client's ledger entries.
func (e *Engine) ListInventory(ctx context.Context, clientID int64) ([]LedgerEntry, error) {
	if _, err := e.clients.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return e.ledger.ListByClient(ctx, clientID)
}

// UpsertInventory creates or replaces a ledger entry keyed by client and product.
func (e *Engine) UpsertInventory(ctx context.Context, input LedgerInput) (LedgerEntry, error) {
	if err := input.Validate(); err != nil {
		return LedgerEntry{}, err
	}
	return e.ledger.Upsert(ctx, input, e.clock())
}

// AdjustInventory applies delta to an entry's stock, floored at zero.
func (e *Engine) AdjustInventory(ctx context.Context, clientID, entryID int64, delta float64) (LedgerEntry, error) {
	if clientID <= 0 || entryID <= 0 {
		return LedgerEntry{}, ErrInvalidInput
	}
	if delta == 0 {
		return LedgerEntry{}, fmt.Errorf("%w: adjustment delta must be non-zero", ErrInvalidInput)
	}
	return e.ledger.Adjust(ctx, clientID, entryID, delta, e.clock())
}

// ListOrders returns the client's most recent orders.
func (e *Engine) ListOrders(ctx context.Context, clientID int64, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.orders.ListOrders(ctx, clientID, limit)
}
