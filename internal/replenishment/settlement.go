package replenishment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/internal/payments"
)

// CoordinatorConfig bounds the external calls made during settlement.
type CoordinatorConfig struct {
	PaymentTimeout time.Duration
	NotifyTimeout  time.Duration
	// PersistAttempts caps retries when recording a settlement; the charge itself is
	// never retried.
	PersistAttempts uint
	PersistBackoff  time.Duration
	// PersistTimeout bounds each persistence attempt.
	PersistTimeout time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 20 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 10 * time.Second
	}
	if c.PersistAttempts == 0 {
		c.PersistAttempts = 5
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 3 * time.Second
	}
	return c
}

// MaxDuration is the longest one settlement can take: instrument listing and the charge
// are each bounded by PaymentTimeout, then persistence attempts with their waits, then the
// notification.
func (c CoordinatorConfig) MaxDuration() time.Duration {
	c = c.withDefaults()
	persist := time.Duration(c.PersistAttempts) * c.PersistTimeout
	wait := c.PersistBackoff
	for i := uint(1); i < c.PersistAttempts; i++ {
		// randomized intervals reach 1.5x the nominal one
		persist += wait + wait/2
		wait = min(wait+wait/2, 10*c.PersistBackoff)
	}
	return 2*c.PaymentTimeout + persist + c.NotifyTimeout
}

// Coordinator settles pending automatic orders against the payment gateway.
type Coordinator struct {
	orders   OrderStore
	gateway  payments.Gateway
	notifier Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	cfg      CoordinatorConfig
	clock    func() time.Time
}

// NewCoordinator constructs a Coordinator. notifier may be nil.
func NewCoordinator(orders OrderStore, gateway payments.Gateway, notifier Notifier, logger *slog.Logger, metrics *jobmetrics.Metrics, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		orders:   orders,
		gateway:  gateway,
		notifier: notifier,
		Logger:   logger,
		Metrics:  metrics,
		cfg:      cfg.withDefaults(),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Settle charges order for client and records the result. The returned outcome is
// meaningful even when err is non-nil: a captured charge that could not be recorded
// reports OutcomePaid together with the storage error.
func (c *Coordinator) Settle(ctx context.Context, client Client, order *Order) (Outcome, error) {
	if order == nil {
		return Outcome{}, errors.New("replenishment: order required")
	}
	// Once a charge may be in flight, caller cancellation must not stop it from being recorded.
	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("replenishment").Start(ctx, "settle_order",
		trace.WithAttributes(
			attribute.Int64("client.id", client.ID),
			attribute.String("order.number", order.OrderNumber),
			attribute.String("order.total", order.TotalAmount.String()),
		),
	)
	defer span.End()

	logger := c.logger().With(
		slog.Int64("client_id", client.ID),
		slog.String("order_number", order.OrderNumber),
	)

	outcome, err := c.settle(ctx, logger, client, order)
	span.SetAttributes(
		attribute.String("settlement.outcome", string(outcome.Kind)),
		attribute.String("settlement.reason", string(outcome.Reason)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.Metrics.AddSettlement(string(outcome.Kind), string(outcome.Reason))
	if outcome.Kind != "" {
		c.notify(ctx, logger, client, outcome)
	}
	return outcome, err
}

func (c *Coordinator) settle(ctx context.Context, logger *slog.Logger, client Client, order *Order) (Outcome, error) {
	customerRef, ok := client.PaymentRef()
	if !ok {
		return c.fail(ctx, logger, order, ReasonNotConfigured, "payment method not configured")
	}

	listCtx, cancel := context.WithTimeout(ctx, c.cfg.PaymentTimeout)
	instruments, err := c.gateway.ListSavedInstruments(listCtx, customerRef)
	cancel()
	if err != nil {
		logger.Warn("list saved instruments", slog.Any("error", err))
		return c.fail(ctx, logger, order, ReasonGatewayUnavailable, "payment gateway unavailable")
	}
	instrument, ok := payments.DefaultInstrument(instruments)
	if !ok {
		return c.fail(ctx, logger, order, ReasonNoInstrument, "no saved payment method")
	}

	result, err := c.charge(ctx, customerRef, instrument, order)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidRequest) {
			return c.fail(ctx, logger, order, ReasonGatewayRejected, "gateway rejected: "+err.Error())
		}
		result = payments.ChargeAmbiguous{Cause: err.Error()}
	}

	switch res := result.(type) {
	case payments.ChargeSucceeded:
		method := res.Method
		if method == "" {
			method = instrument.Method
		}
		return c.recordPaid(ctx, logger, order, PaymentDetails{Method: method, TransactionID: res.TransactionID})
	case payments.ChargeDeclined:
		return c.fail(ctx, logger, order, ReasonGatewayRejected, "gateway rejected: "+res.Reason)
	case payments.ChargeAmbiguous:
		logger.Error("charge outcome unknown", slog.String("cause", res.Cause))
		return c.fail(ctx, logger, order, ReasonAmbiguousOutcome, "ambiguous outcome: reconcile manually")
	default:
		logger.Error("charge returned no result")
		return c.fail(ctx, logger, order, ReasonAmbiguousOutcome, "ambiguous outcome: reconcile manually")
	}
}

func (c *Coordinator) charge(ctx context.Context, customerRef string, instrument payments.Instrument, order *Order) (payments.ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PaymentTimeout)
	defer cancel()
	ctx, span := otel.Tracer("replenishment").Start(ctx, "charge_off_session")
	defer span.End()

	return c.gateway.ChargeOffSession(ctx, payments.ChargeRequest{
		CustomerRef:    customerRef,
		InstrumentRef:  instrument.ID,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		IdempotencyKey: order.OrderNumber,
		Description:    "Automatic replenishment " + order.OrderNumber,
		Metadata: map[string]string{
			"order_number": order.OrderNumber,
			"client_id":    fmt.Sprintf("%d", order.ClientID),
			"source":       string(order.Source),
		},
	})
}

func (c *Coordinator) recordPaid(ctx context.Context, logger *slog.Logger, order *Order, details PaymentDetails) (Outcome, error) {
	if err := order.MarkPaid(details, c.clock()); err != nil {
		return Outcome{}, err
	}
	snapshot := *order
	err := c.persist(ctx, func(ctx context.Context, tx SettlementTx) error {
		if err := tx.SaveSettlement(ctx, snapshot); err != nil {
			return err
		}
		for _, line := range snapshot.Lines {
			remaining, err := tx.DecrementSupplierStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("supplier stock product %d: %w", line.ProductID, err)
			}
			if remaining < 0 {
				logger.Warn("supplier stock below zero",
					slog.Int64("product_id", line.ProductID),
					slog.Float64("remaining", remaining),
				)
			}
		}
		return nil
	})
	outcome := Outcome{ClientID: order.ClientID, Kind: OutcomePaid, Order: order, Message: "payment captured"}
	if err != nil {
		logger.Error("paid settlement not recorded",
			slog.String("transaction_id", details.TransactionID),
			slog.Any("error", err),
		)
		return outcome, fmt.Errorf("replenishment: record paid order %s: %w", order.OrderNumber, err)
	}
	logger.Info("order paid", slog.String("transaction_id", details.TransactionID))
	return outcome, nil
}

func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, order *Order, reason FailureReason, message string) (Outcome, error) {
	if err := order.MarkFailed(reason, "Automatic payment failed: "+message, c.clock()); err != nil {
		return Outcome{}, err
	}
	snapshot := *order
	outcome := Outcome{ClientID: order.ClientID, Kind: OutcomeFailed, Reason: reason, Message: message, Order: order}
	err := c.persist(ctx, func(ctx context.Context, tx SettlementTx) error {
		return tx.SaveSettlement(ctx, snapshot)
	})
	if err != nil {
		return outcome, fmt.Errorf("replenishment: record failed order %s: %w", order.OrderNumber, err)
	}
	logger.Warn("order payment failed", slog.String("reason", string(reason)), slog.String("message", message))
	return outcome, nil
}

func (c *Coordinator) persist(ctx context.Context, fn func(context.Context, SettlementTx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.PersistBackoff
	bo.MaxInterval = 10 * c.cfg.PersistBackoff
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
		defer cancel()
		err := c.orders.WithTx(attemptCtx, fn)
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(c.cfg.PersistAttempts),
	)
	return err
}

func (c *Coordinator) notify(ctx context.Context, logger *slog.Logger, client Client, outcome Outcome) {
	if c.notifier == nil || client.Email == "" {
		return
	}
	subject, body := Summary(client, outcome)
	if subject == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	if err := c.notifier.Send(ctx, client.Email, subject, body); err != nil {
		logger.Warn("notify client", slog.Any("error", err))
	}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
