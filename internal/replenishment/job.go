package replenishment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/jobs"
)

// CycleRunner runs the daily cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// ClientRunner runs replenishment for one client.
type ClientRunner interface {
	RunForClient(ctx context.Context, clientID int64) (Outcome, error)
}

// CycleJob handles jobs.TaskReplenishCycle.
type CycleJob struct {
	Runner  CycleRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	// Drain, once closed, stops the running cycle from starting further clients while
	// clients already started finish.
	Drain <-chan struct{}
}

// NewCycleJob constructs the cycle handler.
func NewCycleJob(runner CycleRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *CycleJob {
	return &CycleJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs one cycle. A second tick on the same day is a successful no-op.
func (j *CycleJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("replenish cycle: handler not configured")
	}
	var payload jobs.ReplenishCyclePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if j.Drain != nil {
		go func() {
			select {
			case <-j.Drain:
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	tracker := j.Metrics.Track(jobs.TaskReplenishCycle)
	logger := j.logger()
	report, err := j.Runner.RunCycle(runCtx)
	if errors.Is(err, ErrCycleAlreadyRan) {
		logger.Info("cycle already ran today", slog.String("cycle_key", report.CycleKey))
		return tracker.End(nil)
	}
	if err != nil {
		logger.Error("replenishment cycle failed", slog.String("cycle_key", report.CycleKey), slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

func (j *CycleJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", jobs.TaskReplenishCycle))
	}
	return slog.Default().With(slog.String("job", jobs.TaskReplenishCycle))
}

// ClientRunJob handles jobs.TaskReplenishClient.
type ClientRunJob struct {
	Runner  ClientRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewClientRunJob constructs the manual run handler.
func NewClientRunJob(runner ClientRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ClientRunJob {
	return &ClientRunJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle runs replenishment for the client in the payload.
func (j *ClientRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("replenish client: handler not configured")
	}
	var payload jobs.ReplenishClientPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ClientID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(jobs.TaskReplenishClient)
	logger := slog.Default()
	if j.Logger != nil {
		logger = j.Logger
	}
	logger = logger.With(slog.String("job", jobs.TaskReplenishClient), slog.Int64("client_id", payload.ClientID))

	outcome, err := j.Runner.RunForClient(ctx, payload.ClientID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("client not found")
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	if err != nil {
		logger.Error("client replenishment failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("client replenishment finished",
		slog.String("outcome", string(outcome.Kind)),
		slog.String("reason", string(outcome.Reason)),
	)
	return tracker.End(nil)
}
