package replenishment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// GuardConfig tunes the cross-process settlement lock.
type GuardConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
}

// Guard keeps at most one replenishment per client in flight: callers in this process
// share a single execution, and the Redis lock excludes other processes.
type Guard struct {
	flight singleflight.Group
	locker *shared.RedisLocker
	cfg    GuardConfig
	logger *slog.Logger
}

// NewGuard constructs a Guard. A nil locker restricts exclusion to this process.
func NewGuard(locker *shared.RedisLocker, cfg GuardConfig, logger *slog.Logger) *Guard {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{locker: locker, cfg: cfg, logger: logger}
}

// Do runs fn exclusively for clientID. When the lock cannot be taken within LockWait the
// outcome is a failure with ReasonSettlementInProgress and fn is not called.
// Callers joining a flight share its result, so the flight does not inherit the
// cancellation of whichever caller started it.
func (g *Guard) Do(ctx context.Context, clientID int64, fn func(context.Context) (Outcome, error)) (Outcome, error) {
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := g.flight.Do(strconv.FormatInt(clientID, 10), func() (any, error) {
		lock, err := g.acquire(flightCtx, clientID)
		if err != nil {
			return Outcome{}, err
		}
		if lock != nil {
			defer g.release(flightCtx, lock)
		}
		return fn(flightCtx)
	})
	outcome, _ := v.(Outcome)
	if errors.Is(err, ErrSettlementInProgress) {
		return Outcome{
			ClientID: clientID,
			Kind:     OutcomeFailed,
			Reason:   ReasonSettlementInProgress,
			Message:  "another settlement for this client is in progress",
		}, nil
	}
	return outcome, err
}

func (g *Guard) acquire(ctx context.Context, clientID int64) (*shared.Lock, error) {
	if g.locker == nil {
		return nil, nil
	}
	key := shared.ClientSettlementLockKey(clientID)
	try := func() (*shared.Lock, error) {
		lock, err := g.locker.TryAcquire(ctx, key, g.cfg.LockTTL)
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return lock, nil
	}

	var (
		lock *shared.Lock
		err  error
	)
	if g.cfg.LockWait <= 0 {
		lock, err = try()
	} else {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxInterval = time.Second
		lock, err = backoff.Retry(ctx, try,
			backoff.WithBackOff(bo),
			backoff.WithMaxElapsedTime(g.cfg.LockWait),
		)
	}
	if errors.Is(err, shared.ErrLockHeld) {
		return nil, ErrSettlementInProgress
	}
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}
	return lock, nil
}

func (g *Guard) release(ctx context.Context, lock *shared.Lock) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		g.logger.Warn("release settlement lock", slog.String("key", lock.Key()), slog.Any("error", err))
	}
}
