package replenishment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/shared"
)

func TestGuardLockWaitIgnoresStarterCancellation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewRedisLocker(client)

	held, err := locker.TryAcquire(context.Background(), shared.ClientSettlementLockKey(3), time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(150 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	guard := NewGuard(locker, GuardConfig{LockTTL: time.Minute, LockWait: 3 * time.Second}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var fnErr error
	outcome, err := guard.Do(ctx, 3, func(ctx context.Context) (Outcome, error) {
		fnErr = ctx.Err()
		return Outcome{ClientID: 3, Kind: OutcomeNoAction}, nil
	})
	require.NoError(t, err)
	require.NoError(t, fnErr)
	require.Equal(t, OutcomeNoAction, outcome.Kind)
	require.False(t, mr.Exists(shared.ClientSettlementLockKey(3)))
}

func TestGuardJoinedCallerSurvivesStarterCancellation(t *testing.T) {
	guard := NewGuard(nil, GuardConfig{}, discardLogger())
	entered := make(chan struct{})
	proceed := make(chan struct{})

	starterCtx, cancelStarter := context.WithCancel(context.Background())
	type result struct {
		outcome Outcome
		err     error
	}
	starter := make(chan result, 1)
	go func() {
		outcome, err := guard.Do(starterCtx, 4, func(ctx context.Context) (Outcome, error) {
			close(entered)
			<-proceed
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			return Outcome{ClientID: 4, Kind: OutcomePaid}, nil
		})
		starter <- result{outcome, err}
	}()
	<-entered

	joined := make(chan result, 1)
	go func() {
		outcome, err := guard.Do(context.Background(), 4, func(context.Context) (Outcome, error) {
			return Outcome{ClientID: 4, Kind: OutcomePaid}, nil
		})
		joined <- result{outcome, err}
	}()

	cancelStarter()
	time.Sleep(20 * time.Millisecond)
	close(proceed)

	for _, ch := range []chan result{starter, joined} {
		select {
		case res := <-ch:
			require.NoError(t, res.err)
			require.Equal(t, OutcomePaid, res.outcome.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("guard call did not return")
		}
	}
}
