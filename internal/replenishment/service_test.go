package replenishment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/replenish/internal/shared"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

// Scenario A: stock drifts down over two daily cycles and triggers a paid order on day two.
func TestRunCycleTwoDays(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 10, DailyUsage: 3, ReorderPoint: 5, ReorderQty: 20, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_ok")
	engine := newTestEngine(store, gw, &fakeNotifier{}, nil)
	ctx := context.Background()

	day1 := time.Date(2026, 5, 1, 19, 53, 0, 0, time.UTC)
	engine.clock = fixedClock(day1)
	report, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, "cycle:2026-05-01", report.CycleKey)
	require.Equal(t, int64(1), report.Decremented)
	require.Len(t, report.Results, 1)
	require.Equal(t, OutcomeNoAction, report.Results[0].Outcome.Kind)
	require.Equal(t, 7.0, store.entry(1, 1).CurrentStock)
	require.Empty(t, store.allOrders())

	engine.clock = fixedClock(day1.AddDate(0, 0, 1))
	report, err = engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 4.0, store.entry(1, 1).CurrentStock)
	require.Len(t, report.Results, 1)
	require.Equal(t, OutcomePaid, report.Results[0].Outcome.Kind)

	orders := store.allOrders()
	require.Len(t, orders, 1)
	require.True(t, orders[0].TotalAmount.Equal(decimal.RequireFromString("50.00")))
	require.Equal(t, 20.0, orders[0].Lines[0].Quantity)
	require.Equal(t, OrderStatusConfirmed, orders[0].Status)
	require.Equal(t, PaymentPaid, orders[0].PaymentStatus)
	require.Equal(t, 80.0, store.supplierStock(1))
	require.Equal(t, 4.0, store.entry(1, 1).CurrentStock)
}

func TestRunCycleOncePerDay(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 10, DailyUsage: 3, ReorderPoint: 1, ReorderQty: 20, AutoOrderEnabled: true})
	engine := newTestEngine(store, newFakeGateway(), nil, nil)
	engine.clock = fixedClock(time.Date(2026, 5, 1, 19, 53, 0, 0, time.UTC))

	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = engine.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrCycleAlreadyRan)
	require.Equal(t, 7.0, store.entry(1, 1).CurrentStock)
}

func TestRunCycleIsolatesClientFailures(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_one")
	store.addClient(2, "cus_two")
	store.addClient(3, "cus_three")
	store.addProduct(1, "Toner", "2.50", 100)
	store.names[2] = "Unpriced"
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	store.addEntry(LedgerEntry{ClientID: 2, ProductID: 2, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	store.addEntry(LedgerEntry{ClientID: 3, ProductID: 1, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_one").withCard("cus_three")
	engine := newTestEngine(store, gw, nil, nil)

	report, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	byClient := make(map[int64]ClientResult)
	for _, res := range report.Results {
		byClient[res.ClientID] = res
	}
	require.Equal(t, OutcomePaid, byClient[1].Outcome.Kind)
	require.NotEmpty(t, byClient[2].Err)
	require.Equal(t, OutcomePaid, byClient[3].Outcome.Kind)
	require.Equal(t, 1, report.Errors())
	require.Equal(t, 2, report.Count(OutcomePaid))
}

func TestRunCycleStartsNoClientAfterCancel(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_ok")
	engine := newTestEngine(store, gw, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := engine.RunCycle(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Results)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, gw.chargeCount())
}

// Scenario D: nothing is at or below its reorder point.
func TestRunForClientNoAction(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 50, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_ok")
	engine := newTestEngine(store, gw, nil, nil)

	outcome, err := engine.RunForClient(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeNoAction, outcome.Kind)
	require.Nil(t, outcome.Order)
	require.Empty(t, store.allOrders())
	require.Zero(t, gw.listCount())
	require.Zero(t, gw.chargeCount())
	require.Equal(t, 50.0, store.entry(1, 1).CurrentStock)
}

func TestRunForClientSkipsDecrement(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 3, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	engine := newTestEngine(store, newFakeGateway().withCard("cus_ok"), nil, nil)

	outcome, err := engine.RunForClient(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, outcome.Kind)
	require.Equal(t, 3.0, store.entry(1, 1).CurrentStock)

	_, err = engine.RunForClient(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentRunsShareOneSettlement(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_ok")
	gw.entered = make(chan struct{})
	gw.release = make(chan struct{})
	engine := newTestEngine(store, gw, nil, nil)

	const callers = 5
	outcomes := make([]Outcome, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0], _ = engine.RunForClient(context.Background(), 1)
	}()
	<-gw.entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], _ = engine.RunForClient(context.Background(), 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gw.release)
	wg.Wait()

	require.Equal(t, 1, gw.chargeCount())
	require.Len(t, store.allOrders(), 1)
	for _, o := range outcomes {
		require.Equal(t, OutcomePaid, o.Kind)
	}
	require.Equal(t, 98.0, store.supplierStock(1))
}

func TestGuardReportsSettlementInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := shared.NewRedisLocker(client)

	held, err := locker.TryAcquire(context.Background(), shared.ClientSettlementLockKey(1), time.Minute)
	require.NoError(t, err)

	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	store.addEntry(LedgerEntry{ClientID: 1, ProductID: 1, CurrentStock: 1, DailyUsage: 1, ReorderPoint: 5, ReorderQty: 2, AutoOrderEnabled: true})
	gw := newFakeGateway().withCard("cus_ok")
	guard := NewGuard(locker, GuardConfig{LockTTL: time.Minute, LockWait: 100 * time.Millisecond}, discardLogger())
	engine := newTestEngine(store, gw, nil, guard)

	outcome, err := engine.RunForClient(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome.Kind)
	require.Equal(t, ReasonSettlementInProgress, outcome.Reason)
	require.Empty(t, store.allOrders())
	require.Zero(t, gw.chargeCount())

	require.NoError(t, held.Release(context.Background()))
	outcome, err = engine.RunForClient(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, outcome.Kind)
	require.False(t, mr.Exists(shared.ClientSettlementLockKey(1)))
}

func TestLedgerManagement(t *testing.T) {
	store := newMemoryStore()
	store.addClient(1, "cus_ok")
	store.addProduct(1, "Toner", "2.50", 100)
	engine := newTestEngine(store, newFakeGateway(), nil, nil)
	ctx := context.Background()

	entry, err := engine.UpsertInventory(ctx, LedgerInput{ClientID: 1, ProductID: 1, CurrentStock: 4, DailyUsage: 1, ReorderPoint: 2, ReorderQty: 6})
	require.NoError(t, err)
	require.True(t, entry.AutoOrderEnabled)

	disabled := false
	entry, err = engine.UpsertInventory(ctx, LedgerInput{ClientID: 1, ProductID: 1, CurrentStock: 4, DailyUsage: 1, ReorderPoint: 2, ReorderQty: 6, AutoOrderEnabled: &disabled})
	require.NoError(t, err)
	require.False(t, entry.AutoOrderEnabled)

	_, err = engine.UpsertInventory(ctx, LedgerInput{ClientID: 1, ProductID: 1, CurrentStock: -1})
	require.ErrorIs(t, err, ErrInvalidInput)

	adjusted, err := engine.AdjustInventory(ctx, 1, entry.ID, -10)
	require.NoError(t, err)
	require.Equal(t, 0.0, adjusted.CurrentStock)

	adjusted, err = engine.AdjustInventory(ctx, 1, entry.ID, 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, adjusted.CurrentStock)

	_, err = engine.AdjustInventory(ctx, 1, entry.ID, 0)
	require.ErrorIs(t, err, ErrInvalidInput)

	items, err := engine.ListInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)

	projection, err := engine.Projection(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, projection, 1)
	require.Equal(t, []float64{1.5, 0.5, 0}, projection[0].Trajectory)
}
