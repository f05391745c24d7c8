package replenishment

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Decrementer applies the daily consumption pass across every ledger.
type Decrementer struct {
	store LedgerStore
}

// NewDecrementer constructs a Decrementer.
func NewDecrementer(store LedgerStore) *Decrementer {
	return &Decrementer{store: store}
}

// CycleKey names the consumption pass for the calendar day of at in loc.
func CycleKey(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "cycle:" + at.In(loc).Format("2006-01-02")
}

// Run decrements all ledgers once for cycleKey and returns the number of entries touched.
func (d *Decrementer) Run(ctx context.Context, cycleKey string, at time.Time) (int64, error) {
	if cycleKey == "" {
		return 0, errors.New("replenishment: cycle key required")
	}
	n, err := d.store.DecrementAll(ctx, cycleKey, at)
	if err != nil {
		if errors.Is(err, ErrCycleAlreadyRan) {
			return 0, err
		}
		return 0, fmt.Errorf("replenishment: decrement ledgers: %w", err)
	}
	return n, nil
}
