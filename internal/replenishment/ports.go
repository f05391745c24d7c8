package replenishment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerStore persists client inventory ledgers.
type LedgerStore interface {
	// DecrementAll applies one day of consumption to every ledger entry atomically and
	// claims cycleKey in the same transaction. ErrCycleAlreadyRan is returned when the
	// key was already claimed.
	DecrementAll(ctx context.Context, cycleKey string, at time.Time) (int64, error)
	ListByClient(ctx context.Context, clientID int64) ([]LedgerEntry, error)
	Upsert(ctx context.Context, input LedgerInput, at time.Time) (LedgerEntry, error)
	Adjust(ctx context.Context, clientID, entryID int64, delta float64, at time.Time) (LedgerEntry, error)
}

// Catalog resolves authoritative product prices.
type Catalog interface {
	GetPrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// ClientDirectory resolves clients and their payment identity.
type ClientDirectory interface {
	ListAutoOrderEligibleClients(ctx context.Context) ([]Client, error)
	GetClient(ctx context.Context, clientID int64) (Client, error)
}

// OrderStore persists orders. Settlement writes go through WithTx.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *Order) error
	WithTx(ctx context.Context, fn func(context.Context, SettlementTx) error) error
	ListOrders(ctx context.Context, clientID int64, limit int) ([]Order, error)
}

// SettlementTx exposes the writes that must commit together with a settlement.
type SettlementTx interface {
	SaveSettlement(ctx context.Context, order Order) error
	// DecrementSupplierStock lowers the supplier-side stock of a product and returns the
	// remaining quantity.
	DecrementSupplierStock(ctx context.Context, productID int64, qty float64) (float64, error)
}

// Notifier delivers messages to clients.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LedgerInput creates or updates a ledger entry, keyed by client and product.
type LedgerInput struct {
	ClientID         int64
	ProductID        int64
	CurrentStock     float64
	DailyUsage       float64
	ReorderPoint     float64
	ReorderQty       float64
	AutoOrderEnabled *bool
}

// Validate checks the numeric fields of the input.
func (in LedgerInput) Validate() error {
	if in.ClientID <= 0 || in.ProductID <= 0 {
		return ErrInvalidInput
	}
	if in.CurrentStock < 0 || in.DailyUsage < 0 || in.ReorderPoint < 0 || in.ReorderQty < 0 {
		return ErrInvalidInput
	}
	return nil
}

// AutoOrder resolves the flag, defaulting to enabled.
func (in LedgerInput) AutoOrder() bool {
	if in.AutoOrderEnabled == nil {
		return true
	}
	return *in.AutoOrderEnabled
}
