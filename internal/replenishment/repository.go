package replenishment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/replenish/internal/platform/db"
	"github.com/odyssey-erp/replenish/internal/shared"
)

const idempotencyModule = "replenishment"

// querier is the subset of *pgxpool.Pool the repository uses.
type querier interface {
	db.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists ledgers, orders, clients and catalog prices in PostgreSQL.
type Repository struct {
	pool querier
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ledgerColumns = `ci.id, ci.client_id, ci.product_id, p.name, ci.current_stock, ci.daily_usage,
ci.reorder_point, ci.reorder_qty, ci.auto_order_enabled, ci.last_decremented_at, ci.updated_at`

func scanLedger(row pgx.Row) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.ClientID, &e.ProductID, &e.ProductName, &e.CurrentStock, &e.DailyUsage,
		&e.ReorderPoint, &e.ReorderQty, &e.AutoOrderEnabled, &e.LastDecrementedAt, &e.UpdatedAt)
	return e, err
}

// DecrementAll claims cycleKey and applies one day of usage to every entry in one
// transaction. The single UPDATE is atomic to readers at read committed, and concurrent
// ledger edits wait on the row locks instead of aborting the pass.
func (r *Repository) DecrementAll(ctx context.Context, cycleKey string, at time.Time) (int64, error) {
	var affected int64
	err := db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := shared.ClaimKey(ctx, tx, cycleKey, idempotencyModule, at); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ErrCycleAlreadyRan
			}
			return err
		}
		tag, err := tx.Exec(ctx, `UPDATE client_inventory
SET current_stock = GREATEST(0, current_stock - daily_usage),
    last_decremented_at = $1,
    updated_at = $1
WHERE daily_usage > 0`, at)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// ListByClient returns the client's ledger in insertion order.
func (r *Repository) ListByClient(ctx context.Context, clientID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ledgerColumns+`
FROM client_inventory ci JOIN products p ON p.id = ci.product_id
WHERE ci.client_id = $1 ORDER BY ci.id`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Upsert inserts or updates the entry for (client, product).
func (r *Repository) Upsert(ctx context.Context, in LedgerInput, at time.Time) (LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `WITH ci AS (
	INSERT INTO client_inventory (client_id, product_id, current_stock, daily_usage, reorder_point, reorder_qty, auto_order_enabled, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (client_id, product_id) DO UPDATE SET
		current_stock = EXCLUDED.current_stock,
		daily_usage = EXCLUDED.daily_usage,
		reorder_point = EXCLUDED.reorder_point,
		reorder_qty = EXCLUDED.reorder_qty,
		auto_order_enabled = EXCLUDED.auto_order_enabled,
		updated_at = EXCLUDED.updated_at
	RETURNING *
)
SELECT `+ledgerColumns+` FROM ci JOIN products p ON p.id = ci.product_id`,
		in.ClientID, in.ProductID, in.CurrentStock, in.DailyUsage, in.ReorderPoint, in.ReorderQty, in.AutoOrder(), at)
	entry, err := scanLedger(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return LedgerEntry{}, ErrNotFound
		}
		return LedgerEntry{}, err
	}
	return entry, nil
}

// Adjust adds delta to the entry's stock, never going below zero.
func (r *Repository) Adjust(ctx context.Context, clientID, entryID int64, delta float64, at time.Time) (LedgerEntry, error) {
	row := r.pool.QueryRow(ctx, `WITH ci AS (
	UPDATE client_inventory SET current_stock = GREATEST(0, current_stock + $3), updated_at = $4
	WHERE id = $2 AND client_id = $1
	RETURNING *
)
SELECT `+ledgerColumns+` FROM ci JOIN products p ON p.id = ci.product_id`, clientID, entryID, delta, at)
	entry, err := scanLedger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{}, ErrNotFound
	}
	return entry, err
}

// GetPrice returns the catalog price of a product.
func (r *Repository) GetPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT price FROM products WHERE id = $1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	return price, err
}

// ListAutoOrderEligibleClients returns clients with at least one auto-order ledger entry.
func (r *Repository) ListAutoOrderEligibleClients(ctx context.Context) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.id, c.name, c.email, c.gateway_customer_id
FROM clients c
WHERE EXISTS (SELECT 1 FROM client_inventory ci WHERE ci.client_id = c.id AND ci.auto_order_enabled)
ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.GatewayCustomerID); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// GetClient loads a client with its payment identity.
func (r *Repository) GetClient(ctx context.Context, clientID int64) (Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, name, email, gateway_customer_id FROM clients WHERE id = $1`, clientID).
		Scan(&c.ID, &c.Name, &c.Email, &c.GatewayCustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrNotFound
	}
	return c, err
}

// CreateOrder inserts the order and its lines, filling order.ID.
func (r *Repository) CreateOrder(ctx context.Context, order *Order) error {
	return db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO orders (order_number, client_id, total_amount, currency, status, payment_status, notes, source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
			order.OrderNumber, order.ClientID, order.TotalAmount, order.Currency, string(order.Status),
			string(order.PaymentStatus), order.Notes, string(order.Source), order.CreatedAt, order.UpdatedAt,
		).Scan(&order.ID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		batch := &pgx.Batch{}
		for _, line := range order.Lines {
			batch.Queue(`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6)`, order.ID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.LineTotal)
		}
		br := tx.SendBatch(ctx, batch)
		for range order.Lines {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return br.Close()
	})
}

// WithTx runs fn inside a read-committed transaction. Supplier stock updates are
// row-level, so concurrent settlements serialise on the product rows.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, SettlementTx) error) error {
	return db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &settlementTx{tx: tx})
	})
}

type settlementTx struct {
	tx pgx.Tx
}

func (t *settlementTx) SaveSettlement(ctx context.Context, order Order) error {
	var method, txnID *string
	if order.PaymentDetails != nil {
		method = &order.PaymentDetails.Method
		txnID = &order.PaymentDetails.TransactionID
	}
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, payment_status = $3, payment_method = $4,
transaction_id = $5, notes = $6, failure_reason = NULLIF($7, ''), updated_at = $8
WHERE id = $1 AND payment_status = 'Pending'`,
		order.ID, string(order.Status), string(order.PaymentStatus), method, txnID, order.Notes,
		string(order.FailureReason), order.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (t *settlementTx) DecrementSupplierStock(ctx context.Context, productID int64, qty float64) (float64, error) {
	var remaining float64
	err := t.tx.QueryRow(ctx, `UPDATE products SET stock = stock - $2 WHERE id = $1 RETURNING stock`, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return remaining, err
}

// ListOrders returns the client's latest orders with their lines.
func (r *Repository) ListOrders(ctx context.Context, clientID int64, limit int) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_number, client_id, total_amount, currency, status, payment_status,
payment_method, transaction_id, notes, source, COALESCE(failure_reason, ''), created_at, updated_at
FROM orders WHERE client_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	index := make(map[int64]int)
	var ids []int64
	for rows.Next() {
		var (
			o                                        Order
			status, payStatus, source, failureReason string
			method, txnID                            *string
		)
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.ClientID, &o.TotalAmount, &o.Currency, &status, &payStatus,
			&method, &txnID, &o.Notes, &source, &failureReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Status = OrderStatus(status)
		o.PaymentStatus = PaymentStatus(payStatus)
		o.Source = OrderSource(source)
		o.FailureReason = FailureReason(failureReason)
		if method != nil || txnID != nil {
			o.PaymentDetails = &PaymentDetails{}
			if method != nil {
				o.PaymentDetails.Method = *method
			}
			if txnID != nil {
				o.PaymentDetails.TransactionID = *txnID
			}
		}
		index[o.ID] = len(orders)
		ids = append(ids, o.ID)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lineRows, err := r.pool.Query(ctx, `SELECT order_id, product_id, product_name, quantity, unit_price, line_total
FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var (
			orderID int64
			line    OrderLine
		)
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		if i, ok := index[orderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	return orders, lineRows.Err()
}
