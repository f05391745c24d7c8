package replenishment

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/replenish/internal/payments"
)

type memoryStore struct {
	mu        sync.Mutex
	entries   []LedgerEntry
	clients   map[int64]Client
	prices    map[int64]decimal.Decimal
	names     map[int64]string
	supplier  map[int64]float64
	orders    []Order
	claimed   map[string]bool
	nextID    int64
	failSaves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		clients:  make(map[int64]Client),
		prices:   make(map[int64]decimal.Decimal),
		names:    make(map[int64]string),
		supplier: make(map[int64]float64),
		claimed:  make(map[string]bool),
	}
}

func (s *memoryStore) addClient(id int64, customerRef string) {
	c := Client{ID: id, Name: "Client", Email: "buyer@example.com"}
	if customerRef != "" {
		ref := customerRef
		c.GatewayCustomerID = &ref
	}
	s.clients[id] = c
}

func (s *memoryStore) addProduct(id int64, name, price string, stock float64) {
	s.names[id] = name
	s.prices[id] = decimal.RequireFromString(price)
	s.supplier[id] = stock
}

func (s *memoryStore) addEntry(e LedgerEntry) {
	s.nextID++
	e.ID = s.nextID
	if e.ProductName == "" {
		e.ProductName = s.names[e.ProductID]
	}
	s.entries = append(s.entries, e)
}

func (s *memoryStore) entry(clientID, productID int64) LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ClientID == clientID && e.ProductID == productID {
			return e
		}
	}
	return LedgerEntry{}
}

func (s *memoryStore) supplierStock(productID int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supplier[productID]
}

func (s *memoryStore) allOrders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *memoryStore) DecrementAll(_ context.Context, cycleKey string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[cycleKey] {
		return 0, ErrCycleAlreadyRan
	}
	s.claimed[cycleKey] = true
	var n int64
	for i, e := range s.entries {
		if e.DailyUsage > 0 {
			s.entries[i] = ApplyConsumption(e, at)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListByClient(_ context.Context, clientID int64) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LedgerEntry
	for _, e := range s.entries {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) Upsert(_ context.Context, in LedgerInput, at time.Time) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[in.ProductID]; !ok {
		return LedgerEntry{}, ErrNotFound
	}
	for i, e := range s.entries {
		if e.ClientID == in.ClientID && e.ProductID == in.ProductID {
			e.CurrentStock, e.DailyUsage, e.ReorderPoint, e.ReorderQty = in.CurrentStock, in.DailyUsage, in.ReorderPoint, in.ReorderQty
			e.AutoOrderEnabled = in.AutoOrder()
			e.UpdatedAt = at
			s.entries[i] = e
			return e, nil
		}
	}
	s.nextID++
	e := LedgerEntry{
		ID: s.nextID, ClientID: in.ClientID, ProductID: in.ProductID, ProductName: s.names[in.ProductID],
		CurrentStock: in.CurrentStock, DailyUsage: in.DailyUsage, ReorderPoint: in.ReorderPoint,
		ReorderQty: in.ReorderQty, AutoOrderEnabled: in.AutoOrder(), UpdatedAt: at,
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *memoryStore) Adjust(_ context.Context, clientID, entryID int64, delta float64, at time.Time) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == entryID && e.ClientID == clientID {
			e.CurrentStock += delta
			if e.CurrentStock < 0 {
				e.CurrentStock = 0
			}
			e.UpdatedAt = at
			s.entries[i] = e
			return e, nil
		}
	}
	return LedgerEntry{}, ErrNotFound
}

func (s *memoryStore) GetPrice(_ context.Context, productID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[productID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	return price, nil
}

func (s *memoryStore) ListAutoOrderEligibleClients(_ context.Context) ([]Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var out []Client
	for _, e := range s.entries {
		if e.AutoOrderEnabled && !seen[e.ClientID] {
			seen[e.ClientID] = true
			out = append(out, s.clients[e.ClientID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetClient(_ context.Context, clientID int64) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

func (s *memoryStore) CreateOrder(_ context.Context, order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.OrderNumber == order.OrderNumber {
			return errors.New("duplicate order number")
		}
	}
	s.nextID++
	order.ID = s.nextID
	stored := *order
	stored.Lines = append([]OrderLine(nil), order.Lines...)
	s.orders = append(s.orders, stored)
	return nil
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, SettlementTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{store: s, stock: make(map[int64]float64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, o := range tx.saved {
		for i := range s.orders {
			if s.orders[i].ID == o.ID {
				s.orders[i] = o
			}
		}
	}
	for pid, qty := range tx.stock {
		s.supplier[pid] -= qty
	}
	return nil
}

func (s *memoryStore) ListOrders(_ context.Context, clientID int64, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for i := len(s.orders) - 1; i >= 0 && len(out) < limit; i-- {
		if s.orders[i].ClientID == clientID {
			out = append(out, s.orders[i])
		}
	}
	return out, nil
}

type memoryTx struct {
	store *memoryStore
	saved []Order
	stock map[int64]float64
}

func (tx *memoryTx) SaveSettlement(_ context.Context, order Order) error {
	if tx.store.failSaves > 0 {
		tx.store.failSaves--
		return errors.New("connection reset by peer")
	}
	for _, o := range tx.store.orders {
		if o.ID == order.ID {
			if o.PaymentStatus != PaymentPending {
				return ErrInvalidTransition
			}
			tx.saved = append(tx.saved, order)
			return nil
		}
	}
	return ErrNotFound
}

func (tx *memoryTx) DecrementSupplierStock(_ context.Context, productID int64, qty float64) (float64, error) {
	current, ok := tx.store.supplier[productID]
	if !ok {
		return 0, ErrNotFound
	}
	tx.stock[productID] += qty
	return current - tx.stock[productID], nil
}

type fakeGateway struct {
	mu          sync.Mutex
	instruments map[string][]payments.Instrument
	listErr     error
	result      payments.ChargeResult
	chargeErr   error
	block       bool
	entered     chan struct{}
	release     chan struct{}
	charges     []payments.ChargeRequest
	lists       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{instruments: make(map[string][]payments.Instrument)}
}

func (g *fakeGateway) withCard(customerRef string) *fakeGateway {
	g.instruments[customerRef] = []payments.Instrument{{ID: "pm_" + customerRef, Method: "card", Default: true}}
	return g
}

func (g *fakeGateway) ChargeOffSession(ctx context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	first := len(g.charges) == 1
	g.mu.Unlock()
	if g.release != nil {
		if first && g.entered != nil {
			close(g.entered)
		}
		<-g.release
	}
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.chargeErr != nil || g.result != nil {
		return g.result, g.chargeErr
	}
	return payments.ChargeSucceeded{TransactionID: "pi_" + req.IdempotencyKey, Method: "card"}, nil
}

func (g *fakeGateway) ListSavedInstruments(_ context.Context, customerRef string) ([]payments.Instrument, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lists++
	if g.listErr != nil {
		return nil, g.listErr
	}
	return g.instruments[customerRef], nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

func (g *fakeGateway) listCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lists
}

type sentMessage struct {
	To, Subject, Body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, recipient, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{To: recipient, Subject: subject, Body: body})
	return n.err
}

func (n *fakeNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PaymentTimeout: 100 * time.Millisecond,
		NotifyTimeout:  100 * time.Millisecond,
		PersistBackoff: time.Millisecond,
	}
}

func newTestEngine(store *memoryStore, gw payments.Gateway, notifier Notifier, guard *Guard) *Engine {
	coord := NewCoordinator(store, gw, notifier, discardLogger(), nil, testCoordinatorConfig())
	return NewEngine(EngineDeps{
		Ledger:      store,
		Clients:     store,
		Orders:      store,
		Synthesizer: NewSynthesizer(store, "eur"),
		Coordinator: coord,
		Guard:       guard,
		Logger:      discardLogger(),
	}, EngineConfig{Workers: 2, Location: time.UTC})
}
