package replenishment

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus enumerates fulfilment states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus enumerates settlement states of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

// OrderSource distinguishes engine-created orders from human ones.
type OrderSource string

const (
	SourceAuto   OrderSource = "auto"
	SourceManual OrderSource = "manual"
)

// FailureReason classifies why an automatic settlement did not complete.
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonNotConfigured        FailureReason = "not_configured"
	ReasonNoInstrument         FailureReason = "no_instrument"
	ReasonGatewayRejected      FailureReason = "gateway_rejected"
	ReasonGatewayUnavailable   FailureReason = "gateway_unavailable"
	ReasonAmbiguousOutcome     FailureReason = "ambiguous_outcome"
	ReasonSettlementInProgress FailureReason = "settlement_in_progress"
)

// AutoOrderNote is stamped on every order created by the engine.
const AutoOrderNote = "Automatic replenishment order generated by the system."

var (
	// ErrNotFound indicates a missing client, ledger entry or order.
	ErrNotFound = errors.New("replenishment: not found")
	// ErrInvalidTransition is returned when an order cannot move to the requested state.
	ErrInvalidTransition = errors.New("replenishment: invalid order transition")
	// ErrCycleAlreadyRan indicates the consumption pass for the day was already applied.
	ErrCycleAlreadyRan = errors.New("replenishment: cycle already ran for this day")
	// ErrSettlementInProgress indicates another settlement for the same client holds the lock.
	ErrSettlementInProgress = errors.New("replenishment: settlement in progress")
	// ErrInvalidInput marks rejected ledger input.
	ErrInvalidInput = errors.New("replenishment: invalid input")
)

// LedgerEntry tracks a client's on-hand stock of one consumable product.
type LedgerEntry struct {
	ID                int64      `json:"id"`
	ClientID          int64      `json:"client_id"`
	ProductID         int64      `json:"product_id"`
	ProductName       string     `json:"product_name"`
	CurrentStock      float64    `json:"current_stock"`
	DailyUsage        float64    `json:"daily_usage"`
	ReorderPoint      float64    `json:"reorder_point"`
	ReorderQty        float64    `json:"reorder_qty"`
	AutoOrderEnabled  bool       `json:"auto_order_enabled"`
	LastDecrementedAt *time.Time `json:"last_decremented_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ApplyConsumption returns entry after one day of usage, floored at zero.
func ApplyConsumption(entry LedgerEntry, at time.Time) LedgerEntry {
	if entry.DailyUsage <= 0 {
		return entry
	}
	entry.CurrentStock -= entry.DailyUsage
	if entry.CurrentStock < 0 {
		entry.CurrentStock = 0
	}
	stamp := at
	entry.LastDecrementedAt = &stamp
	entry.UpdatedAt = at
	return entry
}

// Client is the subset of the client directory the engine needs.
type Client struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	GatewayCustomerID *string `json:"gateway_customer_id,omitempty"`
}

// PaymentRef returns the trimmed gateway customer handle, if any.
func (c Client) PaymentRef() (string, bool) {
	if c.GatewayCustomerID == nil {
		return "", false
	}
	ref := strings.TrimSpace(*c.GatewayCustomerID)
	return ref, ref != ""
}

// PaymentDetails records how a paid order was settled.
type PaymentDetails struct {
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id"`
}

// OrderLine is one product line of an order.
type OrderLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Order is a purchase order, here always produced by the engine.
type Order struct {
	ID             int64           `json:"id"`
	OrderNumber    string          `json:"order_number"`
	ClientID       int64           `json:"client_id"`
	Lines          []OrderLine     `json:"lines"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	PaymentDetails *PaymentDetails `json:"payment_details,omitempty"`
	Notes          string          `json:"notes"`
	Source         OrderSource     `json:"source"`
	FailureReason  FailureReason   `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AppendNote adds a line to the order notes. Existing notes are never rewritten.
func (o *Order) AppendNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if o.Notes == "" {
		o.Notes = note
		return
	}
	o.Notes += "\n" + note
}

func (o *Order) awaitingSettlement() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus == PaymentPending
}

// MarkPaid moves a pending order to confirmed/Paid.
func (o *Order) MarkPaid(details PaymentDetails, at time.Time) error {
	if !o.awaitingSettlement() {
		return ErrInvalidTransition
	}
	o.Status = OrderStatusConfirmed
	o.PaymentStatus = PaymentPaid
	o.PaymentDetails = &details
	o.FailureReason = ReasonNone
	o.UpdatedAt = at
	return nil
}

// MarkFailed records a failed settlement. The order stays pending.
func (o *Order) MarkFailed(reason FailureReason, note string, at time.Time) error {
	if !o.awaitingSettlement() {
		return ErrInvalidTransition
	}
	o.PaymentStatus = PaymentFailed
	o.FailureReason = reason
	o.AppendNote(note)
	o.UpdatedAt = at
	return nil
}

// OutcomeKind summarises a replenishment run for one client.
type OutcomeKind string

const (
	OutcomeNoAction OutcomeKind = "no_action"
	OutcomePaid     OutcomeKind = "paid"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the result of running replenishment for one client.
type Outcome struct {
	ClientID int64         `json:"client_id"`
	Kind     OutcomeKind   `json:"outcome"`
	Reason   FailureReason `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Order    *Order        `json:"order,omitempty"`
}

// ClientResult pairs a client with its outcome or the error that aborted it.
type ClientResult struct {
	ClientID int64   `json:"client_id"`
	Outcome  Outcome `json:"outcome"`
	Err      string  `json:"error,omitempty"`
}

// CycleReport summarises one scheduled cycle.
type CycleReport struct {
	CycleKey    string         `json:"cycle_key"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Decremented int64          `json:"decremented"`
	Results     []ClientResult `json:"results"`
	Skipped     int            `json:"skipped"`
}

// Count returns the number of results of the given kind.
func (r CycleReport) Count(kind OutcomeKind) int {
	n := 0
	for _, res := range r.Results {
		if res.Err == "" && res.Outcome.Kind == kind {
			n++
		}
	}
	return n
}

// Errors returns the number of clients aborted by an error.
func (r CycleReport) Errors() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != "" {
			n++
		}
	}
	return n
}
