package replenishment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/replenish/internal/payments"
)

// Synthesizer builds automatic orders from due ledger entries.
type Synthesizer struct {
	catalog  Catalog
	currency string
	scale    int32
	clock    func() time.Time
}

// NewSynthesizer constructs a Synthesizer pricing lines in currency.
// Line totals are rounded to the currency's minor unit so the order total is exactly the
// sum of its lines.
func NewSynthesizer(catalog Catalog, currency string) *Synthesizer {
	scale, err := payments.Scale(currency)
	if err != nil {
		scale = 2
	}
	return &Synthesizer{
		catalog:  catalog,
		currency: strings.ToLower(currency),
		scale:    scale,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Synthesize returns a pending order covering due. ok is false when nothing is due.
func (s *Synthesizer) Synthesize(ctx context.Context, clientID int64, due []LedgerEntry) (Order, bool, error) {
	if len(due) == 0 {
		return Order{}, false, nil
	}
	now := s.clock()
	order := Order{
		OrderNumber:   NewOrderNumber(now),
		ClientID:      clientID,
		Currency:      s.currency,
		Status:        OrderStatusPending,
		PaymentStatus: PaymentPending,
		Notes:         AutoOrderNote,
		Source:        SourceAuto,
		TotalAmount:   decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, entry := range due {
		price, err := s.catalog.GetPrice(ctx, entry.ProductID)
		if err != nil {
			return Order{}, false, fmt.Errorf("replenishment: price product %d: %w", entry.ProductID, err)
		}
		lineTotal := price.Mul(decimal.NewFromFloat(entry.ReorderQty)).Round(s.scale)
		order.Lines = append(order.Lines, OrderLine{
			ProductID:   entry.ProductID,
			ProductName: entry.ProductName,
			Quantity:    entry.ReorderQty,
			UnitPrice:   price,
			LineTotal:   lineTotal,
		})
		order.TotalAmount = order.TotalAmount.Add(lineTotal)
	}
	return order, true, nil
}

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(at time.Time) string {
	frag := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), frag)
}
