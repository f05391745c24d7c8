// Package payments talks to the external payment gateway used for off-session charges.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// ErrInvalidRequest marks a charge request rejected locally, before anything was sent.
var ErrInvalidRequest = errors.New("payments: invalid charge request")

// Instrument is a stored payment method usable for off-session charges.
type Instrument struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Brand   string `json:"brand,omitempty"`
	Last4   string `json:"last4,omitempty"`
	Default bool   `json:"default"`
}

// ChargeRequest describes an off-session charge.
type ChargeRequest struct {
	CustomerRef    string
	InstrumentRef  string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Validate checks the request before it is submitted.
func (r ChargeRequest) Validate() error {
	if strings.TrimSpace(r.CustomerRef) == "" {
		return fmt.Errorf("%w: customer required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.InstrumentRef) == "" {
		return fmt.Errorf("%w: instrument required", ErrInvalidRequest)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key required", ErrInvalidRequest)
	}
	if _, err := currency.ParseISO(r.Currency); err != nil {
		return fmt.Errorf("%w: currency %q: %v", ErrInvalidRequest, r.Currency, err)
	}
	return nil
}

// ChargeResult is one of ChargeSucceeded, ChargeDeclined or ChargeAmbiguous.
type ChargeResult interface {
	isChargeResult()
}

// ChargeSucceeded reports a captured charge.
type ChargeSucceeded struct {
	TransactionID string
	Method        string
}

// ChargeDeclined reports a definitive refusal by the gateway. Nothing was captured.
type ChargeDeclined struct {
	Code   string
	Reason string
}

// ChargeAmbiguous reports that the charge may or may not have been captured, e.g. on a
// timeout or a transport failure after the request left the process.
type ChargeAmbiguous struct {
	Cause string
}

func (ChargeSucceeded) isChargeResult() {}
func (ChargeDeclined) isChargeResult()  {}
func (ChargeAmbiguous) isChargeResult() {}

// Gateway is the capability set consumed by settlement.
type Gateway interface {
	// ChargeOffSession submits a charge without the customer present. A non-nil error
	// means the outcome is unknown unless it wraps ErrInvalidRequest.
	ChargeOffSession(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	ListSavedInstruments(ctx context.Context, customerRef string) ([]Instrument, error)
}

// DefaultInstrument picks the instrument flagged as default, falling back to the first one.
func DefaultInstrument(instruments []Instrument) (Instrument, bool) {
	if len(instruments) == 0 {
		return Instrument{}, false
	}
	for _, in := range instruments {
		if in.Default {
			return in, true
		}
	}
	return instruments[0], true
}

// MinorUnits converts amount into the currency's smallest unit (cents for EUR, yen for JPY).
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale, err := Scale(code)
	if err != nil {
		return 0, err
	}
	return amount.Shift(scale).Round(0).IntPart(), nil
}

// Scale returns the number of minor-unit digits of the ISO currency code.
func Scale(code string) (int32, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: currency %q: %v", ErrInvalidRequest, code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}
