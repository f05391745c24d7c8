package payments

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Customer reference prefixes that steer the sandbox.
const (
	SandboxDeclinePrefix      = "cus_decline"
	SandboxNoInstrumentPrefix = "cus_noinstrument"
	SandboxTimeoutPrefix      = "cus_timeout"
)

// Sandbox is an in-process gateway for non-production environments. Charges are
// idempotent per key, like the real gateway.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]ChargeResult
}

// NewSandbox constructs a Sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{charges: make(map[string]ChargeResult)}
}

// ChargeOffSession simulates a charge. Customers prefixed with SandboxTimeoutPrefix hang
// until ctx is done.
func (s *Sandbox) ChargeOffSession(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(req.CustomerRef, SandboxTimeoutPrefix) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.charges[req.IdempotencyKey]; ok {
		return prev, nil
	}
	var res ChargeResult
	if strings.HasPrefix(req.CustomerRef, SandboxDeclinePrefix) {
		res = ChargeDeclined{Code: "card_declined", Reason: "Your card was declined."}
	} else {
		res = ChargeSucceeded{
			TransactionID: "pi_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Method:        "card",
		}
	}
	s.charges[req.IdempotencyKey] = res
	return res, nil
}

// ListSavedInstruments returns one default card unless the customer is marked as having none.
func (s *Sandbox) ListSavedInstruments(ctx context.Context, customerRef string) ([]Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.HasPrefix(customerRef, SandboxNoInstrumentPrefix) {
		return nil, nil
	}
	return []Instrument{{
		ID:      "pm_sandbox_" + customerRef,
		Method:  "card",
		Brand:   "visa",
		Last4:   "4242",
		Default: true,
	}}, nil
}
