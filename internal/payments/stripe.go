package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway charges saved payment methods through the Stripe API.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a gateway for secretKey. Network retries inside the SDK are
// disabled: a retried charge must go through settlement, never happen implicitly.
func NewStripeGateway(secretKey string, httpClient *http.Client) *StripeGateway {
	cfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
	return &StripeGateway{api: client.New(secretKey, backends)}
}

// ChargeOffSession creates and confirms a PaymentIntent without the customer present.
func (g *StripeGateway) ChargeOffSession(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if g == nil || g.api == nil {
		return nil, errors.New("payments: stripe gateway not configured")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	amount, err := MinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerRef),
		PaymentMethod: stripe.String(req.InstrumentRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return classifyChargeError(err), nil
	}
	return classifyIntent(intent), nil
}

// ListSavedInstruments lists the customer's cards, flagging the invoice default.
func (g *StripeGateway) ListSavedInstruments(ctx context.Context, customerRef string) ([]Instrument, error) {
	if g == nil || g.api == nil {
		return nil, errors.New("payments: stripe gateway not configured")
	}
	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	cust, err := g.api.Customers.Get(customerRef, custParams)
	if err != nil {
		return nil, fmt.Errorf("payments: get customer: %w", err)
	}
	defaultID := ""
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		defaultID = cust.InvoiceSettings.DefaultPaymentMethod.ID
	}

	listParams := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerRef),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	iter := g.api.PaymentMethods.List(listParams)
	var out []Instrument
	for iter.Next() {
		out = append(out, instrumentFromStripe(iter.PaymentMethod(), defaultID))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("payments: list payment methods: %w", err)
	}
	return out, nil
}

func instrumentFromStripe(pm *stripe.PaymentMethod, defaultID string) Instrument {
	in := Instrument{ID: pm.ID, Method: string(pm.Type), Default: pm.ID == defaultID}
	if pm.Card != nil {
		in.Brand = string(pm.Card.Brand)
		in.Last4 = pm.Card.Last4
	}
	return in
}

// classifyIntent maps a confirmed PaymentIntent onto a charge result.
func classifyIntent(intent *stripe.PaymentIntent) ChargeResult {
	if intent == nil {
		return ChargeAmbiguous{Cause: "empty payment intent"}
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		method := "card"
		if intent.PaymentMethod != nil && intent.PaymentMethod.Type != "" {
			method = string(intent.PaymentMethod.Type)
		}
		return ChargeSucceeded{TransactionID: intent.ID, Method: method}
	case stripe.PaymentIntentStatusProcessing:
		return ChargeAmbiguous{Cause: fmt.Sprintf("payment intent %s still processing", intent.ID)}
	case stripe.PaymentIntentStatusRequiresAction:
		return ChargeDeclined{Code: "authentication_required", Reason: "customer authentication required"}
	default:
		reason := string(intent.Status)
		code := ""
		if intent.LastPaymentError != nil {
			code = string(intent.LastPaymentError.Code)
			if intent.LastPaymentError.Msg != "" {
				reason = intent.LastPaymentError.Msg
			}
		}
		return ChargeDeclined{Code: code, Reason: reason}
	}
}

// classifyChargeError separates definitive refusals (4xx) from failures where the charge
// may have been captured (5xx, transport errors, deadlines).
func classifyChargeError(err error) ChargeResult {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 {
		code := string(stripeErr.Code)
		if stripeErr.DeclineCode != "" {
			code = string(stripeErr.DeclineCode)
		}
		reason := stripeErr.Msg
		if reason == "" {
			reason = string(stripeErr.Type)
		}
		return ChargeDeclined{Code: code, Reason: reason}
	}
	return ChargeAmbiguous{Cause: err.Error()}
}
