/**
 * @description
 * This package provides clients for the Mobile Money providers the
 * payment-service collects through: Orange Money Webpay and MTN MoMo
 * Collection. The `Gateway` interface abstracts both behind a uniform
 * initiate / verify / poll surface so the application layer never touches
 * provider specifics.
 *
 * Key features:
 * - A provider left unconfigured runs in simulation mode: initiation returns a
 *   synthetic provider reference so the rest of the lifecycle can be exercised
 *   without credentials.
 * - Webhook signatures are HMAC-SHA256 hex over the raw body, compared in
 *   constant time.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 */
package momo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownGateway is returned when no client is registered for a provider name.
	ErrUnknownGateway = errors.New("unknown payment gateway")

	// ErrPaymentRejected is returned when the provider refused the initiation request.
	ErrPaymentRejected = errors.New("payment rejected by provider")
)

// PaymentRequest carries everything a provider needs to start collecting a
// payment. Amount is the gross amount in whole FCFA.
type PaymentRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	PayerPhone  string
	Description string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

// PaymentResult is the outcome of a successful initiation.
type PaymentResult struct {
	// ProviderReference is the provider-side handle for this payment: the
	// Webpay pay token for Orange, the X-Reference-Id for MTN.
	ProviderReference string
	// PaymentURL is set when the payer must be redirected (Orange Webpay).
	// Empty for push-based flows (MTN requesttopay).
	PaymentURL string
	Message    string
	// RawResponse is the provider's response body, kept for audit.
	RawResponse string
	Simulated   bool
}

// StatusResult is a provider's answer to a status poll. Status carries the
// provider-native status string; mapping to the internal state machine is the
// caller's concern.
type StatusResult struct {
	Status    string
	Reference string
	Message   string
}

// Gateway is the uniform surface over one Mobile Money provider.
type Gateway interface {
	// Name returns the provider identifier (e.g. "orange_money").
	Name() string
	// Configured reports whether real credentials are present. An
	// unconfigured gateway simulates payments.
	Configured() bool
	// InitiatePayment starts collection of the given gross amount.
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error)
	// CheckStatus polls the provider for the current state of a payment.
	CheckStatus(ctx context.Context, providerReference string) (*StatusResult, error)
	// VerifySignature checks a webhook body against its signature header.
	VerifySignature(payload []byte, signature string) bool
}

// Registry holds the configured gateways keyed by provider name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a registry over the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

// Get returns the gateway for a provider name.
func (r *Registry) Get(provider string) (Gateway, error) {
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, provider)
	}
	return g, nil
}
