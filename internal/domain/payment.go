/**
 * @description
 * This file defines the core domain models for the payment-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and provider
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in whole FCFA
 *   (XAF has no minor unit), which avoids floating-point inaccuracies with
 *   financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Currency is the only currency this service settles in.
const Currency = "XAF"

// Payment providers supported by the service. The string values double as the
// webhook URL segment for each provider.
const (
	ProviderOrangeMoney = "orange_money"
	ProviderMTNMoMo     = "mtn_momo"
)

// Transaction statuses. SUCCESS and FAILED are terminal: no transition is
// defined out of them.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// Transaction log event names, one per meaningful state change or external call.
const (
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventProviderCalled   = "PROVIDER_CALLED"
	EventProviderError    = "PROVIDER_ERROR"
	EventPaymentSuccess   = "PAYMENT_SUCCESS"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventStatusPolled     = "STATUS_POLLED"
	EventFeeFallbackUsed  = "FEE_FALLBACK_USED"
)

// Transaction is the aggregate root for one payment attempt and the system of
// record for settlement. It maps directly to the `transactions` table.
// Transactions are never deleted.
type Transaction struct {
	ID                uuid.UUID    `json:"id"`
	Reference         string       `json:"reference"`
	IdempotencyKey    string       `json:"-"`
	PageID            uuid.UUID    `json:"page_id"`
	ServiceID         *uuid.UUID   `json:"service_id,omitempty"`
	GrossAmount       int64        `json:"gross_amount"` // what the payer is charged, in FCFA
	NetAmount         int64        `json:"net_amount"`   // what the seller receives, in FCFA
	ProviderFee       int64        `json:"provider_fee"`
	PlatformFee       int64        `json:"platform_fee"`
	Currency          string       `json:"currency"`
	PayerPhone        string       `json:"payer_phone"`
	PayerName         *string      `json:"payer_name,omitempty"`
	PayerEmail        *string      `json:"payer_email,omitempty"`
	Provider          string       `json:"provider"`
	Status            string       `json:"status"`
	ProviderReference *string      `json:"provider_reference,omitempty"`
	ProviderResponse  *string      `json:"provider_response,omitempty"` // raw JSON from the provider, kept for audit
	FailureReason     *string      `json:"failure_reason,omitempty"`
	FeeSnapshot       *FeeSnapshot `json:"fee_snapshot,omitempty"`
	SMSSent           bool         `json:"sms_sent"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	PaidAt            *time.Time   `json:"paid_at,omitempty"`
}

// IsTerminal reports whether the transaction has reached a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

// FeeSchedule is one versioned fee configuration row for a provider and amount
// band. Rows are never mutated in place: an upsert deactivates the prior
// version and inserts the next one.
type FeeSchedule struct {
	ID                 uuid.UUID  `json:"id"`
	Provider           string     `json:"provider"`
	MinAmount          int64      `json:"min_amount"`
	MaxAmount          int64      `json:"max_amount"`
	FixedFee           int64      `json:"fixed_fee"`
	PercentageFee      float64    `json:"percentage_fee"` // fraction in [0, 1)
	PlatformFixedFee   int64      `json:"platform_fixed_fee"`
	PlatformPercentage float64    `json:"platform_percentage"` // fraction in [0, 1)
	Version            int        `json:"version"`
	IsActive           bool       `json:"is_active"`
	Label              *string    `json:"label,omitempty"`
	ValidFrom          time.Time  `json:"valid_from"`
	ValidUntil         *time.Time `json:"valid_until,omitempty"`
}

// FeeSnapshot is an immutable copy of the fee parameters used for one
// calculation, embedded into the resulting transaction. Given a snapshot and
// the original input amount the computation must be exactly reproducible.
type FeeSnapshot struct {
	Provider           string    `json:"provider"`
	ProviderFixedFee   int64     `json:"provider_fixed_fee"`
	ProviderPercentage float64   `json:"provider_percentage"`
	PlatformFixedFee   int64     `json:"platform_fixed_fee"`
	PlatformPercentage float64   `json:"platform_percentage"`
	FeeVersion         int       `json:"fee_version"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// PriceCalculation is the result of one fee computation. It is not persisted
// standalone; its snapshot travels with the transaction it priced.
//
// Invariants: GrossAmount = NetAmount + ProviderFee + PlatformFee,
// TotalFees = ProviderFee + PlatformFee, and in net-input mode
// NetAmount >= the requested net amount.
type PriceCalculation struct {
	GrossAmount int64       `json:"gross_amount"`
	NetAmount   int64       `json:"net_amount"`
	ProviderFee int64       `json:"provider_fee"`
	PlatformFee int64       `json:"platform_fee"`
	TotalFees   int64       `json:"total_fees"`
	Provider    string      `json:"provider"`
	Currency    string      `json:"currency"`
	FeeSnapshot FeeSnapshot `json:"fee_snapshot"`
}

// CartItem is one line of a cart calculation request.
type CartItem struct {
	ServiceID uuid.UUID `json:"service_id"`
	Quantity  int       `json:"quantity"`
}

// CartLine is the per-line breakdown returned alongside a cart calculation.
type CartLine struct {
	ServiceID uuid.UUID `json:"service_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
}

// CartCalculation is a PriceCalculation over the cart total plus the per-line
// detail for display.
type CartCalculation struct {
	PriceCalculation
	CartDetails []CartLine `json:"cart_details"`
}

// TransactionLogEntry is one append-only ledger row for a transaction. Ordering
// by CreatedAt reconstructs the full history. Entries are never updated or
// deleted.
type TransactionLogEntry struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Event         string    `json:"event"`
	Message       string    `json:"message"`
	Metadata      []byte    `json:"metadata,omitempty"` // raw JSON
	CreatedAt     time.Time `json:"created_at"`
}

// WebhookEvent records every inbound provider callback, valid or not, before
// any business logic runs. This is the forensic record of what the provider
// (or an attacker) actually sent.
type WebhookEvent struct {
	ID          uuid.UUID  `json:"id"`
	Provider    string     `json:"provider"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"` // raw JSON body as received
	Signature   *string    `json:"signature,omitempty"`
	IsValid     bool       `json:"is_valid"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Page is the read-side view of a seller's payment page, owned by the
// surrounding platform. The payment-service only needs enough of it to
// validate an initiation request and scope queries to the owning user.
type Page struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Slug   string    `json:"slug"`
	Title  string    `json:"title"`
	Status string    `json:"status"` // e.g. 'DRAFT', 'PUBLISHED'
}

// PagePublished is the page status required before payments can be initiated.
const PagePublished = "PUBLISHED"

// Service is the read-side view of a sellable item attached to a page.
// NetPrice is the amount the seller wants to receive for one unit.
type Service struct {
	ID       uuid.UUID `json:"id"`
	PageID   uuid.UUID `json:"page_id"`
	Name     string    `json:"name"`
	NetPrice int64     `json:"net_price"`
	IsActive bool      `json:"is_active"`
}

// InitiatePaymentRequest is the DTO for the public payment initiation endpoint.
type InitiatePaymentRequest struct {
	PageID           uuid.UUID  `json:"page_id"`
	ServiceID        *uuid.UUID `json:"service_id,omitempty"`
	Amount           int64      `json:"amount,omitempty"` // explicit net amount for open-ended pages (donations)
	Provider         string     `json:"provider"`
	PayerPhone       string     `json:"payer_phone"`
	PayerName        *string    `json:"payer_name,omitempty"`
	PayerEmail       *string    `json:"payer_email,omitempty"`
	IdempotencyToken string     `json:"idempotency_token,omitempty"`
}

// InitiatePaymentResult is returned by the orchestrator after an initiation
// request. IsNew is false when the idempotency key matched an existing
// transaction and the request was a replay.
type InitiatePaymentResult struct {
	Transaction *Transaction `json:"transaction"`
	PaymentURL  string       `json:"payment_url,omitempty"`
	IsNew       bool         `json:"is_new"`
}

// PaymentStatusResult is the public status query response.
type PaymentStatusResult struct {
	Status      string       `json:"status"`
	Transaction *Transaction `json:"transaction"`
}

// FeeScheduleUpsert is the administrative request to install the next version
// of a fee schedule band for a provider.
type FeeScheduleUpsert struct {
	Provider           string  `json:"provider"`
	MinAmount          int64   `json:"min_amount"`
	MaxAmount          int64   `json:"max_amount"`
	FixedFee           int64   `json:"fixed_fee"`
	PercentageFee      float64 `json:"percentage_fee"`
	PlatformFixedFee   int64   `json:"platform_fixed_fee"`
	PlatformPercentage float64 `json:"platform_percentage"`
	Label              *string `json:"label,omitempty"`
}

// TransactionListOptions controls pagination and filtering for the seller
// transaction history.
type TransactionListOptions struct {
	Limit  int
	Offset int
	Status string
}

// TransactionStats summarizes a seller's transactions over a period.
type TransactionStats struct {
	Period       string `json:"period"`
	SuccessCount int64  `json:"success_count"`
	PendingCount int64  `json:"pending_count"`
	FailedCount  int64  `json:"failed_count"`
	TotalRevenue int64  `json:"total_revenue"` // sum of net amounts on SUCCESS
}

// PaymentSucceededEvent is the message payload published when a payment
// reaches SUCCESS, consumed by the notification dispatcher.
type PaymentSucceededEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	PageID        uuid.UUID `json:"page_id"`
	SellerUserID  uuid.UUID `json:"seller_user_id"`
	NetAmount     int64     `json:"net_amount"`
	GrossAmount   int64     `json:"gross_amount"`
	Currency      string    `json:"currency"`
	PayerPhone    string    `json:"payer_phone"`
	PayerName     *string   `json:"payer_name,omitempty"`
	PaidAt        time.Time `json:"paid_at"`
}

// PaymentFailedEvent is the message payload published when a payment reaches
// FAILED.
type PaymentFailedEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	PageID        uuid.UUID `json:"page_id"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SMSNotification is the message payload for one outbound SMS, consumed by the
// notification dispatcher. Dispatch is best-effort and must never block or
// roll back a payment transition.
type SMSNotification struct {
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"` // set for payer receipts so sms_sent can be recorded
	Phone         string     `json:"phone"`
	Message       string     `json:"message"`
}
