/**
 * @description
 * This file implements provider webhook processing. Every inbound callback is
 * recorded before anything else, so even forged or malformed payloads leave a
 * forensic trace. Signature verification gates all state changes; the status
 * transition itself goes through the same conditional-update helpers the
 * poller uses, which makes webhook replays and webhook/poller races converge
 * on a single transition and a single set of side effects.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt, log, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: Models and persistence.
 * - pkg/rabbitmq: Lifecycle event publication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/rabbitmq"
)

// ErrInvalidSignature is returned when a webhook payload fails HMAC
// verification. The event is still recorded; no transaction state changes.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookOutcome describes how a recorded webhook was handled. Business
// rejections (unknown reference, no-op status) are reported here rather than
// as errors so the provider is not prompted to retry them.
type WebhookOutcome struct {
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
	Reference string `json:"reference,omitempty"`
	Status    string `json:"status,omitempty"`
}

// webhookPayload covers the field spellings the providers use for the event
// name, the transaction reference, and the payment status.
type webhookPayload struct {
	Event         string `json:"event"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transactionId"`
	ExternalID    string `json:"externalId"`
	Reason        string `json:"reason"`
	Message       string `json:"message"`
	Data          struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// Statuses the providers report, mapped onto the transaction state machine.
// Anything outside both lists is an intermediate state and changes nothing.
var (
	successStatuses = map[string]bool{"SUCCESS": true, "SUCCESSFUL": true, "COMPLETED": true, "PAID": true}
	failureStatuses = map[string]bool{"FAILED": true, "REJECTED": true, "CANCELLED": true, "EXPIRED": true}
)

// HandleWebhook processes one provider callback. The raw body must be passed
// unmodified: the HMAC covers the exact bytes the provider sent.
func (s *Service) HandleWebhook(ctx context.Context, provider string, payload []byte, signature string) (*WebhookOutcome, error) {
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	var parsed webhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		log.Printf("level=warn component=webhook msg=\"malformed payload\" provider=%s err=%v", provider, err)
		// fall through: the event is still recorded below
	}

	eventType := parsed.Event
	if eventType == "" {
		eventType = parsed.Type
	}
	if eventType == "" {
		eventType = "unknown"
	}

	// Record first, validate second.
	event := &domain.WebhookEvent{
		ID:        uuid.New(),
		Provider:  provider,
		EventType: eventType,
		Payload:   payload,
	}
	if signature != "" {
		event.Signature = &signature
	}
	if err := s.repo.RecordWebhookEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}

	if signature == "" || !gateway.VerifySignature(payload, signature) {
		log.Printf("level=warn component=webhook msg=\"signature verification failed\" provider=%s event_id=%s", provider, event.ID)
		if err := s.repo.MarkWebhookEventProcessed(ctx, event.ID, false); err != nil {
			log.Printf("level=warn component=webhook msg=\"failed to mark event processed\" event_id=%s err=%v", event.ID, err)
		}
		return nil, ErrInvalidSignature
	}

	outcome := s.applyWebhook(ctx, provider, &parsed)

	if err := s.repo.MarkWebhookEventProcessed(ctx, event.ID, true); err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to mark event processed\" event_id=%s err=%v", event.ID, err)
	}
	return outcome, nil
}

func (s *Service) applyWebhook(ctx context.Context, provider string, parsed *webhookPayload) *WebhookOutcome {
	reference := extractReference(parsed)
	if reference == "" {
		return &WebhookOutcome{Accepted: false, Message: "no transaction reference in payload"}
	}

	tx, err := s.findByAnyReference(ctx, reference)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Printf("level=warn component=webhook msg=\"unknown transaction reference\" provider=%s reference=%s", provider, reference)
			return &WebhookOutcome{Accepted: false, Message: "transaction not found", Reference: reference}
		}
		log.Printf("level=error component=webhook msg=\"transaction lookup failed\" reference=%s err=%v", reference, err)
		return &WebhookOutcome{Accepted: false, Message: "transaction lookup failed", Reference: reference}
	}

	status := strings.ToUpper(strings.TrimSpace(parsed.Status))
	reason := parsed.Reason
	if reason == "" {
		reason = parsed.Message
	}

	switch {
	case successStatuses[status]:
		s.applyPaymentSuccess(ctx, tx, "webhook")
	case failureStatuses[status]:
		if reason == "" {
			reason = "payment " + strings.ToLower(status) + " at provider"
		}
		s.applyPaymentFailure(ctx, tx, reason, "webhook")
	default:
		log.Printf("level=info component=webhook msg=\"intermediate status; no transition\" reference=%s status=%s", tx.Reference, status)
		return &WebhookOutcome{Accepted: true, Message: "status acknowledged", Reference: tx.Reference, Status: tx.Status}
	}

	current, err := s.repo.FindTransactionByID(ctx, tx.ID)
	if err != nil {
		current = tx
	}
	return &WebhookOutcome{Accepted: true, Reference: current.Reference, Status: current.Status}
}

// findByAnyReference resolves a webhook reference that may be either our
// public reference or the provider's own identifier.
func (s *Service) findByAnyReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, err
	}
	return s.repo.FindTransactionByProviderReference(ctx, reference)
}

func extractReference(parsed *webhookPayload) string {
	for _, candidate := range []string{parsed.Reference, parsed.TransactionID, parsed.ExternalID, parsed.Data.Reference} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// applyPaymentSuccess moves a transaction to SUCCESS and runs the success side
// effects exactly once. The conditional update in the store is the
// serialization point: whichever caller flips the row wins, everyone else
// sees a no-op.
func (s *Service) applyPaymentSuccess(ctx context.Context, tx *domain.Transaction, source string) {
	paidAt := time.Now().UTC()
	transitioned, err := s.repo.MarkTransactionSuccess(ctx, tx.ID, paidAt)
	if err != nil {
		log.Printf("level=error component=payment_service msg=\"success transition failed\" reference=%s source=%s err=%v", tx.Reference, source, err)
		return
	}
	if !transitioned {
		log.Printf("level=info component=payment_service msg=\"success transition skipped; already settled\" reference=%s source=%s", tx.Reference, source)
		return
	}

	s.appendLog(ctx, tx.ID, domain.EventPaymentSuccess,
		"payment confirmed by provider",
		map[string]interface{}{"source": source, "gross_amount": tx.GrossAmount, "net_amount": tx.NetAmount})

	page, err := s.repo.FindPageByID(ctx, tx.PageID)
	if err != nil {
		log.Printf("level=warn component=payment_service msg=\"page lookup for success event failed\" reference=%s err=%v", tx.Reference, err)
	}

	succeeded := domain.PaymentSucceededEvent{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		PageID:        tx.PageID,
		NetAmount:     tx.NetAmount,
		GrossAmount:   tx.GrossAmount,
		Currency:      tx.Currency,
		PayerPhone:    tx.PayerPhone,
		PayerName:     tx.PayerName,
		PaidAt:        paidAt,
	}
	if page != nil {
		succeeded.SellerUserID = page.UserID
	}
	s.publish(ctx, rabbitmq.RoutingPaymentSucceeded, succeeded)

	txID := tx.ID
	s.publish(ctx, rabbitmq.RoutingNotificationSMS, domain.SMSNotification{
		TransactionID: &txID,
		Phone:         tx.PayerPhone,
		Message:       fmt.Sprintf("PayLink: Votre paiement de %d FCFA a été reçu. Ref: %s", tx.GrossAmount, tx.Reference),
	})
}

// applyPaymentFailure moves a transaction to FAILED and runs the failure side
// effects exactly once.
func (s *Service) applyPaymentFailure(ctx context.Context, tx *domain.Transaction, reason, source string) {
	transitioned, err := s.repo.MarkTransactionFailed(ctx, tx.ID, reason)
	if err != nil {
		log.Printf("level=error component=payment_service msg=\"failure transition failed\" reference=%s source=%s err=%v", tx.Reference, source, err)
		return
	}
	if !transitioned {
		log.Printf("level=info component=payment_service msg=\"failure transition skipped; already settled\" reference=%s source=%s", tx.Reference, source)
		return
	}

	s.appendLog(ctx, tx.ID, domain.EventPaymentFailed, reason,
		map[string]interface{}{"source": source})

	s.publish(ctx, rabbitmq.RoutingPaymentFailed, domain.PaymentFailedEvent{
		TransactionID: tx.ID,
		Reference:     tx.Reference,
		PageID:        tx.PageID,
		Reason:        reason,
		Timestamp:     time.Now().UTC(),
	})
}

// publish sends a lifecycle event best-effort. Messaging failures are logged
// and swallowed: the database transition is the source of truth.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, rabbitmq.EventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=payment_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
