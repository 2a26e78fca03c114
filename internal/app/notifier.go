/**
 * @description
 * This file implements the SMS notification dispatcher. Payment transitions
 * publish notification.sms messages instead of sending SMS inline, and this
 * consumer drains the queue: it hands each message to the SMS sender and, for
 * payer receipts, records sms_sent on the transaction. Keeping dispatch behind
 * the broker means a slow or failing SMS gateway can never delay a payment
 * transition.
 *
 * @dependencies
 * - context, encoding/json, log, time: Standard Go libraries.
 * - internal/domain, internal/store: Models and persistence.
 * - pkg/rabbitmq: The consumer.
 */

package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/rabbitmq"
)

// SMSSender delivers one SMS. Implementations wrap the actual SMS gateway.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSMSSender is the development sender: it only logs the message. Used when
// no SMS gateway is configured.
type LogSMSSender struct{}

func (LogSMSSender) Send(_ context.Context, phone, message string) error {
	log.Printf("level=info component=sms_sender mode=log phone=%s msg=%q", phone, message)
	return nil
}

// SMSDispatcher consumes notification.sms messages and delivers them.
type SMSDispatcher struct {
	repo   store.Repository
	sender SMSSender
}

// NewSMSDispatcher builds a dispatcher. A nil sender falls back to logging.
func NewSMSDispatcher(repo store.Repository, sender SMSSender) *SMSDispatcher {
	if sender == nil {
		sender = LogSMSSender{}
	}
	return &SMSDispatcher{repo: repo, sender: sender}
}

// Bindings returns the routing-key handler map for the events exchange.
func (d *SMSDispatcher) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		rabbitmq.RoutingNotificationSMS: d.HandleSMS,
	}
}

// HandleSMS processes one queued SMS. Returning true acknowledges the
// message; a sender failure re-queues it for another attempt.
func (d *SMSDispatcher) HandleSMS(body []byte) bool {
	var notification domain.SMSNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		log.Printf("level=warn component=sms_dispatcher msg=\"malformed sms message; dropping\" err=%v", err)
		return true // re-queueing a malformed message would loop forever
	}
	if notification.Phone == "" {
		log.Printf("level=warn component=sms_dispatcher msg=\"sms message without phone; dropping\"")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := d.sender.Send(ctx, notification.Phone, notification.Message); err != nil {
		log.Printf("level=warn component=sms_dispatcher msg=\"sms send failed; re-queuing\" phone=%s err=%v", notification.Phone, err)
		return false
	}

	if notification.TransactionID != nil {
		if err := d.repo.MarkTransactionSMSSent(ctx, *notification.TransactionID); err != nil {
			// The SMS went out; losing the flag is an audit gap, not a retry case.
			log.Printf("level=warn component=sms_dispatcher msg=\"failed to record sms_sent\" transaction_id=%s err=%v", notification.TransactionID, err)
		}
	}
	return true
}
