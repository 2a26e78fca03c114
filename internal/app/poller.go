/**
 * @description
 * This file implements the reconciliation poller. Webhooks get lost: the
 * provider may fail to deliver, or the service may be down when the callback
 * arrives. The poller periodically sweeps transactions stuck in PROCESSING,
 * asks the provider for their real state, and funnels the answer through the
 * same transition helpers the webhook path uses, so the two sources can race
 * safely.
 *
 * @dependencies
 * - context, fmt, log, strings, time: Standard Go libraries.
 * - github.com/robfig/cron/v3: Schedule driver.
 * - internal/domain: The service's domain models.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/paylink/payment-service/internal/domain"
	"github.com/robfig/cron/v3"
)

// PollerOptions controls the reconciliation sweep.
type PollerOptions struct {
	Interval time.Duration // how often to sweep
	MinAge   time.Duration // leave fresh transactions to the webhook path
	Batch    int           // max transactions per sweep
}

// StatusPoller periodically reconciles stuck PROCESSING transactions against
// the provider's view.
type StatusPoller struct {
	svc  *Service
	cron *cron.Cron
	opts PollerOptions
}

// NewStatusPoller builds a poller. Zero-valued options fall back to a
// 1-minute interval, 2-minute minimum age and batches of 25.
func NewStatusPoller(svc *Service, opts PollerOptions) *StatusPoller {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.MinAge <= 0 {
		opts.MinAge = 2 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 25
	}
	return &StatusPoller{
		svc:  svc,
		cron: cron.New(),
		opts: opts,
	}
}

// Start schedules the sweep and begins running it.
func (p *StatusPoller) Start() error {
	spec := fmt.Sprintf("@every %s", p.opts.Interval)
	if _, err := p.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.Interval)
		defer cancel()
		p.sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule status poller: %w", err)
	}
	p.cron.Start()
	log.Printf("level=info component=status_poller msg=\"started\" interval=%s min_age=%s batch=%d", p.opts.Interval, p.opts.MinAge, p.opts.Batch)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (p *StatusPoller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *StatusPoller) sweep(ctx context.Context) {
	stuck, err := p.svc.repo.FindStuckProcessingTransactions(ctx, p.opts.MinAge, p.opts.Batch)
	if err != nil {
		log.Printf("level=error component=status_poller msg=\"stuck transaction query failed\" err=%v", err)
		return
	}
	if len(stuck) == 0 {
		return
	}
	log.Printf("level=info component=status_poller msg=\"reconciling stuck transactions\" count=%d", len(stuck))

	for i := range stuck {
		tx := &stuck[i]
		p.reconcile(ctx, tx)
	}
}

func (p *StatusPoller) reconcile(ctx context.Context, tx *domain.Transaction) {
	if tx.ProviderReference == nil || *tx.ProviderReference == "" {
		log.Printf("level=warn component=status_poller msg=\"transaction has no provider reference; skipping\" reference=%s", tx.Reference)
		return
	}

	gateway, err := p.svc.gateways.Get(tx.Provider)
	if err != nil {
		log.Printf("level=error component=status_poller msg=\"unknown provider on stored transaction\" reference=%s provider=%s", tx.Reference, tx.Provider)
		return
	}

	result, err := gateway.CheckStatus(ctx, *tx.ProviderReference)
	if err != nil {
		log.Printf("level=warn component=status_poller msg=\"status poll failed\" reference=%s provider=%s err=%v", tx.Reference, tx.Provider, err)
		return
	}

	status := strings.ToUpper(strings.TrimSpace(result.Status))
	p.svc.appendLog(ctx, tx.ID, domain.EventStatusPolled,
		"provider status polled",
		map[string]interface{}{"provider_status": status})

	switch {
	case successStatuses[status]:
		p.svc.applyPaymentSuccess(ctx, tx, "poller")
	case failureStatuses[status]:
		reason := result.Message
		if reason == "" {
			reason = "payment " + strings.ToLower(status) + " at provider"
		}
		p.svc.applyPaymentFailure(ctx, tx, reason, "poller")
	default:
		// Still pending at the provider; the next sweep will look again.
	}
}
