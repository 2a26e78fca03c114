package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/pricing"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/momo"
)

// fakeRepo is an in-memory store.Repository for service-level tests. It
// mirrors the conditional-transition semantics of the Postgres implementation.
type fakeRepo struct {
	mu            sync.Mutex
	transactions  map[uuid.UUID]*domain.Transaction
	logs          []domain.TransactionLogEntry
	webhookEvents map[uuid.UUID]*domain.WebhookEvent
	schedules     []domain.FeeSchedule
	pages         map[uuid.UUID]*domain.Page
	services      map[uuid.UUID]*domain.Service
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		transactions:  make(map[uuid.UUID]*domain.Transaction),
		webhookEvents: make(map[uuid.UUID]*domain.WebhookEvent),
		pages:         make(map[uuid.UUID]*domain.Page),
		services:      make(map[uuid.UUID]*domain.Service),
	}
}

func (r *fakeRepo) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.transactions {
		if existing.IdempotencyKey == tx.IdempotencyKey {
			return store.ErrDuplicateIdempotencyKey
		}
	}
	now := time.Now().UTC()
	stored := *tx
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.transactions[tx.ID] = &stored
	return nil
}

func (r *fakeRepo) FindTransactionByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *fakeRepo) FindTransactionByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.Reference == reference {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *fakeRepo) FindTransactionByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.IdempotencyKey == key {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *fakeRepo) FindTransactionByProviderReference(_ context.Context, providerReference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.ProviderReference != nil && *tx.ProviderReference == providerReference {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *fakeRepo) MarkTransactionProcessing(_ context.Context, id uuid.UUID, providerReference *string, providerResponse *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || tx.Status != domain.StatusPending {
		return false, nil
	}
	tx.Status = domain.StatusProcessing
	tx.ProviderReference = providerReference
	tx.ProviderResponse = providerResponse
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeRepo) MarkTransactionSuccess(_ context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || (tx.Status != domain.StatusPending && tx.Status != domain.StatusProcessing) {
		return false, nil
	}
	tx.Status = domain.StatusSuccess
	tx.PaidAt = &paidAt
	tx.FailureReason = nil
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeRepo) MarkTransactionFailed(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok || (tx.Status != domain.StatusPending && tx.Status != domain.StatusProcessing) {
		return false, nil
	}
	tx.Status = domain.StatusFailed
	tx.FailureReason = &reason
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *fakeRepo) MarkTransactionSMSSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[id]
	if !ok {
		return store.ErrTransactionNotFound
	}
	tx.SMSSent = true
	return nil
}

func (r *fakeRepo) FindStuckProcessingTransactions(_ context.Context, olderThan time.Duration, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var stuck []domain.Transaction
	for _, tx := range r.transactions {
		if tx.Status == domain.StatusProcessing && tx.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, *tx)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	if len(stuck) > limit {
		stuck = stuck[:limit]
	}
	return stuck, nil
}

func (r *fakeRepo) FindTransactionsByOwner(_ context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		page, ok := r.pages[tx.PageID]
		if !ok || page.UserID != userID {
			continue
		}
		if opts.Status != "" && tx.Status != opts.Status {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeRepo) FindTransactionByReferenceForOwner(ctx context.Context, reference string, userID uuid.UUID) (*domain.Transaction, error) {
	tx, err := r.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	page, ok := r.pages[tx.PageID]
	if !ok || page.UserID != userID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

func (r *fakeRepo) GetTransactionStats(_ context.Context, userID uuid.UUID, since time.Time) (*domain.TransactionStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.TransactionStats{}
	for _, tx := range r.transactions {
		page, ok := r.pages[tx.PageID]
		if !ok || page.UserID != userID || tx.CreatedAt.Before(since) {
			continue
		}
		switch tx.Status {
		case domain.StatusSuccess:
			stats.SuccessCount++
			stats.TotalRevenue += tx.NetAmount
		case domain.StatusFailed:
			stats.FailedCount++
		default:
			stats.PendingCount++
		}
	}
	return stats, nil
}

func (r *fakeRepo) AppendTransactionLog(_ context.Context, entry *domain.TransactionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	stored.CreatedAt = time.Now().UTC()
	r.logs = append(r.logs, stored)
	return nil
}

func (r *fakeRepo) FindTransactionLogs(_ context.Context, transactionID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TransactionLogEntry
	for _, entry := range r.logs {
		if entry.TransactionID == transactionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

// eventsFor returns the log event names recorded for a transaction, in order.
func (r *fakeRepo) eventsFor(transactionID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []string
	for _, entry := range r.logs {
		if entry.TransactionID == transactionID {
			events = append(events, entry.Event)
		}
	}
	return events
}

func (r *fakeRepo) RecordWebhookEvent(_ context.Context, event *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *event
	stored.CreatedAt = time.Now().UTC()
	r.webhookEvents[event.ID] = &stored
	return nil
}

func (r *fakeRepo) MarkWebhookEventProcessed(_ context.Context, eventID uuid.UUID, isValid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.webhookEvents[eventID]
	if !ok {
		return store.ErrWebhookEventNotFound
	}
	now := time.Now().UTC()
	event.IsValid = isValid
	event.ProcessedAt = &now
	return nil
}

func (r *fakeRepo) FindActiveFeeSchedule(_ context.Context, provider string, amount int64) (*domain.FeeSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.schedules {
		s := &r.schedules[i]
		if s.Provider == provider && s.IsActive && amount >= s.MinAmount && amount <= s.MaxAmount {
			cp := *s
			return &cp, nil
		}
	}
	return nil, pricing.ErrFeeScheduleNotFound
}

func (r *fakeRepo) ListActiveFeeSchedules(_ context.Context) ([]domain.FeeSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FeeSchedule
	for _, s := range r.schedules {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertFeeSchedule(_ context.Context, upsert domain.FeeScheduleUpsert) (*domain.FeeSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	version := 1
	for i := range r.schedules {
		s := &r.schedules[i]
		if s.Provider == upsert.Provider && s.IsActive {
			s.IsActive = false
			if s.Version >= version {
				version = s.Version + 1
			}
		}
	}
	schedule := domain.FeeSchedule{
		ID:                 uuid.New(),
		Provider:           upsert.Provider,
		MinAmount:          upsert.MinAmount,
		MaxAmount:          upsert.MaxAmount,
		FixedFee:           upsert.FixedFee,
		PercentageFee:      upsert.PercentageFee,
		PlatformFixedFee:   upsert.PlatformFixedFee,
		PlatformPercentage: upsert.PlatformPercentage,
		Version:            version,
		IsActive:           true,
		Label:              upsert.Label,
		ValidFrom:          time.Now().UTC(),
	}
	r.schedules = append(r.schedules, schedule)
	return &schedule, nil
}

func (r *fakeRepo) FindPageByID(_ context.Context, pageID uuid.UUID) (*domain.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	page, ok := r.pages[pageID]
	if !ok {
		return nil, store.ErrPageNotFound
	}
	cp := *page
	return &cp, nil
}

func (r *fakeRepo) FindServiceByID(_ context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	svc, ok := r.services[serviceID]
	if !ok {
		return nil, store.ErrServiceNotFound
	}
	cp := *svc
	return &cp, nil
}

func (r *fakeRepo) FindActiveServicesByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Service
	for _, id := range ids {
		if svc, ok := r.services[id]; ok && svc.IsActive {
			out = append(out, *svc)
		}
	}
	return out, nil
}

// stubGateway is a scriptable momo.Gateway.
type stubGateway struct {
	name            string
	initiateCalls   int
	initiateErr     error
	initiateResult  *momo.PaymentResult
	statusResult    *momo.StatusResult
	statusErr       error
	validSignatures bool
}

func (g *stubGateway) Name() string     { return g.name }
func (g *stubGateway) Configured() bool { return true }

func (g *stubGateway) InitiatePayment(_ context.Context, req momo.PaymentRequest) (*momo.PaymentResult, error) {
	g.initiateCalls++
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	if g.initiateResult != nil {
		return g.initiateResult, nil
	}
	return &momo.PaymentResult{
		ProviderReference: "PROV_" + req.Reference,
		PaymentURL:        "https://pay.example.test/" + req.Reference,
		RawResponse:       `{"status":201}`,
	}, nil
}

func (g *stubGateway) CheckStatus(_ context.Context, _ string) (*momo.StatusResult, error) {
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.statusResult != nil {
		return g.statusResult, nil
	}
	return &momo.StatusResult{Status: "PENDING"}, nil
}

func (g *stubGateway) VerifySignature(_ []byte, _ string) bool {
	return g.validSignatures
}

// recordingPublisher captures published events in memory.
type recordingPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) countByKey(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.published {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

// stubLimiter returns a fixed count so tests can force the over-limit path.
type stubLimiter struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (l *stubLimiter) ConsumeRateLimit(_ context.Context, _, _ string, _ int, _ time.Duration) (int, int, error) {
	l.calls++
	return l.count, l.retryAfter, l.err
}
