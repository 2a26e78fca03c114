/**
 * @description
 * This file contains the core business logic for the payment-service. The
 * `Service` orchestrates payment initiation end to end: idempotency, page and
 * service validation, fee calculation, transaction persistence, the provider
 * gateway call, and the audit log. It also serves status queries, pricing
 * endpoints, fee schedule administration, and the seller transaction history.
 *
 * Key features:
 * - Initiation is idempotent: the same semantic request maps to the same
 *   SHA-256 key, and the unique constraint on that key resolves concurrent
 *   duplicates to a single transaction and a single gateway call.
 * - A provider failure marks the transaction FAILED instead of leaking a
 *   half-created payment.
 * - Payer phone numbers are normalized to the 237 country prefix before they
 *   reach a provider or the database.
 *
 * @dependencies
 * - context, crypto/*, encoding/*, errors, fmt, log, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For entity identifiers.
 * - internal/domain, internal/pricing, internal/store: The service's own packages.
 * - pkg/momo: The provider gateway clients.
 * - pkg/rabbitmq: The event producer.
 */

package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/pricing"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/momo"
	"github.com/paylink/payment-service/pkg/rabbitmq"
)

var (
	ErrPageNotAvailable        = errors.New("page is not available for payments")
	ErrServiceNotAvailable     = errors.New("service not found or inactive")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed; please retry")
	ErrRateLimited             = errors.New("too many payment attempts; try again later")
)

// RateLimiter is the distributed limiter consulted before each initiation.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// ServiceOptions carries the tunables the orchestrator needs from config.
type ServiceOptions struct {
	FrontendBaseURL      string
	PublicBaseURL        string
	InitiationRateLimit  int
	InitiationRateWindow time.Duration
}

// Service implements the payment lifecycle business logic.
type Service struct {
	repo     store.Repository
	engine   *pricing.Engine
	gateways *momo.Registry
	producer rabbitmq.Publisher
	limiter  RateLimiter
	opts     ServiceOptions
}

// NewService creates a new instance of the payment service. The limiter may
// be nil when Redis is not configured; rate limiting is then skipped.
func NewService(repo store.Repository, engine *pricing.Engine, gateways *momo.Registry, producer rabbitmq.Publisher, limiter RateLimiter, opts ServiceOptions) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		gateways: gateways,
		producer: producer,
		limiter:  limiter,
		opts:     opts,
	}
}

// InitiatePayment starts a Mobile Money payment. The operation is idempotent:
// a replay of the same semantic request returns the already-created
// transaction without calling the provider again.
func (s *Service) InitiatePayment(ctx context.Context, req domain.InitiatePaymentRequest) (*domain.InitiatePaymentResult, error) {
	// Resolve the gateway up front so an unsupported provider fails fast.
	gateway, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	payerPhone := NormalizePhone(req.PayerPhone)

	// Resolve the net amount: the service's listed price, or the explicit
	// amount for open-ended pages.
	netAmount := req.Amount
	var serviceName string
	if req.ServiceID != nil {
		svc, err := s.repo.FindServiceByID(ctx, *req.ServiceID)
		if err != nil {
			if errors.Is(err, store.ErrServiceNotFound) {
				return nil, ErrServiceNotAvailable
			}
			return nil, fmt.Errorf("resolve service: %w", err)
		}
		if svc.PageID != req.PageID || !svc.IsActive {
			return nil, ErrServiceNotAvailable
		}
		netAmount = svc.NetPrice
		serviceName = svc.Name
	}

	// Idempotency: same semantic request, same key, same transaction.
	idempotencyKey := IdempotencyKey(req.PageID, req.ServiceID, payerPhone, netAmount, req.IdempotencyToken)
	if existing, err := s.repo.FindTransactionByIdempotencyKey(ctx, idempotencyKey); err == nil {
		log.Printf("level=info component=payment_service msg=\"idempotent replay\" reference=%s", existing.Reference)
		return &domain.InitiatePaymentResult{Transaction: existing, IsNew: false}, nil
	} else if !errors.Is(err, store.ErrTransactionNotFound) {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	// Rate limit per payer phone before any write.
	if err := s.consumeInitiationBudget(ctx, payerPhone); err != nil {
		return nil, err
	}

	// The page must exist and be published.
	page, err := s.repo.FindPageByID(ctx, req.PageID)
	if err != nil {
		return nil, err
	}
	if page.Status != domain.PagePublished {
		return nil, ErrPageNotAvailable
	}

	// Price the payment. Bounds checking happens inside the engine.
	calc, err := s.engine.CalculateFromNet(ctx, netAmount, req.Provider)
	if err != nil {
		return nil, err
	}

	// Persist the PENDING transaction with its fee snapshot.
	snapshot := calc.FeeSnapshot
	tx := &domain.Transaction{
		ID:             uuid.New(),
		Reference:      NewReference(),
		IdempotencyKey: idempotencyKey,
		PageID:         req.PageID,
		ServiceID:      req.ServiceID,
		GrossAmount:    calc.GrossAmount,
		NetAmount:      calc.NetAmount,
		ProviderFee:    calc.ProviderFee,
		PlatformFee:    calc.PlatformFee,
		Currency:       domain.Currency,
		PayerPhone:     payerPhone,
		PayerName:      req.PayerName,
		PayerEmail:     req.PayerEmail,
		Provider:       req.Provider,
		Status:         domain.StatusPending,
		FeeSnapshot:    &snapshot,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won the insert race.
			winner, lookupErr := s.repo.FindTransactionByIdempotencyKey(ctx, idempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("idempotency race re-read: %w", lookupErr)
			}
			log.Printf("level=info component=payment_service msg=\"idempotency race resolved\" reference=%s", winner.Reference)
			return &domain.InitiatePaymentResult{Transaction: winner, IsNew: false}, nil
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.appendLog(ctx, tx.ID, domain.EventPaymentInitiated,
		fmt.Sprintf("payment initiated via %s", req.Provider),
		map[string]interface{}{"gross_amount": calc.GrossAmount, "net_amount": calc.NetAmount, "payer_phone": payerPhone})

	// Call the provider. A failure here finalizes the transaction as FAILED
	// so a retry produces a fresh attempt.
	description := page.Title
	if serviceName != "" {
		description = serviceName
	}
	result, err := gateway.InitiatePayment(ctx, momo.PaymentRequest{
		Reference:   tx.Reference,
		Amount:      calc.GrossAmount,
		Currency:    domain.Currency,
		PayerPhone:  payerPhone,
		Description: description,
		ReturnURL:   s.opts.FrontendBaseURL + "/pay/" + page.Slug + "/result",
		CancelURL:   s.opts.FrontendBaseURL + "/pay/" + page.Slug,
		NotifyURL:   s.opts.PublicBaseURL + "/api/payments/webhook/" + req.Provider,
	})
	if err != nil {
		log.Printf("level=error component=payment_service msg=\"provider initiation failed\" reference=%s provider=%s err=%v", tx.Reference, req.Provider, err)
		reason := err.Error()
		if _, markErr := s.repo.MarkTransactionFailed(ctx, tx.ID, reason); markErr != nil {
			log.Printf("level=error component=payment_service msg=\"failed to mark transaction failed\" reference=%s err=%v", tx.Reference, markErr)
		}
		s.appendLog(ctx, tx.ID, domain.EventProviderError, reason, nil)
		return nil, fmt.Errorf("%w: %s", ErrPaymentInitiationFailed, reason)
	}

	providerResponse := result.RawResponse
	if _, err := s.repo.MarkTransactionProcessing(ctx, tx.ID, &result.ProviderReference, &providerResponse); err != nil {
		return nil, fmt.Errorf("mark transaction processing: %w", err)
	}
	s.appendLog(ctx, tx.ID, domain.EventProviderCalled,
		"provider accepted the payment request",
		map[string]interface{}{"provider_reference": result.ProviderReference, "simulated": result.Simulated})

	created, err := s.repo.FindTransactionByID(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction: %w", err)
	}

	return &domain.InitiatePaymentResult{
		Transaction: created,
		PaymentURL:  result.PaymentURL,
		IsNew:       true,
	}, nil
}

// CheckPaymentStatus returns the current status of a payment by its public
// reference.
func (s *Service) CheckPaymentStatus(ctx context.Context, reference string) (*domain.PaymentStatusResult, error) {
	tx, err := s.repo.FindTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &domain.PaymentStatusResult{Status: tx.Status, Transaction: tx}, nil
}

// EstimatePrice prices a payment for the public payment page.
func (s *Service) EstimatePrice(ctx context.Context, netAmount int64, provider string) (*domain.PriceCalculation, error) {
	return s.engine.CalculateFromNet(ctx, netAmount, provider)
}

// CalculatePrice prices a payment with the full breakdown for seller tooling.
func (s *Service) CalculatePrice(ctx context.Context, amount int64, provider string, fromGross bool) (*domain.PriceCalculation, error) {
	if fromGross {
		return s.engine.CalculateFromGross(ctx, amount, provider)
	}
	return s.engine.CalculateFromNet(ctx, amount, provider)
}

// CalculateCart prices a multi-service cart.
func (s *Service) CalculateCart(ctx context.Context, items []domain.CartItem, provider string) (*domain.CartCalculation, error) {
	return s.engine.CalculateCart(ctx, items, provider)
}

// ListFeeSchedules returns all active fee schedule bands.
func (s *Service) ListFeeSchedules(ctx context.Context) ([]domain.FeeSchedule, error) {
	return s.repo.ListActiveFeeSchedules(ctx)
}

// UpsertFeeSchedule installs the next version of a fee band.
func (s *Service) UpsertFeeSchedule(ctx context.Context, upsert domain.FeeScheduleUpsert) (*domain.FeeSchedule, error) {
	if _, err := s.gateways.Get(upsert.Provider); err != nil {
		return nil, err
	}
	if upsert.PercentageFee+upsert.PlatformPercentage >= 1 {
		return nil, fmt.Errorf("%w: total percentage >= 100%%", pricing.ErrInvalidFeeConfiguration)
	}
	return s.repo.UpsertFeeSchedule(ctx, upsert)
}

// SeedDefaultFeeSchedules installs the standard band for every provider that
// has no active schedule yet. Called once at startup.
func (s *Service) SeedDefaultFeeSchedules(ctx context.Context) error {
	active, err := s.repo.ListActiveFeeSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list fee schedules: %w", err)
	}
	covered := make(map[string]bool, len(active))
	for _, schedule := range active {
		covered[schedule.Provider] = true
	}

	label := "Frais standard"
	defaults := []domain.FeeScheduleUpsert{
		{
			Provider: domain.ProviderOrangeMoney, MinAmount: pricing.MinAmount, MaxAmount: pricing.MaxAmount,
			PercentageFee: 0.015, PlatformPercentage: 0.02, Label: &label,
		},
		{
			Provider: domain.ProviderMTNMoMo, MinAmount: pricing.MinAmount, MaxAmount: pricing.MaxAmount,
			PercentageFee: 0.015, PlatformPercentage: 0.02, Label: &label,
		},
	}
	for _, upsert := range defaults {
		if covered[upsert.Provider] {
			continue
		}
		if _, err := s.repo.UpsertFeeSchedule(ctx, upsert); err != nil {
			return fmt.Errorf("seed fee schedule for %s: %w", upsert.Provider, err)
		}
		log.Printf("level=info component=payment_service msg=\"default fee schedule seeded\" provider=%s", upsert.Provider)
	}
	return nil
}

// ListTransactions returns a seller's transaction history.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByOwner(ctx, userID, opts)
}

// GetTransaction returns one of the seller's transactions by reference.
func (s *Service) GetTransaction(ctx context.Context, reference string, userID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByReferenceForOwner(ctx, reference, userID)
}

// GetTransactionStats aggregates a seller's transactions over the given period.
func (s *Service) GetTransactionStats(ctx context.Context, userID uuid.UUID, period string) (*domain.TransactionStats, error) {
	var since time.Time
	normalized := strings.TrimSpace(strings.ToLower(period))
	switch normalized {
	case "day":
		since = time.Now().AddDate(0, 0, -1)
	case "week":
		since = time.Now().AddDate(0, 0, -7)
	case "year":
		since = time.Now().AddDate(-1, 0, 0)
	default:
		normalized = "month"
		since = time.Now().AddDate(0, -1, 0)
	}

	stats, err := s.repo.GetTransactionStats(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	stats.Period = normalized
	return stats, nil
}

// GetTransactionLogs returns the audit trail of one of the seller's transactions.
func (s *Service) GetTransactionLogs(ctx context.Context, reference string, userID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	tx, err := s.repo.FindTransactionByReferenceForOwner(ctx, reference, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.FindTransactionLogs(ctx, tx.ID)
}

func (s *Service) consumeInitiationBudget(ctx context.Context, payerPhone string) error {
	if s.limiter == nil || s.opts.InitiationRateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "payment_initiate", payerPhone, s.opts.InitiationRateLimit, s.opts.InitiationRateWindow)
	if err != nil {
		// The limiter is protection, not a dependency: Redis being down must
		// not block payments.
		log.Printf("level=warn component=payment_service msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		return nil
	}
	if count > s.opts.InitiationRateLimit {
		log.Printf("level=warn component=payment_service msg=\"initiation rate limited\" payer_phone=%s retry_after=%d", payerPhone, retryAfter)
		return ErrRateLimited
	}
	return nil
}

// appendLog writes one audit row; failures are logged, never propagated, so
// the ledger cannot break a payment.
func (s *Service) appendLog(ctx context.Context, transactionID uuid.UUID, event, message string, metadata map[string]interface{}) {
	var encoded []byte
	if metadata != nil {
		var err error
		encoded, err = json.Marshal(metadata)
		if err != nil {
			log.Printf("level=warn component=payment_service msg=\"log metadata marshal failed\" event=%s err=%v", event, err)
		}
	}
	entry := &domain.TransactionLogEntry{
		ID:            uuid.New(),
		TransactionID: transactionID,
		Event:         event,
		Message:       message,
		Metadata:      encoded,
	}
	if err := s.repo.AppendTransactionLog(ctx, entry); err != nil {
		log.Printf("level=warn component=payment_service msg=\"transaction log append failed\" event=%s err=%v", event, err)
	}
}

const referenceCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference generates a public payment reference like "PL-7K2M9QXA".
func NewReference() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back to
		// a UUID-derived suffix rather than panicking in a request path.
		return "PL-" + strings.ToUpper(uuid.NewString()[:8])
	}
	for i, b := range buf {
		buf[i] = referenceCharset[int(b)%len(referenceCharset)]
	}
	return "PL-" + string(buf)
}

// IdempotencyKey derives the deterministic key for an initiation request.
// Only semantic fields participate: two retries of the same logical request
// hash identically regardless of when they arrive.
func IdempotencyKey(pageID uuid.UUID, serviceID *uuid.UUID, payerPhone string, amount int64, clientToken string) string {
	service := "none"
	if serviceID != nil {
		service = serviceID.String()
	}
	data := fmt.Sprintf("%s|%s|%s|%d|%s", pageID, service, payerPhone, amount, clientToken)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// NormalizePhone strips whitespace and the leading plus sign and prefixes the
// 237 country code when absent.
func NormalizePhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, phone)
	cleaned = strings.TrimPrefix(cleaned, "+")
	if strings.HasPrefix(cleaned, "237") {
		return cleaned
	}
	return "237" + cleaned
}
