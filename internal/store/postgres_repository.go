/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to transactions, transaction logs, webhook events, fee schedules, and
 * the read-side page/service views.
 *
 * Key features:
 * - Status transitions are single conditional UPDATE statements so concurrent
 *   writers (webhook handler, status poller) can never double-apply a terminal
 *   state.
 * - The idempotency key carries a unique constraint; violation surfaces as
 *   ErrDuplicateIdempotencyKey so the caller can re-read the winning row.
 * - Fee schedule upserts run inside a transaction with the prior version row
 *   locked, so version numbers are gapless per (provider, band).
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 * - internal/pricing: For the schedule-not-found sentinel the engine falls back on.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/pricing"
)

var (
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrPageNotFound            = errors.New("page not found")
	ErrServiceNotFound         = errors.New("service not found")
	ErrWebhookEventNotFound    = errors.New("webhook event not found")
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const transactionColumns = `
	id, reference, idempotency_key, page_id, service_id, gross_amount, net_amount,
	provider_fee, platform_fee, currency, payer_phone, payer_name, payer_email,
	provider, status, provider_reference, provider_response, failure_reason,
	fee_snapshot, sms_sent, created_at, updated_at, paid_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var snapshot []byte
	err := row.Scan(
		&tx.ID,
		&tx.Reference,
		&tx.IdempotencyKey,
		&tx.PageID,
		&tx.ServiceID,
		&tx.GrossAmount,
		&tx.NetAmount,
		&tx.ProviderFee,
		&tx.PlatformFee,
		&tx.Currency,
		&tx.PayerPhone,
		&tx.PayerName,
		&tx.PayerEmail,
		&tx.Provider,
		&tx.Status,
		&tx.ProviderReference,
		&tx.ProviderResponse,
		&tx.FailureReason,
		&snapshot,
		&tx.SMSSent,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	if len(snapshot) > 0 {
		var fs domain.FeeSnapshot
		if err := json.Unmarshal(snapshot, &fs); err != nil {
			return nil, fmt.Errorf("decode fee snapshot: %w", err)
		}
		tx.FeeSnapshot = &fs
	}
	return &tx, nil
}

// CreateTransaction inserts a new transaction record into the database.
// A unique-constraint hit on idempotency_key means a concurrent request with
// the same key won the insert race; the caller re-reads by key.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	var snapshot []byte
	if tx.FeeSnapshot != nil {
		var err error
		snapshot, err = json.Marshal(tx.FeeSnapshot)
		if err != nil {
			return fmt.Errorf("encode fee snapshot: %w", err)
		}
	}

	query := `
		INSERT INTO transactions (
			id,
			reference,
			idempotency_key,
			page_id,
			service_id,
			gross_amount,
			net_amount,
			provider_fee,
			platform_fee,
			currency,
			payer_phone,
			payer_name,
			payer_email,
			provider,
			status,
			fee_snapshot
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID,
		tx.Reference,
		tx.IdempotencyKey,
		tx.PageID,
		tx.ServiceID,
		tx.GrossAmount,
		tx.NetAmount,
		tx.ProviderFee,
		tx.PlatformFee,
		tx.Currency,
		tx.PayerPhone,
		tx.PayerName,
		tx.PayerEmail,
		tx.Provider,
		tx.Status,
		snapshot,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateIdempotencyKey
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, idempotencyKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE provider_reference = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, providerReference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// MarkTransactionProcessing moves a PENDING transaction to PROCESSING and
// records the provider handle. The WHERE clause makes the transition atomic.
func (r *PostgresRepository) MarkTransactionProcessing(ctx context.Context, transactionID uuid.UUID, providerReference *string, providerResponse *string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $2,
		    provider_reference = COALESCE($3, provider_reference),
		    provider_response = COALESCE($4, provider_response),
		    updated_at = NOW()
		WHERE id = $1 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query, transactionID, domain.StatusProcessing, providerReference, providerResponse, domain.StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTransactionSuccess moves a non-terminal transaction to SUCCESS. A false
// return with no error means the row was already terminal (a replayed webhook
// or a poll racing the webhook) and the transition must not re-run its side
// effects.
func (r *PostgresRepository) MarkTransactionSuccess(ctx context.Context, transactionID uuid.UUID, paidAt time.Time) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $2, paid_at = $3, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`
	tag, err := r.db.Exec(ctx, query, transactionID, domain.StatusSuccess, paidAt, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTransactionFailed moves a non-terminal transaction to FAILED.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`
	tag, err := r.db.Exec(ctx, query, transactionID, domain.StatusFailed, failureReason, domain.StatusPending, domain.StatusProcessing)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) MarkTransactionSMSSent(ctx context.Context, transactionID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE transactions SET sms_sent = true, updated_at = NOW() WHERE id = $1`, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// FindStuckProcessingTransactions returns PROCESSING transactions whose last
// update is older than the given age, oldest first, for the status poller.
func (r *PostgresRepository) FindStuckProcessingTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = $1 AND updated_at < NOW() - ($2 * INTERVAL '1 second')
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, domain.StatusProcessing, int64(olderThan.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

// FindTransactionsByOwner retrieves a seller's transactions through page
// ownership, newest first, with optional status filtering.
func (r *PostgresRepository) FindTransactionsByOwner(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT t.id, t.reference, t.idempotency_key, t.page_id, t.service_id, t.gross_amount, t.net_amount,
		       t.provider_fee, t.platform_fee, t.currency, t.payer_phone, t.payer_name, t.payer_email,
		       t.provider, t.status, t.provider_reference, t.provider_response, t.failure_reason,
		       t.fee_snapshot, t.sms_sent, t.created_at, t.updated_at, t.paid_at
		FROM transactions t
		JOIN pages p ON p.id = t.page_id
		WHERE p.user_id = $1
	`
	args := []interface{}{userID}
	argPos := 2

	if status := strings.TrimSpace(strings.ToUpper(opts.Status)); status != "" {
		query += fmt.Sprintf(" AND t.status = $%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY t.created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func (r *PostgresRepository) FindTransactionByReferenceForOwner(ctx context.Context, reference string, userID uuid.UUID) (*domain.Transaction, error) {
	query := `
		SELECT t.id, t.reference, t.idempotency_key, t.page_id, t.service_id, t.gross_amount, t.net_amount,
		       t.provider_fee, t.platform_fee, t.currency, t.payer_phone, t.payer_name, t.payer_email,
		       t.provider, t.status, t.provider_reference, t.provider_response, t.failure_reason,
		       t.fee_snapshot, t.sms_sent, t.created_at, t.updated_at, t.paid_at
		FROM transactions t
		JOIN pages p ON p.id = t.page_id
		WHERE t.reference = $1 AND p.user_id = $2
	`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, reference, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// GetTransactionStats aggregates a seller's transactions since the given time.
func (r *PostgresRepository) GetTransactionStats(ctx context.Context, userID uuid.UUID, since time.Time) (*domain.TransactionStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE t.status = $3),
			COUNT(*) FILTER (WHERE t.status IN ($4, $5)),
			COUNT(*) FILTER (WHERE t.status = $6),
			COALESCE(SUM(t.net_amount) FILTER (WHERE t.status = $3), 0)
		FROM transactions t
		JOIN pages p ON p.id = t.page_id
		WHERE p.user_id = $1 AND t.created_at >= $2
	`
	var stats domain.TransactionStats
	err := r.db.QueryRow(ctx, query, userID, since,
		domain.StatusSuccess, domain.StatusPending, domain.StatusProcessing, domain.StatusFailed,
	).Scan(&stats.SuccessCount, &stats.PendingCount, &stats.FailedCount, &stats.TotalRevenue)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// AppendTransactionLog inserts one ledger row. Log rows are never updated.
func (r *PostgresRepository) AppendTransactionLog(ctx context.Context, entry *domain.TransactionLogEntry) error {
	query := `
		INSERT INTO transaction_logs (id, transaction_id, event, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query, entry.ID, entry.TransactionID, entry.Event, entry.Message, entry.Metadata)
	return err
}

func (r *PostgresRepository) FindTransactionLogs(ctx context.Context, transactionID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	query := `
		SELECT id, transaction_id, event, message, metadata, created_at
		FROM transaction_logs
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TransactionLogEntry
	for rows.Next() {
		var entry domain.TransactionLogEntry
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.Event, &entry.Message, &entry.Metadata, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RecordWebhookEvent persists an inbound provider callback before any
// validation or business logic runs.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, provider, event_type, payload, signature, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.Provider, event.EventType, event.Payload, event.Signature, event.IsValid)
	return err
}

func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, isValid bool) error {
	query := `UPDATE webhook_events SET is_valid = $2, processed_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, eventID, isValid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookEventNotFound
	}
	return nil
}

// FindActiveFeeSchedule resolves the highest-version active schedule covering
// (provider, amount). Returns the pricing engine's not-found sentinel so the
// engine can fall back to its defaults.
func (r *PostgresRepository) FindActiveFeeSchedule(ctx context.Context, provider string, amount int64) (*domain.FeeSchedule, error) {
	query := `
		SELECT id, provider, min_amount, max_amount, fixed_fee, percentage_fee,
		       platform_fixed_fee, platform_percentage, version, is_active, label,
		       valid_from, valid_until
		FROM fee_schedules
		WHERE provider = $1
		  AND is_active = true
		  AND min_amount <= $2
		  AND max_amount >= $2
		  AND (valid_until IS NULL OR valid_until >= NOW())
		ORDER BY version DESC
		LIMIT 1
	`
	var schedule domain.FeeSchedule
	err := r.db.QueryRow(ctx, query, provider, amount).Scan(
		&schedule.ID,
		&schedule.Provider,
		&schedule.MinAmount,
		&schedule.MaxAmount,
		&schedule.FixedFee,
		&schedule.PercentageFee,
		&schedule.PlatformFixedFee,
		&schedule.PlatformPercentage,
		&schedule.Version,
		&schedule.IsActive,
		&schedule.Label,
		&schedule.ValidFrom,
		&schedule.ValidUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrFeeScheduleNotFound
		}
		return nil, err
	}
	return &schedule, nil
}

func (r *PostgresRepository) ListActiveFeeSchedules(ctx context.Context) ([]domain.FeeSchedule, error) {
	query := `
		SELECT id, provider, min_amount, max_amount, fixed_fee, percentage_fee,
		       platform_fixed_fee, platform_percentage, version, is_active, label,
		       valid_from, valid_until
		FROM fee_schedules
		WHERE is_active = true
		ORDER BY provider ASC, min_amount ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.FeeSchedule
	for rows.Next() {
		var schedule domain.FeeSchedule
		if err := rows.Scan(
			&schedule.ID,
			&schedule.Provider,
			&schedule.MinAmount,
			&schedule.MaxAmount,
			&schedule.FixedFee,
			&schedule.PercentageFee,
			&schedule.PlatformFixedFee,
			&schedule.PlatformPercentage,
			&schedule.Version,
			&schedule.IsActive,
			&schedule.Label,
			&schedule.ValidFrom,
			&schedule.ValidUntil,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// UpsertFeeSchedule installs the next version of a fee band for a provider.
// The prior version row is locked, deactivated and time-boxed inside the same
// database transaction so the history never shows two active versions.
func (r *PostgresRepository) UpsertFeeSchedule(ctx context.Context, upsert domain.FeeScheduleUpsert) (*domain.FeeSchedule, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var lastID *uuid.UUID
	var lastVersion int
	err = tx.QueryRow(ctx, `
		SELECT id, version
		FROM fee_schedules
		WHERE provider = $1 AND min_amount = $2 AND max_amount = $3
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE
	`, upsert.Provider, upsert.MinAmount, upsert.MaxAmount).Scan(&lastID, &lastVersion)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if lastID != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE fee_schedules
			SET is_active = false, valid_until = NOW()
			WHERE id = $1
		`, *lastID); err != nil {
			return nil, err
		}
	}

	newVersion := lastVersion + 1
	query := `
		INSERT INTO fee_schedules (
			id, provider, min_amount, max_amount, fixed_fee, percentage_fee,
			platform_fixed_fee, platform_percentage, version, is_active, label, valid_from
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, NOW())
		RETURNING id, provider, min_amount, max_amount, fixed_fee, percentage_fee,
		          platform_fixed_fee, platform_percentage, version, is_active, label,
		          valid_from, valid_until
	`
	var schedule domain.FeeSchedule
	err = tx.QueryRow(ctx, query,
		uuid.New(),
		upsert.Provider,
		upsert.MinAmount,
		upsert.MaxAmount,
		upsert.FixedFee,
		upsert.PercentageFee,
		upsert.PlatformFixedFee,
		upsert.PlatformPercentage,
		newVersion,
		upsert.Label,
	).Scan(
		&schedule.ID,
		&schedule.Provider,
		&schedule.MinAmount,
		&schedule.MaxAmount,
		&schedule.FixedFee,
		&schedule.PercentageFee,
		&schedule.PlatformFixedFee,
		&schedule.PlatformPercentage,
		&schedule.Version,
		&schedule.IsActive,
		&schedule.Label,
		&schedule.ValidFrom,
		&schedule.ValidUntil,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// FindPageByID retrieves a payment page by its ID.
func (r *PostgresRepository) FindPageByID(ctx context.Context, pageID uuid.UUID) (*domain.Page, error) {
	var page domain.Page
	query := `SELECT id, user_id, slug, title, status FROM pages WHERE id = $1`
	err := r.db.QueryRow(ctx, query, pageID).Scan(&page.ID, &page.UserID, &page.Slug, &page.Title, &page.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// FindServiceByID retrieves a sellable service by its ID.
func (r *PostgresRepository) FindServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error) {
	var svc domain.Service
	query := `SELECT id, page_id, name, net_price, is_active FROM services WHERE id = $1`
	err := r.db.QueryRow(ctx, query, serviceID).Scan(&svc.ID, &svc.PageID, &svc.Name, &svc.NetPrice, &svc.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &svc, nil
}

// FindActiveServicesByIDs retrieves the active subset of the given services.
func (r *PostgresRepository) FindActiveServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Service, error) {
	query := `SELECT id, page_id, name, net_price, is_active FROM services WHERE id = ANY($1) AND is_active = true`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []domain.Service
	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.PageID, &svc.Name, &svc.NetPrice, &svc.IsActive); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}
