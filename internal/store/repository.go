/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payment-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	FindTransactionByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Transaction, error)
	FindTransactionByProviderReference(ctx context.Context, providerReference string) (*domain.Transaction, error)

	// Conditional status transitions. Each returns true when exactly one row
	// changed state; false means the transaction was not in the expected
	// source status (already transitioned by a concurrent writer).
	MarkTransactionProcessing(ctx context.Context, transactionID uuid.UUID, providerReference *string, providerResponse *string) (bool, error)
	MarkTransactionSuccess(ctx context.Context, transactionID uuid.UUID, paidAt time.Time) (bool, error)
	MarkTransactionFailed(ctx context.Context, transactionID uuid.UUID, failureReason string) (bool, error)
	MarkTransactionSMSSent(ctx context.Context, transactionID uuid.UUID) error

	// Poller support: PROCESSING transactions whose last update is older than
	// the given age.
	FindStuckProcessingTransactions(ctx context.Context, olderThan time.Duration, limit int) ([]domain.Transaction, error)

	// Seller-facing history, scoped to the owning user through the page.
	FindTransactionsByOwner(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	FindTransactionByReferenceForOwner(ctx context.Context, reference string, userID uuid.UUID) (*domain.Transaction, error)
	GetTransactionStats(ctx context.Context, userID uuid.UUID, since time.Time) (*domain.TransactionStats, error)

	// Transaction log methods (append-only)
	AppendTransactionLog(ctx context.Context, entry *domain.TransactionLogEntry) error
	FindTransactionLogs(ctx context.Context, transactionID uuid.UUID) ([]domain.TransactionLogEntry, error)

	// Webhook event methods
	RecordWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, isValid bool) error

	// Fee schedule methods
	FindActiveFeeSchedule(ctx context.Context, provider string, amount int64) (*domain.FeeSchedule, error)
	ListActiveFeeSchedules(ctx context.Context) ([]domain.FeeSchedule, error)
	UpsertFeeSchedule(ctx context.Context, upsert domain.FeeScheduleUpsert) (*domain.FeeSchedule, error)

	// Page and service read-side methods
	FindPageByID(ctx context.Context, pageID uuid.UUID) (*domain.Page, error)
	FindServiceByID(ctx context.Context, serviceID uuid.UUID) (*domain.Service, error)
	FindActiveServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Service, error)
}
