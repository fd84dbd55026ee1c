/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the sync-service. By defining an
 * interface, we decouple the reconciliation and orchestration logic from the
 * specific database implementation (e.g., PostgreSQL), making the code more
 * modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/centavo/sync-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Institution methods
	FindInstitutionsByWorkspaceID(ctx context.Context, workspaceID uuid.UUID) ([]domain.Institution, error)
	FindInstitutionByItemID(ctx context.Context, itemID string) (*domain.Institution, error)
	UpdateInstitutionStatus(ctx context.Context, institutionID uuid.UUID, status string, errorCode, errorMessage *string) error
	UpdateInstitutionSyncedAt(ctx context.Context, institutionID uuid.UUID, syncedAt time.Time) error

	// Bank account methods. Accounts are created exclusively by the link flow;
	// sync only reads them and refreshes balances.
	FindAccountsByInstitutionID(ctx context.Context, institutionID uuid.UUID) ([]domain.BankAccount, error)
	UpdateAccountBalance(ctx context.Context, institutionID uuid.UUID, update domain.BalanceUpdate) (bool, error)

	// Ledger methods. UpsertTransaction is one atomic statement keyed on the
	// (workspace_id, provider_transaction_id) uniqueness constraint and
	// reports whether the row was newly inserted.
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) (isNew bool, err error)
	DeleteTransactionByProviderID(ctx context.Context, workspaceID uuid.UUID, providerTransactionID string) (int64, error)

	// Webhook audit log (insert-only)
	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
}
