/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed by the sync pipeline: institution
 * lookups and status transitions, balance refreshes, the atomic ledger upsert,
 * idempotent removals, and the webhook audit log.
 *
 * @notes
 * - Concurrent syncs for the same workspace are made safe by the UNIQUE
 *   (workspace_id, provider_transaction_id) constraint on `transactions`, not
 *   by read-then-write logic. The upsert is a single INSERT ... ON CONFLICT
 *   statement; `xmax = 0` in the RETURNING clause distinguishes a fresh
 *   insert from a conflict-update.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/centavo/sync-service/internal/domain"
)

var (
	ErrInstitutionNotFound = errors.New("institution not found")
	ErrAccountNotFound     = errors.New("bank account not found")
)

// UniqueViolationCode is the Postgres error code for unique constraint
// violations, used to classify per-transaction upsert failures unrelated to
// the dedup key.
const UniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-violation error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode
}

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindInstitutionsByWorkspaceID returns every institution linked to a
// workspace, oldest link first so sync order is stable across runs.
func (r *PostgresRepository) FindInstitutionsByWorkspaceID(ctx context.Context, workspaceID uuid.UUID) ([]domain.Institution, error) {
	query := `
		SELECT id, workspace_id, item_id, name, encrypted_access_token, status,
		       error_code, error_message, last_synced_at, created_at, updated_at
		FROM institutions
		WHERE workspace_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var institutions []domain.Institution
	for rows.Next() {
		var inst domain.Institution
		if err := rows.Scan(
			&inst.ID, &inst.WorkspaceID, &inst.ItemID, &inst.Name,
			&inst.EncryptedAccessToken, &inst.Status,
			&inst.ErrorCode, &inst.ErrorMessage, &inst.LastSyncedAt,
			&inst.CreatedAt, &inst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		institutions = append(institutions, inst)
	}
	return institutions, rows.Err()
}

// FindInstitutionByItemID resolves an institution from the aggregator's item
// id, as carried on webhook payloads.
func (r *PostgresRepository) FindInstitutionByItemID(ctx context.Context, itemID string) (*domain.Institution, error) {
	var inst domain.Institution
	query := `
		SELECT id, workspace_id, item_id, name, encrypted_access_token, status,
		       error_code, error_message, last_synced_at, created_at, updated_at
		FROM institutions
		WHERE item_id = $1
	`
	err := r.db.QueryRow(ctx, query, itemID).Scan(
		&inst.ID, &inst.WorkspaceID, &inst.ItemID, &inst.Name,
		&inst.EncryptedAccessToken, &inst.Status,
		&inst.ErrorCode, &inst.ErrorMessage, &inst.LastSyncedAt,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInstitutionNotFound
		}
		return nil, err
	}
	return &inst, nil
}

// UpdateInstitutionStatus records a connection status transition together with
// the upstream error payload, if any.
func (r *PostgresRepository) UpdateInstitutionStatus(ctx context.Context, institutionID uuid.UUID, status string, errorCode, errorMessage *string) error {
	query := `
		UPDATE institutions
		SET status = $2, error_code = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, institutionID, status, errorCode, errorMessage)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInstitutionNotFound
	}
	return nil
}

// UpdateInstitutionSyncedAt bumps the sync watermark after a successful
// per-institution run.
func (r *PostgresRepository) UpdateInstitutionSyncedAt(ctx context.Context, institutionID uuid.UUID, syncedAt time.Time) error {
	query := `UPDATE institutions SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, institutionID, syncedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInstitutionNotFound
	}
	return nil
}

// FindAccountsByInstitutionID returns the active accounts under an
// institution, used to map provider account ids onto ledger account ids.
func (r *PostgresRepository) FindAccountsByInstitutionID(ctx context.Context, institutionID uuid.UUID) ([]domain.BankAccount, error) {
	query := `
		SELECT id, institution_id, provider_account_id, name, mask, type, subtype,
		       current_balance_cents, available_balance_cents, currency_code,
		       is_active, last_synced_at
		FROM bank_accounts
		WHERE institution_id = $1 AND is_active = TRUE
	`
	rows, err := r.db.Query(ctx, query, institutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var acct domain.BankAccount
		if err := rows.Scan(
			&acct.ID, &acct.InstitutionID, &acct.ProviderAccountID, &acct.Name,
			&acct.Mask, &acct.Type, &acct.Subtype,
			&acct.CurrentBalanceCents, &acct.AvailableBalanceCents,
			&acct.CurrencyCode, &acct.IsActive, &acct.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// UpdateAccountBalance refreshes a provider account's balance snapshot and
// bumps its last-synced timestamp. Update-only: accounts are created at link
// time, never during sync. Returns false when no matching account exists.
func (r *PostgresRepository) UpdateAccountBalance(ctx context.Context, institutionID uuid.UUID, update domain.BalanceUpdate) (bool, error) {
	query := `
		UPDATE bank_accounts
		SET current_balance_cents = $3, available_balance_cents = $4, last_synced_at = NOW()
		WHERE institution_id = $1 AND provider_account_id = $2
	`
	result, err := r.db.Exec(ctx, query, institutionID, update.ProviderAccountID,
		update.CurrentBalanceCents, update.AvailableBalanceCents)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// UpsertTransaction applies one ledger mutation atomically. New rows insert
// all fields; conflicting rows update the mutable ones (amount, status, dates,
// enrichment), since a posted amount can differ from its pending observation.
// Enrichment fields only ever fill in, never blank out. The uniqueness
// constraint, not application logic, guarantees at most one row per
// (workspace_id, provider_transaction_id) under concurrent syncs.
func (r *PostgresRepository) UpsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	query := `
		INSERT INTO transactions (
			id, workspace_id, bank_account_id, provider_transaction_id, content_hash,
			amount_cents, direction, currency_code, description,
			transaction_date, authorized_date, status,
			merchant_name, category, subcategory, location_city, location_region,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW()
		)
		ON CONFLICT (workspace_id, provider_transaction_id) DO UPDATE SET
			content_hash    = EXCLUDED.content_hash,
			amount_cents    = EXCLUDED.amount_cents,
			direction       = EXCLUDED.direction,
			description     = EXCLUDED.description,
			transaction_date = EXCLUDED.transaction_date,
			authorized_date = EXCLUDED.authorized_date,
			status          = EXCLUDED.status,
			merchant_name   = COALESCE(EXCLUDED.merchant_name, transactions.merchant_name),
			category        = COALESCE(EXCLUDED.category, transactions.category),
			subcategory     = COALESCE(EXCLUDED.subcategory, transactions.subcategory),
			location_city   = COALESCE(EXCLUDED.location_city, transactions.location_city),
			location_region = COALESCE(EXCLUDED.location_region, transactions.location_region),
			updated_at      = NOW()
		RETURNING id, (xmax = 0) AS is_new
	`
	var isNew bool
	err := r.db.QueryRow(ctx, query,
		tx.ID, tx.WorkspaceID, tx.BankAccountID, tx.ProviderTransactionID, tx.ContentHash,
		tx.AmountCents, tx.Direction, tx.CurrencyCode, tx.Description,
		tx.TransactionDate, tx.AuthorizedDate, tx.Status,
		tx.MerchantName, tx.Category, tx.Subcategory, tx.LocationCity, tx.LocationRegion,
	).Scan(&tx.ID, &isNew)
	if err != nil {
		return false, err
	}
	return isNew, nil
}

// DeleteTransactionByProviderID removes a ledger row in response to a
// "transaction removed" event. Deleting a row that does not exist is not an
// error; the aggregator redelivers removal webhooks.
func (r *PostgresRepository) DeleteTransactionByProviderID(ctx context.Context, workspaceID uuid.UUID, providerTransactionID string) (int64, error) {
	query := `DELETE FROM transactions WHERE workspace_id = $1 AND provider_transaction_id = $2`
	result, err := r.db.Exec(ctx, query, workspaceID, providerTransactionID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// InsertWebhookEvent appends one raw webhook payload to the immutable audit
// log.
func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	query := `
		INSERT INTO webhook_events (id, webhook_type, webhook_code, item_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err := r.db.Exec(ctx, query, event.ID, event.WebhookType, event.WebhookCode, event.ItemID, event.Payload)
	return err
}
