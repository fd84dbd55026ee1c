/**
 * @description
 * This file defines the core ledger models for the sync-service. A Transaction
 * is one reconciled financial movement observed through the aggregator; it is
 * the central record the dashboard reads for budgets and balances.
 *
 * @notes
 * - Amounts are stored as `int64` cents and are always non-negative. The sign
 *   of the money movement is carried exclusively by Direction; the aggregator's
 *   signed float amounts are normalized exactly once at ingestion.
 * - A row is uniquely identified by (workspace_id, provider_transaction_id).
 *   The content hash is a secondary change-detection key derived from the
 *   provider id, workspace, and transaction date.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction of a money movement. The aggregator reports positive amounts for
// money leaving the account, so positive maps to outflow.
const (
	DirectionInflow  = "inflow"
	DirectionOutflow = "outflow"
)

// Transaction statuses as reported by the aggregator.
const (
	TransactionStatusPending = "pending"
	TransactionStatusPosted  = "posted"
)

// Transaction represents a single ledger row.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID                    uuid.UUID  `json:"id"`
	WorkspaceID           uuid.UUID  `json:"workspace_id"`
	BankAccountID         uuid.UUID  `json:"bank_account_id"`
	ProviderTransactionID string     `json:"provider_transaction_id"`
	ContentHash           string     `json:"content_hash"`
	AmountCents           int64      `json:"amount_cents"` // always >= 0
	Direction             string     `json:"direction"`    // 'inflow' or 'outflow'
	CurrencyCode          string     `json:"currency_code"`
	Description           string     `json:"description"`
	TransactionDate       time.Time  `json:"transaction_date"`
	AuthorizedDate        *time.Time `json:"authorized_date,omitempty"`
	Status                string     `json:"status"` // 'pending' or 'posted'
	MerchantName          *string    `json:"merchant_name,omitempty"`
	Category              *string    `json:"category,omitempty"`
	Subcategory           *string    `json:"subcategory,omitempty"`
	LocationCity          *string    `json:"location_city,omitempty"`
	LocationRegion        *string    `json:"location_region,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ContentHash derives the secondary dedup/change-detection key for a ledger
// row from its provider transaction id, owning workspace, and transaction date.
func ContentHash(providerTransactionID string, workspaceID uuid.UUID, transactionDate time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", providerTransactionID, workspaceID, transactionDate.Format("2006-01-02"))))
	return hex.EncodeToString(sum[:])
}

// SyncSummary aggregates the outcome of one sync invocation. It is returned to
// the caller and never persisted beyond each institution's last-sync watermark.
type SyncSummary struct {
	WorkspaceID           uuid.UUID `json:"workspace_id"`
	InstitutionsProcessed int       `json:"institutions_processed"`
	NewTransactions       int       `json:"new_transactions"`
	UpdatedTransactions   int       `json:"updated_transactions"`
	SkippedTransactions   int       `json:"skipped_transactions"`
	AccountsUpdated       int       `json:"accounts_updated"`
	Errors                int       `json:"errors"`
	StartDate             string    `json:"start_date"`
	EndDate               string    `json:"end_date"`
}
