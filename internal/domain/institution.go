/**
 * @description
 * This file defines the domain models for linked bank institutions and the
 * real-world accounts beneath them. An Institution is one aggregator item
 * (a bank connection) owned by a workspace; a BankAccount is one account under
 * that connection.
 *
 * @notes
 * - Balances are stored as `int64` values in the smallest currency unit
 *   (cents), which avoids floating-point inaccuracies with financial data.
 *   Balance fields are pointers because the aggregator may omit either one,
 *   and an absent balance must persist as NULL, never as zero.
 * - Institution status transitions are driven by webhook events and sync
 *   failures; the encrypted access token only changes through a re-link.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Institution connection statuses.
const (
	InstitutionStatusActive            = "active"
	InstitutionStatusError             = "error"
	InstitutionStatusPendingExpiration = "pending_expiration"
	InstitutionStatusDisconnected      = "disconnected"
)

// Institution represents one external bank connection owned by a workspace.
// This struct maps directly to the `institutions` table in the database.
type Institution struct {
	ID                   uuid.UUID  `json:"id"`
	WorkspaceID          uuid.UUID  `json:"workspace_id"`
	ItemID               string     `json:"item_id"` // aggregator's item identifier
	Name                 string     `json:"name"`
	EncryptedAccessToken string     `json:"-"`
	Status               string     `json:"status"`
	ErrorCode            *string    `json:"error_code,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`
	LastSyncedAt         *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// BankAccount represents one real-world account under an Institution.
// InstitutionID must never be the zero UUID: accounts are created only at link
// time, together with their institution, and a missing back-reference signals
// a partial-creation bug upstream.
type BankAccount struct {
	ID                    uuid.UUID  `json:"id"`
	InstitutionID         uuid.UUID  `json:"institution_id"`
	ProviderAccountID     string     `json:"provider_account_id"`
	Name                  string     `json:"name"`
	Mask                  *string    `json:"mask,omitempty"`
	Type                  string     `json:"type"`
	Subtype               *string    `json:"subtype,omitempty"`
	CurrentBalanceCents   *int64     `json:"current_balance_cents,omitempty"`
	AvailableBalanceCents *int64     `json:"available_balance_cents,omitempty"`
	CurrencyCode          string     `json:"currency_code"`
	IsActive              bool       `json:"is_active"`
	LastSyncedAt          *time.Time `json:"last_synced_at,omitempty"`
}

// BalanceUpdate carries a fresh balance snapshot for one provider account.
// Nil balances pass through to the database as NULL.
type BalanceUpdate struct {
	ProviderAccountID     string
	CurrentBalanceCents   *int64
	AvailableBalanceCents *int64
}
