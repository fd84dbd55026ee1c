/**
 * @description
 * This file defines the Go structs that model incoming webhook payloads from
 * the banking-data aggregator. These structures are essential for safely
 * unmarshaling the JSON received at the webhook endpoint and processing it in
 * a type-safe manner.
 *
 * @notes
 * - The aggregator identifies events by a (webhook_type, webhook_code) pair
 *   and the item id of the affected bank connection. Optional fields carry
 *   per-code extras such as removed transaction ids or an error payload.
 * - Delivery is at-least-once: the aggregator redelivers on non-2xx responses,
 *   so every handler downstream of this model must be idempotent.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook types sent by the aggregator.
const (
	WebhookTypeTransactions = "TRANSACTIONS"
	WebhookTypeItem         = "ITEM"
)

// Webhook codes under the TRANSACTIONS type.
const (
	WebhookCodeSyncUpdatesAvailable = "SYNC_UPDATES_AVAILABLE"
	WebhookCodeInitialUpdate        = "INITIAL_UPDATE"
	WebhookCodeHistoricalUpdate     = "HISTORICAL_UPDATE"
	WebhookCodeDefaultUpdate        = "DEFAULT_UPDATE"
	WebhookCodeTransactionsRemoved  = "TRANSACTIONS_REMOVED"
)

// Webhook codes under the ITEM type.
const (
	WebhookCodeItemError          = "ERROR"
	WebhookCodePendingExpiration  = "PENDING_EXPIRATION"
	WebhookCodePermissionRevoked  = "USER_PERMISSION_REVOKED"
	WebhookCodeWebhookUpdateAcked = "WEBHOOK_UPDATE_ACKNOWLEDGED"
)

// AggregatorWebhookEvent represents the top-level structure of a webhook
// payload from the aggregator.
type AggregatorWebhookEvent struct {
	WebhookType         string              `json:"webhook_type"`
	WebhookCode         string              `json:"webhook_code"`
	ItemID              string              `json:"item_id"`
	AccountIDs          []string            `json:"account_ids,omitempty"`
	NewTransactions     int                 `json:"new_transactions,omitempty"`
	RemovedTransactions []string            `json:"removed_transactions,omitempty"`
	Error               *AggregatorItemError `json:"error,omitempty"`
	Environment         string              `json:"environment,omitempty"`
}

// AggregatorItemError is the structured error payload attached to ITEM/ERROR
// webhooks. It is recorded on the institution untouched.
type AggregatorItemError struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message,omitempty"`
}

// WebhookEvent is the immutable audit record persisted for every inbound
// webhook payload. Rows are insert-only and never mutated.
type WebhookEvent struct {
	ID          uuid.UUID `json:"id"`
	WebhookType string    `json:"webhook_type"`
	WebhookCode string    `json:"webhook_code"`
	ItemID      string    `json:"item_id"`
	Payload     []byte    `json:"payload"`
	ReceivedAt  time.Time `json:"received_at"`
}
