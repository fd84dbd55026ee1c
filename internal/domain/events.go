/**
 * @description
 * This file defines the internal event payloads the sync-service publishes to
 * RabbitMQ. Other parts of the dashboard backend (budget alerts, in-app
 * notifications) consume these instead of polling the ledger.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncCompletedEvent is published after every sync run, whether triggered by a
// webhook or by a manual refresh, with the run's aggregate summary.
type SyncCompletedEvent struct {
	WorkspaceID uuid.UUID   `json:"workspace_id"`
	Trigger     string      `json:"trigger"` // 'webhook' or 'manual'
	Summary     SyncSummary `json:"summary"`
	CompletedAt time.Time   `json:"completed_at"`
}

// InstitutionStatusEvent is published when a webhook or sync failure moves an
// institution to a new connection status.
type InstitutionStatusEvent struct {
	WorkspaceID   uuid.UUID `json:"workspace_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
	ItemID        string    `json:"item_id"`
	Status        string    `json:"status"`
	ErrorCode     *string   `json:"error_code,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
