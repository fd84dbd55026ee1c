/**
 * @description
 * This file contains the webhook processor: the state machine that routes
 * inbound aggregator webhook events, keyed by (webhook_type, webhook_code),
 * to sync runs, targeted ledger mutations, or institution status transitions.
 *
 * Key features:
 * - Every payload is appended to the immutable webhook audit log before
 *   routing, including unknown and unresolvable events.
 * - Unknown (type, code) pairs are audited and ignored; the HTTP layer must
 *   answer 2xx for them, since the aggregator retries non-2xx responses and
 *   retrying an event we will never handle is pure noise.
 * - Delivery is at-least-once, so every route is idempotent by construction:
 *   sync runs upsert, removals tolerate missing rows, status transitions are
 *   absorbing.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - internal/domain, internal/store, pkg/rabbitmq.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/centavo/sync-service/internal/domain"
	"github.com/centavo/sync-service/internal/store"
)

// Webhook processing outcomes reported back to the HTTP layer. All of them
// answer 2xx; the distinction is for logging and the response message.
const (
	WebhookOutcomeSynced      = "synced"
	WebhookOutcomeRemoved     = "transactions_removed"
	WebhookOutcomeStatusSet   = "institution_status_updated"
	WebhookOutcomeAcknowledge = "acknowledged"
	WebhookOutcomeIgnored     = "ignored"
	WebhookOutcomeDropped     = "dropped"
)

// WebhookResult describes what processing an event did.
type WebhookResult struct {
	Outcome string              `json:"outcome"`
	Summary *domain.SyncSummary `json:"summary,omitempty"`
	Removed int64               `json:"removed,omitempty"`
}

// ProcessWebhook audits and routes one inbound aggregator event. The raw body
// is persisted verbatim for traceability. A non-nil error means a genuine
// internal processing failure; classification misses (unknown codes,
// unresolvable item ids) are successful no-ops.
func (s *Service) ProcessWebhook(ctx context.Context, raw []byte, event domain.AggregatorWebhookEvent) (*WebhookResult, error) {
	audit := &domain.WebhookEvent{
		WebhookType: event.WebhookType,
		WebhookCode: event.WebhookCode,
		ItemID:      event.ItemID,
		Payload:     raw,
	}
	if err := s.repo.InsertWebhookEvent(ctx, audit); err != nil {
		// Audit is traceability, not a gate; losing one audit row is better
		// than bouncing the webhook into the aggregator's retry loop.
		log.Printf("level=error component=webhook msg=\"audit insert failed\" webhook_type=%s webhook_code=%s err=%v", event.WebhookType, event.WebhookCode, err)
	}

	institution, err := s.repo.FindInstitutionByItemID(ctx, event.ItemID)
	if err != nil {
		if errors.Is(err, store.ErrInstitutionNotFound) {
			log.Printf("level=warn component=webhook msg=\"item resolves to no institution; dropping\" item_id=%s webhook_code=%s", event.ItemID, event.WebhookCode)
			return &WebhookResult{Outcome: WebhookOutcomeDropped}, nil
		}
		return nil, fmt.Errorf("institution lookup failed: %w", err)
	}

	switch event.WebhookType {
	case domain.WebhookTypeTransactions:
		return s.processTransactionsWebhook(ctx, institution, event)
	case domain.WebhookTypeItem:
		return s.processItemWebhook(ctx, institution, event)
	}

	log.Printf("level=info component=webhook msg=\"unrecognized webhook type; audited and ignored\" webhook_type=%s webhook_code=%s item_id=%s", event.WebhookType, event.WebhookCode, event.ItemID)
	return &WebhookResult{Outcome: WebhookOutcomeIgnored}, nil
}

func (s *Service) processTransactionsWebhook(ctx context.Context, inst *domain.Institution, event domain.AggregatorWebhookEvent) (*WebhookResult, error) {
	switch event.WebhookCode {
	case domain.WebhookCodeSyncUpdatesAvailable,
		domain.WebhookCodeInitialUpdate,
		domain.WebhookCodeHistoricalUpdate,
		domain.WebhookCodeDefaultUpdate:
		summary, err := s.SyncWorkspace(ctx, inst.WorkspaceID, "", "", TriggerWebhook)
		if err != nil {
			return nil, fmt.Errorf("webhook-triggered sync failed: %w", err)
		}
		return &WebhookResult{Outcome: WebhookOutcomeSynced, Summary: summary}, nil

	case domain.WebhookCodeTransactionsRemoved:
		removed, errs := s.reconciler.RemoveTransactions(ctx, inst.WorkspaceID, event.RemovedTransactions)
		if errs > 0 {
			return nil, fmt.Errorf("removal processed with %d failures", errs)
		}
		log.Printf("level=info component=webhook msg=\"removed transactions\" workspace_id=%s requested=%d removed=%d",
			inst.WorkspaceID, len(event.RemovedTransactions), removed)
		return &WebhookResult{Outcome: WebhookOutcomeRemoved, Removed: removed}, nil
	}

	log.Printf("level=info component=webhook msg=\"unrecognized transactions code; audited and ignored\" webhook_code=%s item_id=%s", event.WebhookCode, event.ItemID)
	return &WebhookResult{Outcome: WebhookOutcomeIgnored}, nil
}

func (s *Service) processItemWebhook(ctx context.Context, inst *domain.Institution, event domain.AggregatorWebhookEvent) (*WebhookResult, error) {
	switch event.WebhookCode {
	case domain.WebhookCodeItemError:
		return s.transitionInstitution(ctx, inst, domain.InstitutionStatusError, event.Error)
	case domain.WebhookCodePendingExpiration:
		return s.transitionInstitution(ctx, inst, domain.InstitutionStatusPendingExpiration, nil)
	case domain.WebhookCodePermissionRevoked:
		return s.transitionInstitution(ctx, inst, domain.InstitutionStatusDisconnected, nil)
	case domain.WebhookCodeWebhookUpdateAcked:
		return &WebhookResult{Outcome: WebhookOutcomeAcknowledge}, nil
	}

	log.Printf("level=info component=webhook msg=\"unrecognized item code; audited and ignored\" webhook_code=%s item_id=%s", event.WebhookCode, event.ItemID)
	return &WebhookResult{Outcome: WebhookOutcomeIgnored}, nil
}

// transitionInstitution applies a webhook-driven connection status change and
// publishes the transition. Re-applying the same status is harmless.
func (s *Service) transitionInstitution(ctx context.Context, inst *domain.Institution, status string, itemErr *domain.AggregatorItemError) (*WebhookResult, error) {
	var errCode, errMessage *string
	if itemErr != nil {
		errCode = &itemErr.ErrorCode
		errMessage = &itemErr.ErrorMessage
	}

	if err := s.repo.UpdateInstitutionStatus(ctx, inst.ID, status, errCode, errMessage); err != nil {
		return nil, fmt.Errorf("institution status update failed: %w", err)
	}
	log.Printf("level=info component=webhook msg=\"institution status updated\" institution_id=%s item_id=%s status=%s", inst.ID, inst.ItemID, status)

	if s.producer != nil {
		event := domain.InstitutionStatusEvent{
			WorkspaceID:   inst.WorkspaceID,
			InstitutionID: inst.ID,
			ItemID:        inst.ItemID,
			Status:        status,
			ErrorCode:     errCode,
			ErrorMessage:  errMessage,
			OccurredAt:    time.Now().UTC(),
		}
		if err := s.producer.PublishInstitutionStatus(ctx, event); err != nil {
			log.Printf("level=warn component=webhook msg=\"institution status event publish failed\" institution_id=%s err=%v", inst.ID, err)
		}
	}

	return &WebhookResult{Outcome: WebhookOutcomeStatusSet}, nil
}
