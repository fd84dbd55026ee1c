/**
 * @description
 * This file contains the sync orchestrator: the core application service that
 * drives transaction ingestion for a workspace. For each linked institution it
 * decrypts the access credential, best-effort triggers an upstream refresh,
 * fetches transactions and balances for the date window, maps provider account
 * ids onto internal accounts, reconciles every transaction, and advances the
 * institution's sync watermark.
 *
 * Key features:
 * - Partial-failure isolation: a failing institution increments the error
 *   count and the loop continues. One bad token never aborts the run.
 * - Institutions are processed sequentially to bound aggregator rate usage
 *   and keep partial-failure accounting simple.
 * - Correctness under overlapping runs rests on the ledger's uniqueness
 *   constraint, not on any locking here.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For workspace/institution IDs.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/plaidclient, pkg/rabbitmq, pkg/tokenvault: External collaborators.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/centavo/sync-service/internal/domain"
	"github.com/centavo/sync-service/internal/store"
	"github.com/centavo/sync-service/pkg/plaidclient"
	"github.com/centavo/sync-service/pkg/rabbitmq"
)

const (
	// DefaultLookbackDays is the sync window when the caller gives no explicit
	// start date.
	DefaultLookbackDays = 90

	// transactionsPageSize is the page size used when walking the aggregator's
	// transactions endpoint.
	transactionsPageSize = 500

	dateLayout = "2006-01-02"
)

// Sync trigger labels carried on published events.
const (
	TriggerManual  = "manual"
	TriggerWebhook = "webhook"
)

// AggregatorClient is the subset of the Plaid client the orchestrator needs.
// Declared here so tests can substitute a stub.
type AggregatorClient interface {
	RefreshTransactions(ctx context.Context, accessToken string) (*plaidclient.RefreshResponse, error)
	GetTransactions(ctx context.Context, accessToken, startDate, endDate string, count, offset int) (*plaidclient.TransactionsResponse, error)
	GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsResponse, error)
}

// TokenDecryptor recovers plaintext access tokens from stored blobs.
type TokenDecryptor interface {
	Decrypt(blob string) (string, error)
}

// Service orchestrates sync runs and webhook-driven mutations.
type Service struct {
	repo        store.Repository
	aggregator  AggregatorClient
	vault       TokenDecryptor
	producer    rabbitmq.Publisher
	reconciler  *Reconciler
	refreshWait time.Duration
}

// NewService creates a new sync orchestrator. refreshWait is the bounded fixed
// delay between the best-effort refresh trigger and the transactions fetch.
func NewService(repo store.Repository, aggregator AggregatorClient, vault TokenDecryptor, producer rabbitmq.Publisher, refreshWait time.Duration) *Service {
	return &Service{
		repo:        repo,
		aggregator:  aggregator,
		vault:       vault,
		producer:    producer,
		reconciler:  NewReconciler(repo),
		refreshWait: refreshWait,
	}
}

// ResolveDateWindow applies the default window to missing bounds: the last
// DefaultLookbackDays days through tomorrow, the extra day tolerating timezone
// skew at the boundary. Explicit bounds pass through after validation.
func ResolveDateWindow(startDate, endDate string, now time.Time) (string, string, error) {
	if startDate == "" {
		startDate = now.AddDate(0, 0, -DefaultLookbackDays).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, startDate); err != nil {
		return "", "", fmt.Errorf("invalid start_date %q: %w", startDate, err)
	}
	if endDate == "" {
		endDate = now.AddDate(0, 0, 1).Format(dateLayout)
	} else if _, err := time.Parse(dateLayout, endDate); err != nil {
		return "", "", fmt.Errorf("invalid end_date %q: %w", endDate, err)
	}
	return startDate, endDate, nil
}

// SyncWorkspace runs one full sync over every institution linked to the
// workspace and returns the aggregate summary. Individual institution
// failures are absorbed into the error count; the returned error is reserved
// for setup failures before any institution work started.
func (s *Service) SyncWorkspace(ctx context.Context, workspaceID uuid.UUID, startDate, endDate, trigger string) (*domain.SyncSummary, error) {
	start, end, err := ResolveDateWindow(startDate, endDate, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	summary := &domain.SyncSummary{
		WorkspaceID: workspaceID,
		StartDate:   start,
		EndDate:     end,
	}

	institutions, err := s.repo.FindInstitutionsByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list institutions: %w", err)
	}

	log.Printf("level=info component=sync msg=\"sync run started\" workspace_id=%s institutions=%d window=%s..%s trigger=%s",
		workspaceID, len(institutions), start, end, trigger)

	for i := range institutions {
		inst := &institutions[i]
		if inst.Status == domain.InstitutionStatusDisconnected {
			log.Printf("level=info component=sync msg=\"skipping disconnected institution\" institution_id=%s", inst.ID)
			continue
		}
		s.syncInstitution(ctx, inst, start, end, summary)
		summary.InstitutionsProcessed++
	}

	log.Printf("level=info component=sync msg=\"sync run finished\" workspace_id=%s processed=%d new=%d updated=%d skipped=%d accounts=%d errors=%d",
		workspaceID, summary.InstitutionsProcessed, summary.NewTransactions, summary.UpdatedTransactions,
		summary.SkippedTransactions, summary.AccountsUpdated, summary.Errors)

	if s.producer != nil {
		event := domain.SyncCompletedEvent{
			WorkspaceID: workspaceID,
			Trigger:     trigger,
			Summary:     *summary,
			CompletedAt: time.Now().UTC(),
		}
		if err := s.producer.PublishSyncCompleted(ctx, event); err != nil {
			log.Printf("level=warn component=sync msg=\"sync completed event publish failed\" workspace_id=%s err=%v", workspaceID, err)
		}
	}

	return summary, nil
}

// syncInstitution runs the per-institution pipeline. Every failure path logs
// with institution context, bumps the summary error count, and returns so the
// caller continues with the next institution.
func (s *Service) syncInstitution(ctx context.Context, inst *domain.Institution, startDate, endDate string, summary *domain.SyncSummary) {
	token, err := s.vault.Decrypt(inst.EncryptedAccessToken)
	if err != nil {
		// The vault hands back its best-effort result (possibly the raw
		// blob); proceed and let the aggregator reject it with a clear error.
		log.Printf("level=warn component=sync msg=\"token decryption degraded\" institution_id=%s err=%v", inst.ID, err)
	}

	// Best-effort upstream refresh. Errors here never fail the sync.
	if _, err := s.aggregator.RefreshTransactions(ctx, token); err != nil {
		log.Printf("level=info component=sync msg=\"refresh trigger unavailable; fetching directly\" institution_id=%s err=%v", inst.ID, err)
	} else if s.refreshWait > 0 {
		select {
		case <-time.After(s.refreshWait):
		case <-ctx.Done():
			log.Printf("level=warn component=sync msg=\"context cancelled during refresh wait\" institution_id=%s", inst.ID)
			summary.Errors++
			return
		}
	}

	transactions, err := s.fetchAllTransactions(ctx, token, startDate, endDate)
	if err != nil {
		log.Printf("level=error component=sync msg=\"transactions fetch failed\" institution_id=%s item_id=%s err=%v", inst.ID, inst.ItemID, err)
		s.recordAggregatorFailure(ctx, inst, err)
		summary.Errors++
		return
	}

	// Map provider account ids to internal ledger accounts. Accounts exist
	// from link time; a transaction for an unmapped id is skipped later.
	accounts, err := s.repo.FindAccountsByInstitutionID(ctx, inst.ID)
	if err != nil {
		log.Printf("level=error component=sync msg=\"account lookup failed\" institution_id=%s err=%v", inst.ID, err)
		summary.Errors++
		return
	}
	accountIDs := make(map[string]uuid.UUID, len(accounts))
	for _, acct := range accounts {
		accountIDs[acct.ProviderAccountID] = acct.ID
	}

	result := s.reconciler.ReconcileTransactions(ctx, inst.WorkspaceID, accountIDs, transactions)
	summary.NewTransactions += result.New
	summary.UpdatedTransactions += result.Updated
	summary.SkippedTransactions += result.Skipped
	summary.Errors += result.Errors

	// Balance refresh is best-effort relative to the reconciled transactions:
	// a failure counts as an error but does not discard the upserts above.
	balanceResp, err := s.aggregator.GetAccounts(ctx, token)
	if err != nil {
		log.Printf("level=error component=sync msg=\"balance fetch failed\" institution_id=%s err=%v", inst.ID, err)
		summary.Errors++
	} else {
		updated, errs := s.reconciler.UpdateBalances(ctx, inst.ID, balanceResp.Accounts)
		summary.AccountsUpdated += updated
		summary.Errors += errs
	}

	if err := s.repo.UpdateInstitutionSyncedAt(ctx, inst.ID, time.Now().UTC()); err != nil {
		log.Printf("level=warn component=sync msg=\"watermark update failed\" institution_id=%s err=%v", inst.ID, err)
		summary.Errors++
	}
}

// fetchAllTransactions walks the aggregator's pagination until the reported
// total is reached. Each page is one HTTP call; there are no retries here.
func (s *Service) fetchAllTransactions(ctx context.Context, token, startDate, endDate string) ([]plaidclient.Transaction, error) {
	var all []plaidclient.Transaction
	offset := 0
	for {
		resp, err := s.aggregator.GetTransactions(ctx, token, startDate, endDate, transactionsPageSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Transactions...)
		offset = len(all)
		if len(resp.Transactions) == 0 || offset >= resp.TotalTransactions {
			return all, nil
		}
	}
}

// recordAggregatorFailure inspects a fetch error and, when the aggregator
// reports a credential problem, moves the institution into the error state and
// publishes the status change.
func (s *Service) recordAggregatorFailure(ctx context.Context, inst *domain.Institution, err error) {
	var apiErr *plaidclient.ErrorResponse
	if !errors.As(err, &apiErr) {
		return
	}
	switch apiErr.ErrorCode {
	case plaidclient.ErrorCodeItemLoginRequired, plaidclient.ErrorCodeInvalidAccessToken:
	default:
		return
	}

	if updErr := s.repo.UpdateInstitutionStatus(ctx, inst.ID, domain.InstitutionStatusError, &apiErr.ErrorCode, &apiErr.ErrorMessage); updErr != nil {
		log.Printf("level=error component=sync msg=\"institution status update failed\" institution_id=%s err=%v", inst.ID, updErr)
		return
	}
	inst.Status = domain.InstitutionStatusError

	if s.producer != nil {
		event := domain.InstitutionStatusEvent{
			WorkspaceID:   inst.WorkspaceID,
			InstitutionID: inst.ID,
			ItemID:        inst.ItemID,
			Status:        domain.InstitutionStatusError,
			ErrorCode:     &apiErr.ErrorCode,
			ErrorMessage:  &apiErr.ErrorMessage,
			OccurredAt:    time.Now().UTC(),
		}
		if pubErr := s.producer.PublishInstitutionStatus(ctx, event); pubErr != nil {
			log.Printf("level=warn component=sync msg=\"institution status event publish failed\" institution_id=%s err=%v", inst.ID, pubErr)
		}
	}
}
