/**
 * @description
 * This file contains the reconciliation engine: the logic that converts
 * externally-provided transaction and account records into ledger mutations.
 * Each provider transaction becomes exactly one atomic upsert; balance
 * snapshots become update-only writes against accounts created at link time.
 *
 * Key guarantees:
 * - Amount normalization happens exactly once here: signed float major units
 *   from the aggregator become non-negative integer cents plus a direction.
 *   A positive external amount means money leaving the account (outflow);
 *   this is the aggregator's documented sign convention and a tested
 *   contract, not a choice this service gets to revisit.
 * - A transaction referencing a provider account id absent from the
 *   institution's account set is skipped and counted, never inserted with a
 *   null account reference.
 * - Per-row failures are counted and logged with the offending external id;
 *   they never abort the remaining rows.
 *
 * @dependencies
 * - context, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For ledger row IDs.
 * - internal/domain, internal/store, pkg/plaidclient.
 */

package app

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/centavo/sync-service/internal/domain"
	"github.com/centavo/sync-service/internal/store"
	"github.com/centavo/sync-service/pkg/plaidclient"
)

// Reconciler maps provider records onto ledger rows.
type Reconciler struct {
	repo store.Repository
}

// NewReconciler creates a new reconciliation engine backed by the given
// repository.
func NewReconciler(repo store.Repository) *Reconciler {
	return &Reconciler{repo: repo}
}

// ReconcileResult aggregates counts for one batch of provider transactions.
type ReconcileResult struct {
	New     int
	Updated int
	Skipped int
	Errors  int
}

// NormalizeAmount converts a signed float amount in major currency units into
// non-negative integer cents and a direction. Rounding is half away from zero
// on the absolute value. Positive external amounts map to outflow.
func NormalizeAmount(amount float64) (int64, string) {
	cents := int64(math.Round(math.Abs(amount) * 100))
	if amount < 0 {
		return cents, domain.DirectionInflow
	}
	return cents, domain.DirectionOutflow
}

// ReconcileTransactions applies one batch of provider transactions against
// the ledger for a workspace. accountIDs maps provider account ids to the
// internal bank account ids of the institution being synced.
func (r *Reconciler) ReconcileTransactions(ctx context.Context, workspaceID uuid.UUID, accountIDs map[string]uuid.UUID, txns []plaidclient.Transaction) ReconcileResult {
	var result ReconcileResult

	for i := range txns {
		providerTx := &txns[i]

		accountID, ok := accountIDs[providerTx.AccountID]
		if !ok {
			log.Printf("level=warn component=reconciler msg=\"transaction references unknown provider account; skipping\" provider_transaction_id=%s provider_account_id=%s workspace_id=%s",
				providerTx.TransactionID, providerTx.AccountID, workspaceID)
			result.Skipped++
			continue
		}

		ledgerTx, err := buildLedgerRow(workspaceID, accountID, providerTx)
		if err != nil {
			log.Printf("level=warn component=reconciler msg=\"unusable provider transaction\" provider_transaction_id=%s err=%v", providerTx.TransactionID, err)
			result.Errors++
			continue
		}

		isNew, err := r.repo.UpsertTransaction(ctx, ledgerTx)
		if err != nil {
			log.Printf("level=error component=reconciler msg=\"ledger upsert failed\" provider_transaction_id=%s workspace_id=%s err=%v",
				providerTx.TransactionID, workspaceID, err)
			result.Errors++
			continue
		}
		if isNew {
			result.New++
		} else {
			result.Updated++
		}
	}

	return result
}

// RemoveTransactions deletes ledger rows for explicitly removed provider
// transaction ids, scoped to the workspace. Missing rows are not errors; the
// aggregator redelivers removal notifications.
func (r *Reconciler) RemoveTransactions(ctx context.Context, workspaceID uuid.UUID, providerTransactionIDs []string) (removed int64, errs int) {
	for _, id := range providerTransactionIDs {
		n, err := r.repo.DeleteTransactionByProviderID(ctx, workspaceID, id)
		if err != nil {
			log.Printf("level=error component=reconciler msg=\"transaction removal failed\" provider_transaction_id=%s workspace_id=%s err=%v", id, workspaceID, err)
			errs++
			continue
		}
		removed += n
	}
	return removed, errs
}

// UpdateBalances refreshes stored balances from a provider account snapshot.
// Nil provider balances persist as NULL, never zero. Accounts unknown to the
// institution are logged and skipped (update-only, no inserts during sync).
func (r *Reconciler) UpdateBalances(ctx context.Context, institutionID uuid.UUID, accounts []plaidclient.Account) (updated, errs int) {
	for i := range accounts {
		acct := &accounts[i]
		ok, err := r.repo.UpdateAccountBalance(ctx, institutionID, domain.BalanceUpdate{
			ProviderAccountID:     acct.AccountID,
			CurrentBalanceCents:   floatToCents(acct.Balances.Current),
			AvailableBalanceCents: floatToCents(acct.Balances.Available),
		})
		if err != nil {
			log.Printf("level=error component=reconciler msg=\"balance update failed\" provider_account_id=%s institution_id=%s err=%v", acct.AccountID, institutionID, err)
			errs++
			continue
		}
		if !ok {
			log.Printf("level=warn component=reconciler msg=\"balance snapshot for unknown account; skipping\" provider_account_id=%s institution_id=%s", acct.AccountID, institutionID)
			continue
		}
		updated++
	}
	return updated, errs
}

func buildLedgerRow(workspaceID, accountID uuid.UUID, providerTx *plaidclient.Transaction) (*domain.Transaction, error) {
	txDate, err := time.Parse("2006-01-02", providerTx.Date)
	if err != nil {
		return nil, err
	}

	var authorizedDate *time.Time
	if providerTx.AuthorizedDate != nil {
		parsed, err := time.Parse("2006-01-02", *providerTx.AuthorizedDate)
		if err == nil {
			authorizedDate = &parsed
		}
	}

	amountCents, direction := NormalizeAmount(providerTx.Amount)

	status := domain.TransactionStatusPosted
	if providerTx.Pending {
		status = domain.TransactionStatusPending
	}

	currency := "USD"
	if providerTx.ISOCurrencyCode != nil && *providerTx.ISOCurrencyCode != "" {
		currency = *providerTx.ISOCurrencyCode
	}

	var category, subcategory *string
	if len(providerTx.Category) > 0 {
		category = &providerTx.Category[0]
		if len(providerTx.Category) > 1 {
			subcategory = &providerTx.Category[len(providerTx.Category)-1]
		}
	}

	return &domain.Transaction{
		ID:                    uuid.New(),
		WorkspaceID:           workspaceID,
		BankAccountID:         accountID,
		ProviderTransactionID: providerTx.TransactionID,
		ContentHash:           domain.ContentHash(providerTx.TransactionID, workspaceID, txDate),
		AmountCents:           amountCents,
		Direction:             direction,
		CurrencyCode:          currency,
		Description:           providerTx.Name,
		TransactionDate:       txDate,
		AuthorizedDate:        authorizedDate,
		Status:                status,
		MerchantName:          providerTx.MerchantName,
		Category:              category,
		Subcategory:           subcategory,
		LocationCity:          providerTx.Location.City,
		LocationRegion:        providerTx.Location.Region,
	}, nil
}

func floatToCents(v *float64) *int64 {
	if v == nil {
		return nil
	}
	cents := int64(math.Round(math.Abs(*v) * 100))
	if *v < 0 {
		cents = -cents
	}
	return &cents
}
