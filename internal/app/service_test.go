package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/centavo/sync-service/internal/domain"
	"github.com/centavo/sync-service/internal/store"
	"github.com/centavo/sync-service/pkg/plaidclient"
)

type syncRepoStub struct {
	store.Repository

	institutions []domain.Institution
	accounts     map[uuid.UUID][]domain.BankAccount

	upserted       []*domain.Transaction
	statusUpdates  map[uuid.UUID]string
	syncedAt       map[uuid.UUID]time.Time
	balanceUpdates int
}

func newSyncRepoStub() *syncRepoStub {
	return &syncRepoStub{
		accounts:      make(map[uuid.UUID][]domain.BankAccount),
		statusUpdates: make(map[uuid.UUID]string),
		syncedAt:      make(map[uuid.UUID]time.Time),
	}
}

func (s *syncRepoStub) FindInstitutionsByWorkspaceID(ctx context.Context, workspaceID uuid.UUID) ([]domain.Institution, error) {
	return s.institutions, nil
}

func (s *syncRepoStub) FindAccountsByInstitutionID(ctx context.Context, institutionID uuid.UUID) ([]domain.BankAccount, error) {
	return s.accounts[institutionID], nil
}

func (s *syncRepoStub) UpsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	s.upserted = append(s.upserted, tx)
	return true, nil
}

func (s *syncRepoStub) UpdateInstitutionStatus(ctx context.Context, institutionID uuid.UUID, status string, errorCode, errorMessage *string) error {
	s.statusUpdates[institutionID] = status
	return nil
}

func (s *syncRepoStub) UpdateInstitutionSyncedAt(ctx context.Context, institutionID uuid.UUID, syncedAt time.Time) error {
	s.syncedAt[institutionID] = syncedAt
	return nil
}

func (s *syncRepoStub) UpdateAccountBalance(ctx context.Context, institutionID uuid.UUID, update domain.BalanceUpdate) (bool, error) {
	s.balanceUpdates++
	return true, nil
}

// aggregatorStub routes behavior by access token so one stub can model several
// institutions with different outcomes in the same run.
type aggregatorStub struct {
	pages        map[string][]plaidclient.TransactionsResponse
	fetchErr     map[string]error
	fetchCalls   map[string]int
	refreshCalls int
}

func newAggregatorStub() *aggregatorStub {
	return &aggregatorStub{
		pages:      make(map[string][]plaidclient.TransactionsResponse),
		fetchErr:   make(map[string]error),
		fetchCalls: make(map[string]int),
	}
}

func (a *aggregatorStub) RefreshTransactions(ctx context.Context, accessToken string) (*plaidclient.RefreshResponse, error) {
	a.refreshCalls++
	return &plaidclient.RefreshResponse{RequestID: "req_refresh"}, nil
}

func (a *aggregatorStub) GetTransactions(ctx context.Context, accessToken, startDate, endDate string, count, offset int) (*plaidclient.TransactionsResponse, error) {
	if err := a.fetchErr[accessToken]; err != nil {
		return nil, err
	}
	call := a.fetchCalls[accessToken]
	a.fetchCalls[accessToken]++
	pages := a.pages[accessToken]
	if call >= len(pages) {
		return &plaidclient.TransactionsResponse{}, nil
	}
	return &pages[call], nil
}

func (a *aggregatorStub) GetAccounts(ctx context.Context, accessToken string) (*plaidclient.AccountsResponse, error) {
	return &plaidclient.AccountsResponse{}, nil
}

type vaultStub struct {
	err error
}

func (v *vaultStub) Decrypt(blob string) (string, error) {
	return blob, v.err
}

type producerStub struct {
	syncEvents   []domain.SyncCompletedEvent
	statusEvents []domain.InstitutionStatusEvent
}

func (p *producerStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *producerStub) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	p.syncEvents = append(p.syncEvents, event)
	return nil
}

func (p *producerStub) PublishInstitutionStatus(ctx context.Context, event domain.InstitutionStatusEvent) error {
	p.statusEvents = append(p.statusEvents, event)
	return nil
}

func (p *producerStub) Close() {}

func singlePage(txns ...plaidclient.Transaction) []plaidclient.TransactionsResponse {
	return []plaidclient.TransactionsResponse{
		{Transactions: txns, TotalTransactions: len(txns)},
	}
}

func TestResolveDateWindow(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		startDate string
		endDate   string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{
			name:      "defaults to ninety days through tomorrow",
			wantStart: "2026-06-02",
			wantEnd:   "2026-09-01",
		},
		{
			name:      "explicit bounds pass through",
			startDate: "2026-01-01",
			endDate:   "2026-02-01",
			wantStart: "2026-01-01",
			wantEnd:   "2026-02-01",
		},
		{
			name:      "explicit start with default end",
			startDate: "2026-08-01",
			wantStart: "2026-08-01",
			wantEnd:   "2026-09-01",
		},
		{
			name:      "malformed start date rejected",
			startDate: "08/01/2026",
			wantErr:   true,
		},
		{
			name:    "malformed end date rejected",
			endDate: "tomorrow",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ResolveDateWindow(tt.startDate, tt.endDate, now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected validation error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tt.wantStart || end != tt.wantEnd {
				t.Fatalf("expected window %s..%s, got %s..%s", tt.wantStart, tt.wantEnd, start, end)
			}
		})
	}
}

func TestSyncWorkspace_PartialFailureIsolation(t *testing.T) {
	workspaceID := uuid.New()
	repo := newSyncRepoStub()
	aggregator := newAggregatorStub()

	instA := domain.Institution{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_a", EncryptedAccessToken: "token_a", Status: domain.InstitutionStatusActive}
	instB := domain.Institution{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_b", EncryptedAccessToken: "token_b", Status: domain.InstitutionStatusActive}
	instC := domain.Institution{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_c", EncryptedAccessToken: "token_c", Status: domain.InstitutionStatusActive}
	repo.institutions = []domain.Institution{instA, instB, instC}

	repo.accounts[instA.ID] = []domain.BankAccount{{ID: uuid.New(), InstitutionID: instA.ID, ProviderAccountID: "acct_a"}}
	repo.accounts[instC.ID] = []domain.BankAccount{{ID: uuid.New(), InstitutionID: instC.ID, ProviderAccountID: "acct_c"}}

	aggregator.pages["token_a"] = singlePage(plaidclient.Transaction{
		TransactionID: "tx_a1", AccountID: "acct_a", Amount: 10, Date: "2026-08-20", Name: "A1",
	})
	aggregator.fetchErr["token_b"] = &plaidclient.ErrorResponse{
		ErrorType:    "ITEM_ERROR",
		ErrorCode:    plaidclient.ErrorCodeItemLoginRequired,
		ErrorMessage: "the login details of this item have changed",
	}
	aggregator.pages["token_c"] = singlePage(plaidclient.Transaction{
		TransactionID: "tx_c1", AccountID: "acct_c", Amount: 20, Date: "2026-08-21", Name: "C1",
	})

	producer := &producerStub{}
	service := NewService(repo, aggregator, &vaultStub{}, producer, 0)

	summary, err := service.SyncWorkspace(context.Background(), workspaceID, "", "", TriggerManual)
	if err != nil {
		t.Fatalf("expected partial success, got error %v", err)
	}
	if summary.InstitutionsProcessed != 3 {
		t.Fatalf("expected all 3 institutions attempted, got %d", summary.InstitutionsProcessed)
	}
	if summary.NewTransactions != 2 {
		t.Fatalf("expected healthy institutions committed, got new=%d", summary.NewTransactions)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected exactly one error for the bad token, got %d", summary.Errors)
	}

	if repo.statusUpdates[instB.ID] != domain.InstitutionStatusError {
		t.Fatalf("expected institution B moved to error state, got %q", repo.statusUpdates[instB.ID])
	}
	if _, touched := repo.statusUpdates[instA.ID]; touched {
		t.Fatal("did not expect status change for healthy institution A")
	}

	if len(producer.statusEvents) != 1 || producer.statusEvents[0].InstitutionID != instB.ID {
		t.Fatalf("expected one status event for institution B, got %+v", producer.statusEvents)
	}
	if len(producer.syncEvents) != 1 {
		t.Fatalf("expected one sync completed event, got %d", len(producer.syncEvents))
	}
	if producer.syncEvents[0].Trigger != TriggerManual {
		t.Fatalf("expected manual trigger on event, got %q", producer.syncEvents[0].Trigger)
	}

	// Healthy institutions advance their watermark; the failed one does not.
	if _, ok := repo.syncedAt[instA.ID]; !ok {
		t.Fatal("expected watermark advanced for institution A")
	}
	if _, ok := repo.syncedAt[instB.ID]; ok {
		t.Fatal("did not expect watermark advance for failed institution B")
	}
}

func TestSyncWorkspace_SkipsDisconnectedInstitutions(t *testing.T) {
	workspaceID := uuid.New()
	repo := newSyncRepoStub()
	repo.institutions = []domain.Institution{
		{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_gone", EncryptedAccessToken: "token", Status: domain.InstitutionStatusDisconnected},
	}
	aggregator := newAggregatorStub()

	service := NewService(repo, aggregator, &vaultStub{}, nil, 0)

	summary, err := service.SyncWorkspace(context.Background(), workspaceID, "", "", TriggerManual)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if summary.InstitutionsProcessed != 0 {
		t.Fatalf("expected disconnected institution skipped, got processed=%d", summary.InstitutionsProcessed)
	}
	if aggregator.refreshCalls != 0 {
		t.Fatal("did not expect aggregator calls for disconnected institutions")
	}
}

func TestSyncWorkspace_WalksPagination(t *testing.T) {
	workspaceID := uuid.New()
	repo := newSyncRepoStub()
	inst := domain.Institution{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_1", EncryptedAccessToken: "token_1", Status: domain.InstitutionStatusActive}
	repo.institutions = []domain.Institution{inst}
	repo.accounts[inst.ID] = []domain.BankAccount{{ID: uuid.New(), InstitutionID: inst.ID, ProviderAccountID: "acct_1"}}

	aggregator := newAggregatorStub()
	aggregator.pages["token_1"] = []plaidclient.TransactionsResponse{
		{
			Transactions: []plaidclient.Transaction{
				{TransactionID: "tx_1", AccountID: "acct_1", Amount: 1, Date: "2026-08-20", Name: "One"},
				{TransactionID: "tx_2", AccountID: "acct_1", Amount: 2, Date: "2026-08-21", Name: "Two"},
			},
			TotalTransactions: 3,
		},
		{
			Transactions: []plaidclient.Transaction{
				{TransactionID: "tx_3", AccountID: "acct_1", Amount: 3, Date: "2026-08-22", Name: "Three"},
			},
			TotalTransactions: 3,
		},
	}

	service := NewService(repo, aggregator, &vaultStub{}, nil, 0)

	summary, err := service.SyncWorkspace(context.Background(), workspaceID, "", "", TriggerManual)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if summary.NewTransactions != 3 {
		t.Fatalf("expected all pages reconciled, got new=%d", summary.NewTransactions)
	}
	if aggregator.fetchCalls["token_1"] != 2 {
		t.Fatalf("expected 2 page fetches, got %d", aggregator.fetchCalls["token_1"])
	}
}

func TestSyncWorkspace_DegradedTokenStillAttempted(t *testing.T) {
	workspaceID := uuid.New()
	repo := newSyncRepoStub()
	inst := domain.Institution{ID: uuid.New(), WorkspaceID: workspaceID, ItemID: "item_1", EncryptedAccessToken: "access-legacy-token", Status: domain.InstitutionStatusActive}
	repo.institutions = []domain.Institution{inst}
	repo.accounts[inst.ID] = []domain.BankAccount{{ID: uuid.New(), InstitutionID: inst.ID, ProviderAccountID: "acct_1"}}

	aggregator := newAggregatorStub()
	aggregator.pages["access-legacy-token"] = singlePage(plaidclient.Transaction{
		TransactionID: "tx_1", AccountID: "acct_1", Amount: 1, Date: "2026-08-20", Name: "One",
	})

	// The vault reports degradation but still hands back a usable value; the
	// orchestrator must carry on with it.
	vault := &vaultStub{err: errors.New("authenticated decryption failed")}
	service := NewService(repo, aggregator, vault, nil, 0)

	summary, err := service.SyncWorkspace(context.Background(), workspaceID, "", "", TriggerManual)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if summary.NewTransactions != 1 || summary.Errors != 0 {
		t.Fatalf("expected degraded token sync to succeed, got %+v", summary)
	}
}
