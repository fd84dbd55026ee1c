package plaidclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientEnvironmentSelection(t *testing.T) {
	tests := []struct {
		environment string
		wantBaseURL string
	}{
		{environment: "sandbox", wantBaseURL: "https://sandbox.plaid.com"},
		{environment: "production", wantBaseURL: "https://production.plaid.com"},
		{environment: "bogus", wantBaseURL: "https://sandbox.plaid.com"},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			client := NewClient(tt.environment, "client_id", "secret")
			if client.BaseURL != tt.wantBaseURL {
				t.Fatalf("expected %q, got %q", tt.wantBaseURL, client.BaseURL)
			}
		})
	}
}

func TestGetTransactionsSendsCredentialsAndWindow(t *testing.T) {
	var captured transactionsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/get" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(TransactionsResponse{
			Transactions: []Transaction{
				{TransactionID: "tx_1", AccountID: "acct_1", Amount: 12.34, Date: "2026-08-20", Name: "Coffee"},
			},
			TotalTransactions: 1,
		})
	}))
	defer server.Close()

	client := NewClient("sandbox", "client_id", "secret")
	client.BaseURL = server.URL

	resp, err := client.GetTransactions(context.Background(), "access-sandbox-abc", "2026-06-01", "2026-09-01", 500, 0)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(resp.Transactions) != 1 || resp.Transactions[0].TransactionID != "tx_1" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if captured.ClientID != "client_id" || captured.Secret != "secret" {
		t.Fatal("expected api credentials on the request body")
	}
	if captured.AccessToken != "access-sandbox-abc" {
		t.Fatalf("unexpected access token %q", captured.AccessToken)
	}
	if captured.StartDate != "2026-06-01" || captured.EndDate != "2026-09-01" {
		t.Fatalf("unexpected window %s..%s", captured.StartDate, captured.EndDate)
	}
	if captured.Options.Count != 500 || captured.Options.Offset != 0 {
		t.Fatalf("unexpected pagination options %+v", captured.Options)
	}
}

func TestErrorResponseSurfacesStructuredError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ErrorResponse{
			ErrorType:    "ITEM_ERROR",
			ErrorCode:    ErrorCodeItemLoginRequired,
			ErrorMessage: "the login details of this item have changed",
			RequestID:    "req_123",
		})
	}))
	defer server.Close()

	client := NewClient("sandbox", "client_id", "secret")
	client.BaseURL = server.URL

	_, err := client.GetTransactions(context.Background(), "access-sandbox-abc", "2026-06-01", "2026-09-01", 500, 0)
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *ErrorResponse, got %T", err)
	}
	if apiErr.ErrorCode != ErrorCodeItemLoginRequired {
		t.Fatalf("expected ITEM_LOGIN_REQUIRED, got %q", apiErr.ErrorCode)
	}
	if apiErr.ErrorType != "ITEM_ERROR" {
		t.Fatalf("expected error type preserved, got %q", apiErr.ErrorType)
	}
}

func TestUnparsableErrorBodyStillFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client := NewClient("sandbox", "client_id", "secret")
	client.BaseURL = server.URL

	_, err := client.GetAccounts(context.Background(), "access-sandbox-abc")
	if err == nil {
		t.Fatal("expected error for unparsable error body")
	}
	var apiErr *ErrorResponse
	if errors.As(err, &apiErr) {
		t.Fatal("did not expect a structured api error for an html body")
	}
}

func TestGetAccountsDecodesNullableBalances(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accounts":[{"account_id":"acct_1","balances":{"available":null,"current":110.25,"iso_currency_code":"USD"},"name":"Checking","type":"depository"}],"request_id":"req_1"}`))
	}))
	defer server.Close()

	client := NewClient("sandbox", "client_id", "secret")
	client.BaseURL = server.URL

	resp, err := client.GetAccounts(context.Background(), "access-sandbox-abc")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(resp.Accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(resp.Accounts))
	}
	balances := resp.Accounts[0].Balances
	if balances.Available != nil {
		t.Fatalf("expected null available balance decoded to nil, got %v", *balances.Available)
	}
	if balances.Current == nil || *balances.Current != 110.25 {
		t.Fatalf("expected current balance 110.25, got %v", balances.Current)
	}
}

func TestRefreshTransactionsHitsRefreshEndpoint(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewEncoder(w).Encode(RefreshResponse{RequestID: "req_refresh"})
	}))
	defer server.Close()

	client := NewClient("sandbox", "client_id", "secret")
	client.BaseURL = server.URL

	resp, err := client.RefreshTransactions(context.Background(), "access-sandbox-abc")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if path != "/transactions/refresh" {
		t.Fatalf("unexpected path %q", path)
	}
	if resp.RequestID != "req_refresh" {
		t.Fatalf("unexpected request id %q", resp.RequestID)
	}
}
