/**
 * @description
 * This package provides a client for interacting with the Plaid banking-data
 * API. It encapsulates the logic for making authenticated HTTP requests to
 * Plaid's endpoints, handling request body construction, and parsing
 * responses.
 *
 * Each method is a single request/response pair with no internal retries;
 * retry and partial-failure policy belongs to the sync orchestrator. Non-2xx
 * responses decode into an ErrorResponse that surfaces Plaid's structured
 * error code/type/message untouched so callers can branch on known codes.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package plaidclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Environment base URLs. The selector comes from configuration and is treated
// as opaque everywhere else.
var environmentHosts = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// Error codes the orchestrator branches on for institution status transitions.
const (
	ErrorCodeItemLoginRequired  = "ITEM_LOGIN_REQUIRED"
	ErrorCodeInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	ErrorCodeProductNotReady    = "PRODUCT_NOT_READY"
)

// Client is a client for the Plaid API.
type Client struct {
	BaseURL    string
	ClientID   string
	Secret     string
	HTTPClient *http.Client
}

// NewClient creates a new Plaid API client for the given environment selector
// (sandbox, development, or production). Unknown selectors fall back to
// sandbox with a warning so a misconfigured deploy fails loudly downstream
// instead of pointing at production.
func NewClient(environment, clientID, secret string) *Client {
	baseURL, ok := environmentHosts[environment]
	if !ok {
		log.Printf("level=warn component=plaid_client msg=\"unknown environment; defaulting to sandbox\" environment=%q", environment)
		baseURL = environmentHosts["sandbox"]
	}
	return &Client{
		BaseURL:  baseURL,
		ClientID: clientID,
		Secret:   secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ErrorResponse represents a structured error from the Plaid API.
type ErrorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("plaid api error: %s/%s - %s", e.ErrorType, e.ErrorCode, e.ErrorMessage)
}

// AccountBalances carries the nullable balance snapshot for one account.
type AccountBalances struct {
	Available       *float64 `json:"available"`
	Current         *float64 `json:"current"`
	ISOCurrencyCode *string  `json:"iso_currency_code"`
}

// Account represents one provider account in a transactions or balance
// response.
type Account struct {
	AccountID    string          `json:"account_id"`
	Balances     AccountBalances `json:"balances"`
	Mask         *string         `json:"mask"`
	Name         string          `json:"name"`
	OfficialName *string         `json:"official_name"`
	Type         string          `json:"type"`
	Subtype      *string         `json:"subtype"`
}

// TransactionLocation carries the optional location enrichment on a
// transaction.
type TransactionLocation struct {
	City   *string `json:"city"`
	Region *string `json:"region"`
}

// Transaction represents one provider transaction record. Amounts are signed
// floats in major currency units; the reconciler normalizes them.
type Transaction struct {
	TransactionID   string              `json:"transaction_id"`
	AccountID       string              `json:"account_id"`
	Amount          float64             `json:"amount"`
	ISOCurrencyCode *string             `json:"iso_currency_code"`
	Date            string              `json:"date"` // YYYY-MM-DD
	AuthorizedDate  *string             `json:"authorized_date"`
	Name            string              `json:"name"`
	MerchantName    *string             `json:"merchant_name"`
	Pending         bool                `json:"pending"`
	Category        []string            `json:"category"`
	Location        TransactionLocation `json:"location"`
}

// TransactionsResponse is the response from the transactions endpoint.
type TransactionsResponse struct {
	Accounts          []Account     `json:"accounts"`
	Transactions      []Transaction `json:"transactions"`
	TotalTransactions int           `json:"total_transactions"`
	RequestID         string        `json:"request_id"`
}

// AccountsResponse is the response from the balance endpoint.
type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	RequestID string    `json:"request_id"`
}

// RefreshResponse is the response from the refresh-trigger endpoint.
type RefreshResponse struct {
	RequestID string `json:"request_id"`
}

// InstitutionMetadata describes an institution as known to the aggregator.
type InstitutionMetadata struct {
	InstitutionID string   `json:"institution_id"`
	Name          string   `json:"name"`
	Products      []string `json:"products"`
	CountryCodes  []string `json:"country_codes"`
	URL           *string  `json:"url"`
	PrimaryColor  *string  `json:"primary_color"`
}

type institutionMetadataResponse struct {
	Institution InstitutionMetadata `json:"institution"`
	RequestID   string              `json:"request_id"`
}

type transactionsRequest struct {
	ClientID    string              `json:"client_id"`
	Secret      string              `json:"secret"`
	AccessToken string              `json:"access_token"`
	StartDate   string              `json:"start_date"`
	EndDate     string              `json:"end_date"`
	Options     transactionsOptions `json:"options"`
}

type transactionsOptions struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
}

type accessTokenRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type institutionMetadataRequest struct {
	ClientID      string   `json:"client_id"`
	Secret        string   `json:"secret"`
	InstitutionID string   `json:"institution_id"`
	CountryCodes  []string `json:"country_codes"`
}

// RefreshTransactions asks the aggregator to pull fresh data from the
// institution. Best-effort: callers proceed to fetching even when this fails.
func (c *Client) RefreshTransactions(ctx context.Context, accessToken string) (*RefreshResponse, error) {
	var resp RefreshResponse
	err := c.post(ctx, "/transactions/refresh", accessTokenRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransactions fetches one page of transactions for the given date window.
// Dates are YYYY-MM-DD. Pagination via count/offset is the caller's loop.
func (c *Client) GetTransactions(ctx context.Context, accessToken, startDate, endDate string, count, offset int) (*TransactionsResponse, error) {
	var resp TransactionsResponse
	err := c.post(ctx, "/transactions/get", transactionsRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
		StartDate:   startDate,
		EndDate:     endDate,
		Options:     transactionsOptions{Count: count, Offset: offset},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccounts fetches the current balance snapshot for every account under
// the item.
func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	var resp AccountsResponse
	err := c.post(ctx, "/accounts/balance/get", accessTokenRequest{
		ClientID:    c.ClientID,
		Secret:      c.Secret,
		AccessToken: accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetInstitutionMetadata fetches display metadata for an institution by its
// aggregator-side id.
func (c *Client) GetInstitutionMetadata(ctx context.Context, institutionExternalID string) (*InstitutionMetadata, error) {
	var resp institutionMetadataResponse
	err := c.post(ctx, "/institutions/get_by_id", institutionMetadataRequest{
		ClientID:      c.ClientID,
		Secret:        c.Secret,
		InstitutionID: institutionExternalID,
		CountryCodes:  []string{"US"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Institution, nil
}

// post executes one JSON request/response exchange against the Plaid API.
func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request for %s: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=plaid_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=plaid_client path=%s status=%d error_type=%q error_code=%q", path, resp.StatusCode, errResp.ErrorType, errResp.ErrorCode)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response for %s: %w", path, err)
	}
	return nil
}
