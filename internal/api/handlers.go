/**
 * @description
 * This file contains the HTTP handlers for the sync-service's API endpoints:
 * the inbound aggregator webhook and the manual sync trigger used by the
 * dashboard and the scheduler. Handlers parse incoming requests, call the
 * application service, and write the HTTP response.
 *
 * Key behaviors:
 * - The webhook endpoint answers 200 for every handled-or-ignored event and
 *   reserves 500 for genuine processing failures, because the aggregator
 *   retries non-2xx responses indefinitely.
 * - The sync endpoint reports partial success as success with a non-zero
 *   error count; a single bad institution never masks the others.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256: Webhook signature validation.
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: Service logic and models.
 */

package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/centavo/sync-service/internal/app"
	"github.com/centavo/sync-service/internal/domain"
)

// SignatureHeader carries the aggregator's HMAC signature of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

// SyncHandlers holds the application service and trigger limiter that
// handlers use.
type SyncHandlers struct {
	service       *app.Service
	limiter       app.SyncTriggerLimiter
	triggerLimit  int
	webhookSecret string
}

// NewSyncHandlers creates a new instance of SyncHandlers. limiter may be nil
// when Redis is not configured; trigger limiting is then disabled.
func NewSyncHandlers(service *app.Service, limiter app.SyncTriggerLimiter, triggerLimit int, webhookSecret string) *SyncHandlers {
	return &SyncHandlers{
		service:       service,
		limiter:       limiter,
		triggerLimit:  triggerLimit,
		webhookSecret: webhookSecret,
	}
}

// syncTriggerRequest is the DTO for manual sync requests. UserID is the
// legacy variant's field; it is accepted and ignored.
type syncTriggerRequest struct {
	WorkspaceID string `json:"workspace_id"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

type syncTriggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	*domain.SyncSummary
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
}

// WebhookHandler processes inbound webhook notifications from the aggregator.
func (h *SyncHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Cannot read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	if !h.isValidSignature(r.Header.Get(SignatureHeader), body) {
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event domain.AggregatorWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=api endpoint=webhook msg=\"malformed payload\" err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if event.WebhookType == "" || event.WebhookCode == "" {
		h.writeError(w, http.StatusBadRequest, "webhook_type and webhook_code are required")
		return
	}

	log.Printf("level=info component=api endpoint=webhook webhook_type=%s webhook_code=%s item_id=%s", event.WebhookType, event.WebhookCode, event.ItemID)

	result, err := h.service.ProcessWebhook(r.Context(), body, event)
	if err != nil {
		log.Printf("level=error component=api endpoint=webhook msg=\"processing failed\" webhook_code=%s item_id=%s err=%v", event.WebhookCode, event.ItemID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error during webhook processing")
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: result.Outcome})
}

// SyncTriggerHandler runs a sync for a workspace on demand.
func (h *SyncHandlers) SyncTriggerHandler(w http.ResponseWriter, r *http.Request) {
	var req syncTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorWithDetails(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	workspaceID, err := uuid.Parse(strings.TrimSpace(req.WorkspaceID))
	if err != nil {
		h.writeErrorWithDetails(w, http.StatusBadRequest, "Invalid workspace_id", err.Error())
		return
	}
	if req.UserID != "" {
		log.Printf("level=info component=api endpoint=sync msg=\"legacy user_id field present; ignoring\" workspace_id=%s", workspaceID)
	}

	if h.limiter != nil && h.triggerLimit > 0 {
		count, retryAfter, limitErr := h.limiter.ConsumeSyncTrigger(r.Context(), workspaceID.String(), h.triggerLimit, time.Minute)
		if limitErr != nil {
			log.Printf("level=warn component=api endpoint=sync msg=\"trigger limiter unavailable; allowing request\" err=%v", limitErr)
		} else if count > h.triggerLimit {
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many sync requests for this workspace; try again shortly")
			return
		}
	}

	summary, err := h.service.SyncWorkspace(r.Context(), workspaceID, req.StartDate, req.EndDate, app.TriggerManual)
	if err != nil {
		log.Printf("level=warn component=api endpoint=sync outcome=reject workspace_id=%s err=%v", workspaceID, err)
		h.writeErrorWithDetails(w, http.StatusBadRequest, "Sync could not be started", err.Error())
		return
	}

	resp := syncTriggerResponse{Success: true, SyncSummary: summary}
	if summary.InstitutionsProcessed == 0 {
		resp.Success = false
		resp.Message = "No connected institutions for this workspace"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// isValidSignature validates the HMAC-SHA256 signature of the webhook body.
// When no secret is configured validation is skipped with a warning, matching
// fleets where the callback secret has not been rolled out yet.
func (h *SyncHandlers) isValidSignature(signatureHeader string, body []byte) bool {
	if h.webhookSecret == "" {
		log.Println("level=warn component=api endpoint=webhook msg=\"PLAID_WEBHOOK_SECRET not set; skipping signature validation\"")
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		log.Println("level=warn component=api endpoint=webhook msg=\"missing signature header\"")
		return false
	}
	header = strings.TrimPrefix(strings.ToLower(header), "sha256=")

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(header); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(signatureHeader); err == nil && hmac.Equal(decoded, expected) {
		return true
	}

	log.Println("level=warn component=api endpoint=webhook msg=\"signature mismatch\"")
	return false
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *SyncHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *SyncHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

func (h *SyncHandlers) writeErrorWithDetails(w http.ResponseWriter, status int, message, details string) {
	h.writeJSON(w, status, errorResponse{Error: message, Details: details})
}
