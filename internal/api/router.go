/**
 * @description
 * This file sets up the HTTP router for the sync-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * any necessary middleware, such as for authentication.
 *
 * The webhook endpoint is deliberately outside the auth group: the aggregator
 * authenticates with a body signature, not a bearer token.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SyncRoutes creates and returns a new router for the sync service.
func SyncRoutes(h *SyncHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Aggregator webhook: signature-authenticated in the handler.
	r.Post("/webhooks/plaid", h.WebhookHandler)

	// Group routes that require caller authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL, internalAPIKey))

		r.Post("/sync", h.SyncTriggerHandler)
	})

	return r
}
