/**
 * @description
 * This file sets up the HTTP router for the settlement-service. It defines
 * the API endpoints, associates them with their handlers, and applies
 * middleware for logging, recovery, CORS, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SettlementRoutes creates and returns a new router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Internal trigger; the shared-secret check happens in the handler so a
	// bad key is rejected before any other work.
	r.Post("/run", h.RunSettlementsHandler)

	// Group routes that require participant authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/history", h.ListSettlementHistoryHandler)
		r.Get("/balances", h.ListBalancesHandler)
	})

	return r
}
