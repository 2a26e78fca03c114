/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * The surface is split in two: public endpoints serve the payment page and the
 * providers' callbacks, while the authenticated group serves the seller
 * dashboard behind the platform's JWT.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser-facing endpoints.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwksURL string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public endpoints: the payment page and provider callbacks.
	r.Post("/payments/initiate", h.InitiatePaymentHandler)
	r.Get("/payments/status/{reference}", h.PaymentStatusHandler)
	r.Post("/payments/webhook/{provider}", h.WebhookHandler)
	r.Post("/pricing/estimate", h.EstimatePriceHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwksURL))

		// Seller pricing tooling
		r.Post("/pricing/calculate", h.CalculatePriceHandler)
		r.Post("/pricing/cart", h.CalculateCartHandler)
		r.Get("/pricing/fees", h.ListFeeSchedulesHandler)
		r.Post("/pricing/fees", h.UpsertFeeScheduleHandler)

		// Seller transaction history
		r.Get("/transactions", h.ListTransactionsHandler)
		r.Get("/transactions/stats", h.TransactionStatsHandler)
		r.Get("/transactions/{reference}", h.GetTransactionHandler)
		r.Get("/transactions/{reference}/logs", h.TransactionLogsHandler)
	})

	return r
}
