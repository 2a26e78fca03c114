/**
 * @description
 * This file contains the HTTP handlers for the payment-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * The webhook handler is deliberately lenient with providers: business
 * rejections (unknown reference, no-op status) answer 200 so the provider does
 * not keep retrying a payload we have already recorded. Only signature
 * failures are refused outright.
 *
 * @dependencies
 * - encoding/json, errors, io, log, net/http, strconv, strings: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - github.com/google/uuid: Identifier parsing.
 * - internal/app, internal/domain, internal/pricing, internal/store, pkg/momo: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/app"
	"github.com/paylink/payment-service/internal/domain"
	"github.com/paylink/payment-service/internal/pricing"
	"github.com/paylink/payment-service/internal/store"
	"github.com/paylink/payment-service/pkg/momo"
)

// maxWebhookBody caps inbound callback payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// PaymentHandlers holds the application service that handlers will use.
type PaymentHandlers struct {
	service *app.Service
}

// NewPaymentHandlers creates a new instance of PaymentHandlers.
func NewPaymentHandlers(service *app.Service) *PaymentHandlers {
	return &PaymentHandlers{service: service}
}

// initiatePaymentResponse mirrors the shape the payment page frontend reads
// after starting a payment.
type initiatePaymentResponse struct {
	Success     bool   `json:"success"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	GrossAmount int64  `json:"gross_amount"`
	Currency    string `json:"currency"`
	PaymentURL  string `json:"payment_url,omitempty"`
	IsNew       bool   `json:"is_new"`
	Message     string `json:"message,omitempty"`
}

// InitiatePaymentHandler handles public requests to start a Mobile Money payment.
func (h *PaymentHandlers) InitiatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initiate_payment outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PageID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "page_id is required")
		return
	}
	if strings.TrimSpace(req.PayerPhone) == "" {
		h.writeError(w, http.StatusBadRequest, "payer_phone is required")
		return
	}

	result, err := h.service.InitiatePayment(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=initiate_payment outcome=failed page_id=%s provider=%s err=%v", req.PageID, req.Provider, err)
		switch {
		case errors.Is(err, momo.ErrUnknownGateway):
			h.writeError(w, http.StatusBadRequest, "Unsupported payment provider")
		case errors.Is(err, store.ErrPageNotFound):
			h.writeError(w, http.StatusNotFound, "Payment page not found")
		case errors.Is(err, app.ErrPageNotAvailable):
			h.writeError(w, http.StatusUnprocessableEntity, "This page is not accepting payments")
		case errors.Is(err, app.ErrServiceNotAvailable):
			h.writeError(w, http.StatusNotFound, "Service not found or no longer available")
		case errors.Is(err, pricing.ErrInvalidAmount), errors.Is(err, pricing.ErrAmountTooSmall):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many payment attempts. Please wait a moment.")
		case errors.Is(err, app.ErrPaymentInitiationFailed):
			h.writeError(w, http.StatusBadGateway, "The payment provider could not be reached. Please retry.")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	status := http.StatusCreated
	if !result.IsNew {
		status = http.StatusOK
	}
	h.writeJSON(w, status, initiatePaymentResponse{
		Success:     true,
		Reference:   result.Transaction.Reference,
		Status:      result.Transaction.Status,
		GrossAmount: result.Transaction.GrossAmount,
		Currency:    result.Transaction.Currency,
		PaymentURL:  result.PaymentURL,
		IsNew:       result.IsNew,
	})
}

// PaymentStatusHandler handles public polling of a payment by reference.
func (h *PaymentHandlers) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Reference is required")
		return
	}

	result, err := h.service.CheckPaymentStatus(r.Context(), reference)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=payment_status outcome=failed reference=%s err=%v", reference, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// WebhookHandler receives provider payment callbacks. The raw body is passed
// to the service untouched so the HMAC covers exactly what the provider sent.
func (h *PaymentHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}
	signature := r.Header.Get("X-Signature")

	outcome, err := h.service.HandleWebhook(r.Context(), provider, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, momo.ErrUnknownGateway):
			h.writeError(w, http.StatusBadRequest, "Unsupported payment provider")
		case errors.Is(err, app.ErrInvalidSignature):
			h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		default:
			log.Printf("level=error component=api endpoint=webhook outcome=failed provider=%s err=%v", provider, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	// Business rejections answer 200: the payload is on record and a retry
	// from the provider would change nothing.
	h.writeJSON(w, http.StatusOK, outcome)
}

type estimateRequest struct {
	Amount   int64  `json:"amount"`
	Provider string `json:"provider"`
}

// EstimatePriceHandler handles public pricing estimates for the payment page.
// It only exposes what the payer needs: the gross amount to approve.
func (h *PaymentHandlers) EstimatePriceHandler(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	calc, err := h.service.EstimatePrice(r.Context(), req.Amount, req.Provider)
	if err != nil {
		h.writePricingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"gross_amount": calc.GrossAmount,
		"currency":     calc.Currency,
		"provider":     calc.Provider,
	})
}

type calculateRequest struct {
	Amount    int64  `json:"amount"`
	Provider  string `json:"provider"`
	FromGross bool   `json:"from_gross,omitempty"`
}

// CalculatePriceHandler returns the full fee breakdown for seller tooling.
func (h *PaymentHandlers) CalculatePriceHandler(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	calc, err := h.service.CalculatePrice(r.Context(), req.Amount, req.Provider, req.FromGross)
	if err != nil {
		h.writePricingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, calc)
}

type cartRequest struct {
	Items    []domain.CartItem `json:"items"`
	Provider string            `json:"provider"`
}

// CalculateCartHandler prices a multi-service cart for seller tooling.
func (h *PaymentHandlers) CalculateCartHandler(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	calc, err := h.service.CalculateCart(r.Context(), req.Items, req.Provider)
	if err != nil {
		h.writePricingError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, calc)
}

// ListFeeSchedulesHandler returns the active fee schedule for every provider.
func (h *PaymentHandlers) ListFeeSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.ListFeeSchedules(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=list_fee_schedules outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, schedules)
}

// UpsertFeeScheduleHandler installs the next version of a provider's fee band.
func (h *PaymentHandlers) UpsertFeeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.FeeScheduleUpsert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	schedule, err := h.service.UpsertFeeSchedule(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, momo.ErrUnknownGateway):
			h.writeError(w, http.StatusBadRequest, "Unsupported payment provider")
		case errors.Is(err, pricing.ErrInvalidFeeConfiguration):
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			log.Printf("level=error component=api endpoint=upsert_fee_schedule outcome=failed provider=%s err=%v", req.Provider, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, schedule)
}

// ListTransactionsHandler returns the authenticated seller's transaction history.
func (h *PaymentHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, domain.TransactionListOptions{
		Limit:  limit,
		Offset: offset,
		Status: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=list_transactions outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, transactions)
}

// TransactionStatsHandler returns the authenticated seller's aggregates.
func (h *PaymentHandlers) TransactionStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetTransactionStats(r.Context(), userID, r.URL.Query().Get("period"))
	if err != nil {
		log.Printf("level=error component=api endpoint=transaction_stats outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// GetTransactionHandler returns one of the seller's transactions by reference.
func (h *PaymentHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Reference is required")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), reference, userID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_transaction outcome=failed reference=%s user_id=%s err=%v", reference, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, tx)
}

// TransactionLogsHandler returns the audit trail for one of the seller's transactions.
func (h *PaymentHandlers) TransactionLogsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Reference is required")
		return
	}

	logs, err := h.service.GetTransactionLogs(r.Context(), reference, userID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			h.writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("level=error component=api endpoint=transaction_logs outcome=failed reference=%s user_id=%s err=%v", reference, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, logs)
}

// authenticatedUserID resolves the authenticated user from the request
// context, writing the error response itself when resolution fails.
func (h *PaymentHandlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		log.Printf("level=warn component=api outcome=reject reason=invalid_user_id user_id=%s", userIDStr)
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

// writePricingError maps pricing engine failures to HTTP statuses.
func (h *PaymentHandlers) writePricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, momo.ErrUnknownGateway), errors.Is(err, pricing.ErrUnknownProvider):
		h.writeError(w, http.StatusBadRequest, "Unsupported payment provider")
	case errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, pricing.ErrAmountTooSmall),
		errors.Is(err, pricing.ErrInvalidCartItem),
		errors.Is(err, pricing.ErrInvalidFeeConfiguration):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("level=error component=api endpoint=pricing outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *PaymentHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PaymentHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
