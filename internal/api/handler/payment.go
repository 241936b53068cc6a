// internal/api/handler/payment.go
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"creditledger/internal/api/middleware"
	"creditledger/internal/api/types"
	"creditledger/internal/domain"
	"creditledger/internal/service"
)

// PaymentHandler serves the payment reconciliation workflow.
type PaymentHandler struct {
	responder
	service service.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(svc service.ReconciliationService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		responder: responder{logger: logger},
		service:   svc,
	}
}

// CreatePaymentRequest represents the request body for registering a payment attempt.
type CreatePaymentRequest struct {
	ID            string          `json:"id,omitempty"`
	UserID        string          `json:"user_id"`
	UserName      string          `json:"user_name"`
	UserEmail     string          `json:"user_email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Description   string          `json:"description,omitempty"`
}

// CreatePayment handles POST /payments.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	payment, err := h.service.CreatePayment(r.Context(), service.CreatePaymentParams{
		ID:            req.ID,
		UserID:        req.UserID,
		UserName:      req.UserName,
		UserEmail:     req.UserEmail,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, payment)
}

// ListPayments handles GET /payments?status=&limit=&offset=.
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := domain.PaymentStatus(r.URL.Query().Get("status"))

	payments, total, err := h.service.ListPayments(r.Context(), status, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, types.NewPage(payments, limit, offset, total))
}

// GetPayment handles GET /payments/{paymentID}.
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, payment)
}

// MarkProcessing handles POST /payments/{paymentID}/processing.
func (h *PaymentHandler) MarkProcessing(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.MarkProcessing(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, payment)
}

// Approve handles POST /payments/{paymentID}/approve. Approving an already
// reconciled payment answers 200 with result=duplicate.
func (h *PaymentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Approve(r.Context(), chi.URLParam(r, "paymentID"), middleware.AdminIDFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"result":  "approved",
		"payment": res.Payment,
		"entry":   res.Entry,
		"wallet":  res.Wallet,
	})
}

// Reject handles POST /payments/{paymentID}/reject.
func (h *PaymentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.Reject(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, payment)
}

// Cancel handles POST /payments/{paymentID}/cancel.
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.Cancel(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, payment)
}
