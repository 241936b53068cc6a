// internal/api/handler/adjustment.go
package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"creditledger/internal/api/middleware"
	"creditledger/internal/domain"
	"creditledger/internal/service"
)

// AdjustmentHandler serves admin-issued credits, debits and refunds.
type AdjustmentHandler struct {
	responder
	service service.AdjustmentService
}

// NewAdjustmentHandler creates a new AdjustmentHandler.
func NewAdjustmentHandler(svc service.AdjustmentService, logger *zap.Logger) *AdjustmentHandler {
	return &AdjustmentHandler{
		responder: responder{logger: logger},
		service:   svc,
	}
}

// CreditRequest represents the request body for an admin credit.
type CreditRequest struct {
	UserID      string           `json:"user_id"`
	UserName    string           `json:"user_name"`
	UserEmail   string           `json:"user_email"`
	Amount      decimal.Decimal  `json:"amount"`
	Type        domain.EntryType `json:"type,omitempty"`
	Description string           `json:"description"`
	AdminNotes  string           `json:"admin_notes,omitempty"`
}

// IssueCredit handles POST /admin/credits.
func (h *AdjustmentHandler) IssueCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	entry, err := h.service.IssueCredit(r.Context(), service.IssueCreditParams{
		UserID:      req.UserID,
		UserName:    req.UserName,
		UserEmail:   req.UserEmail,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: req.Description,
		AdminNotes:  req.AdminNotes,
		AdminID:     middleware.AdminIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, entry)
}

// DebitRequest represents the request body for an admin debit.
type DebitRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	AdminNotes  string          `json:"admin_notes,omitempty"`
	Override    bool            `json:"override,omitempty"`
}

// IssueDebit handles POST /admin/debits.
func (h *AdjustmentHandler) IssueDebit(w http.ResponseWriter, r *http.Request) {
	var req DebitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	entry, err := h.service.IssueDebit(r.Context(), service.IssueDebitParams{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Description: req.Description,
		AdminNotes:  req.AdminNotes,
		AdminID:     middleware.AdminIDFromContext(r.Context()),
		Override:    req.Override,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, entry)
}

// RefundRequest represents the request body for a refund.
type RefundRequest struct {
	OriginalReference string          `json:"original_reference"`
	Amount            decimal.Decimal `json:"amount"`
	Reason            string          `json:"reason"`
}

// IssueRefund handles POST /admin/refunds.
func (h *AdjustmentHandler) IssueRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	entry, err := h.service.IssueRefund(r.Context(), service.IssueRefundParams{
		OriginalReference: req.OriginalReference,
		Amount:            req.Amount,
		Reason:            req.Reason,
		AdminID:           middleware.AdminIDFromContext(r.Context()),
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, entry)
}
