// internal/api/handler/wallet.go
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"creditledger/internal/api/middleware"
	"creditledger/internal/api/types"
	"creditledger/internal/domain"
	"creditledger/internal/service"
	"creditledger/internal/util" // For custom errors
)

// WalletHandler handles HTTP requests related to wallet operations.
type WalletHandler struct {
	responder
	service service.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(svc service.LedgerService, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		responder: responder{logger: logger},
		service:   svc,
	}
}

func userIDParam(r *http.Request) (string, error) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		return "", util.NewValidationError("user_id", "must not be empty")
	}
	return userID, nil
}

// GetWalletBalance handles the get wallet balance request.
// GET /wallets/{userID}/balance
func (h *WalletHandler) GetWalletBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	wallet, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}

// GetTransactionHistory handles the get transaction history request.
// GET /wallets/{userID}/transactions
func (h *WalletHandler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	limit, offset := pagination(r)

	entries, total, err := h.service.ListEntries(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, types.NewPage(entries, limit, offset, total))
}

// CheckIntegrity recomputes the wallet from its ledger.
// GET /wallets/{userID}/integrity
func (h *WalletHandler) CheckIntegrity(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	check, err := h.service.RecomputeBalance(r.Context(), userID)
	if err != nil && !(check != nil && util.IsError(err, util.ErrIntegrityFault)) {
		h.respondWithError(w, err)
		return
	}
	// A detected fault is a successful check with consistent=false.
	h.respondWithJSON(w, http.StatusOK, check)
}

// SetStatusRequest represents the request body for a wallet status change.
type SetStatusRequest struct {
	Status domain.WalletStatus `json:"status"`
}

// SetStatus handles wallet status changes.
// PUT /wallets/{userID}/status
func (h *WalletHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	var req SetStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	wallet, err := h.service.SetWalletStatus(r.Context(), userID, req.Status, middleware.AdminIDFromContext(r.Context()))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, wallet)
}
