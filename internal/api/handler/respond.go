// internal/api/handler/respond.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"creditledger/internal/util"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 60 * time.Second

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	maxBodyBytes     = 1 << 20
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// responder carries the JSON helpers shared by all handlers.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// respondWithError maps service errors onto HTTP statuses.
func (h responder) respondWithError(w http.ResponseWriter, err error) {
	var dup *util.DuplicateReconciliationError
	if errors.As(err, &dup) {
		// A replayed reconciliation is a successful no-op.
		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"result":     "duplicate",
			"payment_id": dup.PaymentID,
			"entry_id":   dup.EntryID,
		})
		return
	}

	statusCode, code, message := classify(err)
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("unhandled service error", zap.Int("status", statusCode), zap.Error(err))
	}
	h.respondWithJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

func classify(err error) (int, string, string) {
	switch {
	case util.IsError(err, util.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input", validationMessage(err)
	case util.IsError(err, util.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found", "Wallet not found"
	case util.IsError(err, util.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found", "Payment not found"
	case util.IsError(err, util.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "Ledger entry not found"
	case util.IsError(err, util.ErrNotFound):
		return http.StatusNotFound, "not_found", "Resource not found"
	case util.IsError(err, util.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds", err.Error()
	case util.IsError(err, util.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case util.IsError(err, util.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry", "Resource already exists"
	case util.IsError(err, util.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict", "Concurrent modification, retry the request"
	case util.IsError(err, util.ErrWalletFrozen):
		return http.StatusLocked, "wallet_frozen", "Wallet is frozen"
	case util.IsError(err, util.ErrWalletSuspended):
		return http.StatusLocked, "wallet_suspended", "Wallet is suspended"
	case util.IsError(err, util.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "Service temporarily unavailable"
	case util.IsError(err, util.ErrIntegrityFault):
		return http.StatusInternalServerError, "integrity_fault", "Ledger integrity fault"
	}
	return http.StatusInternalServerError, "internal", "Internal server error"
}

// validationMessage strips wrapping context so clients see only the field problem.
func validationMessage(err error) string {
	var verr *util.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "Invalid input provided"
}

// decodeJSON decodes a bounded request body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return util.NewValidationError("body", err.Error())
	}
	return nil
}

// pagination reads limit and offset, falling back to the defaults on bad input.
func pagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
