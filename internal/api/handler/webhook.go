// internal/api/handler/webhook.go
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"creditledger/internal/domain"
	"creditledger/internal/service"
	"creditledger/internal/util"
	"creditledger/pkg/id"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Provider-Signature"

// EventQueue accepts provider events for asynchronous processing.
type EventQueue interface {
	Enqueue(ctx context.Context, event domain.ProviderEvent) error
}

// WebhookHandler receives payment provider callbacks.
type WebhookHandler struct {
	responder
	secret  []byte
	queue   EventQueue
	service service.ReconciliationService
}

// NewWebhookHandler creates a WebhookHandler. With a nil queue events are applied inline.
func NewWebhookHandler(secret string, queue EventQueue, svc service.ReconciliationService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		responder: responder{logger: logger},
		secret:    []byte(secret),
		queue:     queue,
		service:   svc,
	}
}

// HandlePaymentEvent handles POST /webhooks/payments.
func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.respondWithError(w, util.NewValidationError("body", err.Error()))
		return
	}

	if !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("webhook signature mismatch", zap.String("remote_addr", r.RemoteAddr))
		h.respondWithJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature", Code: "invalid_signature"})
		return
	}

	var event domain.ProviderEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.respondWithError(w, util.NewValidationError("body", err.Error()))
		return
	}
	event.Status = domain.PaymentStatus(strings.ToLower(strings.TrimSpace(string(event.Status))))
	if event.EventID == "" {
		event.EventID = id.NewEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(r.Context(), event); err != nil {
			// A non-2xx reply makes the provider redeliver.
			h.respondWithError(w, fmt.Errorf("enqueue provider event: %v: %w", err, util.ErrUnavailable))
			return
		}
		h.respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "event_id": event.EventID})
		return
	}

	res, err := h.service.IngestEvent(r.Context(), event)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "processed",
		"event_id": event.EventID,
		"outcome":  res.Outcome,
	})
}

func (h *WebhookHandler) validSignature(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature a provider would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
