// internal/service/publisher.go
package service

import (
	"context"

	"go.uber.org/zap"
)

// Routing keys for operator notifications.
const (
	EventEntryAppended    = "ledger.entry.appended"
	EventIntegrityFault   = "ledger.integrity.fault"
	EventWalletStatus     = "ledger.wallet.status"
	EventPaymentApproved  = "payment.approved"
	EventPaymentRejected  = "payment.rejected"
	EventPaymentCancelled = "payment.cancelled"
)

// EventPublisher delivers notifications to downstream consumers.
// Publishing happens after commit and is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// NopPublisher discards every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

func publish(ctx context.Context, pub EventPublisher, logger *zap.Logger, routingKey string, payload interface{}) {
	if err := pub.Publish(ctx, routingKey, payload); err != nil {
		logger.Warn("failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
