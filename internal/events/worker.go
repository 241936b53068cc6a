// internal/events/worker.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/metrics"
	"creditledger/internal/service"
	"creditledger/internal/util"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries  = 3
	defaultPopTimeout  = 5 * time.Second
	defaultBackoffUnit = time.Second
)

// Source is the queue the worker drains. Popped events stay owned by the
// source until acked; Requeue hands back anything left unacked.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Ack(ctx context.Context, data []byte) error
	Requeue(ctx context.Context) (int, error)
	PushToDLQ(ctx context.Context, data []byte) error
}

// Ingester applies one provider event.
type Ingester interface {
	IngestEvent(ctx context.Context, event domain.ProviderEvent) (*service.IngestResult, error)
}

// Worker pops provider events and applies them through the reconciliation service.
type Worker struct {
	source     Source
	ingester   Ingester
	logger     *zap.Logger
	maxRetries int
	popTimeout time.Duration
	backoff    func(attempt int) time.Duration
}

// NewWorker creates a Worker with the default retry policy.
func NewWorker(source Source, ingester Ingester, logger *zap.Logger) *Worker {
	return &Worker{
		source:     source,
		ingester:   ingester,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		popTimeout: defaultPopTimeout,
		backoff:    func(attempt int) time.Duration { return time.Duration(attempt) * defaultBackoffUnit },
	}
}

// Run processes events until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("provider event worker started")
	if n, err := w.source.Requeue(ctx); err != nil {
		w.logger.Error("failed to requeue unacked provider events", zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("requeued provider events left in flight by a previous run", zap.Int("count", n))
	}
	for {
		if ctx.Err() != nil {
			w.logger.Info("provider event worker stopped")
			return nil
		}
		data, err := w.source.Pop(ctx, w.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("failed to pop provider event", zap.Error(err))
			w.sleep(ctx, w.popTimeout)
			continue
		}
		if data == nil {
			continue
		}
		w.Handle(ctx, data)
	}
}

// Handle applies one raw event, retrying transient failures and parking the
// rest in the dead-letter queue. The event is acked once it is applied or
// dead-lettered; if ctx ends first it stays unacked for redelivery.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	if !w.handle(ctx, data) {
		return
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.source.Ack(ackCtx, data); err != nil {
		w.logger.Error("failed to ack provider event", zap.Error(err), zap.ByteString("data", data))
	}
}

// handle reports whether the event was settled.
func (w *Worker) handle(ctx context.Context, data []byte) bool {
	var event domain.ProviderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		w.logger.Error("failed to unmarshal provider event", zap.Error(err), zap.ByteString("data", data))
		return w.deadLetter(ctx, data, "malformed")
	}
	log := w.logger.With(zap.String("event_id", event.EventID), zap.String("payment_id", event.PaymentID))

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		res, err := w.ingester.IngestEvent(ctx, event)
		if err == nil {
			metrics.ProviderEvents.WithLabelValues(string(res.Outcome)).Inc()
			log.Info("provider event applied", zap.String("outcome", string(res.Outcome)))
			return true
		}
		if ctx.Err() != nil {
			log.Warn("stopped while applying provider event, leaving it for redelivery", zap.Error(err))
			return false
		}
		if !isTransient(err) {
			log.Error("provider event rejected", zap.Error(err))
			return w.deadLetter(ctx, data, "rejected")
		}
		log.Warn("failed to apply provider event, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < w.maxRetries && !w.sleep(ctx, w.backoff(attempt)) {
			log.Warn("stopped while retrying provider event, leaving it for redelivery")
			return false
		}
	}

	log.Error("retries exhausted for provider event, moving to DLQ")
	return w.deadLetter(ctx, data, "exhausted")
}

// deadLetter parks data in the DLQ and reports whether it got there.
func (w *Worker) deadLetter(ctx context.Context, data []byte, reason string) bool {
	metrics.ProviderEvents.WithLabelValues("dlq_" + reason).Inc()
	// The event must reach the DLQ even when shutdown cancelled ctx.
	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.source.PushToDLQ(dlqCtx, data); err != nil {
		w.logger.Error("failed to push provider event to DLQ", zap.Error(err), zap.ByteString("data", data))
		return false
	}
	return true
}

// sleep waits for d and reports false if ctx ended first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// isTransient reports whether a failed ingest may succeed if repeated.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case util.IsError(err, util.ErrInvalidInput),
		util.IsError(err, util.ErrInvalidTransition),
		util.IsError(err, util.ErrWalletFrozen),
		util.IsError(err, util.ErrNotFound),
		util.IsError(err, util.ErrPaymentNotFound):
		return false
	}
	return true
}
