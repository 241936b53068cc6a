// internal/api/router.go
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"creditledger/internal/api/handler"
	"creditledger/internal/api/middleware"
)

// Handlers groups the HTTP handlers mounted by NewRouter.
type Handlers struct {
	Wallet     *handler.WalletHandler
	Adjustment *handler.AdjustmentHandler
	Payment    *handler.PaymentHandler
	Export     *handler.ExportHandler
	Webhook    *handler.WebhookHandler
}

// Options configures the cross-cutting middleware.
type Options struct {
	JWTSecret      string
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	HealthCheck    func(ctx context.Context) error
}

// NewRouter sets up and returns a new HTTP router.
func NewRouter(h Handlers, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(chimiddleware.RequestID)                       // Add a request ID to the context
	r.Use(chimiddleware.RealIP)                          // Use the real IP address
	r.Use(middleware.Logger(logger))                     // Log HTTP requests
	r.Use(chimiddleware.Recoverer)                       // Recover from panics and return 500
	r.Use(chimiddleware.Timeout(handler.DefaultTimeout)) // Bound every request

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Export-Consistency"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if opts.HealthCheck != nil {
			if err := opts.HealthCheck(r.Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("UNAVAILABLE"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks authenticate with a body signature instead of a token.
	r.Post("/webhooks/payments", h.Webhook.HandlePaymentEvent)

	// Admin API
	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(opts.JWTSecret, logger))
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Limit)
		}

		r.Route("/wallets/{userID}", func(r chi.Router) {
			r.Get("/balance", h.Wallet.GetWalletBalance)
			r.Get("/transactions", h.Wallet.GetTransactionHistory)
			r.Get("/integrity", h.Wallet.CheckIntegrity)
			r.Put("/status", h.Wallet.SetStatus)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/credits", h.Adjustment.IssueCredit)
			r.Post("/debits", h.Adjustment.IssueDebit)
			r.Post("/refunds", h.Adjustment.IssueRefund)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.Payment.CreatePayment)
			r.Get("/", h.Payment.ListPayments)
			r.Route("/{paymentID}", func(r chi.Router) {
				r.Get("/", h.Payment.GetPayment)
				r.Post("/processing", h.Payment.MarkProcessing)
				r.Post("/approve", h.Payment.Approve)
				r.Post("/reject", h.Payment.Reject)
				r.Post("/cancel", h.Payment.Cancel)
			})
		})

		r.Get("/exports/{kind}", h.Export.Export)
	})

	return r
}
