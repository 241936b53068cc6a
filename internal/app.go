// internal/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	router "creditledger/internal/api"
	"creditledger/internal/api/handler"
	"creditledger/internal/api/middleware"
	"creditledger/internal/config"
	"creditledger/internal/events"
	"creditledger/internal/repository"
	"creditledger/internal/repository/postgres"
	"creditledger/internal/service"
	"creditledger/internal/util"
	"creditledger/pkg/db"
)

const queueDepthInterval = 15 * time.Second

// Application holds all the initialized components of the application.
type Application struct {
	Config *config.AppConfig
	Logger *zap.Logger
	DB     *sqlx.DB
	Redis  *redis.Client

	// Repositories
	WalletRepository  repository.WalletRepository
	LedgerRepository  repository.LedgerRepository
	PaymentRepository repository.PaymentRepository

	// Services
	TxManager             *service.TxManager
	LedgerService         service.LedgerService
	ReconciliationService service.ReconciliationService
	AdjustmentService     service.AdjustmentService
	ExportService         service.ExportService

	// Background processing
	Queue        *events.RedisQueue
	Publisher    service.EventPublisher
	Worker       *events.Worker
	IntegrityJob *service.IntegrityJob
	RateLimiter  *middleware.RateLimiter

	// HTTP API
	HTTPHandler http.Handler

	amqp *events.AMQPPublisher
}

// NewApplication creates a new Application instance.
func NewApplication() *Application {
	return &Application{Logger: util.GetLogger()}
}

// Initialize initializes all application components.
func (app *Application) Initialize(ctx context.Context) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	app.Config = cfg

	// 2. Initialize Logger
	app.Logger = util.InitLogger(cfg.LogLevel)
	app.Logger.Info("Application configuration loaded successfully.")

	// 3. Connect to Database
	database, err := db.NewPostgresDB(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.DB = database
	app.Logger.Info("Database connection established.")

	if cfg.DBAutoMigrate {
		if err := postgres.ApplySchema(ctx, app.DB); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		app.Logger.Info("Database schema applied.")
	}

	// 4. Initialize Repositories
	app.WalletRepository = postgres.NewWalletRepository()
	app.LedgerRepository = postgres.NewLedgerRepository()
	app.PaymentRepository = postgres.NewPaymentRepository()

	// 5. Messaging. Both are optional; without Redis webhooks are applied inline.
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Redis = client
		app.Queue = events.NewRedisQueue(client)
		app.Logger.Info("Redis event queue connected.")
	}

	app.Publisher = service.NopPublisher{}
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, app.Logger)
		if err != nil {
			app.Logger.Warn("AMQP unavailable, ledger events will not be published", zap.Error(err))
		} else {
			app.amqp = pub
			app.Publisher = pub
		}
	}

	// 6. Initialize Services
	// Pass the concrete db.BeginTx, db.CommitTx, db.RollbackTx functions from pkg/db
	app.TxManager = service.NewTxManager(app.DB, db.BeginTx, db.CommitTx, db.RollbackTx, cfg.MaxTxAttempts, app.Logger)
	app.LedgerService = service.NewLedgerService(
		app.TxManager,
		app.DB,
		app.WalletRepository,
		app.LedgerRepository,
		app.Publisher,
		app.Logger,
	)
	app.ReconciliationService = service.NewReconciliationService(
		app.TxManager,
		app.DB,
		app.PaymentRepository,
		app.LedgerRepository,
		app.LedgerService,
		app.Publisher,
		app.Logger,
		service.ReconciliationOptions{
			AutoApproveEnabled:   cfg.AutoApproveEnabled,
			AutoApproveThreshold: cfg.AutoApproveThreshold,
		},
	)
	app.AdjustmentService = service.NewAdjustmentService(
		app.TxManager,
		app.WalletRepository,
		app.LedgerRepository,
		app.LedgerService,
		app.Publisher,
		app.Logger,
	)
	app.ExportService = service.NewExportService(
		app.TxManager,
		app.WalletRepository,
		app.LedgerRepository,
		app.PaymentRepository,
		app.Logger,
	)
	app.IntegrityJob = service.NewIntegrityJob(app.LedgerService, app.WalletRepository, app.DB, cfg.IntegrityCheckInterval, app.Logger)
	if app.Queue != nil {
		app.Worker = events.NewWorker(app.Queue, app.ReconciliationService, app.Logger)
	}
	app.Logger.Info("Services initialized.")

	// 7. Initialize HTTP Handlers and Router
	var queue handler.EventQueue
	if app.Queue != nil {
		queue = app.Queue
	}
	if cfg.RateLimitRPS > 0 {
		app.RateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, app.Logger)
	}
	app.HTTPHandler = router.NewRouter(router.Handlers{
		Wallet:     handler.NewWalletHandler(app.LedgerService, app.Logger),
		Adjustment: handler.NewAdjustmentHandler(app.AdjustmentService, app.Logger),
		Payment:    handler.NewPaymentHandler(app.ReconciliationService, app.Logger),
		Export:     handler.NewExportHandler(app.ExportService, app.Logger),
		Webhook:    handler.NewWebhookHandler(cfg.WebhookSecret, queue, app.ReconciliationService, app.Logger),
	}, router.Options{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimiter:    app.RateLimiter,
		HealthCheck:    app.DB.PingContext,
	}, app.Logger)
	app.Logger.Info("HTTP router and handlers initialized.")

	return nil
}

// BackgroundTasks returns the long-running loops to start next to the HTTP
// server. Each returns when ctx is cancelled.
func (app *Application) BackgroundTasks() []func(ctx context.Context) error {
	var tasks []func(ctx context.Context) error
	if app.Worker != nil && app.Config.EventWorkerEnabled {
		tasks = append(tasks, app.Worker.Run)
	}
	if app.Queue != nil {
		tasks = append(tasks, func(ctx context.Context) error {
			return app.Queue.ReportDepth(ctx, queueDepthInterval, app.Logger)
		})
	}
	if app.IntegrityJob != nil {
		tasks = append(tasks, app.IntegrityJob.Run)
	}
	if app.RateLimiter != nil {
		tasks = append(tasks, app.RateLimiter.Cleanup)
	}
	return tasks
}

// Shutdown gracefully shuts down application resources.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Logger.Info("Shutting down application...")
	var errs []error
	if app.amqp != nil {
		if err := app.amqp.Close(); err != nil {
			app.Logger.Error("Failed to close AMQP connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close amqp connection: %w", err))
		}
	}
	if app.Redis != nil {
		if err := app.Redis.Close(); err != nil {
			app.Logger.Error("Failed to close Redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			app.Logger.Error("Failed to close database connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to close database connection: %w", err))
		} else {
			app.Logger.Info("Database connection closed.")
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	app.Logger.Info("Application shut down gracefully.")
	_ = app.Logger.Sync()
	return nil
}
