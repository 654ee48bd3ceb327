package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"payrecon/internal/common/cache"
	"payrecon/internal/common/database"
	"payrecon/internal/common/middleware"
	"payrecon/internal/common/nats"
	"payrecon/internal/dispute"
	"payrecon/internal/identity"
	"payrecon/internal/invoice"
	"payrecon/internal/ledger"
	ledgerapi "payrecon/internal/ledger/api"
	ledgerstore "payrecon/internal/ledger/store"
	"payrecon/internal/notify"
	"payrecon/internal/providers/razorpay"
	"payrecon/internal/providers/stripe"
	"payrecon/internal/refund"
	"payrecon/internal/risk"
	"payrecon/internal/settlement"
	"payrecon/internal/webhook"
)

// Config holds service configuration
type Config struct {
	Port           int           `envconfig:"PORT" default:"8085"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string        `envconfig:"LOG_FORMAT" default:"json"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	Database database.Config
	NATS     nats.Config
	Redis    cache.Config
	Identity identity.Config
	Webhook  webhook.Config
	Invoice  invoice.Config
	Notify   notify.Config
	Razorpay razorpay.Config
	Stripe   stripe.Config
	Risk     risk.Config
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsClient.Close()
	if _, err := natsClient.EnsureEventStream(ctx, cfg.NATS.Stream); err != nil {
		return err
	}
	publisher := nats.NewPublisher(natsClient, logger)

	redisClient, err := cache.New(ctx, cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisClient.Close()

	verifier, err := identity.NewVerifier(cfg.Identity)
	if err != nil {
		return err
	}

	// Ledger and webhook ingestion
	ledgerStore := ledgerstore.New(db)
	mutator := ledger.NewMutator(ledgerStore, logger)
	checkout, err := webhook.NewCheckoutVerifier(cfg.Webhook)
	if err != nil {
		return err
	}
	ledgerService := ledger.NewService(ledgerStore, mutator, checkout, logger)

	signatures, err := webhook.NewVerifier(cfg.Webhook)
	if err != nil {
		return err
	}
	webhookStore := webhook.NewPostgresStore(db)
	gateway := webhook.NewGateway(signatures, webhookStore, webhook.NewDispatcher(mutator, logger),
		publisher, cfg.Webhook.ProcessTimeout, logger)
	if cfg.Stripe.WebhookSecret != "" {
		src, err := stripe.NewWebhookSource(cfg.Stripe.WebhookSecret)
		if err != nil {
			return err
		}
		gateway.Register(src)
	}
	replayer := webhook.NewReplayer(webhookStore, gateway, cfg.Webhook, logger)

	// Optional collaborators stay nil when unconfigured.
	var invoices settlement.InvoiceGenerator
	if cfg.Invoice.Enabled() {
		mc, err := invoice.NewMinioClient(cfg.Invoice)
		if err != nil {
			return err
		}
		gen := invoice.NewGenerator(mc, cfg.Invoice, logger)
		if err := gen.EnsureBucket(ctx); err != nil {
			return err
		}
		invoices = gen
	} else {
		logger.Warn("invoice storage not configured, invoices disabled")
	}

	var mailer settlement.EmailSender
	if cfg.Notify.EmailEnabled() {
		mailer = notify.NewMailer(cfg.Notify, logger)
	}

	// Refunds go back through the gateway that took the payment.
	gateways := refund.NewGatewayRouter()
	if cfg.Razorpay.Enabled() {
		r, err := razorpay.NewRefunder(cfg.Razorpay, logger)
		if err != nil {
			return err
		}
		gateways.Handle("pay_", r)
	}
	if cfg.Stripe.Enabled() {
		r, err := stripe.NewRefunder(cfg.Stripe, logger)
		if err != nil {
			return err
		}
		gateways.Handle("pi_", r)
	}
	var refunder refund.GatewayRefunder
	if gateways.Len() > 0 {
		refunder = gateways
	} else {
		logger.Warn("no payment gateway configured, gateway refunds disabled")
	}

	settlements := settlement.NewManager(settlement.NewPostgresStore(db), invoices, mailer, publisher, logger)
	disputes := dispute.NewService(dispute.NewPostgresStore(db), publisher, logger)
	refunds := refund.NewService(refund.NewPostgresStore(db), refunder, publisher, logger)

	riskStore := risk.NewPostgresStore(db)
	sweeper := risk.NewSweeper(riskStore, redisClient.Locker(), cfg.Risk, logger)

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		checks := []error{db.HealthCheck(r.Context()), natsClient.HealthCheck(), redisClient.HealthCheck(r.Context())}
		if err := errors.Join(checks...); err != nil {
			logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	limiter := redisClient.RateLimiter(cfg.Redis.RateLimit, cfg.Redis.RateLimitWindow)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(limiter, middleware.ClientIP)).
			Method(http.MethodPost, "/webhooks/gateway", webhook.NewHandler(gateway, cfg.Webhook, logger))
		if cfg.Stripe.WebhookSecret != "" {
			r.With(middleware.RateLimit(limiter, middleware.ClientIP)).
				Method(http.MethodPost, "/webhooks/stripe",
					webhook.NewSourceHandler(gateway, stripe.SourceName, "Stripe-Signature", cfg.Webhook, logger))
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(verifier))

			r.Mount("/settlements", settlement.NewHandler(settlements, logger).
				Routes(middleware.Idempotency(redisClient.Idempotency(), cfg.IdempotencyTTL, logger)))
			r.Mount("/disputes", dispute.NewHandler(disputes, logger).Routes())
			r.Mount("/refunds", refund.NewHandler(refunds, logger).Routes())
			r.Mount("/risk", risk.NewHandler(riskStore, logger).Routes())
			ledgerHandler := ledgerapi.NewHandler(ledgerService)
			r.Mount("/ledger", ledgerHandler.Routes())
			r.Mount("/payments", ledgerHandler.PaymentRoutes())
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting payrecon service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		replayer.Run(gctx, cfg.Webhook.ReplayInterval)
		return nil
	})

	g.Go(func() error {
		sweeper.Run(gctx, cfg.Risk.SweepInterval)
		return nil
	})

	if cfg.Notify.SlackEnabled() {
		worker := notify.NewWorker(notify.NewSlack(&http.Client{Timeout: cfg.Notify.SlackTimeout}),
			cfg.Notify.SlackWebhook, logger)
		g.Go(func() error {
			err := worker.Run(gctx, natsClient, cfg.NATS.Stream)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func migrateUp(url string, logger *slog.Logger) error {
	m, err := database.NewMigrator(url, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
