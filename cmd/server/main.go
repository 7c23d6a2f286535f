package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelift/pixelift/internal"
	"github.com/pixelift/pixelift/internal/billing"
	"github.com/pixelift/pixelift/internal/email"
	"github.com/pixelift/pixelift/internal/entitlement"
	"github.com/pixelift/pixelift/internal/guest"
	"github.com/pixelift/pixelift/internal/handler"
	"github.com/pixelift/pixelift/internal/inference"
	infmock "github.com/pixelift/pixelift/internal/inference/mock"
	"github.com/pixelift/pixelift/internal/inference/replicate"
	"github.com/pixelift/pixelift/internal/metrics"
	"github.com/pixelift/pixelift/internal/middleware"
	"github.com/pixelift/pixelift/internal/repository"
	"github.com/pixelift/pixelift/internal/service"
	"github.com/pixelift/pixelift/internal/storage"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Initialize repository
	repo := repository.New(db)

	// Initialize object storage
	objects, err := newStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize inference provider
	provider := newInferenceProvider(cfg, logger)
	logger.Info("Inference provider ready", "provider", cfg.InferenceProvider)

	// Initialize billing (nil when Stripe is not configured)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			WeeklyPriceID:         cfg.StripeWeeklyPriceID,
			MonthlyPriceID:        cfg.StripeMonthlyPriceID,
			YearlyPriceID:         cfg.StripeYearlyPriceID,
			PremierWeeklyPriceID:  cfg.StripePremierWeeklyPriceID,
			PremierMonthlyPriceID: cfg.StripePremierMonthlyPriceID,
			PremierYearlyPriceID:  cfg.StripePremierYearlyPriceID,
			PackSmallPriceID:      cfg.StripePackSmallPriceID,
			PackLargePriceID:      cfg.StripePackLargePriceID,
		})
		logger.Info("Billing ready")
	} else {
		logger.Warn("Stripe not configured; billing disabled and profiles unverified")
	}

	// Guest sessions
	guests := guest.NewTracker(cfg.GuestTokenSecret)
	stages := guest.NewStageStore(cfg.StageTTL)

	// Storage alert email
	var emails email.EmailService
	if cfg.StorageAlertBytes > 0 && cfg.StorageAlertRecipient != "" {
		emails = email.NewSMTPEmailService(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, logger)
	}

	// Initialize services
	entitlements := entitlement.New(repo, billingService, cfg.FreeCredits, logger)
	profileService := service.NewProfileService(entitlements, repo, billingService, logger)
	enhanceService := service.NewEnhanceService(entitlements, repo, objects, provider,
		guests, stages, cfg.InferenceTimeout, logger)
	imageService := service.NewImageService(repo, objects, logger)
	checkoutService := service.NewCheckoutService(entitlements, profileService, repo,
		billingService, cfg.BaseURL, logger)
	retentionService := service.NewRetentionService(repo, objects, emails,
		cfg.StorageAlertBytes, cfg.StorageAlertRecipient, logger)

	var webhookService service.WebhookService
	if billingService != nil {
		webhookService = service.NewWebhookService(repo, billingService.Resolver(), logger)
	}

	// Initialize middleware
	isSecure := cfg.Env != "development"
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)

	// Initialize handlers
	profileHandler := handler.NewProfileHandler(profileService, logger)
	enhanceHandler := handler.NewEnhanceHandler(enhanceService, logger)
	imageHandler := handler.NewImageHandler(imageService, logger)
	billingHandler := handler.NewBillingHandler(checkoutService, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, webhookService, logger)
	retentionHandler := handler.NewRetentionHandler(retentionService, cfg.RetentionKey, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics (basic auth when configured)
	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	// Locally stored files (development storage provider)
	if cfg.StorageProvider == storage.ProviderLocal {
		filesFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", filesFS))
	}

	requireSubject := middleware.RequireSubject
	profileHandler.RegisterRoutes(mux, requireSubject)
	enhanceHandler.RegisterRoutes(mux, requireSubject)
	imageHandler.RegisterRoutes(mux, requireSubject)
	billingHandler.RegisterRoutes(mux, requireSubject)
	webhookHandler.RegisterRoutes(mux)
	retentionHandler.RegisterRoutes(mux)

	root := middleware.Stack(
		securityMw.Handler,
		metrics.Middleware,
		loggingMw.Handler,
		middleware.Identity,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newStorage builds the configured storage backend.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageProvider {
	case storage.ProviderR2:
		return storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		return storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
}

// newInferenceProvider builds the configured inference provider.
func newInferenceProvider(cfg *internal.Config, logger *slog.Logger) inference.Provider {
	if cfg.InferenceProvider == "replicate" {
		return replicate.New(replicate.Config{
			APIToken:     cfg.ReplicateAPIToken,
			ModelVersion: cfg.ReplicateModelVersion,
			PollInterval: cfg.InferencePollInterval,
			MaxPolls:     cfg.InferenceMaxPolls,
		}, logger)
	}
	return infmock.New()
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
