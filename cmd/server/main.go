package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelsmith-app/pixelsmith/internal"
	"github.com/pixelsmith-app/pixelsmith/internal/billing"
	"github.com/pixelsmith-app/pixelsmith/internal/handler"
	"github.com/pixelsmith-app/pixelsmith/internal/identity"
	"github.com/pixelsmith-app/pixelsmith/internal/imagegen"
	imagegenmock "github.com/pixelsmith-app/pixelsmith/internal/imagegen/mock"
	"github.com/pixelsmith-app/pixelsmith/internal/metrics"
	"github.com/pixelsmith-app/pixelsmith/internal/middleware"
	"github.com/pixelsmith-app/pixelsmith/internal/repository"
	"github.com/pixelsmith-app/pixelsmith/internal/service"
	"github.com/pixelsmith-app/pixelsmith/internal/storage"
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

	// Initialize token verification
	resolver, err := identity.NewResolver(cfg.AuthIssuer, cfg.AuthJWKSURL)
	if err != nil {
		return fmt.Errorf("identity resolver initialization failed: %w", err)
	}

	// Initialize billing (nil when Stripe is not configured)
	var billingService billing.Service
	if cfg.StripeSecretKey != "" {
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
			ProPriceID:     cfg.StripeProPriceID,
			ProPlusPriceID: cfg.StripeProPlusPriceID,
		})
		logger.Info("Stripe billing enabled")
	} else {
		logger.Warn("Stripe billing not configured, all users resolve to the free tier")
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageProvider {
	case "r2":
		store, err = storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		}, logger)
	default:
		store, err = storage.NewLocalStorage(storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		}, logger)
	}
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	// Initialize image provider
	var provider imagegen.Provider
	switch cfg.ImageProvider {
	case "gateway":
		provider, err = imagegen.NewGateway(imagegen.GatewayConfig{
			APIKey:         cfg.ImageGatewayAPIKey,
			BaseURL:        cfg.ImageGatewayURL,
			RequestTimeout: cfg.ImageRequestTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("image provider initialization failed: %w", err)
		}
	default:
		provider = imagegenmock.New(logger)
		logger.Warn("using mock image provider")
	}

	// Initialize services
	entitlementService := service.NewEntitlementService(repo, billingService, logger)
	usageService := service.NewUsageService(repo, entitlementService, logger)
	imageService := service.NewImageService(provider, store, logger)

	// Initialize middleware
	authMw := middleware.NewAuthMiddleware(resolver, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)

	// Initialize handlers
	usageHandler := handler.NewUsageHandler(usageService, entitlementService, logger)
	billingHandler := handler.NewBillingHandler(billingService, entitlementService, repo, cfg.BaseURL, logger)
	webhookHandler := handler.NewWebhookHandler(billingService, entitlementService, usageService, logger)
	imageHandler := handler.NewImageHandler(imageService, usageService, logger)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint (basic auth when credentials are configured)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// Locally stored files (development)
	if cfg.StorageProvider == "local" {
		filesFS := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", filesFS))
	}

	// Stripe webhooks (signature-authenticated, no bearer token)
	if billingService != nil {
		webhookHandler.RegisterRoutes(mux)
	}

	// Authenticated API routes
	requireIdentity := authMw.RequireIdentity
	usageHandler.RegisterRoutes(mux, requireIdentity)
	billingHandler.RegisterRoutes(mux, requireIdentity)
	imageHandler.RegisterRoutes(mux, requireIdentity)

	// Wrap the mux with request logging and HTTP metrics
	root := middleware.Stack(loggingMw.Handler, metrics.Middleware)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
