package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flint/internal/cache"
	"flint/internal/config"
	"flint/internal/connections"
	"flint/internal/crypto"
	"flint/internal/database"
	"flint/internal/handlers"
	"flint/internal/logger"
	"flint/internal/middleware"
	"flint/internal/models"
	"flint/internal/provider"
	"flint/internal/provider/snaptrade"
	"flint/internal/provider/teller"
	"flint/internal/reconcile"
	"flint/internal/recovery"
	"flint/internal/scheduler"
	"flint/internal/services"
	"flint/internal/telemetry"
	"flint/internal/trading"
	"flint/internal/validator"
	"flint/internal/webhook"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "flint/internal/docs" // Import swagger docs
)

// @title           Flint API
// @version         1.0
// @description     Flint aggregates brokerage and bank accounts from SnapTrade and Teller into a local mirror.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	logger.Init(os.Getenv("ENV"), os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if appConfig.EncryptionKey == "" {
		return errors.New("ENCRYPTION_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      appConfig.OTelEnabled,
		ServiceName:  appConfig.OTelServiceName,
		Environment:  appConfig.Env,
		OTLPEndpoint: appConfig.OTelEndpoint,
		MetricsPort:  appConfig.MetricsPort,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			log.Warnw("telemetry shutdown failed", "error", err)
		}
	}()

	dbManager, err := database.NewManager(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	defer dbManager.Close()

	if err := dbManager.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	responseCache, err := cache.New(ctx, appConfig.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer responseCache.Close()

	enc, err := crypto.NewEncryptor(appConfig.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to create encryptor: %w", err)
	}
	validator.Register()

	// Initialize services
	db := dbManager.DB()
	credentialService := services.NewCredentialService(db, enc)
	mirrorService := services.NewMirrorService(db)
	auditService := services.NewAuditService(db)
	webhookLogService := services.NewWebhookLogService(db)
	goalService := services.NewGoalService(db)

	// Provider adapters; a provider without credentials stays unconfigured.
	adapters := map[models.Provider]provider.Adapter{}
	registrars := map[models.Provider]provider.Registrar{}
	verifiers := map[models.Provider]webhook.Verifier{}
	if appConfig.SnapTrade.Enabled() {
		st := snaptrade.New(appConfig.SnapTrade, appConfig.Transport, responseCache, appConfig.CacheTTL)
		adapters[models.ProviderSnapTrade] = st
		registrars[models.ProviderSnapTrade] = st
		verifiers[models.ProviderSnapTrade] = st
	} else {
		log.Warn("SnapTrade is not configured")
	}
	if appConfig.Teller.Enabled() {
		tl, err := teller.New(appConfig.Teller, appConfig.Transport)
		if err != nil {
			return fmt.Errorf("failed to create teller client: %w", err)
		}
		adapters[models.ProviderTeller] = tl
		verifiers[models.ProviderTeller] = tl
	} else {
		log.Warn("Teller is not configured")
	}

	coordinator := recovery.New(credentialService, auditService, registrars,
		appConfig.SnapTrade.UserIDPrefix, appConfig.RecoveryMaxIDVersions)
	reconciler := reconcile.New(mirrorService, coordinator, adapters)
	connectionService := connections.NewService(mirrorService, credentialService, auditService, coordinator, reconciler, registrars)
	tradingService := trading.NewService(mirrorService, coordinator, reconciler)
	processor := webhook.NewProcessor(webhookLogService, mirrorService, credentialService, verifiers, reconciler)

	var trigger handlers.SweepTrigger
	var sched *scheduler.Scheduler
	if appConfig.Sync.Enabled {
		sweeper := scheduler.NewSweeper(credentialService, mirrorService, auditService, reconciler, appConfig.Sync.StrikeThreshold)
		sched = scheduler.New(scheduler.ConfigFrom(appConfig.Sync, sweeper.Jobs))
		sched.Start()
		trigger = sched
	} else {
		log.Info("Background sync is disabled")
	}

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(processor, webhookLogService)
	connectionHandler := handlers.NewConnectionHandler(connectionService)
	accountHandler := handlers.NewAccountHandler(mirrorService)
	tradingHandler := handlers.NewTradingHandler(tradingService)
	goalHandler := handlers.NewGoalHandler(goalService)
	syncHandler := handlers.NewSyncHandler(trigger)

	// Initialize Gin router
	if appConfig.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogging())
	router.Use(middleware.ErrorHandler())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check endpoint
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 group
	v1 := router.Group("/api/v1")

	// Provider webhooks authenticate by signature, not by JWT
	webhooks := v1.Group("/webhooks")
	webhooks.POST("/snaptrade", webhookHandler.Receive(models.ProviderSnapTrade))
	webhooks.POST("/teller", webhookHandler.Receive(models.ProviderTeller))

	// Internal routes
	internal := v1.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(appConfig.InternalAPIKey))
	internal.POST("/sync", syncHandler.TriggerSweep)
	internal.GET("/webhooks/logs", webhookHandler.ListLogs)

	// Protected routes
	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(appConfig.JWTSecret))

	// Provider registration
	providers := protected.Group("/providers")
	providers.POST("/snaptrade/register", connectionHandler.RegisterSnapTrade)
	providers.POST("/teller/enrollments", connectionHandler.LinkTellerEnrollment)
	providers.DELETE("/:provider", connectionHandler.DisconnectProvider)

	// Connection routes
	conns := protected.Group("/connections")
	conns.GET("", connectionHandler.ListConnections)
	conns.POST("/portal", connectionHandler.Portal)
	conns.POST("/sync", connectionHandler.Sync)
	conns.POST("/:id/refresh", connectionHandler.RefreshConnection)
	conns.POST("/:id/disable", connectionHandler.DisableConnection)
	conns.DELETE("/:id", connectionHandler.RemoveConnection)

	// Account routes
	accounts := protected.Group("/accounts")
	accounts.GET("", accountHandler.ListAccounts)
	accounts.GET("/:id", accountHandler.GetAccount)
	accounts.GET("/:id/activities", accountHandler.ListActivities)
	accounts.GET("/:id/orders", tradingHandler.ListOrders)
	accounts.POST("/:id/orders", tradingHandler.PlaceOrder)
	accounts.GET("/:id/orders/:orderId", tradingHandler.GetOrder)
	accounts.DELETE("/:id/orders/:orderId", tradingHandler.CancelOrder)
	accounts.GET("/:id/symbols", tradingHandler.SearchSymbols)
	accounts.GET("/:id/crypto/pairs", tradingHandler.SearchCryptoPairs)
	accounts.POST("/:id/crypto/orders/preview", tradingHandler.PreviewCryptoOrder)
	accounts.POST("/:id/crypto/orders", tradingHandler.PlaceCryptoOrder)
	accounts.GET("/:id/crypto/quote", tradingHandler.GetCryptoQuote)

	// Goal routes
	goals := protected.Group("/goals")
	goals.POST("", goalHandler.CreateGoal)
	goals.GET("", goalHandler.ListGoals)
	goals.GET("/:id", goalHandler.GetGoal)
	goals.PUT("/:id", goalHandler.UpdateGoal)
	goals.DELETE("/:id", goalHandler.DeleteGoal)
	goals.POST("/:id/sync", goalHandler.SyncGoal)

	srv := &http.Server{
		Addr:         ":" + appConfig.Port,
		Handler:      otelhttp.NewHandler(router, "flint-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Flint server on port %s", appConfig.Port)
		log.Infof("Swagger documentation available at http://localhost:%s/swagger/index.html", appConfig.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown failed", "error", err)
	}
	if sched != nil {
		sched.Shutdown(30 * time.Second)
	}
	processor.Wait()

	log.Info("Server stopped")
	return nil
}
