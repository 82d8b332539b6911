package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/allocator"
	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/config"
	"github.com/imagearena/api/internal/database"
	"github.com/imagearena/api/internal/eventbus"
	"github.com/imagearena/api/internal/handlers"
	"github.com/imagearena/api/internal/ledger"
	"github.com/imagearena/api/internal/locking"
	"github.com/imagearena/api/internal/middleware"
	"github.com/imagearena/api/internal/reservation"
	"github.com/imagearena/api/internal/telemetry"

	_ "github.com/imagearena/api/docs" // Swagger docs
)

// arenaStore is what the server needs from a catalog backend
type arenaStore interface {
	allocator.Catalog
	ledger.Store
	handlers.VoteResetter
}

// @title Image Arena API
// @version 0.1.0
// @description Fair exposure allocation and vote ledger for the image arena.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	ctx := context.Background()

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("Image arena API starting...",
		zap.String("version", "0.1.0"),
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
	)

	shutdownTelemetry, err := telemetry.InitTracer(ctx, "imagearena-api", cfg.OTLPEndpoint)
	if err != nil {
		// collector may be down; serve without traces
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	// Store
	var (
		store arenaStore
		db    *database.Postgres
	)
	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("Using in-memory store, data is lost on restart")
		store = catalog.NewMemory()
	case "postgres":
		if err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		db, err = database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		store = catalog.NewPostgres(db)
	default:
		logger.Fatal("unknown store backend", zap.String("backend", cfg.StoreBackend))
	}

	// Redis backs the cross-process lock and vote idempotency when configured
	var rdb *database.Redis
	if cfg.LockBackend == "redis" {
		rdb, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
	}

	var locker locking.Locker = locking.NewLocal()
	var deduper ledger.Deduper = ledger.NewMemoryDeduper(cfg.VoteDedupeTTL)
	if rdb != nil {
		locker = locking.NewRedisLocker(rdb.Client(), cfg.LockTTL, logger)
		deduper = ledger.NewRedisDeduper(rdb.Client(), cfg.VoteDedupeTTL)
	}

	// NATS is optional; events are best effort
	var bus *eventbus.Bus
	if cfg.NATSURL != "" {
		bus, err = eventbus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS, events disabled", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			if err := bus.EnsureStream(); err != nil {
				logger.Error("failed to ensure event stream", zap.Error(err))
			}
		}
	}

	signer := reservation.NewSigner(cfg.ReservationSecret, cfg.ReservationTTL)

	allocOpts := []allocator.Option{
		allocator.WithLocker(locker),
		allocator.WithSigner(signer),
		allocator.WithMaxCandidates(cfg.MaxCandidates),
		allocator.WithCanonicalLanguage(cfg.DefaultLocale),
		allocator.WithRetry(cfg.AllocateMaxAttempts, cfg.AllocateBackoffInitial, cfg.AllocateBackoffMax),
	}
	ledgerOpts := []ledger.Option{
		ledger.WithVerifier(signer, cfg.RequireReservationToken),
		ledger.WithDeduper(deduper),
	}
	if bus != nil {
		allocOpts = append(allocOpts, allocator.WithPublisher(bus))
		ledgerOpts = append(ledgerOpts, ledger.WithPublisher(bus))
	}
	alloc := allocator.New(store, logger, allocOpts...)
	votes := ledger.New(store, logger, ledgerOpts...)

	admin, err := middleware.NewAdminCredentials(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		logger.Fatal("invalid admin credentials", zap.Error(err))
	}
	if admin == nil {
		logger.Warn("Admin password not set, only bearer tokens are accepted on admin routes")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := handlers.NewEngine(cfg)
	if err != nil {
		logger.Fatal("failed to create router", zap.Error(err))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())

	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := handlers.NewHealthHandler(db, rdb, bus)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)

	arenaHandler := handlers.NewArenaHandler(alloc, votes, cfg, logger)
	adminHandler := handlers.NewAdminHandler(votes, store, admin, cfg.JWTSecret, cfg.AdminTokenTTL, logger)

	storeBreaker := middleware.NewCircuitBreaker(5, 2, 10*time.Second)
	storeBreaker.OnStateChange = func(from, to middleware.CircuitState) {
		logger.Warn("Store circuit breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	v1 := router.Group("/api/v1")
	{
		prompts := v1.Group("/prompts")
		prompts.Use(middleware.CircuitBreakerMiddleware(storeBreaker))
		{
			prompts.GET("/random", arenaHandler.RandomPrompt)
			prompts.GET("/:id/candidates", arenaHandler.PromptCandidates)
		}

		v1.POST("/votes",
			middleware.RateLimitMiddleware(middleware.NewPerMinuteLimiter(cfg.VoteRateLimit)),
			arenaHandler.CastVote,
		)

		v1.POST("/admin/login",
			middleware.RateLimitMiddleware(middleware.NewPerMinuteLimiter(10)),
			adminHandler.Login,
		)

		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(middleware.Auth(cfg.JWTSecret, admin))
		adminRoutes.Use(middleware.RequireRole(middleware.RoleViewer))
		{
			adminRoutes.GET("/stats", middleware.RequirePermission(middleware.PermReadStats), adminHandler.Stats)
			adminRoutes.POST("/reset-votes", middleware.RequirePermission(middleware.PermResetVotes), adminHandler.ResetVotes)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
