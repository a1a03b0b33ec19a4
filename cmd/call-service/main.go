package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"teamhub-backend/internal/config"
	"teamhub-backend/internal/database"
	authHandler "teamhub-backend/internal/handler/http/auth"
	callHandler "teamhub-backend/internal/handler/http/call"
	userHandler "teamhub-backend/internal/handler/http/user"
	wsHandler "teamhub-backend/internal/handler/ws"
	"teamhub-backend/internal/middleware"
	"teamhub-backend/internal/repository/cockroach"
	redisRepo "teamhub-backend/internal/repository/redis"
	authService "teamhub-backend/internal/service/auth"
	callService "teamhub-backend/internal/service/call"
	"teamhub-backend/pkg/constants"
	"teamhub-backend/pkg/jwt"
	"teamhub-backend/pkg/logger"
	"teamhub-backend/pkg/metrics"
)

func main() {
	ctx := context.Background()

	logger.InitDefault()
	defer logger.Sync()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(cfg.JWTSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	// Connect to CockroachDB with exponential backoff
	db, err := connectDB(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to CockroachDB")

	// Connect to Redis
	redisDB, err := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Info("Connected to Redis")

	redisDB.StartHealthCheck(ctx, 10*time.Second)

	// Repositories
	callRepo := cockroach.NewCallRepository(db.Pool)
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	tokenRepo := redisRepo.NewTokenRepository(redisDB.Client)

	// Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// Services
	fabric := callService.NewRedisFabric(redisDB.Client)
	callSvc := callService.NewService(callRepo, conversationRepo, userRepo, fabric, appMetrics)
	authSvc := authService.NewService(userRepo, tokenRepo, jwtManager)

	// Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	authHdlr := authHandler.NewHandler(authSvc)
	userHdlr := userHandler.NewHandler(presenceRepo)
	hub := wsHandler.NewHub(redisDB.Client, presenceRepo, appMetrics)

	// Router
	router := gin.New()

	trustedProxies := []string{"127.0.0.1"}
	if !cfg.IsProduction() {
		trustedProxies = append(trustedProxies, "::1")
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewTokenRevocationChecker(tokenRepo)

	// Auth routes
	authGroup := router.Group("/v1/auth")
	{
		authGroup.POST("/register", authHdlr.Register)
		authGroup.POST("/login", authHdlr.Login)
		authGroup.POST("/refresh", authHdlr.Refresh)
		authGroup.POST("/logout", authHdlr.Logout)
	}

	// Call routes (all require authentication)
	callGroup := router.Group("/v1/calls")
	callGroup.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		callGroup.POST("", callHdlr.InitiateCall)
		callGroup.GET("/history", callHdlr.GetHistory)
		callGroup.POST("/:call_id/join", callHdlr.JoinCall)
		callGroup.POST("/:call_id/leave", callHdlr.LeaveCall)
		callGroup.POST("/:call_id/end", callHdlr.EndCall)
		callGroup.GET("/:call_id/participants", callHdlr.GetParticipants)

		// WebSocket endpoint for room events and WebRTC signaling
		callGroup.GET("/ws", func(c *gin.Context) {
			hub.ServeWS(c, callSvc)
		})
	}

	// User routes
	userGroup := router.Group("/v1/users")
	userGroup.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		userGroup.GET("/:user_id/presence", userHdlr.GetPresence)
	}

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Call service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down call service")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}
}

// connectDB dials CockroachDB, retrying with exponential backoff so the
// service survives a database that is still coming up.
func connectDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *database.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = database.NewDB(ctx, cfg.DBConnString(), database.DefaultDBConfig())
		if err == nil {
			return db, nil
		}

		if attempt < maxRetries {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			logger.Warn("CockroachDB connection failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			time.Sleep(delay)
		}
	}

	return nil, err
}
