// Package main runs the event registration HTTP server with the live
// check-in feed and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/expopass/backend/config"
	"github.com/expopass/backend/internal/auth"
	"github.com/expopass/backend/internal/checkin"
	"github.com/expopass/backend/internal/emaillogs"
	"github.com/expopass/backend/internal/formconfig"
	"github.com/expopass/backend/internal/mailer"
	"github.com/expopass/backend/internal/middleware"
	"github.com/expopass/backend/internal/passes"
	"github.com/expopass/backend/internal/payments"
	"github.com/expopass/backend/internal/registrations"
	"github.com/expopass/backend/internal/tickets"
	"github.com/expopass/backend/internal/upgrades"
	"github.com/expopass/backend/internal/worker"
	"github.com/expopass/backend/pkg/database"
	"github.com/expopass/backend/pkg/queue"
	"github.com/expopass/backend/pkg/redis"
	"github.com/expopass/backend/pkg/response"
	"github.com/expopass/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			PassesBucket:         cfg.AWS.PassesBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Registrations
	store := registrations.NewPostgres(pool, nil, logger)
	store.EnsureIndexes(ctx)

	// Form configs (per-role allow-lists)
	formRepo := formconfig.NewRepository(pool)
	formHandler := formconfig.NewHandler(formRepo, logger)

	registrationHandler := registrations.NewHandler(store, formRepo, jobQueue,
		cfg.Frontend.BaseURL, cfg.Admin.NotifyEmails, logger)

	// Ticket resolution and scanning
	resolver := tickets.NewResolver(store, cfg.Scan.FallbackLimit, logger)

	var renderer tickets.PassRenderer
	if cfg.Passes.RendererURL != "" {
		renderer = passes.NewRenderer(cfg.Passes.RendererURL, nil, logger)
	}
	var archive tickets.PassArchiver
	if s3Client != nil {
		archive = passes.NewArchive(s3Client, logger)
	}

	// Live check-in feed
	feedPubSub := checkin.NewRedisPubSub(rdb.Client, logger)
	hub := checkin.NewHub(feedPubSub, feedPubSub, logger)
	defer hub.Close()

	ticketHandler := tickets.NewHandler(resolver, renderer, hub, archive, logger)

	// Upgrades
	var orders upgrades.OrderCreator
	if cfg.Payment.APIBaseURL != "" {
		orders = payments.NewClient(cfg.Payment.APIBaseURL, nil, logger)
	}
	emailLogsRepo := emaillogs.NewRepository(pool)
	mail := mailer.NewSMTP(cfg.Email, emailLogsRepo, logger)
	upgradeService := upgrades.NewService(store, orders, mail, cfg.Payment.Currency, cfg.Frontend.BaseURL, logger)
	upgradeHandler := upgrades.NewHandler(upgradeService, logger)

	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo, store, jobQueue, cfg.Frontend.BaseURL, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	wsValidate := func(token string) error {
		_, err := jwtService.Validate(token)
		return err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: registration forms and ticket flows
	router.POST("/register/:role", registrationHandler.Register)
	router.POST("/tickets/validate", ticketHandler.Validate)
	router.POST("/tickets/scan", ticketHandler.Scan)
	router.POST("/upgrade", upgradeHandler.Upgrade)
	router.GET("/forms/:role", formHandler.Get)

	// Auth (public)
	router.POST("/auth/login", authHandler.Login)

	// Admin API (JWT required)
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService))
	{
		admin.GET("/registrations/:role/:id", registrationHandler.Get)
		admin.PATCH("/registrations/:role/:id", registrationHandler.Confirm)
		admin.POST("/registrations/:role/:id/approve", middleware.RequireRole("admin"), registrationHandler.Approve)
		admin.POST("/registrations/:role/:id/cancel", middleware.RequireRole("admin"), registrationHandler.Cancel)

		admin.PUT("/forms/:role", middleware.RequireRole("admin"), formHandler.Put)

		admin.GET("/emails", emailLogsHandler.List)
		admin.GET("/emails/:id", emailLogsHandler.Get)
		admin.POST("/emails/:id/resend", emailLogsHandler.Resend)

		admin.GET("/users", middleware.RequireRole("admin"), authHandler.List)
		admin.POST("/users", middleware.RequireRole("admin"), authHandler.Create)
	}

	// Self-service confirmation from the manage link in the email.
	router.PATCH("/registrations/:role/:id", registrationHandler.Confirm)

	// WebSocket check-in feed (token in query; no Authorization header required)
	router.GET("/ws/checkin", checkin.ServeWs(hub, logger, wsValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (outbound email)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	emailProcessor := worker.NewEmailProcessor(mail, jobQueue, logger)
	go emailProcessor.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
