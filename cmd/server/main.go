// Package main runs the live session HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/analysis"
	"github.com/aura-webinar/livesession/internal/auth"
	"github.com/aura-webinar/livesession/internal/changefeed"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/participants"
	"github.com/aura-webinar/livesession/internal/questions"
	"github.com/aura-webinar/livesession/internal/realtime"
	"github.com/aura-webinar/livesession/internal/recordings"
	"github.com/aura-webinar/livesession/internal/reports"
	"github.com/aura-webinar/livesession/internal/roles"
	"github.com/aura-webinar/livesession/internal/rooms"
	"github.com/aura-webinar/livesession/internal/sessions"
	"github.com/aura-webinar/livesession/internal/zego"
	"github.com/aura-webinar/livesession/pkg/database"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/redis"
	"github.com/aura-webinar/livesession/pkg/response"
	"github.com/aura-webinar/livesession/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if cfg.Database.RunMigration {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			ReportsBucket:        cfg.AWS.ReportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	feed := changefeed.New(rdb.Client, logger)
	hub := realtime.NewHub(logger, realtime.NewRedisBus(rdb.Client, logger))
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Repositories
	authRepo := auth.NewRepository(pool)
	sessionRepo := sessions.NewRepository(pool, feed, logger)
	participantRepo := participants.NewRepository(pool, feed, logger)
	questionRepo := questions.NewRepository(pool, feed, logger)
	recordingRepo := recordings.NewRepository(pool)
	reportRepo := reports.NewRepository(pool)

	// External collaborators. Interface values stay nil when a backend is not configured.
	var analyzer rooms.Analyzer
	if cfg.Analysis.Enabled() {
		analyzer = analysis.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.APIKey, cfg.Analysis.Timeout(), logger)
	} else {
		logger.Warn("analysis service not configured; insights use the fallback")
	}
	var objects recordings.ObjectStore
	var standalone recordings.Standalone
	if s3Client != nil {
		objects = s3Client
		if cfg.Recording.StandaloneEnabled {
			standalone = recordings.NewStandaloneService(recordingRepo, s3Client, logger)
		}
	}

	registry := rooms.NewRegistry(rooms.Deps{
		Sessions:     sessionRepo,
		Participants: participantRepo,
		Questions:    questionRepo,
		Feed:         feed,
		Hub:          hub,
		Standalone:   standalone,
		Analyzer:     analyzer,
		IdleClose:    cfg.Engine.IdleClose(),
		Logger:       logger,
	})

	// Handlers
	authHandler := auth.NewHandler(authRepo, jwtService, logger)
	sessionHandler := sessions.NewHandler(sessionRepo, registry, logger)
	participantHandler := participants.NewHandler(registry, logger)
	questionHandler := questions.NewHandler(questionRepo, analyzer, registry, logger)
	recordingHandler := recordings.NewHandler(recordingRepo, sessionRepo, objects, logger)
	reportHandler := reports.NewHandler(registry, jobQueue, reportRepo, logger)
	zegoHandler := zego.NewHandler(sessionRepo, cfg.Zego, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions and lifecycle
		api.POST("/sessions", sessionHandler.Create)
		api.GET("/sessions", sessionHandler.List)
		api.GET("/sessions/:id", sessionHandler.Snapshot)
		api.POST("/sessions/:id/refresh", sessionHandler.Refresh)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.GET("/sessions/:id/analytics", sessionHandler.Analytics)
		api.POST("/sessions/:id/insights", sessionHandler.RequestInsights)
		api.GET("/sessions/:id/transport-token", zegoHandler.GetToken)

		// Recording
		api.POST("/sessions/:id/recording/start", sessionHandler.StartRecording)
		api.POST("/sessions/:id/recording/stop", sessionHandler.StopRecording)
		api.GET("/sessions/:id/recordings", recordingHandler.ListBySession)
		api.GET("/recordings/:id/download-url", recordingHandler.GenerateDownloadURL)

		// Participants
		api.POST("/sessions/:id/join", participantHandler.Join)
		api.POST("/sessions/:id/leave", participantHandler.Leave)
		api.POST("/sessions/:id/participants/:participantId/mute", participantHandler.Mute)
		api.DELETE("/sessions/:id/participants/:participantId", participantHandler.Remove)

		// Questions
		api.GET("/sessions/:id/questions", questionHandler.List)
		api.POST("/sessions/:id/questions", questionHandler.Ask)
		api.POST("/sessions/:id/questions/:questionId/answer", questionHandler.Answer)

		// Reports
		api.GET("/sessions/:id/report", reportHandler.Download)
		api.POST("/sessions/:id/report/archive", middleware.RequireCapability(roles.GenerateReports), reportHandler.Archive)
		api.GET("/sessions/:id/reports", middleware.RequireCapability(roles.GenerateReports), reportHandler.ListArchived)

		// Admin
		admin := api.Group("/admin")
		admin.GET("/users", middleware.RequireCapability(roles.ManageUsers), authHandler.List)
		admin.PATCH("/users/:id/role", middleware.RequireCapability(roles.ManageUsers), authHandler.UpdateRole)
		admin.GET("/metrics", middleware.RequireCapability(roles.AccessSystemMetrics), sessionHandler.SystemMetrics)

		// WebSocket (token may be passed as ?token= on the upgrade request)
		api.GET("/ws/sessions/:id", realtime.ServeWs(hub))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	registry.CloseAll()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
