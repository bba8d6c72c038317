package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gridinspect/bff/auth"
	"gridinspect/bff/cache"
	"gridinspect/bff/clients"
	"gridinspect/bff/config"
	"gridinspect/bff/database"
	"gridinspect/bff/dto"
	"gridinspect/bff/handlers"
	"gridinspect/bff/middleware"
	"gridinspect/bff/pubsub"
	"gridinspect/bff/queue"
	"gridinspect/bff/repository"
	"gridinspect/bff/service"
	"gridinspect/bff/ws"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("gateway starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Bool("local_mode", cfg.LocalMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	redisCache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisCache.Close()

	producer, err := queue.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("kafka producer failed", zap.Error(err))
	}
	defer producer.Close()

	repo := repository.NewPostgresRepo(db)
	statusCache := cache.NewStatusCache(redisCache)
	detector := clients.NewDetectorClient(cfg.DetectorURL)
	files := clients.NewFilesClient(cfg.FilesURL)

	analysisService := service.NewAnalysisService(repo, statusCache, producer, files, cfg.KafkaTopic, service.Limits{
		MaxFileSize:        cfg.MaxFileSize,
		MaxBatchFiles:      cfg.MaxBatchFiles,
		MaxBatchBytes:      cfg.MaxBatchBytes,
		UploadPreviewLimit: cfg.UploadPreviewLimit,
	}, logger)

	hub := ws.NewHub(logger)

	// Progress frames from the worker feed both the status cache and every
	// open WebSocket.
	subscriber := pubsub.NewSubscriber(redisCache, logger)
	go subscriber.Run(ctx, func(progress *dto.TaskProgress) {
		statusCache.Set(ctx, progress)
		hub.SendToTask(progress)
	})

	predictHandler := handlers.NewPredictHandler(detector, cfg.MaxFileSize, logger)
	analysisHandler := handlers.NewAnalysisHandler(analysisService, cfg.PreviewLimit, logger)
	filesHandler := handlers.NewFilesHandler(files, cfg.MaxFileSize, logger)
	wsHandler := handlers.NewWSHandler(analysisService, hub, logger)

	validator := auth.NewValidator(cfg.JWTSecret, cfg.LocalMode)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", predictHandler.Health)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/model/info", predictHandler.ModelInfo)
	api.HandleFunc("POST /api/predict", predictHandler.Predict)
	api.HandleFunc("POST /api/predict/batch", analysisHandler.CreateBatch)
	api.HandleFunc("GET /api/analysis/history", analysisHandler.History)
	api.HandleFunc("GET /api/analysis/tasks/{id}", analysisHandler.GetTask)
	api.HandleFunc("GET /api/analysis/tasks/{id}/status", analysisHandler.Status)
	api.HandleFunc("GET /api/analysis/tasks/{id}/images", analysisHandler.Images)
	api.HandleFunc("DELETE /api/analysis/tasks/{id}", analysisHandler.DeleteTask)
	api.HandleFunc("DELETE /api/analysis/tasks/{id}/images/{imageID}", analysisHandler.DeleteImage)
	api.HandleFunc("POST /api/files/upload", filesHandler.Upload)
	api.HandleFunc("GET /api/files/project/{id}", filesHandler.ProjectFiles)
	api.HandleFunc("GET /api/files/{id}", filesHandler.Metadata)
	api.HandleFunc("GET /api/files/{id}/download", filesHandler.Download)
	api.HandleFunc("GET /api/files/{id}/view", filesHandler.View)
	api.HandleFunc("DELETE /api/files/{id}", filesHandler.Delete)

	// Browsers cannot set headers on a WebSocket dial, so the progress
	// channel stays open; it only exposes per-task counters.
	wsRoutes := http.NewServeMux()
	wsRoutes.HandleFunc("GET /ws/tasks/{id}", wsHandler.Watch)

	mux.Handle("/api/", validator.Require(api))
	mux.Handle("/ws/", wsRoutes)

	handler := middleware.TraceID(
		middleware.Logging(logger)(
			middleware.Recovery(logger)(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}

	logger.Info("gateway stopped")
}
