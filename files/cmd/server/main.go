package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gridinspect/files/config"
	"gridinspect/files/handlers"
	"gridinspect/files/middleware"
	"gridinspect/files/repository"
	"gridinspect/files/service"
	"gridinspect/files/storage"
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

	logger.Info("files service starting",
		zap.String("port", cfg.Port),
		zap.String("bucket", cfg.MinioBucket),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		logger.Fatal("postgres ping failed", zap.Error(err))
	}

	blobs, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Fatal("minio connection failed", zap.Error(err))
	}

	fileService := service.NewFileService(repository.NewPostgresRepo(db), blobs, cfg.MaxFileSize, logger)
	handler := handlers.NewFilesHandler(fileService, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("POST /files/upload", handler.Upload)
	mux.HandleFunc("POST /files/batch-upload", handler.BatchUpload)
	mux.HandleFunc("POST /files/batch-download", handler.BatchDownload)
	mux.HandleFunc("GET /files/project/{projectID}", handler.ProjectFiles)
	mux.HandleFunc("GET /files/{id}", handler.Metadata)
	mux.HandleFunc("GET /files/{id}/download", handler.Download)
	mux.HandleFunc("DELETE /files/{id}", handler.Delete)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: middleware.Logging(logger)(
			middleware.Recovery(logger)(mux),
		),
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

	logger.Info("files service stopped")
}
