package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridinspect/worker/annotate"
	"gridinspect/worker/clients"
	"gridinspect/worker/config"
	"gridinspect/worker/kafka"
	"gridinspect/worker/pubsub"
	"gridinspect/worker/repository"
	"gridinspect/worker/service"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("analysis worker starting",
		zap.String("topic", cfg.KafkaTopic),
		zap.Int("workers", cfg.WorkerCount),
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis ping failed", zap.Error(err))
	}

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID)
	if err != nil {
		logger.Fatal("kafka consumer failed", zap.Error(err))
	}
	defer consumer.Close()

	processor := service.NewProcessor(
		repository.NewPostgresRepo(db),
		clients.NewDetectorClient(cfg.DetectorURL),
		clients.NewFilesClient(cfg.FilesURL),
		pubsub.NewPublisher(redisClient),
		annotate.NewAnnotator(cfg.FontPath, logger),
		cfg.WorkerCount,
		logger,
	)

	// Consume returns on rebalance; loop until shutdown.
	for {
		err := consumer.Consume(ctx, cfg.KafkaTopic, processor.Process)
		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}
		if err != nil {
			logger.Error("consumer error, retrying", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}

	logger.Info("analysis worker stopped")
}
