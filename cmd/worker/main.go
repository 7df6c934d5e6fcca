package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/post-pipeline/internal/assets"
	"github.com/blackmichael/post-pipeline/internal/config"
	"github.com/blackmichael/post-pipeline/internal/notify"
	"github.com/blackmichael/post-pipeline/internal/queue"
	"github.com/blackmichael/post-pipeline/internal/store"
	"github.com/blackmichael/post-pipeline/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(cfg.LogLevel)

	var (
		workers      int
		reapInterval time.Duration
	)
	flag.IntVar(&workers, "workers", cfg.Workers, "Number of concurrent jobs")
	flag.DurationVar(&reapInterval, "reap-interval", 30*time.Second, "How often expired job leases are reclaimed (0 disables)")
	flag.Parse()

	if workers <= 0 {
		return errors.New("--workers must be positive")
	}
	cfg.Workers = workers

	if cfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for a standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	media, err := assets.NewFilesystem(cfg.MediaRoot)
	if err != nil {
		return fmt.Errorf("create asset store: %w", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	q := queue.NewRedis(client, cfg.QueueName, cfg.VisibilityTimeout, logger)
	pool := worker.NewPoolFromConfig(cfg, q, repo, media, notify.NewRedisPublisher(client), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	if reapInterval > 0 {
		g.Go(func() error {
			q.RunReaper(gctx, reapInterval)
			return nil
		})
	}

	logger.Info("worker started", "workers", cfg.Workers, "queue", cfg.QueueName)

	return g.Wait()
}
