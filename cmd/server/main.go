package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/post-pipeline/internal/assets"
	"github.com/blackmichael/post-pipeline/internal/config"
	"github.com/blackmichael/post-pipeline/internal/domain"
	"github.com/blackmichael/post-pipeline/internal/gateway"
	"github.com/blackmichael/post-pipeline/internal/httpserver"
	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/blackmichael/post-pipeline/internal/notify"
	"github.com/blackmichael/post-pipeline/internal/queue"
	"github.com/blackmichael/post-pipeline/internal/store"
	"github.com/blackmichael/post-pipeline/internal/worker"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const reapInterval = 30 * time.Second

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

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	media, err := assets.NewFilesystem(cfg.MediaRoot)
	if err != nil {
		return fmt.Errorf("create asset store: %w", err)
	}

	hub := notify.NewHub(logger)

	var (
		q          jobs.Queue
		publisher  domain.Publisher = hub
		relay      *notify.Relay
		redisQueue *queue.Redis
	)
	if cfg.RedisURL != "" {
		client, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Info("connected to redis")

		redisQueue = queue.NewRedis(client, cfg.QueueName, cfg.VisibilityTimeout, logger)
		q = redisQueue
		publisher = notify.NewRedisPublisher(client)
		relay = notify.NewRelay(client, hub, logger)
	} else {
		if !cfg.InlineWorkers {
			return errors.New("REDIS_URL is required unless INLINE_WORKERS is enabled")
		}
		logger.Warn("REDIS_URL not set, using in-memory queue; jobs are lost on restart")
		q = queue.NewMemory(cfg.VisibilityTimeout)
	}

	dispatcher := jobs.NewDispatcher(q, logger)
	posts := domain.NewPostService(repo, media, dispatcher, publisher, logger)

	server := httpserver.NewServer(cfg.Port, posts, httpserver.Options{
		MediaRoot: cfg.MediaRoot,
		Gateway:   gateway.NewHandler(hub, logger),
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if relay != nil {
		g.Go(func() error {
			relay.Start(gctx)
			return nil
		})
	}

	if redisQueue != nil {
		g.Go(func() error {
			redisQueue.RunReaper(gctx, reapInterval)
			return nil
		})
	}

	if cfg.InlineWorkers {
		pool := worker.NewPoolFromConfig(cfg, q, repo, media, publisher, logger)
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	logger.Info("server started", "port", cfg.Port, "inline_workers", cfg.InlineWorkers)

	return g.Wait()
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
