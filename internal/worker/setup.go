package worker

import (
	"log/slog"

	"github.com/blackmichael/post-pipeline/internal/classifier"
	"github.com/blackmichael/post-pipeline/internal/config"
	"github.com/blackmichael/post-pipeline/internal/domain"
	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/blackmichael/post-pipeline/internal/moderation"
)

// NewPoolFromConfig wires the pipeline handlers and a pool consuming q.
func NewPoolFromConfig(
	cfg *config.Config,
	q jobs.Queue,
	repo domain.PostRepository,
	assets domain.AssetStore,
	publisher domain.Publisher,
	logger *slog.Logger,
) *Pool {
	handlers := NewHandlers(Deps{
		Repo:       repo,
		Assets:     assets,
		Classifier: classifier.NewClient(cfg.ClassifierURL),
		Publisher:  publisher,
		Filter:     moderation.NewFilter(cfg.ModerationDenylist, cfg.ModerationMask),
		Logger:     logger,
	}, Limits{
		MaxImageDimension:   cfg.MaxImageDimension,
		ClassifierInputSize: cfg.ClassifierInputSize,
		ClassifierTopK:      cfg.ClassifierTopK,
	})

	return NewPool(q, handlers.Map(), Options{
		Size:        cfg.Workers,
		Timeout:     cfg.JobTimeout,
		MaxAttempts: cfg.MaxAttempts,
	}, logger)
}
