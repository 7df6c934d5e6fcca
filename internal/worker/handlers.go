package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackmichael/post-pipeline/internal/classifier"
	"github.com/blackmichael/post-pipeline/internal/domain"
	"github.com/blackmichael/post-pipeline/internal/imaging"
	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/blackmichael/post-pipeline/internal/moderation"
	"github.com/blackmichael/post-pipeline/internal/notify"
)

// Deps are the collaborators shared by the pipeline handlers.
type Deps struct {
	Repo       domain.PostRepository
	Assets     domain.AssetStore
	Classifier domain.Classifier
	Publisher  domain.Publisher
	Filter     *moderation.Filter
	Logger     *slog.Logger
}

// Limits tune the image handlers.
type Limits struct {
	MaxImageDimension   int
	ClassifierInputSize int
	ClassifierTopK      int
}

// Handlers implements the four post pipeline jobs. Every handler re-fetches
// the post by ID and treats a missing post as skipped.
type Handlers struct {
	Deps
	limits Limits
}

// NewHandlers creates the pipeline handlers.
func NewHandlers(deps Deps, limits Limits) *Handlers {
	return &Handlers{Deps: deps, limits: limits}
}

// Map returns the handler table for NewPool.
func (h *Handlers) Map() map[jobs.Kind]Handler {
	return map[jobs.Kind]Handler{
		jobs.KindNotifyFollowers: HandlerFunc(h.NotifyFollowers),
		jobs.KindModerateContent: HandlerFunc(h.ModerateContent),
		jobs.KindResizeImage:     HandlerFunc(h.ResizeImage),
		jobs.KindClassifyImage:   HandlerFunc(h.ClassifyImage),
	}
}

// NotifyFollowers sends a new_post event to every follower of the author.
// Delivery problems are logged and never retried.
func (h *Handlers) NotifyFollowers(ctx context.Context, job jobs.Job) (Outcome, error) {
	args, err := jobs.Decode[jobs.NotifyArgs](job)
	if err != nil {
		return OutcomeFailed, err
	}
	if args.PostID <= 0 {
		return OutcomeFailed, fmt.Errorf("%w: post_id %d", jobs.ErrInvalidPayload, args.PostID)
	}

	post, err := h.Repo.GetPost(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	followers, err := h.Repo.ListFollowers(ctx, post.AuthorID)
	if err != nil {
		h.Logger.Error("failed to list followers", "post_id", post.ID, "author_id", post.AuthorID, "error", err)
		return OutcomeFailed, nil
	}

	msg, err := notify.NewPostMessage(post.ID, post.AuthorID, post.AuthorName, post.Content)
	if err != nil {
		h.Logger.Error("failed to build new_post message", "post_id", post.ID, "error", err)
		return OutcomeFailed, nil
	}

	var failed int
	for _, id := range followers {
		if id == post.AuthorID {
			continue
		}
		if err := h.Publisher.Publish(ctx, domain.Recipient(id), msg); err != nil {
			h.Logger.Warn("failed to notify follower", "post_id", post.ID, "follower_id", id, "error", err)
			failed++
		}
	}

	h.Logger.Info("notified followers",
		"post_id", post.ID,
		"username", post.AuthorName,
		"followers", len(followers),
		"failed", failed,
	)
	if failed > 0 {
		return OutcomeFailed, nil
	}
	return OutcomeCompleted, nil
}

// ModerateContent masks denylisted terms in the post text and saves the
// post only if something changed.
func (h *Handlers) ModerateContent(ctx context.Context, job jobs.Job) (Outcome, error) {
	args, err := jobs.DecodePost(job)
	if err != nil {
		return OutcomeFailed, err
	}

	post, err := h.Repo.GetPost(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	censored, changed := h.Filter.Apply(post.Content)
	if !changed {
		h.Logger.Debug("post content is clean", "post_id", post.ID)
		return OutcomeCompleted, nil
	}

	err = h.Repo.UpdatePost(ctx, post.ID, domain.PostUpdate{Content: &censored})
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	h.Logger.Info("censored post content", "post_id", post.ID)
	return OutcomeCompleted, nil
}

// ResizeImage shrinks the post image in place so neither side exceeds the
// configured maximum. Images that already fit are left byte-identical.
func (h *Handlers) ResizeImage(ctx context.Context, job jobs.Job) (Outcome, error) {
	args, err := jobs.DecodePost(job)
	if err != nil {
		return OutcomeFailed, err
	}

	post, err := h.Repo.GetPost(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}
	if !post.HasImage() {
		return OutcomeSkipped, nil
	}

	data, err := h.Assets.Load(ctx, post.ImageRef)
	if errors.Is(err, domain.ErrNotFound) {
		h.Logger.Warn("post image is missing", "post_id", post.ID, "ref", post.ImageRef)
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	resized, changed, err := imaging.Shrink(data, h.limits.MaxImageDimension)
	if err != nil {
		// A corrupt or unsupported image will not get better on retry.
		return OutcomeFailed, jobs.Permanent(fmt.Errorf("resize %s: %w", post.ImageRef, err))
	}
	if !changed {
		return OutcomeSkipped, nil
	}

	if err := h.Assets.Store(ctx, post.ImageRef, resized); err != nil {
		return OutcomeFailed, err
	}

	h.Logger.Info("resized post image", "post_id", post.ID, "ref", post.ImageRef, "bytes", len(resized))
	return OutcomeCompleted, nil
}

// ClassifyImage tags the post with the classifier's top labels and tells
// the author. Failures are logged and end the job without a retry.
func (h *Handlers) ClassifyImage(ctx context.Context, job jobs.Job) (Outcome, error) {
	args, err := jobs.DecodePost(job)
	if err != nil {
		return OutcomeFailed, err
	}

	post, err := h.Repo.GetPost(ctx, args.PostID)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		h.Logger.Error("classification failed", "post_id", args.PostID, "error", err)
		return OutcomeFailed, nil
	}
	if !post.HasImage() {
		h.Logger.Debug("no image to classify", "post_id", post.ID)
		return OutcomeSkipped, nil
	}

	tags, err := h.classify(ctx, post)
	if errors.Is(err, domain.ErrNotFound) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		h.Logger.Error("classification failed", "post_id", post.ID, "error", err)
		return OutcomeFailed, nil
	}

	msg, err := notify.AIUpdateMessage(post.ID, tags)
	if err != nil {
		h.Logger.Error("failed to build ai_update message", "post_id", post.ID, "error", err)
		return OutcomeFailed, nil
	}
	if err := h.Publisher.Publish(ctx, domain.Recipient(post.AuthorID), msg); err != nil {
		h.Logger.Error("failed to publish ai_update", "post_id", post.ID, "error", err)
		return OutcomeFailed, nil
	}

	h.Logger.Info("classified post image", "post_id", post.ID, "tags", tags)
	return OutcomeCompleted, nil
}

// classify runs the model on the post image and stores the resulting tags.
func (h *Handlers) classify(ctx context.Context, post *domain.Post) (string, error) {
	data, err := h.Assets.Load(ctx, post.ImageRef)
	if err != nil {
		return "", fmt.Errorf("load image: %w", err)
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return "", err
	}
	size := h.limits.ClassifierInputSize
	input := imaging.Scale(img, size, size)

	labels, err := h.Classifier.Classify(ctx, input, h.limits.ClassifierTopK)
	if err != nil {
		return "", fmt.Errorf("classify: %w", err)
	}
	if len(labels) == 0 {
		return "", errors.New("classifier returned no labels")
	}

	tags := classifier.FormatTags(labels)
	if err := h.Repo.UpdatePost(ctx, post.ID, domain.PostUpdate{Tags: &tags}); err != nil {
		return "", fmt.Errorf("save tags: %w", err)
	}
	return tags, nil
}
