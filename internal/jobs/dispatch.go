package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/blackmichael/post-pipeline/internal/domain"
)

// Flags select which optional stages of the post pipeline apply.
type Flags struct {
	HasImage bool
}

// stage describes one job of the post pipeline and when it fires.
type stage struct {
	kind    Kind
	applies func(Flags) bool
}

func always(Flags) bool          { return true }
func withImage(flags Flags) bool { return flags.HasImage }

// createStages is the full fan-out for a newly created post.
var createStages = []stage{
	{kind: KindNotifyFollowers, applies: always},
	{kind: KindModerateContent, applies: always},
	{kind: KindResizeImage, applies: withImage},
	{kind: KindClassifyImage, applies: withImage},
}

// Dispatcher turns post lifecycle events into queued jobs. It implements
// domain.Pipeline.
type Dispatcher struct {
	queue  Queue
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher that enqueues onto q.
func NewDispatcher(q Queue, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: q, logger: logger}
}

// DispatchCreated enqueues the post pipeline for a new post.
func (d *Dispatcher) DispatchCreated(ctx context.Context, post *domain.Post) error {
	flags := Flags{HasImage: post.HasImage()}

	var errs []error
	for _, st := range createStages {
		if !st.applies(flags) {
			continue
		}

		var (
			job Job
			err error
		)
		if st.kind == KindNotifyFollowers {
			job, err = New(st.kind, NotifyArgs{
				PostID:   post.ID,
				AuthorID: post.AuthorID,
				Username: post.AuthorName,
				Content:  post.Content,
			})
		} else {
			job, err = New(st.kind, PostArgs{PostID: post.ID})
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := d.queue.Enqueue(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", st.kind, err))
			continue
		}
		d.logger.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind, "post_id", post.ID)
	}

	return errors.Join(errs...)
}

// DispatchEdited enqueues moderation of a post whose text changed.
func (d *Dispatcher) DispatchEdited(ctx context.Context, postID int64) error {
	job, err := New(KindModerateContent, PostArgs{PostID: postID})
	if err != nil {
		return err
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Kind, err)
	}
	d.logger.Debug("job enqueued", "job_id", job.ID, "kind", job.Kind, "post_id", postID)
	return nil
}
