package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	imageDir = "post_images"
	videoDir = "post_videos"

	commentPreviewLen = 20
)

var (
	imageExts = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}}
	videoExts = map[string]struct{}{".mp4": {}, ".mov": {}, ".webm": {}}
)

// PostService owns the API-side behaviour of posts and comments: it
// persists changes synchronously and hands follow-up work to the pipeline.
type PostService struct {
	repo      PostRepository
	assets    AssetStore
	pipeline  Pipeline
	publisher Publisher
	logger    *slog.Logger
}

// NewPostService creates a PostService.
func NewPostService(repo PostRepository, assets AssetStore, pipeline Pipeline, publisher Publisher, logger *slog.Logger) *PostService {
	return &PostService{
		repo:      repo,
		assets:    assets,
		pipeline:  pipeline,
		publisher: publisher,
		logger:    logger,
	}
}

// CreatePost stores the uploads and the post, then dispatches the post
// pipeline. A dispatch failure is logged and does not fail the request.
func (s *PostService) CreatePost(ctx context.Context, in NewPost) (*Post, error) {
	if strings.TrimSpace(in.Content) == "" && in.Image == nil && in.Video == nil {
		return nil, fmt.Errorf("%w: post needs content or media", ErrInvalidInput)
	}

	post := &Post{
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Content:    in.Content,
		CreatedAt:  time.Now().UTC(),
	}

	if in.Image != nil {
		ref, err := s.storeUpload(ctx, imageDir, imageExts, in.Image)
		if err != nil {
			return nil, fmt.Errorf("store image: %w", err)
		}
		post.ImageRef = ref
	}
	if in.Video != nil {
		ref, err := s.storeUpload(ctx, videoDir, videoExts, in.Video)
		if err != nil {
			s.removeAssets(ctx, post)
			return nil, fmt.Errorf("store video: %w", err)
		}
		post.VideoRef = ref
	}

	if err := s.repo.CreatePost(ctx, post); err != nil {
		s.removeAssets(ctx, post)
		return nil, fmt.Errorf("create post: %w", err)
	}

	if err := s.pipeline.DispatchCreated(ctx, post); err != nil {
		s.logger.Error("failed to dispatch post pipeline", "post_id", post.ID, "error", err)
	}

	return post, nil
}

// GetPost returns a post by ID.
func (s *PostService) GetPost(ctx context.Context, id int64) (*Post, error) {
	return s.repo.GetPost(ctx, id)
}

// EditPost overwrites the content of a post owned by actor and schedules
// moderation of the new text.
func (s *PostService) EditPost(ctx context.Context, actor Account, id int64, content string) (*Post, error) {
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != actor.ID {
		return nil, ErrForbidden
	}

	if err := s.repo.UpdatePost(ctx, id, PostUpdate{Content: &content}); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	post.Content = content

	if err := s.pipeline.DispatchEdited(ctx, id); err != nil {
		s.logger.Error("failed to dispatch moderation", "post_id", id, "error", err)
	}

	return post, nil
}

// DeletePost removes a post owned by actor together with its comments and
// stored media.
func (s *PostService) DeletePost(ctx context.Context, actor Account, id int64) error {
	post, err := s.repo.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if post.AuthorID != actor.ID {
		return ErrForbidden
	}

	if err := s.repo.DeletePost(ctx, id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	s.removeAssets(ctx, post)
	return nil
}

// SharePost increments the share counter and returns the new count.
func (s *PostService) SharePost(ctx context.Context, id int64) (int64, error) {
	return s.repo.IncrementShares(ctx, id)
}

// AddComment stores a comment and notifies the post owner, unless the owner
// is commenting on their own post.
func (s *PostService) AddComment(ctx context.Context, in NewComment) (*Comment, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: comment text is required", ErrInvalidInput)
	}

	post, err := s.repo.GetPost(ctx, in.PostID)
	if err != nil {
		return nil, err
	}

	comment := &Comment{
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		PostID:     in.PostID,
		Text:       in.Text,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}

	if comment.AuthorID != post.AuthorID {
		msg := CommentNotification(comment.AuthorName, comment.Text)
		if err := s.publisher.Publish(ctx, Recipient(post.AuthorID), msg); err != nil {
			s.logger.Warn("failed to publish comment notification",
				"post_id", post.ID,
				"comment_id", comment.ID,
				"error", err,
			)
		}
	}

	return comment, nil
}

// ListComments returns the comments on a post.
func (s *PostService) ListComments(ctx context.Context, postID int64) ([]Comment, error) {
	if _, err := s.repo.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, postID)
}

// DeleteComment removes a comment written by actor.
func (s *PostService) DeleteComment(ctx context.Context, actor Account, id int64) error {
	comment, err := s.repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if comment.AuthorID != actor.ID {
		return ErrForbidden
	}
	return s.repo.DeleteComment(ctx, id)
}

// Follow makes actor a follower of the given account.
func (s *PostService) Follow(ctx context.Context, actor Account, followeeID int64) error {
	if actor.ID == followeeID {
		return fmt.Errorf("%w: cannot follow yourself", ErrInvalidInput)
	}
	return s.repo.Follow(ctx, actor.ID, followeeID)
}

// CommentNotification formats the message sent to a post owner when someone
// comments on their post.
func CommentNotification(username, text string) string {
	preview := []rune(text)
	if len(preview) > commentPreviewLen {
		preview = preview[:commentPreviewLen]
	}
	return fmt.Sprintf("@%s commented: %s...", username, string(preview))
}

func (s *PostService) storeUpload(ctx context.Context, dir string, allowed map[string]struct{}, up *Upload) (string, error) {
	ext := strings.ToLower(path.Ext(up.Filename))
	if _, ok := allowed[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMedia, up.Filename)
	}
	if len(up.Data) == 0 {
		return "", fmt.Errorf("%w: empty upload %q", ErrInvalidInput, up.Filename)
	}

	ref := path.Join(dir, uuid.NewString()+ext)
	if err := s.assets.Store(ctx, ref, up.Data); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *PostService) removeAssets(ctx context.Context, post *Post) {
	for _, ref := range []string{post.ImageRef, post.VideoRef} {
		if ref == "" {
			continue
		}
		if err := s.assets.Delete(ctx, ref); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to delete asset", "ref", ref, "error", err)
		}
	}
}
