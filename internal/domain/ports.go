package domain

import (
	"context"
	"image"
)

// PostRepository defines persistence operations for posts, comments and
// follows. It is the single source of truth for post state.
type PostRepository interface {
	// CreatePost inserts a new post and fills in its ID and CreatedAt.
	CreatePost(ctx context.Context, post *Post) error

	// GetPost returns the post with the given ID or ErrNotFound.
	GetPost(ctx context.Context, id int64) (*Post, error)

	// UpdatePost overwrites the non-nil fields of update in one statement.
	// Returns ErrNotFound if the post does not exist.
	UpdatePost(ctx context.Context, id int64, update PostUpdate) error

	// IncrementShares atomically adds one to the share counter and returns
	// the new value.
	IncrementShares(ctx context.Context, id int64) (int64, error)

	// DeletePost removes a post and, by cascade, its comments.
	DeletePost(ctx context.Context, id int64) error

	// CreateComment inserts a comment. Returns ErrNotFound if the parent
	// post does not exist.
	CreateComment(ctx context.Context, comment *Comment) error

	// GetComment returns the comment with the given ID or ErrNotFound.
	GetComment(ctx context.Context, id int64) (*Comment, error)

	// ListComments returns the comments of a post, newest first.
	ListComments(ctx context.Context, postID int64) ([]Comment, error)

	// DeleteComment removes a comment by ID.
	DeleteComment(ctx context.Context, id int64) error

	// Follow records that follower follows followee. Following twice is a no-op.
	Follow(ctx context.Context, followerID, followeeID int64) error

	// ListFollowers returns the IDs of accounts following the given account.
	ListFollowers(ctx context.Context, accountID int64) ([]int64, error)
}

// AssetStore holds the binary media referenced by posts.
type AssetStore interface {
	// Load returns the raw bytes stored under ref.
	Load(ctx context.Context, ref string) ([]byte, error)

	// Store writes data under ref, replacing any previous content.
	Store(ctx context.Context, ref string, data []byte) error

	// Delete removes the asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, ref string) error
}

// Label is one classifier prediction.
type Label struct {
	Name       string
	Confidence float64
}

// Classifier is an external image classification capability. It returns at
// most k labels ranked by confidence, highest first.
type Classifier interface {
	Classify(ctx context.Context, img image.Image, k int) ([]Label, error)
}

// Publisher delivers a message to every live session of a recipient.
// Delivery is best effort: recipients without an open session miss it.
type Publisher interface {
	Publish(ctx context.Context, recipient string, message string) error
}

// Pipeline schedules the background work that follows post changes.
// Implementations must not wait for the work to run.
type Pipeline interface {
	// DispatchCreated is called exactly once after a post is created.
	DispatchCreated(ctx context.Context, post *Post) error

	// DispatchEdited is called after the owner edits a post's content.
	DispatchEdited(ctx context.Context, postID int64) error
}
