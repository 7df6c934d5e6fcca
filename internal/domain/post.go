package domain

import "time"

// Post is a user post as stored in the post store.
type Post struct {
	// ID is assigned by the store and never changes.
	ID int64

	// AuthorID identifies the account that created the post.
	AuthorID int64

	// AuthorName is the author's username at creation time.
	AuthorName string

	// Content is the post text. Moderation and owner edits overwrite it.
	Content string

	// ImageRef is the asset reference of the attached image, empty if none.
	ImageRef string

	// VideoRef is the asset reference of the attached video, empty if none.
	VideoRef string

	// SharesCount only ever grows, through the store's increment operation.
	SharesCount int64

	// Tags is the comma separated label string written by image classification.
	Tags string

	CreatedAt time.Time
}

// HasImage reports whether an image is attached to the post.
func (p *Post) HasImage() bool {
	return p.ImageRef != ""
}

// Comment is a reply to a post. Deleting the post deletes its comments.
type Comment struct {
	ID         int64
	AuthorID   int64
	AuthorName string
	PostID     int64
	Text       string
	CreatedAt  time.Time
}

// PostUpdate lists the post fields to overwrite in a single atomic update.
// Nil fields are left untouched.
type PostUpdate struct {
	Content *string
	Tags    *string
}

// IsEmpty reports whether the update changes nothing.
func (u PostUpdate) IsEmpty() bool {
	return u.Content == nil && u.Tags == nil
}

// Upload is a media file received with a new post.
type Upload struct {
	Filename string
	Data     []byte
}

// NewPost carries the caller's input for CreatePost.
type NewPost struct {
	AuthorID   int64
	AuthorName string
	Content    string
	Image      *Upload
	Video      *Upload
}

// NewComment carries the caller's input for AddComment.
type NewComment struct {
	AuthorID   int64
	AuthorName string
	PostID     int64
	Text       string
}

// Account is the caller identity supplied by the API layer.
type Account struct {
	ID       int64
	Username string
}
