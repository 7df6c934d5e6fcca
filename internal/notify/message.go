package notify

import (
	"encoding/json"
	"fmt"
)

// Event kinds carried in structured notification messages.
const (
	KindAIUpdate = "ai_update"
	KindNewPost  = "new_post"
)

// AIUpdate tells a post author that classification finished.
type AIUpdate struct {
	Kind   string `json:"kind"`
	PostID int64  `json:"post_id"`
	Tags   string `json:"tags"`
}

// NewPost tells a follower that an account they follow posted.
type NewPost struct {
	Kind     string `json:"kind"`
	PostID   int64  `json:"post_id"`
	AuthorID int64  `json:"author_id"`
	Username string `json:"username"`
	Content  string `json:"content"`
}

// AIUpdateMessage encodes an ai_update event.
func AIUpdateMessage(postID int64, tags string) (string, error) {
	return encode(AIUpdate{Kind: KindAIUpdate, PostID: postID, Tags: tags})
}

// NewPostMessage encodes a new_post event.
func NewPostMessage(postID, authorID int64, username, content string) (string, error) {
	return encode(NewPost{
		Kind:     KindNewPost,
		PostID:   postID,
		AuthorID: authorID,
		Username: username,
		Content:  content,
	})
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}
	return string(b), nil
}
