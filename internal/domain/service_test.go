package domain_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/blackmichael/post-pipeline/internal/assets"
	"github.com/blackmichael/post-pipeline/internal/domain"
	"github.com/blackmichael/post-pipeline/internal/store/storetest"
)

type fakePipeline struct {
	mu      sync.Mutex
	created []int64
	edited  []int64
	err     error
}

func (p *fakePipeline) DispatchCreated(_ context.Context, post *domain.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, post.ID)
	return p.err
}

func (p *fakePipeline) DispatchEdited(_ context.Context, postID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edited = append(p.edited, postID)
	return p.err
}

type sent struct {
	recipient, message string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sent
}

func (p *fakePublisher) Publish(_ context.Context, recipient, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{recipient, message})
	return nil
}

type env struct {
	svc       *domain.PostService
	assets    *assets.Filesystem
	pipeline  *fakePipeline
	publisher *fakePublisher
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs, err := assets.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	e := &env{assets: fs, pipeline: &fakePipeline{}, publisher: &fakePublisher{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e.svc = domain.NewPostService(storetest.Open(t), fs, e.pipeline, e.publisher, logger)
	return e
}

var (
	alice = domain.Account{ID: 1, Username: "alice"}
	bob   = domain.Account{ID: 2, Username: "bob"}
)

func TestCreatePost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	post, err := e.svc.CreatePost(ctx, domain.NewPost{
		AuthorID:   alice.ID,
		AuthorName: alice.Username,
		Content:    "with picture",
		Image:      &domain.Upload{Filename: "Cat.JPG", Data: []byte("jpeg bytes")},
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	if !strings.HasPrefix(post.ImageRef, "post_images/") || !strings.HasSuffix(post.ImageRef, ".jpg") {
		t.Errorf("image ref = %q", post.ImageRef)
	}
	if data, err := e.assets.Load(ctx, post.ImageRef); err != nil || string(data) != "jpeg bytes" {
		t.Errorf("stored asset = %q, %v", data, err)
	}
	if len(e.pipeline.created) != 1 || e.pipeline.created[0] != post.ID {
		t.Errorf("dispatched %v, want [%d]", e.pipeline.created, post.ID)
	}
}

func TestCreatePostSucceedsWhenDispatchFails(t *testing.T) {
	e := newEnv(t)
	e.pipeline.err = errors.New("queue unavailable")

	post, err := e.svc.CreatePost(context.Background(), domain.NewPost{AuthorID: 1, AuthorName: "alice", Content: "hi"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if _, err := e.svc.GetPost(context.Background(), post.ID); err != nil {
		t.Errorf("post was not persisted: %v", err)
	}
}

func TestCreatePostValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		in   domain.NewPost
		want error
	}{
		{"empty", domain.NewPost{AuthorID: 1, Content: "   "}, domain.ErrInvalidInput},
		{"bad image type", domain.NewPost{AuthorID: 1, Image: &domain.Upload{Filename: "x.gif", Data: []byte("x")}}, domain.ErrUnsupportedMedia},
		{"bad video type", domain.NewPost{AuthorID: 1, Video: &domain.Upload{Filename: "x.avi", Data: []byte("x")}}, domain.ErrUnsupportedMedia},
		{"empty upload", domain.NewPost{AuthorID: 1, Image: &domain.Upload{Filename: "x.png"}}, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.CreatePost(context.Background(), tt.in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if len(e.pipeline.created) != 0 {
		t.Errorf("invalid posts were dispatched: %v", e.pipeline.created)
	}
}

func TestEditAndDeleteRequireOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	post, err := e.svc.CreatePost(ctx, domain.NewPost{
		AuthorID:   alice.ID,
		AuthorName: alice.Username,
		Image:      &domain.Upload{Filename: "a.png", Data: []byte("png")},
	})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	if _, err := e.svc.EditPost(ctx, bob, post.ID, "mine now"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("EditPost by bob: %v", err)
	}
	if err := e.svc.DeletePost(ctx, bob, post.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("DeletePost by bob: %v", err)
	}

	edited, err := e.svc.EditPost(ctx, alice, post.ID, "new text")
	if err != nil || edited.Content != "new text" {
		t.Fatalf("EditPost: %+v, %v", edited, err)
	}
	if len(e.pipeline.edited) != 1 || e.pipeline.edited[0] != post.ID {
		t.Errorf("edit dispatches = %v", e.pipeline.edited)
	}

	if err := e.svc.DeletePost(ctx, alice, post.ID); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := e.assets.Load(ctx, post.ImageRef); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("image still stored: %v", err)
	}
	if _, err := e.svc.GetPost(ctx, post.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetPost after delete: %v", err)
	}
}

func TestAddCommentNotifiesOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	post, err := e.svc.CreatePost(ctx, domain.NewPost{AuthorID: alice.ID, AuthorName: alice.Username, Content: "hi"})
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	if _, err := e.svc.AddComment(ctx, domain.NewComment{
		AuthorID: alice.ID, AuthorName: alice.Username, PostID: post.ID, Text: "replying to myself",
	}); err != nil {
		t.Fatalf("AddComment by owner: %v", err)
	}
	if len(e.publisher.sent) != 0 {
		t.Errorf("owner comment triggered %v", e.publisher.sent)
	}

	if _, err := e.svc.AddComment(ctx, domain.NewComment{
		AuthorID: bob.ID, AuthorName: bob.Username, PostID: post.ID, Text: "this is a rather long comment",
	}); err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	want := sent{"1", "@bob commented: this is a rather lon..."}
	if len(e.publisher.sent) != 1 || e.publisher.sent[0] != want {
		t.Errorf("sent %v, want [%v]", e.publisher.sent, want)
	}

	comments, err := e.svc.ListComments(ctx, post.ID)
	if err != nil || len(comments) != 2 {
		t.Errorf("ListComments = %d, %v", len(comments), err)
	}
	if _, err := e.svc.ListComments(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("ListComments on missing post: %v", err)
	}
}

func TestCommentNotification(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"short", "@bob commented: short..."},
		{"exactly twenty chars", "@bob commented: exactly twenty chars..."},
		{"ünïcödé ünïcödé ünïcödé", "@bob commented: ünïcödé ünïcödé ünïc..."},
	}
	for _, tt := range tests {
		if got := domain.CommentNotification("bob", tt.text); got != tt.want {
			t.Errorf("CommentNotification(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestFollow(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.Follow(context.Background(), alice, alice.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("self follow: %v", err)
	}
	if err := e.svc.Follow(context.Background(), alice, bob.ID); err != nil {
		t.Errorf("Follow: %v", err)
	}
}
