package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blackmichael/post-pipeline/internal/assets"
	"github.com/blackmichael/post-pipeline/internal/domain"
	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/blackmichael/post-pipeline/internal/moderation"
	"github.com/blackmichael/post-pipeline/internal/store"
	"github.com/blackmichael/post-pipeline/internal/store/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubClassifier struct {
	mu     sync.Mutex
	labels []domain.Label
	err    error
	inputs []image.Rectangle
}

func (c *stubClassifier) Classify(_ context.Context, img image.Image, k int) ([]domain.Label, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, img.Bounds())
	if c.err != nil {
		return nil, c.err
	}
	if len(c.labels) > k {
		return c.labels[:k], nil
	}
	return c.labels, nil
}

func (c *stubClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inputs)
}

type event struct {
	recipient string
	message   string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, recipient, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event{recipient, message})
	return nil
}

func (p *recordingPublisher) published() []event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event(nil), p.events...)
}

type fixture struct {
	handlers   *Handlers
	repo       *store.Repository
	assets     *assets.Filesystem
	publisher  *recordingPublisher
	classifier *stubClassifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs, err := assets.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}

	f := &fixture{
		repo:      storetest.Open(t),
		assets:    fs,
		publisher: &recordingPublisher{},
		classifier: &stubClassifier{labels: []domain.Label{
			{Name: "tabby_cat", Confidence: 0.7},
			{Name: "tiger_cat", Confidence: 0.2},
			{Name: "lynx", Confidence: 0.05},
		}},
	}
	f.handlers = NewHandlers(Deps{
		Repo:       f.repo,
		Assets:     f.assets,
		Classifier: f.classifier,
		Publisher:  f.publisher,
		Filter:     moderation.NewFilter(moderation.DefaultDenylist, moderation.DefaultMask),
		Logger:     discardLogger(),
	}, Limits{
		MaxImageDimension:   800,
		ClassifierInputSize: 224,
		ClassifierTopK:      3,
	})
	return f
}

// createPost stores an optional PNG image and inserts a post owned by
// account 1.
func (f *fixture) createPost(t *testing.T, content string, img []byte) *domain.Post {
	t.Helper()
	ctx := context.Background()

	post := &domain.Post{AuthorID: 1, AuthorName: "alice", Content: content}
	if img != nil {
		post.ImageRef = "post_images/test.png"
		if err := f.assets.Store(ctx, post.ImageRef, img); err != nil {
			t.Fatalf("store image: %v", err)
		}
	}
	if err := f.repo.CreatePost(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

func (f *fixture) getPost(t *testing.T, id int64) *domain.Post {
	t.Helper()
	post, err := f.repo.GetPost(context.Background(), id)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	return post
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		for x := 0; x < w; x += 7 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func postJob(t *testing.T, kind jobs.Kind, postID int64) jobs.Job {
	t.Helper()
	job, err := jobs.New(kind, jobs.PostArgs{PostID: postID})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

// sameState compares posts ignoring timestamps, whose precision depends on
// the database driver.
func sameState(a, b *domain.Post) bool {
	x, y := *a, *b
	x.CreatedAt, y.CreatedAt = time.Time{}, time.Time{}
	return x == y
}
