package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/blackmichael/post-pipeline/internal/imaging"
	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/blackmichael/post-pipeline/internal/notify"
)

func TestModerateContent(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"this is spam", "this is ****"},
		{"I HATE Mondays", "I **** Mondays"},
		{"a stupid, bad idea", "a ******, *** idea"},
		{"perfectly fine", "perfectly fine"},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			f := newFixture(t)
			post := f.createPost(t, tt.content, nil)
			ctx := context.Background()

			outcome, err := f.handlers.ModerateContent(ctx, postJob(t, jobs.KindModerateContent, post.ID))
			if err != nil || outcome != OutcomeCompleted {
				t.Fatalf("ModerateContent = %s, %v", outcome, err)
			}

			after := f.getPost(t, post.ID).Content
			if after != tt.want {
				t.Errorf("content = %q, want %q", after, tt.want)
			}
			if len(after) != len(tt.content) {
				t.Errorf("length changed from %d to %d", len(tt.content), len(after))
			}

			// A second pass finds nothing more to mask.
			if _, err := f.handlers.ModerateContent(ctx, postJob(t, jobs.KindModerateContent, post.ID)); err != nil {
				t.Fatalf("second ModerateContent: %v", err)
			}
			if again := f.getPost(t, post.ID).Content; again != after {
				t.Errorf("second pass changed %q to %q", after, again)
			}
		})
	}
}

func TestHandlersSkipMissingPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notifyJob, err := jobs.New(jobs.KindNotifyFollowers, jobs.NotifyArgs{PostID: 999, AuthorID: 1})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	cases := map[string]func() (Outcome, error){
		"notify":   func() (Outcome, error) { return f.handlers.NotifyFollowers(ctx, notifyJob) },
		"moderate": func() (Outcome, error) { return f.handlers.ModerateContent(ctx, postJob(t, jobs.KindModerateContent, 999)) },
		"resize":   func() (Outcome, error) { return f.handlers.ResizeImage(ctx, postJob(t, jobs.KindResizeImage, 999)) },
		"classify": func() (Outcome, error) { return f.handlers.ClassifyImage(ctx, postJob(t, jobs.KindClassifyImage, 999)) },
	}
	for name, run := range cases {
		outcome, err := run()
		if err != nil || outcome != OutcomeSkipped {
			t.Errorf("%s: got %s, %v; want skipped", name, outcome, err)
		}
	}
}

func TestImageHandlersSkipPostsWithoutImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.createPost(t, "just text", nil)

	for _, run := range []func() (Outcome, error){
		func() (Outcome, error) { return f.handlers.ResizeImage(ctx, postJob(t, jobs.KindResizeImage, post.ID)) },
		func() (Outcome, error) { return f.handlers.ClassifyImage(ctx, postJob(t, jobs.KindClassifyImage, post.ID)) },
	} {
		outcome, err := run()
		if err != nil || outcome != OutcomeSkipped {
			t.Errorf("got %s, %v; want skipped", outcome, err)
		}
	}

	after := f.getPost(t, post.ID)
	if !sameState(after, post) {
		t.Errorf("post changed: %+v -> %+v", post, after)
	}
	if f.classifier.calls() != 0 {
		t.Error("classifier was called")
	}
	if len(f.publisher.published()) != 0 {
		t.Error("a notification was published")
	}
}

func TestResizeImageLeavesSmallImageUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original := pngBytes(t, 800, 600)
	post := f.createPost(t, "", original)

	outcome, err := f.handlers.ResizeImage(ctx, postJob(t, jobs.KindResizeImage, post.ID))
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("ResizeImage = %s, %v", outcome, err)
	}

	stored, err := f.assets.Load(ctx, post.ImageRef)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(stored, original) {
		t.Error("asset bytes changed")
	}
}

func TestResizeImageShrinksLargeImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.createPost(t, "", pngBytes(t, 1000, 2000))

	outcome, err := f.handlers.ResizeImage(ctx, postJob(t, jobs.KindResizeImage, post.ID))
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("ResizeImage = %s, %v", outcome, err)
	}

	stored, err := f.assets.Load(ctx, post.ImageRef)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg, err := imaging.Inspect(stored)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if cfg.Width != 400 || cfg.Height != 800 || cfg.Format != imaging.FormatPNG {
		t.Errorf("resized to %+v, want 400x800 png", cfg)
	}
	if got := f.getPost(t, post.ID); !sameState(got, post) {
		t.Errorf("post fields changed: %+v", got)
	}
}

func TestResizeImageCorruptIsPermanent(t *testing.T) {
	f := newFixture(t)
	post := f.createPost(t, "", []byte("definitely not a png"))

	_, err := f.handlers.ResizeImage(context.Background(), postJob(t, jobs.KindResizeImage, post.ID))
	if !jobs.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestClassifyImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.createPost(t, "my cat", pngBytes(t, 300, 200))

	outcome, err := f.handlers.ClassifyImage(ctx, postJob(t, jobs.KindClassifyImage, post.ID))
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("ClassifyImage = %s, %v", outcome, err)
	}

	if tags := f.getPost(t, post.ID).Tags; tags != "tabby cat, tiger cat, lynx" {
		t.Errorf("tags = %q", tags)
	}
	if in := f.classifier.inputs; len(in) != 1 || in[0].Dx() != 224 || in[0].Dy() != 224 {
		t.Errorf("classifier inputs = %v", in)
	}

	events := f.publisher.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].recipient != "1" {
		t.Errorf("recipient = %q", events[0].recipient)
	}
	var ev notify.AIUpdate
	if err := json.Unmarshal([]byte(events[0].message), &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", events[0].message, err)
	}
	if ev.Kind != "ai_update" || ev.PostID != post.ID || ev.Tags != "tabby cat, tiger cat, lynx" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestClassifyImageFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = errors.New("model unavailable")
	post := f.createPost(t, "", pngBytes(t, 50, 50))

	outcome, err := f.handlers.ClassifyImage(context.Background(), postJob(t, jobs.KindClassifyImage, post.ID))
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("ClassifyImage = %s, %v; want failed without error", outcome, err)
	}
	if tags := f.getPost(t, post.ID).Tags; tags != "" {
		t.Errorf("tags = %q, want empty", tags)
	}
	if len(f.publisher.published()) != 0 {
		t.Error("a notification was published")
	}
}

func TestNotifyFollowers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.createPost(t, "hello followers", nil)

	for _, follower := range []int64{2, 3} {
		if err := f.repo.Follow(ctx, follower, post.AuthorID); err != nil {
			t.Fatalf("Follow: %v", err)
		}
	}
	if err := f.repo.Follow(ctx, post.AuthorID, 4); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	job, err := jobs.New(jobs.KindNotifyFollowers, jobs.NotifyArgs{
		PostID:   post.ID,
		AuthorID: post.AuthorID,
		Username: post.AuthorName,
		Content:  post.Content,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	outcome, err := f.handlers.NotifyFollowers(ctx, job)
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("NotifyFollowers = %s, %v", outcome, err)
	}

	events := f.publisher.published()
	if len(events) != 2 || events[0].recipient != "2" || events[1].recipient != "3" {
		t.Fatalf("unexpected events %+v", events)
	}
	var ev notify.NewPost
	if err := json.Unmarshal([]byte(events[0].message), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Kind != notify.KindNewPost || ev.PostID != post.ID || ev.Username != "alice" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestNotifyFollowersPublishFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.createPost(t, "hi", nil)
	f.repo.Follow(ctx, 2, post.AuthorID)
	f.publisher.err = errors.New("redis down")

	job, _ := jobs.New(jobs.KindNotifyFollowers, jobs.NotifyArgs{PostID: post.ID, AuthorID: post.AuthorID})
	outcome, err := f.handlers.NotifyFollowers(ctx, job)
	if err != nil || outcome != OutcomeFailed {
		t.Errorf("NotifyFollowers = %s, %v; want failed without error", outcome, err)
	}
}

func TestHandlersRejectBadPayload(t *testing.T) {
	f := newFixture(t)
	job := postJob(t, jobs.KindModerateContent, 0)

	_, err := f.handlers.ModerateContent(context.Background(), job)
	if !jobs.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}
