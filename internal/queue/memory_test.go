package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blackmichael/post-pipeline/internal/jobs"
)

func TestMemoryDequeueAckNack(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	first, second := mustJob(t, 1), mustJob(t, 2)
	q.Enqueue(ctx, first)
	q.Enqueue(ctx, second)

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Job.ID != first.ID {
		t.Fatalf("expected FIFO order, got %s", d.Job.ID)
	}
	if err := q.Nack(ctx, d); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if err := q.Ack(ctx, d); !errors.Is(err, jobs.ErrUnknownDelivery) {
		t.Errorf("expected ErrUnknownDelivery after nack, got %v", err)
	}

	d2, _ := q.Dequeue(ctx)
	d3, _ := q.Dequeue(ctx)
	if d2.Job.ID != second.ID || d3.Job.ID != first.ID || d3.Job.Attempts != 1 {
		t.Errorf("unexpected redelivery order: %s then %s (attempts %d)", d2.Job.ID, d3.Job.ID, d3.Job.Attempts)
	}

	for _, del := range []jobs.Delivery{d2, d3} {
		if err := q.Ack(ctx, del); err != nil {
			t.Errorf("Ack: %v", err)
		}
	}
	if pending, inflight := q.Len(); pending != 0 || inflight != 0 {
		t.Errorf("expected empty queue, got %d pending %d in flight", pending, inflight)
	}
}

func TestMemoryLeaseExpiry(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	now := time.Now()
	q.now = func() time.Time { return now }

	job := mustJob(t, 9)
	q.Enqueue(ctx, job)
	stale, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	now = now.Add(2 * time.Minute)
	again, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if again.Job.ID != job.ID || again.Job.Attempts != 1 {
		t.Errorf("expected redelivery with 1 attempt, got %+v", again.Job)
	}
	if err := q.Ack(ctx, stale); !errors.Is(err, jobs.ErrUnknownDelivery) {
		t.Errorf("expected stale receipt to be rejected, got %v", err)
	}
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	job := mustJob(t, 5)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(ctx, job)
	}()

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.Job.ID != job.ID {
		t.Errorf("got %s, want %s", d.Job.ID, job.ID)
	}
}

func TestMemoryDequeueCancelled(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryReleaseKeepsAttempts(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx := context.Background()

	job := mustJob(t, 3)
	job.Attempts = 2
	q.Enqueue(ctx, job)

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Release(ctx, d); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := q.Release(ctx, d); !errors.Is(err, jobs.ErrUnknownDelivery) {
		t.Errorf("expected ErrUnknownDelivery on second release, got %v", err)
	}

	again, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if again.Job.ID != job.ID || again.Job.Attempts != 2 {
		t.Errorf("expected %s with 2 attempts, got %s with %d", job.ID, again.Job.ID, again.Job.Attempts)
	}
}
