package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/redis/go-redis/v9"
)

const defaultPollInterval = 200 * time.Millisecond

// dequeueScript moves the oldest pending envelope to the processing list
// and records its lease deadline in one step, so a crash can never leave a
// job in processing without a lease.
var dequeueScript = redis.NewScript(`
local raw = redis.call('LMOVE', KEYS[1], KEYS[2], 'RIGHT', 'LEFT')
if not raw then
  return false
end
redis.call('ZADD', KEYS[3], ARGV[1], raw)
return raw
`)

// ackScript drops a leased envelope. Returns 0 if the lease was lost.
var ackScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LREM', KEYS[1], 1, ARGV[1])
return removed
`)

// requeueScript swaps a leased envelope for an updated one at the back of
// the pending list. Only the caller that still holds the lease wins.
var requeueScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[2], ARGV[1])
if removed == 0 then
  return 0
end
redis.call('LREM', KEYS[1], 1, ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
return 1
`)

// Redis is a durable jobs.Queue backed by Redis lists.
//
// Keys, all sharing one hash tag so the scripts work on a cluster:
//
//	{name}:pending     list of envelopes waiting for a worker
//	{name}:processing  list of envelopes currently leased
//	{name}:leases      sorted set of leased envelopes scored by deadline (unix ms)
//
// The envelope itself serves as the delivery receipt.
type Redis struct {
	client       redis.UniversalClient
	pending      string
	processing   string
	leases       string
	visibility   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewRedis creates a queue named name on the given client. Leases expire
// after visibility unless the job is acked or nacked first.
func NewRedis(client redis.UniversalClient, name string, visibility time.Duration, logger *slog.Logger) *Redis {
	prefix := "{" + name + "}"
	return &Redis{
		client:       client,
		pending:      prefix + ":pending",
		processing:   prefix + ":processing",
		leases:       prefix + ":leases",
		visibility:   visibility,
		pollInterval: defaultPollInterval,
		logger:       logger,
		now:          time.Now,
	}
}

// Enqueue pushes the job onto the pending list.
func (q *Redis) Enqueue(ctx context.Context, job jobs.Job) error {
	raw, err := jobs.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("push job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue leases the oldest pending job. It polls until one is available or
// ctx is done. Envelopes that cannot be decoded are discarded.
func (q *Redis) Dequeue(ctx context.Context) (jobs.Delivery, error) {
	keys := []string{q.pending, q.processing, q.leases}

	for {
		deadline := q.now().Add(q.visibility).UnixMilli()
		raw, err := dequeueScript.Run(ctx, q.client, keys, deadline).Text()
		if errors.Is(err, redis.Nil) {
			select {
			case <-ctx.Done():
				return jobs.Delivery{}, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return jobs.Delivery{}, ctx.Err()
			}
			return jobs.Delivery{}, fmt.Errorf("dequeue: %w", err)
		}

		job, err := jobs.Unmarshal([]byte(raw))
		if err != nil {
			q.logger.Error("discarding malformed job envelope", "envelope", raw, "error", err)
			if ackErr := q.ack(ctx, raw); ackErr != nil {
				q.logger.Error("failed to discard malformed envelope", "error", ackErr)
			}
			continue
		}

		return jobs.Delivery{Job: job, Receipt: raw}, nil
	}
}

// Ack removes a leased job for good.
func (q *Redis) Ack(ctx context.Context, d jobs.Delivery) error {
	return q.ack(ctx, d.Receipt)
}

// Nack puts the job at the back of the pending list with Attempts+1.
func (q *Redis) Nack(ctx context.Context, d jobs.Delivery) error {
	job := d.Job
	job.Attempts++
	return q.requeue(ctx, d.Receipt, job)
}

// Release puts the job back on the pending list as it was dequeued.
func (q *Redis) Release(ctx context.Context, d jobs.Delivery) error {
	return q.requeue(ctx, d.Receipt, d.Job)
}

// Reclaim returns every job whose lease has expired to the pending list and
// reports how many were moved.
func (q *Redis) Reclaim(ctx context.Context) (int, error) {
	expired, err := q.client.ZRangeByScore(ctx, q.leases, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired leases: %w", err)
	}

	reclaimed := 0
	for _, raw := range expired {
		job, err := jobs.Unmarshal([]byte(raw))
		if err != nil {
			q.logger.Error("dropping malformed leased envelope", "envelope", raw, "error", err)
			if ackErr := q.ack(ctx, raw); ackErr != nil && !errors.Is(ackErr, jobs.ErrUnknownDelivery) {
				return reclaimed, ackErr
			}
			continue
		}

		job.Attempts++
		err = q.requeue(ctx, raw, job)
		if errors.Is(err, jobs.ErrUnknownDelivery) {
			// acked or nacked between the scan and the requeue
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
		q.logger.Warn("lease expired, job requeued", "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts)
	}
	return reclaimed, nil
}

// RunReaper reclaims expired leases every interval until ctx is cancelled.
func (q *Redis) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Reclaim(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("lease reclaim failed", "error", err)
			}
		}
	}
}

// Len returns the number of pending and leased jobs.
func (q *Redis) Len(ctx context.Context) (pending, inflight int64, err error) {
	pending, err = q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("pending length: %w", err)
	}
	inflight, err = q.client.ZCard(ctx, q.leases).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("lease count: %w", err)
	}
	return pending, inflight, nil
}

func (q *Redis) ack(ctx context.Context, raw string) error {
	removed, err := ackScript.Run(ctx, q.client, []string{q.processing, q.leases}, raw).Int()
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if removed == 0 {
		return jobs.ErrUnknownDelivery
	}
	return nil
}

func (q *Redis) requeue(ctx context.Context, raw string, job jobs.Job) error {
	updated, err := jobs.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	moved, err := requeueScript.Run(ctx, q.client, []string{q.processing, q.leases, q.pending}, raw, updated).Int()
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	if moved == 0 {
		return jobs.ErrUnknownDelivery
	}
	return nil
}
