// Package worker runs queued pipeline jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackmichael/post-pipeline/internal/jobs"
)

// errInterrupted marks a job cut short because the pool is stopping.
var errInterrupted = errors.New("interrupted by shutdown")

// Outcome is the terminal state of one job execution.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Handler executes one job. A non-nil error asks the pool to retry the job
// unless it is marked with jobs.Permanent; a failed outcome with a nil error
// is final.
type Handler interface {
	Handle(ctx context.Context, job jobs.Job) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job jobs.Job) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, job jobs.Job) (Outcome, error) {
	return f(ctx, job)
}

// Result describes how the pool disposed of a delivery.
type Result struct {
	Job      jobs.Job
	Outcome  Outcome
	Err      error
	Requeued bool
	Duration time.Duration
}

// Options configure a Pool.
type Options struct {
	Size        int
	Timeout     time.Duration
	MaxAttempts int

	// OnResult, if set, is called after every delivery is acked or nacked.
	OnResult func(Result)
}

// Pool is a fixed set of goroutines pulling jobs from a queue.
type Pool struct {
	queue    jobs.Queue
	handlers map[jobs.Kind]Handler
	opts     Options
	logger   *slog.Logger
}

// NewPool creates a pool. Zero option values fall back to one worker, a 30
// second timeout and three attempts.
func NewPool(q jobs.Queue, handlers map[jobs.Kind]Handler, opts Options, logger *slog.Logger) *Pool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Pool{
		queue:    q,
		handlers: handlers,
		opts:     opts,
		logger:   logger,
	}
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs
// to be disposed of.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started", "workers", p.opts.Size, "timeout", p.opts.Timeout, "max_attempts", p.opts.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("worker pool stopped")
	return nil
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to dequeue job", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		res := p.process(ctx, d)
		if p.opts.OnResult != nil {
			p.opts.OnResult(res)
		}
	}
}

// process runs one delivery and acks or nacks it.
func (p *Pool) process(ctx context.Context, d jobs.Delivery) Result {
	job := d.Job
	res := Result{Job: job}
	logger := p.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts+1)

	// Acks must go through even while shutting down.
	settleCtx := context.WithoutCancel(ctx)

	if job.Attempts >= p.opts.MaxAttempts {
		logger.Warn("dropping job that exhausted its attempts")
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("job %s exhausted %d attempts", job.ID, p.opts.MaxAttempts)
		p.ack(settleCtx, d, logger)
		return res
	}

	h, ok := p.handlers[job.Kind]
	if !ok {
		logger.Error("no handler for job kind")
		res.Outcome = OutcomeFailed
		res.Err = jobs.Permanent(fmt.Errorf("no handler for %q", job.Kind))
		p.ack(settleCtx, d, logger)
		return res
	}

	start := time.Now()
	res.Outcome, res.Err = p.execute(ctx, h, job)
	res.Duration = time.Since(start)

	switch {
	case errors.Is(res.Err, errInterrupted):
		logger.Warn("job interrupted by shutdown, releasing", "duration", res.Duration)
		if err := p.queue.Release(settleCtx, d); err != nil {
			logger.Error("failed to release job", "error", err)
		} else {
			res.Requeued = true
		}

	case res.Err == nil:
		logger.Info("job finished", "outcome", res.Outcome, "duration", res.Duration)
		p.ack(settleCtx, d, logger)

	case jobs.IsPermanent(res.Err):
		logger.Error("job failed permanently", "error", res.Err, "duration", res.Duration)
		p.ack(settleCtx, d, logger)

	case job.Attempts+1 >= p.opts.MaxAttempts:
		logger.Error("job failed, no attempts left", "error", res.Err, "duration", res.Duration)
		p.ack(settleCtx, d, logger)

	default:
		logger.Warn("job failed, requeueing", "error", res.Err, "duration", res.Duration)
		if err := p.queue.Nack(settleCtx, d); err != nil {
			logger.Error("failed to requeue job", "error", err)
		} else {
			res.Requeued = true
		}
	}

	return res
}

// execute runs the handler under the job timeout. A handler that outlives
// its deadline is abandoned; its eventual result is discarded. When ctx is
// cancelled the handler gets up to one more timeout to return, and unless it
// finished cleanly the job is reported as interrupted.
func (p *Pool) execute(ctx context.Context, h Handler, job jobs.Job) (Outcome, error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type result struct {
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{OutcomeFailed, fmt.Errorf("handler panic: %v", r)}
			}
		}()
		outcome, err := h.Handle(jobCtx, job)
		if err == nil && outcome == "" {
			outcome = OutcomeCompleted
		}
		if err != nil {
			outcome = OutcomeFailed
		}
		done <- result{outcome, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil && !jobs.IsPermanent(r.err) {
			return OutcomeFailed, fmt.Errorf("%w: %w", errInterrupted, r.err)
		}
		return r.outcome, r.err
	case <-jobCtx.Done():
	}

	if ctx.Err() == nil {
		return OutcomeFailed, fmt.Errorf("job timed out after %s: %w", p.opts.Timeout, jobCtx.Err())
	}

	grace := time.NewTimer(p.opts.Timeout)
	defer grace.Stop()
	select {
	case r := <-done:
		if r.err == nil || jobs.IsPermanent(r.err) {
			return r.outcome, r.err
		}
	case <-grace.C:
		p.logger.Warn("handler did not stop after shutdown", "job_id", job.ID, "kind", job.Kind)
	}
	return OutcomeFailed, fmt.Errorf("%w: %w", errInterrupted, ctx.Err())
}

func (p *Pool) ack(ctx context.Context, d jobs.Delivery, logger *slog.Logger) {
	if err := p.queue.Ack(ctx, d); err != nil {
		logger.Error("failed to ack job", "error", err)
	}
}
