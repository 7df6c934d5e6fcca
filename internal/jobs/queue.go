package jobs

import (
	"context"
	"errors"
)

// ErrUnknownDelivery is returned when acking or nacking a delivery whose
// lease is no longer held, typically because it expired and the job was
// handed to another worker.
var ErrUnknownDelivery = errors.New("unknown delivery")

// Delivery is a dequeued job together with the queue-specific receipt
// needed to acknowledge it.
type Delivery struct {
	Job     Job
	Receipt string
}

// Queue is an at-least-once work queue. A dequeued job is hidden from
// other consumers until it is acked, nacked, or its lease expires.
type Queue interface {
	// Enqueue records the job and returns without waiting for processing.
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Delivery, error)

	// Ack removes a finished (completed or dropped) job for good.
	Ack(ctx context.Context, d Delivery) error

	// Nack returns the job to the pending pool with Attempts incremented.
	Nack(ctx context.Context, d Delivery) error

	// Release returns the job to the pending pool without counting an
	// attempt. Used for work interrupted by shutdown.
	Release(ctx context.Context, d Delivery) error
}
