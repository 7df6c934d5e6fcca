package queue

import (
	"context"
	"sync"
	"time"

	"github.com/blackmichael/post-pipeline/internal/jobs"
	"github.com/google/uuid"
)

const memoryPollInterval = 100 * time.Millisecond

// Memory is an in-process jobs.Queue. It keeps the at-least-once contract
// of the Redis queue (leases, visibility timeout, redelivery) but loses all
// jobs when the process exits. It suits single-process deployments and tests.
type Memory struct {
	mu         sync.Mutex
	pending    []jobs.Job
	inflight   map[string]memoryLease
	visibility time.Duration
	wake       chan struct{}
	now        func() time.Time
}

type memoryLease struct {
	job      jobs.Job
	deadline time.Time
}

// NewMemory creates an empty in-memory queue whose leases expire after
// visibility.
func NewMemory(visibility time.Duration) *Memory {
	return &Memory{
		inflight:   make(map[string]memoryLease),
		visibility: visibility,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Enqueue appends the job to the pending list.
func (m *Memory) Enqueue(_ context.Context, job jobs.Job) error {
	m.mu.Lock()
	m.pending = append(m.pending, job)
	m.mu.Unlock()
	m.signal()
	return nil
}

// Dequeue leases the oldest pending job, blocking until one is available.
func (m *Memory) Dequeue(ctx context.Context) (jobs.Delivery, error) {
	for {
		m.mu.Lock()
		m.reclaimLocked()
		if len(m.pending) > 0 {
			job := m.pending[0]
			m.pending[0] = jobs.Job{}
			m.pending = m.pending[1:]
			receipt := uuid.NewString()
			m.inflight[receipt] = memoryLease{job: job, deadline: m.now().Add(m.visibility)}
			more := len(m.pending) > 0
			m.mu.Unlock()

			if more {
				m.signal()
			}
			return jobs.Delivery{Job: job, Receipt: receipt}, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return jobs.Delivery{}, ctx.Err()
		case <-m.wake:
		case <-time.After(memoryPollInterval):
		}
	}
}

// Ack drops the leased job.
func (m *Memory) Ack(_ context.Context, d jobs.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.inflight[d.Receipt]; !ok {
		return jobs.ErrUnknownDelivery
	}
	delete(m.inflight, d.Receipt)
	return nil
}

// Nack returns the leased job to the back of the pending list.
func (m *Memory) Nack(_ context.Context, d jobs.Delivery) error {
	return m.requeue(d, true)
}

// Release returns the leased job to the back of the pending list with its
// attempt count unchanged.
func (m *Memory) Release(_ context.Context, d jobs.Delivery) error {
	return m.requeue(d, false)
}

func (m *Memory) requeue(d jobs.Delivery, countAttempt bool) error {
	m.mu.Lock()
	lease, ok := m.inflight[d.Receipt]
	if !ok {
		m.mu.Unlock()
		return jobs.ErrUnknownDelivery
	}
	delete(m.inflight, d.Receipt)
	if countAttempt {
		lease.job.Attempts++
	}
	m.pending = append(m.pending, lease.job)
	m.mu.Unlock()

	m.signal()
	return nil
}

// Len returns the number of pending and leased jobs.
func (m *Memory) Len() (pending, inflight int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.inflight)
}

func (m *Memory) reclaimLocked() {
	now := m.now()
	for receipt, lease := range m.inflight {
		if now.Before(lease.deadline) {
			continue
		}
		delete(m.inflight, receipt)
		lease.job.Attempts++
		m.pending = append(m.pending, lease.job)
	}
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
