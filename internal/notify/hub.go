// Package notify routes notification events to live sessions, either
// within one process (Hub) or across processes over Redis pub/sub.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Subscriber is one live session in a recipient group. Deliver must not
// block; a subscriber that cannot keep up drops the message and returns
// false.
type Subscriber interface {
	Deliver(message string) bool
}

// Hub is an in-process registry of recipient groups. It implements
// domain.Publisher for sessions connected to this process.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[Subscriber]struct{}),
		logger: logger,
	}
}

// Join adds s to the recipient's group.
func (h *Hub) Join(recipient string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[recipient]
	if !ok {
		group = make(map[Subscriber]struct{})
		h.groups[recipient] = group
	}
	group[s] = struct{}{}
}

// Leave removes s from the recipient's group. Empty groups are dropped.
func (h *Hub) Leave(recipient string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[recipient]
	if !ok {
		return
	}
	delete(group, s)
	if len(group) == 0 {
		delete(h.groups, recipient)
	}
}

// Publish delivers message to every session currently in the recipient's
// group. Nothing is queued for recipients without sessions.
func (h *Hub) Publish(_ context.Context, recipient, message string) error {
	h.mu.RLock()
	group := h.groups[recipient]
	targets := make([]Subscriber, 0, len(group))
	for s := range group {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.Deliver(message) {
			h.logger.Warn("notification not delivered", "recipient", recipient)
		}
	}
	return nil
}

// Sessions returns the number of sessions in the recipient's group.
func (h *Hub) Sessions(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[recipient])
}
