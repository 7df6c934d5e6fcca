package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "notifications_"
	channelPattern = channelPrefix + "*"

	relayStatsInterval = 30 * time.Second
	relayBackoff       = 5 * time.Second
)

// Channel returns the pub/sub channel for a recipient group.
func Channel(recipient string) string {
	return channelPrefix + recipient
}

// RedisPublisher publishes notification events on Redis so that a Relay in
// any gateway process can hand them to its local sessions.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher creates a publisher on the given client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends message to the recipient's channel. Events published while
// no relay is subscribed are lost.
func (p *RedisPublisher) Publish(ctx context.Context, recipient, message string) error {
	if err := p.client.Publish(ctx, Channel(recipient), message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel(recipient), err)
	}
	return nil
}

// Relay feeds events from Redis pub/sub into a local Hub.
type Relay struct {
	client  redis.UniversalClient
	hub     *Hub
	backoff time.Duration
	logger  *slog.Logger
}

// NewRelay creates a relay for the given hub.
func NewRelay(client redis.UniversalClient, hub *Hub, logger *slog.Logger) *Relay {
	return &Relay{
		client:  client,
		hub:     hub,
		backoff: relayBackoff,
		logger:  logger,
	}
}

// Start subscribes to every recipient channel and relays events until ctx
// is cancelled, resubscribing after connection errors.
func (r *Relay) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := r.subscribe(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("notification relay error, resubscribing", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(r.backoff):
				}
			}
		}
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, channelPattern)
	defer ps.Close()

	// Receive blocks in a socket read that ignores ctx; closing ps unblocks it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ps.Close()
		case <-stop:
		}
	}()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", channelPattern, err)
	}
	r.logger.Info("notification relay subscribed", "pattern", channelPattern)

	var relayed int64
	lastStatsLog := time.Now()

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive message: %w", err)
		}

		recipient := strings.TrimPrefix(msg.Channel, channelPrefix)
		if recipient == "" || recipient == msg.Channel {
			continue
		}
		if err := r.hub.Publish(ctx, recipient, msg.Payload); err != nil {
			r.logger.Error("failed to relay notification", "recipient", recipient, "error", err)
			continue
		}
		relayed++

		if time.Since(lastStatsLog) >= relayStatsInterval {
			r.logger.Info("notification relay stats", "relayed", relayed)
			lastStatsLog = time.Now()
		}
	}
}
