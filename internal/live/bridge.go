package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"worklink/pkg/domain"
)

const (
	channelPrefix = "worklink:live:"
	// publishTimeout bounds the redis publish on the hot send path.
	publishTimeout = 2 * time.Second
)

// RedisBridge fans live events out across service instances. Publishes go to
// a per-user redis channel; every instance relays received events into its
// local hub, so a user connected to any instance gets the push.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBridge starts relaying into hub. The redis client is injected and
// stays owned by the caller.
func NewRedisBridge(client *redis.Client, hub *Hub, logger *slog.Logger) (*RedisBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBridge{
		client: client,
		hub:    hub,
		logger: logger.With("component", "live_bridge"),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	sub := client.PSubscribe(ctx, channelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return nil, err
	}
	go b.relay(ctx, sub)
	return b, nil
}

// Publish sends the event to the user's channel on every instance, including
// this one. Local delivery happens through the relay loop so ordering matches
// what remote instances observe.
func (b *RedisBridge) Publish(userID string, event *domain.LiveEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("marshal live event", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, channelPrefix+userID, payload).Err(); err != nil {
		// Degraded mode: deliver locally so a single-instance deployment
		// keeps working when redis is briefly unavailable.
		b.logger.Warn("redis publish failed, delivering locally", "err", err)
		b.hub.Publish(userID, event)
	}
}

func (b *RedisBridge) relay(ctx context.Context, sub *redis.PubSub) {
	defer close(b.done)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			userID := strings.TrimPrefix(msg.Channel, channelPrefix)
			var event domain.LiveEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("drop malformed live event", "err", err)
				continue
			}
			b.hub.Publish(userID, &event)
		}
	}
}

// Close stops the relay loop. The injected redis client is not closed.
func (b *RedisBridge) Close() error {
	b.cancel()
	<-b.done
	return nil
}
