package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"worklink/pkg/domain"
)

// subscriberBufferSize is the channel buffer for each subscriber. Slow
// consumers are dropped rather than allowed to stall fan-out.
const subscriberBufferSize = 64

// Publisher delivers live events to a user's online connections. The app core
// publishes through this interface so single-process (Hub) and multi-instance
// (RedisBridge) deployments are interchangeable.
type Publisher interface {
	Publish(userID string, event *domain.LiveEvent)
}

// Hub provides in-memory per-user pub/sub for live events. Each websocket
// connection subscribes for one user; a user may hold several subscriptions
// (multiple devices or tabs).
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan *domain.LiveEvent // userID -> subID -> ch
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for the default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[string]chan *domain.LiveEvent),
		logger: logger.With("component", "live"),
	}
}

// Subscribe registers a connection for the user's events. The subscription is
// removed and its channel closed when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan *domain.LiveEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *domain.LiveEvent, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[string]chan *domain.LiveEvent)
	}
	h.subs[userID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish sends an event to all of the user's subscriptions. Non-blocking:
// events are dropped for subscribers whose channels are full. The read lock
// is held across the sends so Unsubscribe cannot close a channel mid-publish.
func (h *Hub) Publish(userID string, event *domain.LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[userID] {
		select {
		case ch <- event:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				"user_id", userID, "event", event.Type)
		}
	}
}

// Subscribers reports how many subscriptions the user currently holds.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(userID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subs[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subs, userID)
	}
	h.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, subs := range h.subs {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subs, userID)
	}
}
