package live

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"worklink/pkg/domain"
)

func newBridge(t *testing.T) (*RedisBridge, *Hub) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	hub := NewHub(nil)
	t.Cleanup(hub.Close)

	bridge, err := NewRedisBridge(client, hub, nil)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	t.Cleanup(func() { bridge.Close() })
	return bridge, hub
}

func TestRedisBridgeRelaysToLocalHub(t *testing.T) {
	bridge, hub := newBridge(t)

	ch, _ := hub.Subscribe(context.Background(), "user-1")
	event := &domain.LiveEvent{
		Type:           domain.EventNewMessage,
		ConversationID: "conv-1",
		Message:        &domain.EventMessage{ID: "m-1", SenderID: "user-2", Text: "hi"},
	}
	bridge.Publish("user-1", event)

	got := waitEvent(t, ch)
	if got.ConversationID != "conv-1" || got.Message == nil || got.Message.ID != "m-1" {
		t.Fatalf("unexpected relayed event: %+v", got)
	}
}

func TestRedisBridgeRoutesPerUser(t *testing.T) {
	bridge, hub := newBridge(t)

	target, _ := hub.Subscribe(context.Background(), "user-1")
	bystander, _ := hub.Subscribe(context.Background(), "user-2")

	bridge.Publish("user-1", domain.ReadReceiptEvent("conv-1", "user-2"))

	if got := waitEvent(t, target); got.Type != domain.EventMessageRead {
		t.Fatalf("unexpected event: %+v", got)
	}
	select {
	case got := <-bystander:
		t.Fatalf("event delivered to wrong user: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBridgeCloseStopsRelay(t *testing.T) {
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	defer client.Close()
	hub := NewHub(nil)
	defer hub.Close()

	bridge, err := NewRedisBridge(client, hub, nil)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	if err := bridge.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close must not touch the injected client.
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("client unusable after bridge close: %v", err)
	}
}
