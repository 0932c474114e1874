package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"worklink/pkg/domain"
)

func waitEvent(t *testing.T, ch <-chan *domain.LiveEvent) *domain.LiveEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func TestHubPublishReachesAllSubscriptions(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	ctx := context.Background()

	first, _ := hub.Subscribe(ctx, "user-1")
	second, _ := hub.Subscribe(ctx, "user-1")
	other, _ := hub.Subscribe(ctx, "user-2")

	event := domain.ReadReceiptEvent("conv-1", "user-2")
	hub.Publish("user-1", event)

	if got := waitEvent(t, first); got.ConversationID != "conv-1" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got := waitEvent(t, second); got.Type != domain.EventMessageRead {
		t.Fatalf("unexpected event: %+v", got)
	}
	select {
	case got := <-other:
		t.Fatalf("event leaked to another user: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, subID := hub.Subscribe(context.Background(), "user-1")
	hub.Unsubscribe("user-1", subID)

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	// Publishing after unsubscribe is a no-op.
	hub.Publish("user-1", domain.ReadReceiptEvent("conv-1", "user-2"))
}

func TestHubContextCancelRemovesSubscription(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := hub.Subscribe(ctx, "user-1")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not cleaned up after cancel")
	}
}

func TestHubPublishDuringUnsubscribeChurn(t *testing.T) {
	// Publishing while subscriptions come and go must never send on a
	// channel Unsubscribe has already closed.
	hub := NewHub(nil)
	defer hub.Close()

	event := domain.ReadReceiptEvent("conv-1", "user-2")
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish("user-1", event)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		_, subID := hub.Subscribe(context.Background(), "user-1")
		hub.Unsubscribe("user-1", subID)
	}
	close(stop)
	wg.Wait()

	if got := hub.Subscribers("user-1"); got != 0 {
		t.Fatalf("expected no subscriptions left, got %d", got)
	}
}

func TestHubDropsEventsForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	ch, _ := hub.Subscribe(context.Background(), "user-1")
	event := domain.ReadReceiptEvent("conv-1", "user-2")
	// Overfill the buffer without draining. Publish must never block.
	for i := 0; i < subscriberBufferSize+10; i++ {
		hub.Publish("user-1", event)
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != subscriberBufferSize {
				t.Fatalf("expected %d buffered events, got %d", subscriberBufferSize, received)
			}
			return
		}
	}
}
