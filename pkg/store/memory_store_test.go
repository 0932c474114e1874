package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"worklink/pkg/domain"
)

func mustText(t *testing.T, body string) domain.Content {
	t.Helper()
	content, err := domain.NewTextContent(body)
	if err != nil {
		t.Fatalf("text content: %v", err)
	}
	return content
}

func newConversation(t *testing.T, s *MemoryStore) *domain.Conversation {
	t.Helper()
	conv, err := s.GetOrCreateConversation(context.Background(), nil, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func TestGetOrCreateConversationIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	jobID := int64(77)

	first, err := s.GetOrCreateConversation(ctx, &jobID, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := s.GetOrCreateConversation(ctx, &jobID, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same conversation, got %s and %s", first.ID, second.ID)
	}

	// A different job context is a different conversation.
	other, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("jobless create: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected distinct conversation without job context")
	}
}

func TestGetOrCreateConversationConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-1")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent callers got different conversations: %s vs %s", ids[0], ids[i])
		}
	}
}

func TestGetOrCreateConversationValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetOrCreateConversation(ctx, nil, "", "worker-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty client, got: %v", err)
	}
	if _, err := s.GetOrCreateConversation(ctx, nil, "u-1", "u-1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for self conversation, got: %v", err)
	}
}

func TestAppendMessageUpdatesUnreadAndDenorm(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	msg, created, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "hello"), "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !created {
		t.Fatalf("expected created")
	}
	if msg.ReceiverID != "worker-1" {
		t.Fatalf("unexpected receiver: %s", msg.ReceiverID)
	}
	if msg.Status != domain.MessageSent {
		t.Fatalf("expected status sent, got %s", msg.Status)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.WorkerUnreadCount != 1 || got.ClientUnreadCount != 0 {
		t.Fatalf("unexpected unread counts: client=%d worker=%d", got.ClientUnreadCount, got.WorkerUnreadCount)
	}
	if got.LastMessageText != "hello" || got.LastMessageSenderID != "client-1" {
		t.Fatalf("denormalized last message not updated: %+v", got)
	}
	if got.LastMessageTime == nil || !got.LastMessageTime.Equal(msg.CreatedAt) {
		t.Fatalf("last message time mismatch")
	}
}

func TestAppendMessageClientKeyDedupes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	first, created, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "retry me"), "key-1")
	if err != nil || !created {
		t.Fatalf("first append: created=%v err=%v", created, err)
	}
	second, created, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "retry me"), "key-1")
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if created {
		t.Fatalf("expected dedupe on retry")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same message, got %s and %s", first.ID, second.ID)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.WorkerUnreadCount != 1 {
		t.Fatalf("retry must not bump unread, got %d", got.WorkerUnreadCount)
	}

	// The same key from the other participant is a different message.
	_, created, err = s.AppendMessage(ctx, conv.ID, "worker-1", mustText(t, "mine"), "key-1")
	if err != nil || !created {
		t.Fatalf("other sender append: created=%v err=%v", created, err)
	}
}

func TestAppendMessageRejectsOutsiderAndBlocked(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	if _, _, err := s.AppendMessage(ctx, conv.ID, "stranger", mustText(t, "hi"), ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for outsider, got: %v", err)
	}

	if _, err := s.SetConversationStatus(ctx, conv.ID, "client-1", domain.ConversationBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}
	// The blocked party cannot send.
	if _, _, err := s.AppendMessage(ctx, conv.ID, "worker-1", mustText(t, "hi"), ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for blocked party, got: %v", err)
	}
	// The blocker still can.
	if _, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "still here"), ""); err != nil {
		t.Fatalf("blocker append: %v", err)
	}
}

func TestSetConversationStatusRules(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	// Archive is bound to the requesting side.
	if _, err := s.SetConversationStatus(ctx, conv.ID, "worker-1", domain.ConversationArchivedByClient); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden archiving the other side, got: %v", err)
	}
	got, err := s.SetConversationStatus(ctx, conv.ID, "worker-1", domain.ConversationArchivedByWorker)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got.Status != domain.ConversationArchivedByWorker {
		t.Fatalf("unexpected status: %s", got.Status)
	}

	// Only the blocker can unblock.
	if _, err := s.SetConversationStatus(ctx, conv.ID, "client-1", domain.ConversationBlocked); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := s.SetConversationStatus(ctx, conv.ID, "worker-1", domain.ConversationActive); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden unblock by blocked party, got: %v", err)
	}
	got, err = s.SetConversationStatus(ctx, conv.ID, "client-1", domain.ConversationActive)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if got.Status != domain.ConversationActive || got.BlockedBy != "" {
		t.Fatalf("unblock did not reset state: %+v", got)
	}
}

func TestPageMessagesOrderAndCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	const total = 7
	for i := 0; i < total; i++ {
		sender := "client-1"
		if i%2 == 1 {
			sender = "worker-1"
		}
		if _, _, err := s.AppendMessage(ctx, conv.ID, sender, mustText(t, "msg"), ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	var newest *domain.Message
	for {
		page, next, err := s.PageMessages(ctx, conv.ID, "client-1", cursor, 3)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) == 0 {
			break
		}
		pages++
		for i := 1; i < len(page); i++ {
			if !page[i].CreatedAt.After(page[i-1].CreatedAt) {
				t.Fatalf("page not in ascending order")
			}
		}
		for _, msg := range page {
			if seen[msg.ID] {
				t.Fatalf("message %s returned twice", msg.ID)
			}
			seen[msg.ID] = true
		}
		if newest == nil {
			newest = page[len(page)-1]
		}
		if len(page) < 3 {
			break
		}
		cursor = next
	}
	if len(seen) != total {
		t.Fatalf("expected %d messages across pages, got %d", total, len(seen))
	}
	if pages < 3 {
		t.Fatalf("expected at least 3 pages, got %d", pages)
	}
	if newest == nil || conv.ID != newest.ConversationID {
		t.Fatalf("missing newest message")
	}
}

func TestPageMessagesCursorStableUnderInserts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	for i := 0; i < 6; i++ {
		if _, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "old"), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	firstPage, cursor, err := s.PageMessages(ctx, conv.ID, "client-1", "", 3)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}

	// New arrivals after the first fetch must not shift the older page.
	for i := 0; i < 4; i++ {
		if _, _, err := s.AppendMessage(ctx, conv.ID, "worker-1", mustText(t, "new"), ""); err != nil {
			t.Fatalf("append during paging: %v", err)
		}
	}

	secondPage, _, err := s.PageMessages(ctx, conv.ID, "client-1", cursor, 3)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(secondPage) != 3 {
		t.Fatalf("expected 3 older messages, got %d", len(secondPage))
	}
	for _, msg := range secondPage {
		if !msg.CreatedAt.Before(firstPage[0].CreatedAt) {
			t.Fatalf("older page contains message not older than the anchor")
		}
	}
}

func TestPageMessagesDeliversToReceiver(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	if _, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "hi"), ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Fetch by the sender does not advance status.
	page, _, err := s.PageMessages(ctx, conv.ID, "client-1", "", 10)
	if err != nil {
		t.Fatalf("sender page: %v", err)
	}
	if page[0].Status != domain.MessageSent {
		t.Fatalf("sender fetch changed status to %s", page[0].Status)
	}

	// Fetch by the receiver advances sent to delivered.
	page, _, err = s.PageMessages(ctx, conv.ID, "worker-1", "", 10)
	if err != nil {
		t.Fatalf("receiver page: %v", err)
	}
	if page[0].Status != domain.MessageDelivered {
		t.Fatalf("expected delivered after receiver fetch, got %s", page[0].Status)
	}
}

func TestMarkConversationRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	for i := 0; i < 3; i++ {
		if _, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "hi"), ""); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	changed, err := s.MarkConversationRead(ctx, conv.ID, "worker-1")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if changed != 3 {
		t.Fatalf("expected 3 changed, got %d", changed)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.WorkerUnreadCount != 0 {
		t.Fatalf("unread not cleared: %d", got.WorkerUnreadCount)
	}

	// Idempotent.
	changed, err = s.MarkConversationRead(ctx, conv.ID, "worker-1")
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if changed != 0 {
		t.Fatalf("expected 0 changed on repeat, got %d", changed)
	}

	page, _, err := s.PageMessages(ctx, conv.ID, "worker-1", "", 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	for _, msg := range page {
		if msg.Status != domain.MessageRead {
			t.Fatalf("message %s not read: %s", msg.ID, msg.Status)
		}
	}
}

func TestSoftDeleteMessage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	conv := newConversation(t, s)

	first, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "first"), "")
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, _, err := s.AppendMessage(ctx, conv.ID, "client-1", mustText(t, "second"), "")
	if err != nil {
		t.Fatalf("append second: %v", err)
	}

	// Only the sender may delete.
	if err := s.SoftDeleteMessage(ctx, second.ID, "worker-1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for receiver delete, got: %v", err)
	}

	if err := s.SoftDeleteMessage(ctx, second.ID, "client-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if got.WorkerUnreadCount != 1 {
		t.Fatalf("unread contribution not released: %d", got.WorkerUnreadCount)
	}
	if got.LastMessageText != "first" {
		t.Fatalf("last message not recomputed: %q", got.LastMessageText)
	}

	page, _, err := s.PageMessages(ctx, conv.ID, "worker-1", "", 10)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if len(page) != 1 || page[0].ID != first.ID {
		t.Fatalf("deleted message still visible")
	}

	// Deleting again reports not found.
	if err := s.SoftDeleteMessage(ctx, second.ID, "client-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found on repeat delete, got: %v", err)
	}
}

func TestUnreadTotals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	convA, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	convB, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-2")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	convC, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-3")
	if err != nil {
		t.Fatalf("create c: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := s.AppendMessage(ctx, convA.ID, "worker-1", mustText(t, "a"), ""); err != nil {
			t.Fatalf("append a: %v", err)
		}
	}
	if _, _, err := s.AppendMessage(ctx, convB.ID, "worker-2", mustText(t, "b"), ""); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if _, _, err := s.AppendMessage(ctx, convC.ID, "worker-3", mustText(t, "c"), ""); err != nil {
		t.Fatalf("append c: %v", err)
	}

	// Archived conversations do not contribute.
	if _, err := s.SetConversationStatus(ctx, convC.ID, "client-1", domain.ConversationArchivedByClient); err != nil {
		t.Fatalf("archive c: %v", err)
	}

	totals, err := s.UnreadTotals(ctx, "client-1")
	if err != nil {
		t.Fatalf("unread totals: %v", err)
	}
	if totals.Conversations != 2 || totals.Messages != 3 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	// Totals equal the sum of per-conversation counters for active rows.
	if _, err := s.MarkConversationRead(ctx, convA.ID, "client-1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	totals, err = s.UnreadTotals(ctx, "client-1")
	if err != nil {
		t.Fatalf("unread totals after read: %v", err)
	}
	if totals.Conversations != 1 || totals.Messages != 1 {
		t.Fatalf("unexpected totals after read: %+v", totals)
	}
}

func TestListConversationsFiltersAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	convA, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-1")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	convB, err := s.GetOrCreateConversation(ctx, nil, "client-1", "worker-2")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	// Activity in A after B's creation puts A first.
	if _, _, err := s.AppendMessage(ctx, convA.ID, "worker-1", mustText(t, "ping"), ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	active, err := s.ListConversations(ctx, "client-1", domain.FilterActive, 1, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 || active[0].ID != convA.ID {
		t.Fatalf("unexpected active order: %+v", active)
	}

	if _, err := s.SetConversationStatus(ctx, convB.ID, "client-1", domain.ConversationArchivedByClient); err != nil {
		t.Fatalf("archive: %v", err)
	}

	active, err = s.ListConversations(ctx, "client-1", domain.FilterActive, 1, 10)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != convA.ID {
		t.Fatalf("archived conversation still listed active")
	}

	archived, err := s.ListConversations(ctx, "client-1", domain.FilterArchived, 1, 10)
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != convB.ID {
		t.Fatalf("unexpected archived list: %+v", archived)
	}

	// A worker-side archive is invisible to the client's archived filter.
	archivedWorker, err := s.ListConversations(ctx, "worker-2", domain.FilterArchived, 1, 10)
	if err != nil {
		t.Fatalf("list worker archived: %v", err)
	}
	if len(archivedWorker) != 0 {
		t.Fatalf("client-side archive leaked into worker view")
	}
}
