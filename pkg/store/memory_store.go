package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"worklink/pkg/domain"
)

// MemoryStore keeps conversations and messages in-process. It backs tests and
// local development and honors the same invariants as the Postgres store:
// idempotent creation, atomic append+counter updates, monotone read state.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]*domain.Conversation
	byTriple map[string]string
	msgs     map[string][]*domain.Message
	byMsgID  map[string]*domain.Message
	byKey    map[string]string // "conv|sender|clientKey" -> message id
	lastTime time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]*domain.Conversation),
		byTriple: make(map[string]string),
		msgs:     make(map[string][]*domain.Message),
		byMsgID:  make(map[string]*domain.Message),
		byKey:    make(map[string]string),
	}
}

func tripleKey(jobID *int64, clientID, workerID string) string {
	var jobKey int64
	if jobID != nil {
		jobKey = *jobID
	}
	return fmt.Sprintf("%d|%s|%s", jobKey, clientID, workerID)
}

// now returns a strictly increasing server timestamp so message ordering is
// total even when appends land within the same clock tick.
func (m *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

func (m *MemoryStore) GetOrCreateConversation(_ context.Context, jobID *int64, clientID, workerID string) (*domain.Conversation, error) {
	if clientID == "" || workerID == "" || clientID == workerID {
		return nil, fmt.Errorf("%w: conversation requires two distinct participants", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tripleKey(jobID, clientID, workerID)
	if id, ok := m.byTriple[key]; ok {
		return copyConversation(m.convs[id]), nil
	}
	now := m.now()
	conv := &domain.Conversation{
		ID:        uuid.New().String(),
		JobID:     jobID,
		ClientID:  clientID,
		WorkerID:  workerID,
		Status:    domain.ConversationActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.convs[conv.ID] = conv
	m.byTriple[key] = conv.ID
	return copyConversation(conv), nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyConversation(conv), nil
}

func (m *MemoryStore) ListConversations(_ context.Context, userID string, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []*domain.Conversation
	for _, conv := range m.convs {
		if !conv.Participant(userID) {
			continue
		}
		if matchesFilter(conv, userID, filter) {
			matches = append(matches, conv)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return activityTime(matches[i]).After(activityTime(matches[j]))
	})

	start := (page - 1) * limit
	if start >= len(matches) {
		return nil, nil
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	res := make([]*domain.Conversation, 0, end-start)
	for _, conv := range matches[start:end] {
		res = append(res, copyConversation(conv))
	}
	return res, nil
}

func matchesFilter(conv *domain.Conversation, userID string, filter domain.ConversationFilter) bool {
	switch filter {
	case domain.FilterArchived:
		return (userID == conv.ClientID && conv.Status == domain.ConversationArchivedByClient) ||
			(userID == conv.WorkerID && conv.Status == domain.ConversationArchivedByWorker)
	case domain.FilterBlocked:
		return conv.Status == domain.ConversationBlocked
	default:
		return conv.Status == domain.ConversationActive
	}
}

func activityTime(conv *domain.Conversation) time.Time {
	if conv.LastMessageTime != nil {
		return *conv.LastMessageTime
	}
	return conv.CreatedAt
}

func (m *MemoryStore) SetConversationStatus(_ context.Context, convID, requestingUserID string, status domain.ConversationStatus) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[convID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !conv.Participant(requestingUserID) {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if err := validateStatusChange(conv, requestingUserID, status); err != nil {
		return nil, err
	}
	conv.Status = status
	if status == domain.ConversationBlocked {
		conv.BlockedBy = requestingUserID
	} else {
		conv.BlockedBy = ""
	}
	conv.UpdatedAt = m.now()
	return copyConversation(conv), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, convID, senderID string, content domain.Content, clientKey string) (*domain.Message, bool, error) {
	if err := content.Validate(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[convID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if !conv.Participant(senderID) {
		return nil, false, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if conv.Status == domain.ConversationBlocked && conv.BlockedBy != senderID {
		return nil, false, fmt.Errorf("%w: conversation is blocked", domain.ErrForbidden)
	}

	dedupeKey := ""
	if clientKey != "" {
		dedupeKey = convID + "|" + senderID + "|" + clientKey
		if id, ok := m.byKey[dedupeKey]; ok {
			return copyMessage(m.byMsgID[id]), false, nil
		}
	}

	now := m.now()
	msg := &domain.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       senderID,
		ReceiverID:     conv.Counterpart(senderID),
		Content:        content,
		Status:         domain.MessageSent,
		CreatedAt:      now,
	}
	m.msgs[convID] = append(m.msgs[convID], msg)
	m.byMsgID[msg.ID] = msg
	if dedupeKey != "" {
		m.byKey[dedupeKey] = msg.ID
	}

	conv.LastMessageText = content.Preview()
	t := now
	conv.LastMessageTime = &t
	conv.LastMessageSenderID = senderID
	conv.UpdatedAt = now
	if msg.ReceiverID == conv.ClientID {
		conv.ClientUnreadCount++
	} else {
		conv.WorkerUnreadCount++
	}
	return copyMessage(msg), true, nil
}

func (m *MemoryStore) PageMessages(_ context.Context, convID, userID, cursor string, limit int) ([]*domain.Message, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[convID]
	if !ok {
		return nil, "", domain.ErrNotFound
	}
	if !conv.Participant(userID) {
		return nil, "", fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}

	visible := make([]*domain.Message, 0, len(m.msgs[convID]))
	for _, msg := range m.msgs[convID] {
		if msg.Deleted {
			continue
		}
		visible = append(visible, msg)
	}

	end := len(visible)
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		end = sort.Search(len(visible), func(i int) bool {
			msg := visible[i]
			if msg.CreatedAt.Equal(ts) {
				return msg.ID >= id
			}
			return msg.CreatedAt.After(ts)
		})
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]*domain.Message, 0, end-start)
	for _, msg := range visible[start:end] {
		// Delivery is implicit on fetch by the receiver.
		if msg.ReceiverID == userID && msg.Status == domain.MessageSent {
			msg.Status = domain.MessageDelivered
		}
		page = append(page, copyMessage(msg))
	}
	var next string
	if len(page) > 0 {
		next = encodeCursor(page[0].CreatedAt, page[0].ID)
	}
	return page, next, nil
}

func (m *MemoryStore) MarkConversationRead(_ context.Context, convID, readerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[convID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !conv.Participant(readerID) {
		return 0, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}

	changed := 0
	for _, msg := range m.msgs[convID] {
		if msg.Deleted || msg.ReceiverID != readerID || msg.Status == domain.MessageRead {
			continue
		}
		msg.Status = domain.MessageRead
		changed++
	}
	if readerID == conv.ClientID {
		conv.ClientUnreadCount = 0
	} else {
		conv.WorkerUnreadCount = 0
	}
	conv.UpdatedAt = m.now()
	return changed, nil
}

func (m *MemoryStore) SoftDeleteMessage(_ context.Context, messageID, requestingUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.byMsgID[messageID]
	if !ok || msg.Deleted {
		return domain.ErrNotFound
	}
	if msg.SenderID != requestingUserID {
		return fmt.Errorf("%w: only the sender can delete a message", domain.ErrForbidden)
	}
	conv := m.convs[msg.ConversationID]

	msg.Deleted = true
	if msg.Status != domain.MessageRead {
		if msg.ReceiverID == conv.ClientID {
			if conv.ClientUnreadCount > 0 {
				conv.ClientUnreadCount--
			}
		} else if conv.WorkerUnreadCount > 0 {
			conv.WorkerUnreadCount--
		}
	}

	// Recompute the newest-message cache from the remaining visible rows.
	conv.LastMessageText = ""
	conv.LastMessageTime = nil
	conv.LastMessageSenderID = ""
	for i := len(m.msgs[conv.ID]) - 1; i >= 0; i-- {
		latest := m.msgs[conv.ID][i]
		if latest.Deleted {
			continue
		}
		conv.LastMessageText = latest.Content.Preview()
		t := latest.CreatedAt
		conv.LastMessageTime = &t
		conv.LastMessageSenderID = latest.SenderID
		break
	}
	conv.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UnreadTotals(_ context.Context, userID string) (domain.UnreadTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var totals domain.UnreadTotals
	for _, conv := range m.convs {
		if !conv.Participant(userID) || conv.Status != domain.ConversationActive {
			continue
		}
		unread := conv.UnreadFor(userID)
		if unread > 0 {
			totals.Conversations++
			totals.Messages += unread
		}
	}
	return totals, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyConversation(conv *domain.Conversation) *domain.Conversation {
	out := *conv
	if conv.LastMessageTime != nil {
		t := *conv.LastMessageTime
		out.LastMessageTime = &t
	}
	if conv.JobID != nil {
		id := *conv.JobID
		out.JobID = &id
	}
	return &out
}

func copyMessage(msg *domain.Message) *domain.Message {
	out := *msg
	if msg.Content.File != nil {
		f := *msg.Content.File
		out.Content.File = &f
	}
	return &out
}
