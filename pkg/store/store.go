package store

import (
	"context"

	"worklink/pkg/domain"
)

// Store defines persistence for conversations, messages and unread state.
// Implementations must make AppendMessage atomic with the owning
// conversation's denormalized fields and unread counters: a reader never
// observes a new message without the matching counter update, or vice versa.
type Store interface {
	// Conversations.
	//
	// GetOrCreateConversation is idempotent and race-safe: two concurrent
	// calls for the same (jobID, clientID, workerID) triple return the same
	// row. jobID may carry nil for conversations without a job context.
	GetOrCreateConversation(ctx context.Context, jobID *int64, clientID, workerID string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error)
	// SetConversationStatus is restricted to participants. Blocking records
	// the blocking user so only the other party is refused at append time.
	SetConversationStatus(ctx context.Context, convID, requestingUserID string, status domain.ConversationStatus) (*domain.Conversation, error)

	// Messages.
	//
	// AppendMessage inserts with a server-assigned timestamp and status=sent.
	// A non-empty clientKey dedupes retries: a second append with the same
	// key returns the stored message with created=false so callers do not
	// fan the event out twice.
	AppendMessage(ctx context.Context, convID, senderID string, content domain.Content, clientKey string) (msg *domain.Message, created bool, err error)
	// PageMessages returns a page in ascending (createdAt, id) order.
	// An empty cursor yields the newest page; the returned cursor fetches the
	// next older page and stays valid under concurrent inserts. Fetching as
	// the receiver implicitly advances sent messages to delivered.
	PageMessages(ctx context.Context, convID, userID, cursor string, limit int) ([]*domain.Message, string, error)
	// MarkConversationRead transitions every message addressed to readerID to
	// read and zeroes the reader's unread counter. Idempotent; returns the
	// number of messages that changed state.
	MarkConversationRead(ctx context.Context, convID, readerID string) (int, error)
	// SoftDeleteMessage hides the message from future pages for everyone.
	// Sender only. An unread message also releases its contribution to the
	// receiver's unread counter.
	SoftDeleteMessage(ctx context.Context, messageID, requestingUserID string) error

	// UnreadTotals aggregates across active conversations where the user
	// participates: conversations with at least one unread, and total unread
	// messages.
	UnreadTotals(ctx context.Context, userID string) (domain.UnreadTotals, error)

	Close() error
}
