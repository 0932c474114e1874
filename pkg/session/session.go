// Package session is the client SDK for the messaging service. A Session
// binds one authenticated user to the HTTP API, a local draft cache and the
// live event channel.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"worklink/internal/util"
	"worklink/pkg/domain"
)

// SendError reports a failed send. It carries the content that was being sent
// so the caller can restore the compose box instead of losing the text, and
// the attempt's idempotency key so Resend cannot duplicate a message the
// server already stored.
type SendError struct {
	ConversationID string
	Content        domain.Content
	ClientKey      string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to conversation %s failed: %v", e.ConversationID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Options configures a Session.
type Options struct {
	// BaseURL is the messaging service root, e.g. "https://api.example.com".
	BaseURL string
	// Token is the user's bearer access token.
	Token string
	// HTTPClient overrides the default client (10s timeout) when set.
	HTTPClient *http.Client
	// OnEvent receives live events while the channel is connected.
	OnEvent func(*domain.LiveEvent)
	// OnReconnect fires after every reconnect except the first connect, so
	// the caller can re-fetch state the channel missed while down.
	OnReconnect func()
	// Backoff bounds the reconnect schedule. Zero values get defaults.
	Backoff BackoffConfig
	Logger  *slog.Logger
}

// Session is a per-user handle on the messaging service.
type Session struct {
	api    *apiClient
	drafts *draftCache
	live   *liveChannel
	logger *slog.Logger
}

// New creates a session. Call Connect to bring up the live channel; the HTTP
// operations work without it.
func New(opts Options) (*Session, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("token required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		api:    newAPIClient(opts.BaseURL, opts.Token, opts.HTTPClient),
		drafts: newDraftCache(),
		logger: logger,
	}
	s.live = newLiveChannel(opts.BaseURL, opts.Token, opts.Backoff, logger, opts.OnEvent, opts.OnReconnect)
	return s, nil
}

// Connect starts the live channel. It keeps reconnecting with capped
// exponential backoff until ctx is cancelled or Close is called.
func (s *Session) Connect(ctx context.Context) {
	s.live.start(ctx)
}

// ConnState reports the live channel state.
func (s *Session) ConnState() ConnState {
	return s.live.State()
}

// Close tears down the live channel. The session's HTTP operations remain
// usable afterwards.
func (s *Session) Close() {
	s.live.stop()
}

// GetOrCreateConversation returns the conversation for the triple, creating
// it when absent.
func (s *Session) GetOrCreateConversation(ctx context.Context, jobID *int64, clientID, workerID string) (*domain.Conversation, error) {
	return s.api.createConversation(ctx, jobID, clientID, workerID)
}

// ListConversations lists the user's conversations for the filter, newest
// activity first. Listing never clears unread counters.
func (s *Session) ListConversations(ctx context.Context, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error) {
	return s.api.listConversations(ctx, filter, page, limit)
}

// OpenResult is the state needed to render a just-opened conversation.
type OpenResult struct {
	Messages   []*domain.Message
	NextCursor string
	MarkedRead int
}

// Open fetches the newest page and marks the conversation read in one step.
// This is the only session operation that clears unread counters.
func (s *Session) Open(ctx context.Context, convID string) (*OpenResult, error) {
	msgs, cursor, err := s.api.messages(ctx, convID, "", 0)
	if err != nil {
		return nil, err
	}
	marked, err := s.api.markRead(ctx, convID)
	if err != nil {
		return nil, err
	}
	return &OpenResult{Messages: msgs, NextCursor: cursor, MarkedRead: marked}, nil
}

// Messages fetches an older page using the cursor from a previous call.
func (s *Session) Messages(ctx context.Context, convID, cursor string, limit int) ([]*domain.Message, string, error) {
	return s.api.messages(ctx, convID, cursor, limit)
}

// Send delivers content and waits for the server's acknowledgment; there is
// no optimistic local append. The attempt carries a generated idempotency
// key; on failure that key travels in the returned SendError so a retry goes
// through Resend instead of appending a second copy. On success the
// conversation's draft is cleared.
func (s *Session) Send(ctx context.Context, convID string, content domain.Content) (*domain.Message, error) {
	return s.send(ctx, convID, content, util.NewID())
}

// Resend retries a failed send with the original attempt's idempotency key.
// If the first attempt reached the server before the connection broke, the
// server returns the stored message rather than appending again.
func (s *Session) Resend(ctx context.Context, sendErr *SendError) (*domain.Message, error) {
	return s.send(ctx, sendErr.ConversationID, sendErr.Content, sendErr.ClientKey)
}

func (s *Session) send(ctx context.Context, convID string, content domain.Content, clientKey string) (*domain.Message, error) {
	if err := content.Validate(); err != nil {
		return nil, &SendError{ConversationID: convID, Content: content, ClientKey: clientKey, Err: err}
	}
	msg, err := s.api.sendMessage(ctx, convID, content, clientKey)
	if err != nil {
		return nil, &SendError{ConversationID: convID, Content: content, ClientKey: clientKey, Err: err}
	}
	s.drafts.clear(convID)
	return msg, nil
}

// MarkRead marks every message addressed to the user as read.
func (s *Session) MarkRead(ctx context.Context, convID string) (int, error) {
	return s.api.markRead(ctx, convID)
}

// DeleteMessage removes one of the user's own messages for both parties.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	return s.api.deleteMessage(ctx, messageID)
}

// Archive hides the conversation from the user's active list. The other
// participant's view is unaffected.
func (s *Session) Archive(ctx context.Context, convID string) (*domain.Conversation, error) {
	return s.api.setStatus(ctx, convID, "archive")
}

// Unarchive restores an archived conversation to the active list.
func (s *Session) Unarchive(ctx context.Context, convID string) (*domain.Conversation, error) {
	return s.api.setStatus(ctx, convID, "activate")
}

// Block stops the other participant from sending further messages.
func (s *Session) Block(ctx context.Context, convID string) (*domain.Conversation, error) {
	return s.api.setStatus(ctx, convID, "block")
}

// Unblock lifts a block the user set.
func (s *Session) Unblock(ctx context.Context, convID string) (*domain.Conversation, error) {
	return s.api.setStatus(ctx, convID, "activate")
}

// UnreadCounts returns the user's badge counters across active conversations.
func (s *Session) UnreadCounts(ctx context.Context) (domain.UnreadTotals, error) {
	return s.api.unreadTotals(ctx)
}

// SaveDraft stores compose-box text for the conversation. Empty text clears.
func (s *Session) SaveDraft(convID, text string) {
	s.drafts.save(convID, text)
}

// Draft returns the stored draft for the conversation, if any.
func (s *Session) Draft(convID string) (Draft, bool) {
	return s.drafts.get(convID)
}

// ClearDraft removes the conversation's draft.
func (s *Session) ClearDraft(convID string) {
	s.drafts.clear(convID)
}
