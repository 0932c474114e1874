package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"worklink/internal/live"
	"worklink/internal/notify"
	"worklink/internal/util"
	"worklink/pkg/domain"
	"worklink/pkg/storage"
	"worklink/pkg/store"
)

const (
	defaultConversationLimit = 30
	maxConversationLimit     = 100
	defaultMessageLimit      = 50
	maxMessageLimit          = 200
)

// StatusAction is the caller-facing status verb. Archiving resolves to the
// requesting participant's side; unblocking is restricted to the blocker by
// the store.
type StatusAction string

const (
	ActionActivate StatusAction = "activate"
	ActionArchive  StatusAction = "archive"
	ActionBlock    StatusAction = "block"
)

// Config holds the collaborators for the core messaging service.
type Config struct {
	Store          store.Store
	Live           live.Publisher
	Notifier       notify.Publisher
	Objects        storage.ObjectStore
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// App wires storage, live fan-out and downstream notification behind the
// operations the transport layer exposes.
type App struct {
	store          store.Store
	live           live.Publisher
	notifier       notify.Publisher
	objects        storage.ObjectStore
	maxUploadBytes int64
	logger         *slog.Logger
}

// New constructs the application from injected collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Live == nil {
		return nil, fmt.Errorf("live publisher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &App{
		store:          cfg.Store,
		live:           cfg.Live,
		notifier:       cfg.Notifier,
		objects:        cfg.Objects,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}, nil
}

// GetOrCreateConversation returns the one conversation for the triple,
// creating it if absent. The requester must be one of the two parties.
func (a *App) GetOrCreateConversation(ctx context.Context, requesterID string, jobID *int64, clientID, workerID string) (*domain.Conversation, error) {
	clientID = strings.TrimSpace(clientID)
	workerID = strings.TrimSpace(workerID)
	if clientID == "" || workerID == "" {
		return nil, fmt.Errorf("%w: client and worker ids required", domain.ErrValidation)
	}
	if clientID == workerID {
		return nil, fmt.Errorf("%w: client and worker must differ", domain.ErrValidation)
	}
	if requesterID != clientID && requesterID != workerID {
		return nil, fmt.Errorf("%w: requester is not a participant", domain.ErrForbidden)
	}
	return a.store.GetOrCreateConversation(ctx, jobID, clientID, workerID)
}

// ListConversations lists the user's conversations for the given filter,
// newest activity first.
func (a *App) ListConversations(ctx context.Context, userID string, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error) {
	if filter == "" {
		filter = domain.FilterActive
	}
	switch filter {
	case domain.FilterActive, domain.FilterArchived, domain.FilterBlocked:
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", domain.ErrValidation, filter)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxConversationLimit {
		limit = defaultConversationLimit
	}
	return a.store.ListConversations(ctx, userID, filter, page, limit)
}

// SetConversationStatus applies a status action on behalf of userID.
func (a *App) SetConversationStatus(ctx context.Context, convID, userID string, action StatusAction) (*domain.Conversation, error) {
	conv, err := a.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.Participant(userID) {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	var status domain.ConversationStatus
	switch action {
	case ActionActivate:
		status = domain.ConversationActive
	case ActionArchive:
		if userID == conv.ClientID {
			status = domain.ConversationArchivedByClient
		} else {
			status = domain.ConversationArchivedByWorker
		}
	case ActionBlock:
		status = domain.ConversationBlocked
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrValidation, action)
	}
	return a.store.SetConversationStatus(ctx, convID, userID, status)
}

// SendMessage appends a message and fans it out to the receiver's live
// subscriptions. clientKey, when non-empty, makes retries idempotent; a
// deduplicated retry returns the original message without a second fan-out.
func (a *App) SendMessage(ctx context.Context, convID, senderID string, content domain.Content, clientKey string) (*domain.Message, error) {
	msg, created, err := a.store.AppendMessage(ctx, convID, senderID, content, clientKey)
	if err != nil {
		return nil, err
	}
	if created {
		event := domain.NewMessageEvent(msg)
		a.live.Publish(msg.ReceiverID, event)
		if a.notifier != nil {
			a.notifier.Notify(ctx, msg.ReceiverID, event)
		}
	}
	return msg, nil
}

// Messages returns one page of conversation history in ascending order plus
// the cursor for the next older page.
func (a *App) Messages(ctx context.Context, convID, userID, cursor string, limit int) ([]*domain.Message, string, error) {
	if limit <= 0 || limit > maxMessageLimit {
		limit = defaultMessageLimit
	}
	return a.store.PageMessages(ctx, convID, userID, cursor, limit)
}

// MarkRead marks every message addressed to readerID as read and notifies the
// counterpart with a read receipt when anything actually changed.
func (a *App) MarkRead(ctx context.Context, convID, readerID string) (int, error) {
	changed, err := a.store.MarkConversationRead(ctx, convID, readerID)
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		conv, err := a.store.GetConversation(ctx, convID)
		if err != nil {
			a.logger.Warn("read receipt skipped", "conversation_id", convID, "error", err)
			return changed, nil
		}
		event := domain.ReadReceiptEvent(convID, readerID)
		a.live.Publish(conv.Counterpart(readerID), event)
		if a.notifier != nil {
			a.notifier.Notify(ctx, conv.Counterpart(readerID), event)
		}
	}
	return changed, nil
}

// DeleteMessage soft-deletes a message the requesting user sent.
func (a *App) DeleteMessage(ctx context.Context, messageID, userID string) error {
	return a.store.SoftDeleteMessage(ctx, messageID, userID)
}

// UnreadTotals returns the user's badge counters across active conversations.
func (a *App) UnreadTotals(ctx context.Context, userID string) (domain.UnreadTotals, error) {
	return a.store.UnreadTotals(ctx, userID)
}

// UploadAttachment stores an attachment and returns the file descriptor to
// embed in an image or file message. size must be the exact payload length.
func (a *App) UploadAttachment(ctx context.Context, userID, filename string, r io.Reader, size int64) (*domain.FileInfo, error) {
	if a.objects == nil {
		return nil, ErrAttachmentsDisabled
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename required", domain.ErrValidation)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: size required", domain.ErrValidation)
	}
	if size > a.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrAttachmentTooLarge, size, a.maxUploadBytes)
	}
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.AttachmentKey(userID, util.NewID(), filename)
	if err := a.objects.PutAttachment(ctx, key, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	url, err := a.objects.AttachmentURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("link attachment: %w", err)
	}
	return &domain.FileInfo{
		URL:  url,
		Name: filepath.Base(filename),
		Type: contentType,
		Size: size,
	}, nil
}

// Close releases the storage layer.
func (a *App) Close() error {
	return a.store.Close()
}
