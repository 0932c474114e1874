package domain

import "time"

type ConversationStatus string

const (
	ConversationActive           ConversationStatus = "active"
	ConversationArchivedByClient ConversationStatus = "archived_by_client"
	ConversationArchivedByWorker ConversationStatus = "archived_by_worker"
	ConversationBlocked          ConversationStatus = "blocked"
)

// ConversationFilter is the list-view filter exposed to callers. The archived
// filter resolves to archived_by_client or archived_by_worker depending on
// which side of the conversation the requesting user is on.
type ConversationFilter string

const (
	FilterActive   ConversationFilter = "active"
	FilterArchived ConversationFilter = "archived"
	FilterBlocked  ConversationFilter = "blocked"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Conversation is the durable two-party, optionally job-scoped thread.
// Exactly one conversation exists per (jobId, clientId, workerId) triple.
type Conversation struct {
	ID       string             `json:"id"`
	JobID    *int64             `json:"jobId,omitempty"`
	ClientID string             `json:"clientId"`
	WorkerID string             `json:"workerId"`
	Status   ConversationStatus `json:"status"`

	// BlockedBy records which participant set status=blocked. Only the other
	// party is prevented from appending.
	BlockedBy string `json:"blockedBy,omitempty"`

	ClientUnreadCount int `json:"clientUnreadCount"`
	WorkerUnreadCount int `json:"workerUnreadCount"`

	// Denormalized newest-message cache for list rendering.
	LastMessageText     string     `json:"lastMessageText,omitempty"`
	LastMessageTime     *time.Time `json:"lastMessageTime,omitempty"`
	LastMessageSenderID string     `json:"lastMessageSenderId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Participant reports whether userID is one of the two parties.
func (c *Conversation) Participant(userID string) bool {
	return userID == c.ClientID || userID == c.WorkerID
}

// Counterpart returns the other participant, or "" if userID is not one.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.ClientID:
		return c.WorkerID
	case c.WorkerID:
		return c.ClientID
	}
	return ""
}

// UnreadFor returns the unread counter belonging to userID.
func (c *Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.ClientID:
		return c.ClientUnreadCount
	case c.WorkerID:
		return c.WorkerUnreadCount
	}
	return 0
}

// FileInfo describes the binary payload of an image or file message.
type FileInfo struct {
	URL  string `json:"fileUrl"`
	Name string `json:"fileName,omitempty"`
	Type string `json:"fileType,omitempty"`
	Size int64  `json:"fileSize,omitempty"`
}

// Content is the tagged message payload. Text and File are mutually exclusive
// by Type; construct through NewTextContent/NewImageContent/NewFileContent so
// invalid combinations are unrepresentable.
type Content struct {
	Type MessageType `json:"messageType"`
	Text string      `json:"text,omitempty"`
	File *FileInfo   `json:"file,omitempty"`
}

// Message is exclusively owned by its conversation. Content is immutable after
// creation; only status advances (and soft deletion by the sender).
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	Content        Content       `json:"content"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	Deleted        bool          `json:"-"`
}

// UnreadTotals carries both badge semantics: conversations with at least one
// unread message, and the total unread message count.
type UnreadTotals struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}
