package domain

import "time"

// LiveEventType enumerates the events the live delivery channel pushes.
type LiveEventType string

const (
	EventNewMessage  LiveEventType = "new_message"
	EventMessageRead LiveEventType = "message_read"
)

// EventMessage is the compact wire form of a message inside a live event.
type EventMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LiveEvent is pushed to online participants over the live delivery channel.
// The channel is a liveness optimization: events missed while disconnected are
// reconciled by re-fetching from the stores, never replayed here.
type LiveEvent struct {
	Type           LiveEventType `json:"type"`
	ConversationID string        `json:"conversationId"`
	Message        *EventMessage `json:"message,omitempty"`
	// ReaderID is set on message_read receipts.
	ReaderID string `json:"readerId,omitempty"`
}

// NewMessageEvent builds the push event for a freshly appended message.
func NewMessageEvent(m *Message) *LiveEvent {
	return &LiveEvent{
		Type:           EventNewMessage,
		ConversationID: m.ConversationID,
		Message: &EventMessage{
			ID:        m.ID,
			SenderID:  m.SenderID,
			Text:      m.Content.Preview(),
			CreatedAt: m.CreatedAt,
		},
	}
}

// ReadReceiptEvent builds the push event emitted when a participant marks a
// conversation read.
func ReadReceiptEvent(conversationID, readerID string) *LiveEvent {
	return &LiveEvent{
		Type:           EventMessageRead,
		ConversationID: conversationID,
		ReaderID:       readerID,
	}
}
