package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"worklink/pkg/domain"
)

// GORM models used for persistence.

type ConversationModel struct {
	ID    string `gorm:"primaryKey"`
	JobID *int64
	// JobKey coalesces the nullable JobID to 0 so the uniqueness constraint
	// over the triple holds (Postgres NULLs never collide in unique indexes).
	JobKey   int64  `gorm:"not null;default:0;uniqueIndex:idx_conversations_triple,priority:1"`
	ClientID string `gorm:"not null;index;uniqueIndex:idx_conversations_triple,priority:2"`
	WorkerID string `gorm:"not null;index;uniqueIndex:idx_conversations_triple,priority:3"`

	Status    string `gorm:"not null;index"`
	BlockedBy string

	ClientUnread int `gorm:"not null;default:0"`
	WorkerUnread int `gorm:"not null;default:0"`

	LastMessageText     string
	LastMessageAt       *time.Time `gorm:"index"`
	LastMessageSenderID string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             string `gorm:"primaryKey"`
	ConversationID string `gorm:"not null;index:idx_messages_conv_created,priority:1;uniqueIndex:idx_messages_client_key,priority:1"`
	SenderID       string `gorm:"not null;uniqueIndex:idx_messages_client_key,priority:2"`
	ReceiverID     string `gorm:"not null;index"`

	Type       string `gorm:"not null"`
	Body       string `gorm:"type:text"`
	Attachment datatypes.JSON

	Status string `gorm:"not null;index"`
	// ClientKey dedupes retried sends. Nullable so messages sent without a
	// key do not collide in the unique index.
	ClientKey *string `gorm:"uniqueIndex:idx_messages_client_key,priority:3"`

	CreatedAt time.Time  `gorm:"not null;index:idx_messages_conv_created,priority:2"`
	DeletedAt *time.Time `gorm:"index"`
}

func (MessageModel) TableName() string { return "messages" }

func conversationFromModel(m ConversationModel) *domain.Conversation {
	return &domain.Conversation{
		ID:                  m.ID,
		JobID:               m.JobID,
		ClientID:            m.ClientID,
		WorkerID:            m.WorkerID,
		Status:              domain.ConversationStatus(m.Status),
		BlockedBy:           m.BlockedBy,
		ClientUnreadCount:   m.ClientUnread,
		WorkerUnreadCount:   m.WorkerUnread,
		LastMessageText:     m.LastMessageText,
		LastMessageTime:     m.LastMessageAt,
		LastMessageSenderID: m.LastMessageSenderID,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func messageFromModel(m MessageModel) (*domain.Message, error) {
	content := domain.Content{Type: domain.MessageType(m.Type), Text: m.Body}
	if len(m.Attachment) > 0 {
		var info domain.FileInfo
		if err := json.Unmarshal(m.Attachment, &info); err != nil {
			return nil, err
		}
		content.File = &info
	}
	return &domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        content,
		Status:         domain.MessageStatus(m.Status),
		CreatedAt:      m.CreatedAt,
		Deleted:        m.DeletedAt != nil,
	}, nil
}

func messageToModel(msg *domain.Message, clientKey string) (MessageModel, error) {
	model := MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Type:           string(msg.Content.Type),
		Body:           msg.Content.Text,
		Status:         string(msg.Status),
		CreatedAt:      msg.CreatedAt,
	}
	if msg.Content.File != nil {
		raw, err := json.Marshal(msg.Content.File)
		if err != nil {
			return MessageModel{}, err
		}
		model.Attachment = datatypes.JSON(raw)
	}
	if clientKey != "" {
		model.ClientKey = &clientKey
	}
	return model, nil
}
