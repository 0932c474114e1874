package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"worklink/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&ConversationModel{}, &MessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// GetOrCreateConversation returns the conversation for the triple, creating it
// in active status with zero unread counts when missing. The unique index over
// (job_key, client_id, worker_id) makes the create side of the race lose
// cleanly: on conflict nothing is inserted and the winner's row is re-fetched.
func (s *GormStore) GetOrCreateConversation(ctx context.Context, jobID *int64, clientID, workerID string) (*domain.Conversation, error) {
	if clientID == "" || workerID == "" || clientID == workerID {
		return nil, fmt.Errorf("%w: conversation requires two distinct participants", domain.ErrValidation)
	}
	var jobKey int64
	if jobID != nil {
		jobKey = *jobID
	}

	var existing ConversationModel
	err := s.db.WithContext(ctx).
		Where("job_key = ? AND client_id = ? AND worker_id = ?", jobKey, clientID, workerID).
		First(&existing).Error
	if err == nil {
		return conversationFromModel(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	model := ConversationModel{
		ID:        uuid.New().String(),
		JobID:     jobID,
		JobKey:    jobKey,
		ClientID:  clientID,
		WorkerID:  workerID,
		Status:    string(domain.ConversationActive),
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the creation race; the other caller's row is authoritative.
		if err := s.db.WithContext(ctx).
			Where("job_key = ? AND client_id = ? AND worker_id = ?", jobKey, clientID, workerID).
			First(&existing).Error; err != nil {
			return nil, err
		}
		return conversationFromModel(existing), nil
	}
	return conversationFromModel(model), nil
}

// GetConversation retrieves a conversation by id.
func (s *GormStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return conversationFromModel(model), nil
}

// ListConversations returns the user's conversations for the filter, most
// recent activity first. Conversations without messages sort by creation time.
func (s *GormStore) ListConversations(ctx context.Context, userID string, filter domain.ConversationFilter, page, limit int) ([]*domain.Conversation, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	tx := s.db.WithContext(ctx).Model(&ConversationModel{})
	switch filter {
	case domain.FilterArchived:
		tx = tx.Where(
			"(client_id = ? AND status = ?) OR (worker_id = ? AND status = ?)",
			userID, string(domain.ConversationArchivedByClient),
			userID, string(domain.ConversationArchivedByWorker),
		)
	case domain.FilterBlocked:
		tx = tx.Where("(client_id = ? OR worker_id = ?) AND status = ?",
			userID, userID, string(domain.ConversationBlocked))
	case domain.FilterActive, "":
		tx = tx.Where("(client_id = ? OR worker_id = ?) AND status = ?",
			userID, userID, string(domain.ConversationActive))
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", domain.ErrValidation, filter)
	}

	var models []ConversationModel
	err := tx.Order("COALESCE(last_message_at, created_at) DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]*domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// SetConversationStatus applies a participant-requested status change.
// Archival sides are bound to the requesting side; leaving blocked is
// reserved for the participant who blocked.
func (s *GormStore) SetConversationStatus(ctx context.Context, convID, requestingUserID string, status domain.ConversationStatus) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		conv := conversationFromModel(model)
		if !conv.Participant(requestingUserID) {
			return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
		}
		if err := validateStatusChange(conv, requestingUserID, status); err != nil {
			return err
		}

		updates := map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}
		switch status {
		case domain.ConversationBlocked:
			updates["blocked_by"] = requestingUserID
		default:
			updates["blocked_by"] = ""
		}
		if err := tx.Model(&ConversationModel{}).Where("id = ?", convID).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&model, "id = ?", convID).Error; err != nil {
			return err
		}
		out = conversationFromModel(model)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateStatusChange(conv *domain.Conversation, userID string, status domain.ConversationStatus) error {
	switch status {
	case domain.ConversationArchivedByClient:
		if userID != conv.ClientID {
			return fmt.Errorf("%w: only the client can archive their side", domain.ErrForbidden)
		}
	case domain.ConversationArchivedByWorker:
		if userID != conv.WorkerID {
			return fmt.Errorf("%w: only the worker can archive their side", domain.ErrForbidden)
		}
	case domain.ConversationBlocked:
		// Either participant may block.
	case domain.ConversationActive:
		if conv.Status == domain.ConversationBlocked && conv.BlockedBy != userID {
			return fmt.Errorf("%w: only the blocking participant can unblock", domain.ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
	}
	return nil
}

// AppendMessage inserts a message and updates the owning conversation's
// denormalized last-message fields and the receiver's unread counter in one
// transaction, with the conversation row locked for the duration.
func (s *GormStore) AppendMessage(ctx context.Context, convID, senderID string, content domain.Content, clientKey string) (*domain.Message, bool, error) {
	if err := content.Validate(); err != nil {
		return nil, false, err
	}

	var (
		out     *domain.Message
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var convModel ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&convModel, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		conv := conversationFromModel(convModel)
		if !conv.Participant(senderID) {
			return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
		}
		if conv.Status == domain.ConversationBlocked && conv.BlockedBy != senderID {
			return fmt.Errorf("%w: conversation is blocked", domain.ErrForbidden)
		}

		if clientKey != "" {
			var dup MessageModel
			err := tx.Where("conversation_id = ? AND sender_id = ? AND client_key = ?",
				convID, senderID, clientKey).First(&dup).Error
			if err == nil {
				msg, convErr := messageFromModel(dup)
				if convErr != nil {
					return convErr
				}
				out = msg
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}

		now := time.Now().UTC()
		msg := &domain.Message{
			ID:             uuid.New().String(),
			ConversationID: convID,
			SenderID:       senderID,
			ReceiverID:     conv.Counterpart(senderID),
			Content:        content,
			Status:         domain.MessageSent,
			CreatedAt:      now,
		}
		model, err := messageToModel(msg, clientKey)
		if err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"last_message_text":      content.Preview(),
			"last_message_at":        now,
			"last_message_sender_id": senderID,
			"updated_at":             now,
		}
		if msg.ReceiverID == conv.ClientID {
			updates["client_unread"] = gorm.Expr("client_unread + 1")
		} else {
			updates["worker_unread"] = gorm.Expr("worker_unread + 1")
		}
		if err := tx.Model(&ConversationModel{}).Where("id = ?", convID).Updates(updates).Error; err != nil {
			return err
		}
		out = msg
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// PageMessages returns one page ordered ascending by (created_at, id). The
// empty cursor yields the newest page; the returned cursor anchors the next
// older page. Fetching as the receiver advances sent rows to delivered.
func (s *GormStore) PageMessages(ctx context.Context, convID, userID, cursor string, limit int) ([]*domain.Message, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var (
		msgs []*domain.Message
		next string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var convModel ConversationModel
		if err := tx.First(&convModel, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		conv := conversationFromModel(convModel)
		if !conv.Participant(userID) {
			return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
		}

		q := tx.Where("conversation_id = ? AND deleted_at IS NULL", convID)
		if cursor != "" {
			ts, id, err := decodeCursor(cursor)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrValidation, err)
			}
			q = q.Where("(created_at, id) < (?, ?)", ts, id)
		}

		var models []MessageModel
		if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
			return err
		}
		// Reverse into chronological order within the page.
		for i, j := 0, len(models)-1; i < j; i, j = i+1, j-1 {
			models[i], models[j] = models[j], models[i]
		}

		// Delivery is implicit on fetch: receiver sees sent rows as delivered.
		var deliver []string
		for i := range models {
			if models[i].ReceiverID == userID && models[i].Status == string(domain.MessageSent) {
				deliver = append(deliver, models[i].ID)
				models[i].Status = string(domain.MessageDelivered)
			}
		}
		if len(deliver) > 0 {
			if err := tx.Model(&MessageModel{}).
				Where("id IN ? AND status = ?", deliver, string(domain.MessageSent)).
				Update("status", string(domain.MessageDelivered)).Error; err != nil {
				return err
			}
		}

		msgs = make([]*domain.Message, 0, len(models))
		for _, m := range models {
			msg, err := messageFromModel(m)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if len(msgs) > 0 {
			next = encodeCursor(msgs[0].CreatedAt, msgs[0].ID)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return msgs, next, nil
}

// MarkConversationRead transitions every message addressed to readerID to read
// and resets the reader's unread counter. Calling it again is a no-op.
func (s *GormStore) MarkConversationRead(ctx context.Context, convID, readerID string) (int, error) {
	var changed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var convModel ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&convModel, "id = ?", convID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		conv := conversationFromModel(convModel)
		if !conv.Participant(readerID) {
			return fmt.Errorf("%w: not a participant", domain.ErrForbidden)
		}

		res := tx.Model(&MessageModel{}).
			Where("conversation_id = ? AND receiver_id = ? AND status <> ? AND deleted_at IS NULL",
				convID, readerID, string(domain.MessageRead)).
			Update("status", string(domain.MessageRead))
		if res.Error != nil {
			return res.Error
		}
		changed = int(res.RowsAffected)

		counter := "worker_unread"
		if readerID == conv.ClientID {
			counter = "client_unread"
		}
		return tx.Model(&ConversationModel{}).Where("id = ?", convID).
			Updates(map[string]any{counter: 0, "updated_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// SoftDeleteMessage hides a message from future pages. Sender only. If the
// message was still unread its contribution to the receiver's counter is
// released, and the last-message cache is recomputed when the deleted message
// was the newest one.
func (s *GormStore) SoftDeleteMessage(ctx context.Context, messageID, requestingUserID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model MessageModel
		if err := tx.First(&model, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		// Lock the conversation row before the message row, matching the
		// order AppendMessage and MarkConversationRead take their locks in.
		var convModel ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&convModel, "id = ?", model.ConversationID).Error; err != nil {
			return err
		}

		// Re-read under the lock; the row may have changed while we waited.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if model.DeletedAt != nil {
			return domain.ErrNotFound
		}
		if model.SenderID != requestingUserID {
			return fmt.Errorf("%w: only the sender can delete a message", domain.ErrForbidden)
		}

		now := time.Now().UTC()
		if err := tx.Model(&MessageModel{}).Where("id = ?", messageID).
			Update("deleted_at", now).Error; err != nil {
			return err
		}

		updates := map[string]any{"updated_at": now}
		if model.Status != string(domain.MessageRead) {
			counter := "worker_unread"
			if model.ReceiverID == convModel.ClientID {
				counter = "client_unread"
			}
			updates[counter] = gorm.Expr(counter + " - 1")
		}

		// Recompute the denormalized newest-message cache if we deleted it.
		var newest MessageModel
		err := tx.Where("conversation_id = ? AND deleted_at IS NULL", model.ConversationID).
			Order("created_at DESC, id DESC").First(&newest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			updates["last_message_text"] = ""
			updates["last_message_at"] = nil
			updates["last_message_sender_id"] = ""
		case err != nil:
			return err
		default:
			latest, convErr := messageFromModel(newest)
			if convErr != nil {
				return convErr
			}
			updates["last_message_text"] = latest.Content.Preview()
			updates["last_message_at"] = latest.CreatedAt
			updates["last_message_sender_id"] = latest.SenderID
		}

		if err := tx.Model(&ConversationModel{}).
			Where("id = ?", model.ConversationID).Updates(updates).Error; err != nil {
			return err
		}
		// Counters never go negative even if state drifted.
		return tx.Model(&ConversationModel{}).
			Where("id = ? AND (client_unread < 0 OR worker_unread < 0)", model.ConversationID).
			Updates(map[string]any{
				"client_unread": gorm.Expr("GREATEST(client_unread, 0)"),
				"worker_unread": gorm.Expr("GREATEST(worker_unread, 0)"),
			}).Error
	})
}

// UnreadTotals aggregates the transactionally maintained counters across the
// user's active conversations.
func (s *GormStore) UnreadTotals(ctx context.Context, userID string) (domain.UnreadTotals, error) {
	var row struct {
		Conversations int
		Messages      int
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) FILTER (WHERE unread > 0) AS conversations,
			COALESCE(SUM(unread), 0)           AS messages
		FROM (
			SELECT CASE WHEN client_id = ? THEN client_unread ELSE worker_unread END AS unread
			FROM conversations
			WHERE (client_id = ? OR worker_id = ?) AND status = ?
		) t`,
		userID, userID, userID, string(domain.ConversationActive),
	).Scan(&row).Error
	if err != nil {
		return domain.UnreadTotals{}, err
	}
	return domain.UnreadTotals{Conversations: row.Conversations, Messages: row.Messages}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
