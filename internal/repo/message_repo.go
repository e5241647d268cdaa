package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// GetMessage fetches a message by internal ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessageByExternalID fetches a message by its provider id.
func GetMessageByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessageOnce inserts m unless a message with the same ExternalID is
// already stored. A conflict is not an error: the stored row is returned with
// created=false.
func CreateMessageOnce(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if m.Sender == "" {
		m.Sender = domain.UnknownSender
	}
	if m.MediaType == "" {
		m.MediaType = domain.MediaNone
	}
	if m.Mentions == nil {
		m.Mentions = datatypes.JSONSlice[string]{}
	}
	if m.Reactions == nil {
		m.Reactions = datatypes.JSONSlice[domain.Reaction]{}
	}
	m.CreatedAt, m.UpdatedAt = now, now

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(m)
	if res.Error != nil && !IsDuplicate(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return m, true, nil
	}
	existing, err := GetMessageByExternalID(ctx, db, m.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CountMessages returns the number of messages in a chat.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID).Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of a chat's messages, newest first.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SetReaction records actor's emoji on a message, replacing any earlier
// reaction by the same actor. An empty emoji removes the actor's reaction.
// The read-modify-write runs in a transaction.
func SetReaction(ctx context.Context, db *gorm.DB, messageID, actor, emoji string) (*domain.Message, error) {
	var out *domain.Message
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := GetMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}
		next := make(datatypes.JSONSlice[domain.Reaction], 0, len(m.Reactions)+1)
		for _, r := range m.Reactions {
			if r.Actor != actor {
				next = append(next, r)
			}
		}
		if emoji != "" {
			next = append(next, domain.Reaction{Actor: actor, Emoji: emoji})
		}
		if err := tx.Model(&domain.Message{}).
			Where("id = ?", messageID).
			Updates(map[string]any{"reactions": next, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		m.Reactions = next
		out = m
		return nil
	})
	return out, err
}
