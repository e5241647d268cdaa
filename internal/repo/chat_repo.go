// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound).
//   - CreateChatOnce never fails on a unique conflict; it reports created=false
//     and returns the row that won.
//
// Usage:
//
//	chat, created, err := repo.CreateChatOnce(ctx, db, &domain.Chat{ExternalID: "c1@s.whatsapp.net"})
//	if err != nil {
//	    // handle DB failure
//	}
//	if created {
//	    // first reference to this conversation
//	}
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

// ChatFilter narrows chat listings.
type ChatFilter struct {
	OrganizationID string // only chats in this organization
	Unassigned     bool   // only chats without an organization
}

func (f ChatFilter) apply(q *gorm.DB) *gorm.DB {
	switch {
	case f.OrganizationID != "":
		q = q.Where("organization_id = ?", f.OrganizationID)
	case f.Unassigned:
		q = q.Where("organization_id IS NULL")
	}
	return q
}

// GetChat fetches a chat by its internal ID.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatByExternalID fetches a chat by its provider id.
func GetChatByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("external_id = ?", externalID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChatOnce inserts c unless a chat with the same ExternalID exists.
// The insert uses ON CONFLICT DO NOTHING so concurrent callers cannot create
// two rows; the loser re-reads and gets the winner's row with created=false.
func CreateChatOnce(ctx context.Context, db *gorm.DB, c *domain.Chat) (*domain.Chat, bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(c)
	if res.Error != nil && !IsDuplicate(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return c, true, nil
	}
	existing, err := GetChatByExternalID(ctx, db, c.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpdateChatMeta refreshes the provider-owned descriptive fields of a chat.
func UpdateChatMeta(ctx context.Context, db *gorm.DB, id string, name string, isGroup bool, participants []string, pictureURL string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":         name,
			"is_group":     isGroup,
			"participants": datatypes.JSONSlice[string](participants),
			"picture_url":  pictureURL,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastMessage points a chat at its most recent message.
func SetLastMessage(ctx context.Context, db *gorm.DB, chatID, messageID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{"last_message_id": messageID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignOrganization sets or clears (orgID == nil) the organization of a chat.
func AssignOrganization(ctx context.Context, db *gorm.DB, chatID string, orgID *string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{"organization_id": orgID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountChats returns the number of chats matching f.
func CountChats(ctx context.Context, db *gorm.DB, f ChatFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Chat{})).Count(&total).Error
	return total, err
}

// ListChatsPage returns a page of chats matching f, most recently active first.
func ListChatsPage(ctx context.Context, db *gorm.DB, f ChatFilter, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := f.apply(db.WithContext(ctx)).
		Order("updated_at desc, id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
