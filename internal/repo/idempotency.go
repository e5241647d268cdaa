package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// LookupSendKey returns the send remembered under (chatID, key) if it is still
// live at now, otherwise ErrNotFound.
func LookupSendKey(ctx context.Context, db *gorm.DB, chatID, key string, now time.Time) (*domain.Idempotency, error) {
	chatID, key = strings.TrimSpace(chatID), strings.TrimSpace(key)
	if chatID == "" || key == "" {
		return nil, ErrNotFound
	}

	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where(&domain.Idempotency{ChatID: chatID, Key: key}).
		Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	case !rec.Live(now):
		return nil, ErrNotFound
	}
	return &rec, nil
}

// RememberSendKey stores the outcome of a send for ttl. A second call with the
// same (chatID, key) yields ErrDuplicate, even if the first row already expired
// but has not been purged yet.
func RememberSendKey(ctx context.Context, db *gorm.DB, chatID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	created := time.Now().UTC()
	rec := domain.Idempotency{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Key:       key,
		MessageID: messageID,
		Status:    status,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
	err := db.WithContext(ctx).Create(&rec).Error
	if IsDuplicate(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PurgeSendKeys drops rows that stopped replaying at or before now.
func PurgeSendKeys(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
