package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// GetDocument fetches a document by internal ID.
func GetDocument(ctx context.Context, db *gorm.DB, id string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDocumentByMessageID fetches the document derived from a message.
func GetDocumentByMessageID(ctx context.Context, db *gorm.DB, messageID string) (*domain.Document, error) {
	var d domain.Document
	if err := db.WithContext(ctx).Where("message_id = ?", messageID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDocumentOnce inserts d unless a document for the same message exists.
// When another writer got there first, the stored document is returned with
// created=false.
func CreateDocumentOnce(ctx context.Context, db *gorm.DB, d *domain.Document) (*domain.Document, bool, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.ProcessedAt.IsZero() {
		d.ProcessedAt = now
	}
	d.CreatedAt = now

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(d)
	if res.Error != nil && !IsDuplicate(res.Error) {
		return nil, false, res.Error
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return d, true, nil
	}
	existing, err := GetDocumentByMessageID(ctx, db, d.MessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CountDocuments returns the number of documents, optionally scoped to a chat.
func CountDocuments(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	q := db.WithContext(ctx).Model(&domain.Document{})
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	err := q.Count(&total).Error
	return total, err
}

// ListDocumentsPage returns a page of documents, newest first, optionally
// scoped to a chat.
func ListDocumentsPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Document, error) {
	var out []domain.Document
	q := db.WithContext(ctx)
	if chatID != "" {
		q = q.Where("chat_id = ?", chatID)
	}
	err := q.Order("processed_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// EachDocument streams every document's id and extracted text in pages of
// batch rows. It is used to rebuild the in-memory search index at startup.
func EachDocument(ctx context.Context, db *gorm.DB, batch int, fn func(id, text string)) error {
	if batch <= 0 {
		batch = 200
	}
	type row struct {
		ID            string
		ExtractedText string
	}
	for offset := 0; ; offset += batch {
		var rows []row
		err := db.WithContext(ctx).
			Model(&domain.Document{}).
			Select("id", "extracted_text").
			Order("id ASC").
			Offset(offset).
			Limit(batch).
			Scan(&rows).Error
		if err != nil {
			return err
		}
		for _, r := range rows {
			fn(r.ID, r.ExtractedText)
		}
		if len(rows) < batch {
			return nil
		}
	}
}
