package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// ChatsStats returns the number of chats matching f and the greatest
// UpdatedAt among them. maxUpdatedAt is nil when nothing matches.
func ChatsStats(ctx context.Context, db *gorm.DB, f ChatFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := f.apply(db.WithContext(ctx).Model(&domain.Chat{}))

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	q = f.apply(db.WithContext(ctx).Model(&domain.Chat{}))
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// Counts is a snapshot of table sizes.
type Counts struct {
	Organizations int64 `json:"organizations"`
	Chats         int64 `json:"chats"`
	Messages      int64 `json:"messages"`
	Documents     int64 `json:"documents"`
}

// TableCounts returns the row count of every domain table.
func TableCounts(ctx context.Context, db *gorm.DB) (Counts, error) {
	var c Counts
	steps := []struct {
		model any
		dst   *int64
	}{
		{&domain.Organization{}, &c.Organizations},
		{&domain.Chat{}, &c.Chats},
		{&domain.Message{}, &c.Messages},
		{&domain.Document{}, &c.Documents},
	}
	for _, s := range steps {
		if err := db.WithContext(ctx).Model(s.model).Count(s.dst).Error; err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}
