package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// CreateOrganization inserts a new organization. A name clash returns ErrDuplicate.
func CreateOrganization(ctx context.Context, db *gorm.DB, name, description string) (*domain.Organization, error) {
	now := time.Now().UTC()
	o := &domain.Organization{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if IsDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return o, nil
}

// ListOrganizations returns all organizations ordered by name.
func ListOrganizations(ctx context.Context, db *gorm.DB) ([]domain.Organization, error) {
	var out []domain.Organization
	err := db.WithContext(ctx).Order("name ASC").Find(&out).Error
	return out, err
}

// GetOrganization fetches an organization by ID.
func GetOrganization(ctx context.Context, db *gorm.DB, id string) (*domain.Organization, error) {
	var o domain.Organization
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrganization renames or re-describes an organization.
func UpdateOrganization(ctx context.Context, db *gorm.DB, id, name, description string) (*domain.Organization, error) {
	res := db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "description": description, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		if IsDuplicate(res.Error) {
			return nil, ErrDuplicate
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetOrganization(ctx, db, id)
}

// DeleteOrganization removes an organization and detaches its chats in one
// transaction. It returns the number of chats that were detached.
func DeleteOrganization(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	var detached int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Chat{}).
			Where("organization_id = ?", id).
			Updates(map[string]any{"organization_id": nil, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		detached = res.RowsAffected

		del := tx.Where("id = ?", id).Delete(&domain.Organization{})
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return detached, err
}

// CountChatsByOrganization returns member counts keyed by organization ID.
func CountChatsByOrganization(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		OrganizationID string
		N              int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Select("organization_id, COUNT(*) AS n").
		Where("organization_id IS NOT NULL").
		Group("organization_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.OrganizationID] = r.N
	}
	return out, nil
}
