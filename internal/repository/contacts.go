package repository

import (
	"context"
	"errors"

	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

type GormContactRepository struct {
	DB *gorm.DB
}

func (r *GormContactRepository) ListByAudience(ctx context.Context, audienceID uint, includeDeleted bool) ([]models.Contact, error) {
	q := r.DB.WithContext(ctx).Where("audience_id = ?", audienceID)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var contacts []models.Contact
	if err := q.Order("id ASC").Find(&contacts).Error; err != nil {
		return nil, err
	}
	return contacts, nil
}

func (r *GormContactRepository) Get(ctx context.Context, id uint, includeDeleted bool) (*models.Contact, error) {
	q := r.DB.WithContext(ctx)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var c models.Contact
	if err := q.First(&c, id).Error; err != nil {
		return nil, notFound(err, "contact", id)
	}
	return &c, nil
}

type GormTemplateRepository struct {
	DB *gorm.DB
}

func (r *GormTemplateRepository) Get(ctx context.Context, id uint) (*models.Template, error) {
	var t models.Template
	if err := r.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err, "template", id)
	}
	return &t, nil
}

type GormSuppressionRepository struct {
	DB *gorm.DB
}

func (r *GormSuppressionRepository) IsAllowed(ctx context.Context, address string) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.SuppressedAddress{}).
		Where("address = ?", address).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (r *GormSuppressionRepository) Add(ctx context.Context, address, reason string) error {
	entry := models.SuppressedAddress{Address: address, Reason: reason}
	err := r.DB.WithContext(ctx).Create(&entry).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

type GormWebhookEventRepository struct {
	DB *gorm.DB
}

func (r *GormWebhookEventRepository) Create(ctx context.Context, e *models.WebhookEvent) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

func (r *GormWebhookEventRepository) MarkProcessed(ctx context.Context, id uint, count int, processingErr error) error {
	updates := map[string]any{"processed": true, "event_count": count}
	if processingErr != nil {
		updates["processing_error"] = processingErr.Error()
	}
	return r.DB.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
