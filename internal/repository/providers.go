package repository

import (
	"context"
	"time"

	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

type GormProviderRepository struct {
	DB *gorm.DB
}

func (r *GormProviderRepository) Create(ctx context.Context, p *models.ProviderConfig) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

// Update writes the configuration columns only; counters and health belong
// to ConsumeQuota and RecordHealth.
func (r *GormProviderRepository) Update(ctx context.Context, p *models.ProviderConfig) error {
	return r.DB.WithContext(ctx).Model(p).
		Select("name", "credentials", "status", "daily_limit", "monthly_limit", "rate_limit_per_minute", "is_active").
		Updates(p).Error
}

func (r *GormProviderRepository) SoftDelete(ctx context.Context, id uint) error {
	res := r.DB.WithContext(ctx).Model(&models.ProviderConfig{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "is_active": false, "is_default": false})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "provider", id)
	}
	return nil
}

func (r *GormProviderRepository) Get(ctx context.Context, id uint, includeDeleted bool) (*models.ProviderConfig, error) {
	q := r.DB.WithContext(ctx)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var p models.ProviderConfig
	if err := q.First(&p, id).Error; err != nil {
		return nil, notFound(err, "provider", id)
	}
	return &p, nil
}

// List returns providers, optionally restricted to one channel.
func (r *GormProviderRepository) List(ctx context.Context, channel models.Channel, includeDeleted bool) ([]models.ProviderConfig, error) {
	q := r.DB.WithContext(ctx)
	if channel != "" {
		q = q.Where("channel = ?", channel)
	}
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var providers []models.ProviderConfig
	if err := q.Order("id ASC").Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

func (r *GormProviderRepository) Defaults(ctx context.Context, channel models.Channel) ([]models.ProviderConfig, error) {
	var providers []models.ProviderConfig
	err := r.DB.WithContext(ctx).
		Where("channel = ? AND is_default = ? AND is_active = ? AND is_deleted = ?", channel, true, true, false).
		Find(&providers).Error
	return providers, err
}

// SetDefault makes id the only default of its channel.
func (r *GormProviderRepository) SetDefault(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.ProviderConfig
		if err := tx.Where("is_deleted = ?", false).First(&p, id).Error; err != nil {
			return notFound(err, "provider", id)
		}
		err := tx.Model(&models.ProviderConfig{}).
			Where("channel = ? AND id <> ?", p.Channel, id).
			Update("is_default", false).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.ProviderConfig{}).Where("id = ?", id).Update("is_default", true).Error
	})
}

// Counter and health writes use UpdateColumns so updated_at only moves on
// configuration edits; the registry keys its adapter cache on it.
func (r *GormProviderRepository) ConsumeQuota(ctx context.Context, id uint, day, month string) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.ProviderConfig{}).
		Where("id = ?", id).
		Where("(daily_limit <= 0 OR (CASE WHEN last_reset_daily = ? THEN sent_today ELSE 0 END) < daily_limit)", day).
		Where("(monthly_limit <= 0 OR (CASE WHEN last_reset_monthly = ? THEN sent_this_month ELSE 0 END) < monthly_limit)", month).
		UpdateColumns(map[string]any{
			"sent_today":         gorm.Expr("CASE WHEN last_reset_daily = ? THEN sent_today + 1 ELSE 1 END", day),
			"sent_this_month":    gorm.Expr("CASE WHEN last_reset_monthly = ? THEN sent_this_month + 1 ELSE 1 END", month),
			"last_reset_daily":   day,
			"last_reset_monthly": month,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormProviderRepository) RecordHealth(ctx context.Context, id uint, status models.HealthStatus, details string, at time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ProviderConfig{}).Where("id = ?", id).UpdateColumns(map[string]any{
			"health_status":     status,
			"last_health_check": at,
		}).Error
		if err != nil {
			return err
		}
		return tx.Create(&models.ProviderHealthLog{
			ProviderID: id,
			Status:     status,
			Details:    details,
			CheckedAt:  at,
		}).Error
	})
}
