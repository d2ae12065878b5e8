package repository

import (
	"context"
	"time"

	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

type GormPendingTaskRepository struct {
	DB *gorm.DB
}

func (r *GormPendingTaskRepository) Create(ctx context.Context, t *models.PendingTask) error {
	return r.DB.WithContext(ctx).Create(t).Error
}

func (r *GormPendingTaskRepository) DeleteByHandle(ctx context.Context, handle string) (bool, error) {
	res := r.DB.WithContext(ctx).Where("task_handle = ?", handle).Delete(&models.PendingTask{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormPendingTaskRepository) Delete(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Delete(&models.PendingTask{}, id).Error
}

func (r *GormPendingTaskRepository) ListByCampaign(ctx context.Context, campaignID uint) ([]models.PendingTask, error) {
	var tasks []models.PendingTask
	err := r.DB.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("scheduled_for ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *GormPendingTaskRepository) CountByCampaign(ctx context.Context, campaignID uint) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.PendingTask{}).Where("campaign_id = ?", campaignID).Count(&n).Error
	return n, err
}

// Overdue returns tasks of running campaigns that should have fired before
// the given time. Paused and deleted campaigns are left alone.
func (r *GormPendingTaskRepository) Overdue(ctx context.Context, before time.Time, limit int) ([]models.PendingTask, error) {
	var tasks []models.PendingTask
	err := r.DB.WithContext(ctx).
		Joins("JOIN campaigns ON campaigns.id = pending_tasks.campaign_id").
		Where("campaigns.status = ? AND campaigns.is_deleted = ?", models.CampaignActive, false).
		Where("pending_tasks.scheduled_for < ?", before).
		Order("pending_tasks.scheduled_for ASC, pending_tasks.id ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
