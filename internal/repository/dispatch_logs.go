package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

type GormDispatchLogRepository struct {
	DB *gorm.DB
}

func (r *GormDispatchLogRepository) Create(ctx context.Context, l *models.DispatchLog) error {
	err := r.DB.WithContext(ctx).Create(l).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("campaign %d step %d contact %d attempt %d: %w",
			l.CampaignID, l.StepID, l.ContactID, l.Attempt, ErrDuplicateAttempt)
	}
	return err
}

func (r *GormDispatchLogRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.DispatchLog, error) {
	var l models.DispatchLog
	err := r.DB.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		Order("id DESC").
		First(&l).Error
	if err != nil {
		return nil, notFound(err, "provider message", providerMessageID)
	}
	return &l, nil
}

func (r *GormDispatchLogRepository) UpdateStatus(ctx context.Context, id uint, status models.DispatchStatus, errMsg string, respondedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if respondedAt != nil {
		updates["response_received_at"] = *respondedAt
	}
	return r.DB.WithContext(ctx).Model(&models.DispatchLog{}).Where("id = ?", id).Updates(updates).Error
}

func (r *GormDispatchLogRepository) HasStatus(ctx context.Context, campaignID, contactID uint, statuses ...models.DispatchStatus) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.DispatchLog{}).
		Where("campaign_id = ? AND contact_id = ? AND status IN ?", campaignID, contactID, statuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormDispatchLogRepository) List(ctx context.Context, f LogFilter) ([]models.DispatchLog, error) {
	q := r.DB.WithContext(ctx).Model(&models.DispatchLog{})
	if f.CampaignID != 0 {
		q = q.Where("campaign_id = ?", f.CampaignID)
	}
	if f.ContactID != 0 {
		q = q.Where("contact_id = ?", f.ContactID)
	}
	if f.StepID != 0 {
		q = q.Where("step_id = ?", f.StepID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var logs []models.DispatchLog
	if err := q.Order("id ASC").Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *GormDispatchLogRepository) ChannelCounts(ctx context.Context, campaignID uint) (map[models.Channel]map[models.DispatchStatus]int64, error) {
	var rows []struct {
		Channel models.Channel
		Status  models.DispatchStatus
		N       int64
	}
	err := r.DB.WithContext(ctx).Model(&models.DispatchLog{}).
		Select("channel, status, COUNT(*) AS n").
		Where("campaign_id = ?", campaignID).
		Group("channel, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[models.Channel]map[models.DispatchStatus]int64)
	for _, row := range rows {
		if out[row.Channel] == nil {
			out[row.Channel] = make(map[models.DispatchStatus]int64)
		}
		out[row.Channel][row.Status] = row.N
	}
	return out, nil
}
