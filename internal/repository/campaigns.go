package repository

import (
	"context"
	"time"

	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

type GormCampaignRepository struct {
	DB *gorm.DB
}

func (r *GormCampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	return r.DB.WithContext(ctx).Create(c).Error
}

func (r *GormCampaignRepository) Get(ctx context.Context, id uint, includeDeleted bool) (*models.Campaign, error) {
	q := r.DB.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	})
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var c models.Campaign
	if err := q.First(&c, id).Error; err != nil {
		return nil, notFound(err, "campaign", id)
	}
	return &c, nil
}

func (r *GormCampaignRepository) List(ctx context.Context, f CampaignFilter, includeDeleted bool) ([]models.Campaign, error) {
	q := r.DB.WithContext(ctx).Model(&models.Campaign{})
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Search != "" {
		q = q.Where("LOWER(name) LIKE LOWER(?)", "%"+f.Search+"%")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}

	var campaigns []models.Campaign
	if err := q.Order("created_at DESC, id DESC").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *GormCampaignRepository) Transition(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND is_deleted = ? AND status IN ?", id, false, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormCampaignRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		UpdateColumn("last_activity_at", at).Error
}

// ReplaceSteps rewrites the step set matching rows by step_order, so step ids
// that survive an edit keep their pending tasks. Tasks of removed steps are dropped.
func (r *GormCampaignRepository) ReplaceSteps(ctx context.Context, id uint, steps []models.SequenceStep) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.SequenceStep
		if err := tx.Where("campaign_id = ?", id).Find(&existing).Error; err != nil {
			return err
		}
		byOrder := make(map[int]models.SequenceStep, len(existing))
		for _, s := range existing {
			byOrder[s.StepOrder] = s
		}

		for i := range steps {
			steps[i].CampaignID = id
			old, ok := byOrder[steps[i].StepOrder]
			if !ok {
				if err := tx.Create(&steps[i]).Error; err != nil {
					return err
				}
				continue
			}
			steps[i].ID = old.ID
			err := tx.Model(&models.SequenceStep{}).Where("id = ?", old.ID).Updates(map[string]any{
				"channel":           steps[i].Channel,
				"template_id":       steps[i].TemplateID,
				"delay_minutes":     steps[i].DelayMinutes,
				"delay_hours":       steps[i].DelayHours,
				"delay_days":        steps[i].DelayDays,
				"delay_weeks":       steps[i].DelayWeeks,
				"trigger_condition": steps[i].TriggerCondition,
			}).Error
			if err != nil {
				return err
			}
			delete(byOrder, steps[i].StepOrder)
		}

		if len(byOrder) == 0 {
			return nil
		}
		removed := make([]uint, 0, len(byOrder))
		for _, s := range byOrder {
			removed = append(removed, s.ID)
		}
		if err := tx.Where("step_id IN ?", removed).Delete(&models.PendingTask{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", removed).Delete(&models.SequenceStep{}).Error
	})
}

func (r *GormCampaignRepository) Step(ctx context.Context, id uint) (*models.SequenceStep, error) {
	var s models.SequenceStep
	if err := r.DB.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, notFound(err, "step", id)
	}
	return &s, nil
}

func (r *GormCampaignRepository) StepByOrder(ctx context.Context, campaignID uint, order int) (*models.SequenceStep, error) {
	var s models.SequenceStep
	err := r.DB.WithContext(ctx).
		Where("campaign_id = ? AND step_order = ?", campaignID, order).
		First(&s).Error
	if err != nil {
		return nil, notFound(err, "step order", order)
	}
	return &s, nil
}

func (r *GormCampaignRepository) DueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.DB.WithContext(ctx).
		Where("status = ? AND is_deleted = ? AND scheduled_at <= ?", models.CampaignScheduled, false, now).
		Find(&campaigns).Error
	return campaigns, err
}

// IdleActive returns ACTIVE campaigns with no pending tasks and no activity since before.
func (r *GormCampaignRepository) IdleActive(ctx context.Context, before time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.DB.WithContext(ctx).
		Where("status = ? AND is_deleted = ?", models.CampaignActive, false).
		Where("(last_activity_at IS NULL OR last_activity_at < ?)", before).
		Where("NOT EXISTS (SELECT 1 FROM pending_tasks WHERE pending_tasks.campaign_id = campaigns.id)").
		Find(&campaigns).Error
	return campaigns, err
}

func (r *GormCampaignRepository) SoftDelete(ctx context.Context, id uint, at time.Time) error {
	res := r.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"is_deleted": true, "deleted_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "campaign", id)
	}
	return nil
}
