// Package repository is the persistence boundary of the dispatch engine.
// Every read of a soft-deletable entity takes an explicit includeDeleted flag.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"

	"gorm.io/gorm"
)

// ErrDuplicateAttempt is returned when a dispatch log for the same
// (campaign, step, contact, attempt) already exists.
var ErrDuplicateAttempt = errors.New("dispatch attempt already logged")

type CampaignFilter struct {
	Status models.CampaignStatus
	Type   models.CampaignType
	Search string
	Limit  int
	Offset int
}

type CampaignRepository interface {
	Create(ctx context.Context, c *models.Campaign) error
	Get(ctx context.Context, id uint, includeDeleted bool) (*models.Campaign, error)
	List(ctx context.Context, f CampaignFilter, includeDeleted bool) ([]models.Campaign, error)
	// Transition moves a campaign to `to` only if its current status is one of
	// `from`. It reports whether a row changed.
	Transition(ctx context.Context, id uint, from []models.CampaignStatus, to models.CampaignStatus) (bool, error)
	Touch(ctx context.Context, id uint, at time.Time) error
	ReplaceSteps(ctx context.Context, id uint, steps []models.SequenceStep) error
	Step(ctx context.Context, id uint) (*models.SequenceStep, error)
	StepByOrder(ctx context.Context, campaignID uint, order int) (*models.SequenceStep, error)
	DueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error)
	IdleActive(ctx context.Context, before time.Time) ([]models.Campaign, error)
	SoftDelete(ctx context.Context, id uint, at time.Time) error
}

type ContactRepository interface {
	ListByAudience(ctx context.Context, audienceID uint, includeDeleted bool) ([]models.Contact, error)
	Get(ctx context.Context, id uint, includeDeleted bool) (*models.Contact, error)
}

type TemplateRepository interface {
	Get(ctx context.Context, id uint) (*models.Template, error)
}

type LogFilter struct {
	CampaignID uint
	ContactID  uint
	StepID     uint
	Status     models.DispatchStatus
	Limit      int
	Offset     int
}

type DispatchLogRepository interface {
	Create(ctx context.Context, l *models.DispatchLog) error
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*models.DispatchLog, error)
	UpdateStatus(ctx context.Context, id uint, status models.DispatchStatus, errMsg string, respondedAt *time.Time) error
	HasStatus(ctx context.Context, campaignID, contactID uint, statuses ...models.DispatchStatus) (bool, error)
	List(ctx context.Context, f LogFilter) ([]models.DispatchLog, error)
	ChannelCounts(ctx context.Context, campaignID uint) (map[models.Channel]map[models.DispatchStatus]int64, error)
}

type PendingTaskRepository interface {
	Create(ctx context.Context, t *models.PendingTask) error
	// DeleteByHandle reports whether a record was removed, which makes it a claim.
	DeleteByHandle(ctx context.Context, handle string) (bool, error)
	Delete(ctx context.Context, id uint) error
	ListByCampaign(ctx context.Context, campaignID uint) ([]models.PendingTask, error)
	CountByCampaign(ctx context.Context, campaignID uint) (int64, error)
	Overdue(ctx context.Context, before time.Time, limit int) ([]models.PendingTask, error)
}

type ProviderRepository interface {
	Create(ctx context.Context, p *models.ProviderConfig) error
	Update(ctx context.Context, p *models.ProviderConfig) error
	SoftDelete(ctx context.Context, id uint) error
	Get(ctx context.Context, id uint, includeDeleted bool) (*models.ProviderConfig, error)
	List(ctx context.Context, channel models.Channel, includeDeleted bool) ([]models.ProviderConfig, error)
	Defaults(ctx context.Context, channel models.Channel) ([]models.ProviderConfig, error)
	SetDefault(ctx context.Context, id uint) error
	// ConsumeQuota increments the daily and monthly counters in one statement,
	// resetting them when the stored period differs. It reports false when
	// either limit is already reached.
	ConsumeQuota(ctx context.Context, id uint, day, month string) (bool, error)
	RecordHealth(ctx context.Context, id uint, status models.HealthStatus, details string, at time.Time) error
}

type SuppressionRepository interface {
	IsAllowed(ctx context.Context, address string) (bool, error)
	Add(ctx context.Context, address, reason string) error
}

type WebhookEventRepository interface {
	Create(ctx context.Context, e *models.WebhookEvent) error
	MarkProcessed(ctx context.Context, id uint, count int, processingErr error) error
}

// Store bundles the gorm backed repositories.
type Store struct {
	Campaigns     CampaignRepository
	Contacts      ContactRepository
	Templates     TemplateRepository
	Logs          DispatchLogRepository
	Pending       PendingTaskRepository
	Providers     ProviderRepository
	Suppression   SuppressionRepository
	WebhookEvents WebhookEventRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		Campaigns:     &GormCampaignRepository{DB: db},
		Contacts:      &GormContactRepository{DB: db},
		Templates:     &GormTemplateRepository{DB: db},
		Logs:          &GormDispatchLogRepository{DB: db},
		Pending:       &GormPendingTaskRepository{DB: db},
		Providers:     &GormProviderRepository{DB: db},
		Suppression:   &GormSuppressionRepository{DB: db},
		WebhookEvents: &GormWebhookEventRepository{DB: db},
	}
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, apperrors.ErrNotFound)
	}
	return err
}
