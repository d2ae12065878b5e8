package models

import (
	"encoding/json"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

type CampaignType string

const (
	CampaignPromotional CampaignType = "promotional"
	CampaignRenewal     CampaignType = "renewal"
	CampaignWelcome     CampaignType = "welcome"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	}
	return false
}

type TriggerCondition string

const (
	TriggerAlways     TriggerCondition = "always"
	TriggerNoResponse TriggerCondition = "no_response"
	TriggerNoAction   TriggerCondition = "no_action"
)

// SkipsOnEngagement reports whether the step is skipped once the contact
// has replied to or clicked an earlier message.
func (t TriggerCondition) SkipsOnEngagement() bool {
	return t == TriggerNoResponse || t == TriggerNoAction
}

type DispatchStatus string

const (
	DispatchPending   DispatchStatus = "pending"
	DispatchSent      DispatchStatus = "sent"
	DispatchFailed    DispatchStatus = "failed"
	DispatchDelivered DispatchStatus = "delivered"
	DispatchOpened    DispatchStatus = "opened"
	DispatchClicked   DispatchStatus = "clicked"
	DispatchReplied   DispatchStatus = "replied"
)

// Campaign is an outreach plan against one audience.
type Campaign struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	Name               string         `gorm:"type:varchar(255);not null" json:"name"`
	Description        string         `gorm:"type:text" json:"description"`
	Type               CampaignType   `gorm:"type:varchar(20);not null" json:"campaign_type"`
	Status             CampaignStatus `gorm:"type:varchar(20);index;default:'draft'" json:"status"`
	AudienceID         uint           `gorm:"index;not null" json:"audience_id"`
	EnableEmail        bool           `gorm:"default:false" json:"enable_email"`
	EnableSMS          bool           `gorm:"default:false" json:"enable_sms"`
	EnableWhatsApp     bool           `gorm:"default:false" json:"enable_whatsapp"`
	EmailProviderID    *uint          `json:"email_provider_id,omitempty"`
	SMSProviderID      *uint          `json:"sms_provider_id,omitempty"`
	WhatsAppProviderID *uint          `json:"whatsapp_provider_id,omitempty"`
	ScheduledAt        *time.Time     `gorm:"index" json:"scheduled_at,omitempty"`
	LastActivityAt     *time.Time     `json:"last_activity_at,omitempty"`
	Steps              []SequenceStep `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE;" json:"sequence_steps"`
	IsDeleted          bool           `gorm:"default:false;index" json:"-"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

func (c Campaign) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return c.EnableEmail
	case ChannelSMS:
		return c.EnableSMS
	case ChannelWhatsApp:
		return c.EnableWhatsApp
	}
	return false
}

// ProviderFor returns the explicitly pinned provider for a channel, if any.
func (c Campaign) ProviderFor(ch Channel) *uint {
	switch ch {
	case ChannelEmail:
		return c.EmailProviderID
	case ChannelSMS:
		return c.SMSProviderID
	case ChannelWhatsApp:
		return c.WhatsAppProviderID
	}
	return nil
}

// SequenceStep is one ordered message of a campaign. StepOrder is 1-based and dense.
type SequenceStep struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	CampaignID       uint             `gorm:"not null;uniqueIndex:idx_campaign_step_order" json:"campaign_id"`
	StepOrder        int              `gorm:"not null;uniqueIndex:idx_campaign_step_order" json:"step_order"`
	Channel          Channel          `gorm:"type:varchar(20);not null" json:"channel"`
	TemplateID       uint             `gorm:"not null" json:"template_id"`
	DelayMinutes     int              `gorm:"default:0" json:"delay_minutes"`
	DelayHours       int              `gorm:"default:0" json:"delay_hours"`
	DelayDays        int              `gorm:"default:0" json:"delay_days"`
	DelayWeeks       int              `gorm:"default:0" json:"delay_weeks"`
	TriggerCondition TriggerCondition `gorm:"type:varchar(20);default:'always'" json:"trigger_condition"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SequenceStep) TableName() string {
	return "sequence_steps"
}

func (s SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayMinutes)*time.Minute +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayWeeks)*7*24*time.Hour
}

type Audience struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Audience) TableName() string {
	return "audiences"
}

// Contact is a recipient inside an audience.
type Contact struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	AudienceID uint       `gorm:"index;not null" json:"audience_id"`
	Name       string     `gorm:"type:varchar(255)" json:"name"`
	Email      string     `gorm:"type:varchar(255)" json:"email"`
	Phone      string     `gorm:"type:varchar(32)" json:"phone"`
	Fields     string     `gorm:"type:text" json:"fields"` // JSON object of template variables
	IsDeleted  bool       `gorm:"default:false;index" json:"-"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Variables merges the contact's fixed attributes with its free-form fields.
func (c Contact) Variables() map[string]string {
	vars := map[string]string{}
	if c.Fields != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(c.Fields), &extra); err == nil {
			for k, v := range extra {
				if v == nil {
					continue
				}
				switch t := v.(type) {
				case string:
					vars[k] = t
				default:
					b, _ := json.Marshal(t)
					vars[k] = string(b)
				}
			}
		}
	}
	if c.Name != "" {
		vars["name"] = c.Name
	}
	if c.Email != "" {
		vars["email"] = c.Email
	}
	if c.Phone != "" {
		vars["phone"] = c.Phone
	}
	return vars
}

// Address returns the delivery address the channel needs.
func (c Contact) Address(ch Channel) string {
	if ch == ChannelEmail {
		return c.Email
	}
	return c.Phone
}

// Template is the message content a step sends. WhatsApp steps may point at a
// provider approved template by name, in which case Params lists the contact
// variables filled into its body placeholders in order.
type Template struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Name                 string    `gorm:"type:varchar(255);not null" json:"name"`
	Channel              Channel   `gorm:"type:varchar(20)" json:"channel"`
	Subject              string    `gorm:"type:varchar(255)" json:"subject"`
	Body                 string    `gorm:"type:text" json:"body"`
	ProviderTemplateName string    `gorm:"type:varchar(255)" json:"provider_template_name"`
	Language             string    `gorm:"type:varchar(20);default:'en'" json:"language"`
	Params               string    `gorm:"type:text" json:"params"` // JSON array of variable names
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

func (t Template) ParamNames() []string {
	if t.Params == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(t.Params), &names); err != nil {
		return nil
	}
	return names
}

// DispatchLog records one send attempt for a (campaign, step, contact) triple.
type DispatchLog struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	CampaignID         uint           `gorm:"not null;index;uniqueIndex:idx_dispatch_attempt" json:"campaign_id"`
	StepID             uint           `gorm:"not null;uniqueIndex:idx_dispatch_attempt" json:"step_id"`
	ContactID          uint           `gorm:"not null;index;uniqueIndex:idx_dispatch_attempt" json:"contact_id"`
	Attempt            int            `gorm:"not null;default:1;uniqueIndex:idx_dispatch_attempt" json:"attempt"`
	StepOrder          int            `json:"step_order"`
	Channel            Channel        `gorm:"type:varchar(20)" json:"channel"`
	ProviderID         *uint          `json:"provider_id,omitempty"`
	Status             DispatchStatus `gorm:"type:varchar(20);index;default:'pending'" json:"status"`
	SentAt             time.Time      `json:"sent_at"`
	ErrorMessage       string         `gorm:"type:text" json:"error_message,omitempty"`
	ProviderMessageID  *string        `gorm:"type:varchar(255);index" json:"provider_message_id,omitempty"`
	ResponseReceivedAt *time.Time     `json:"response_received_at,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DispatchLog) TableName() string {
	return "dispatch_logs"
}

// PendingTask is a step scheduled for the future and not yet started.
type PendingTask struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TaskHandle   string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"task_handle"`
	CampaignID   uint      `gorm:"not null;index" json:"campaign_id"`
	ContactID    uint      `gorm:"not null" json:"contact_id"`
	StepID       uint      `gorm:"not null" json:"step_id"`
	Attempt      int       `gorm:"not null;default:1" json:"attempt"`
	ScheduledFor time.Time `gorm:"not null" json:"scheduled_for"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PendingTask) TableName() string {
	return "pending_tasks"
}

type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ProviderConfig is one configured account at an external messaging provider.
// Usage and health columns are written by the provider registry only.
type ProviderConfig struct {
	ID                 uint         `gorm:"primaryKey" json:"id"`
	Name               string       `gorm:"type:varchar(100);not null" json:"name"`
	Channel            Channel      `gorm:"type:varchar(20);not null;index" json:"channel"`
	ProviderType       string       `gorm:"type:varchar(30);not null" json:"provider_type"`
	Credentials        string       `gorm:"type:text" json:"-"` // sealed JSON
	Status             string       `gorm:"type:varchar(20);default:'active'" json:"status"`
	HealthStatus       HealthStatus `gorm:"type:varchar(20);default:'unknown'" json:"health_status"`
	LastHealthCheck    *time.Time   `json:"last_health_check,omitempty"`
	DailyLimit         int          `json:"daily_limit"`
	MonthlyLimit       int          `json:"monthly_limit"`
	RateLimitPerMinute int          `json:"rate_limit_per_minute"`
	SentToday          int          `gorm:"default:0" json:"sent_today"`
	SentThisMonth      int          `gorm:"default:0" json:"sent_this_month"`
	LastResetDaily     string       `gorm:"type:varchar(10)" json:"last_reset_daily"`   // 2006-01-02
	LastResetMonthly   string       `gorm:"type:varchar(7)" json:"last_reset_monthly"` // 2006-01
	IsDefault          bool         `gorm:"default:false;index" json:"is_default"`
	IsActive           bool         `json:"is_active"`
	IsDeleted          bool         `gorm:"default:false" json:"-"`
	CreatedAt          time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProviderConfig) TableName() string {
	return "provider_configs"
}

type ProviderHealthLog struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	ProviderID uint         `gorm:"index;not null" json:"provider_id"`
	Status     HealthStatus `gorm:"type:varchar(20)" json:"status"`
	Details    string       `gorm:"type:text" json:"details"`
	CheckedAt  time.Time    `gorm:"autoCreateTime" json:"checked_at"`
}

func (ProviderHealthLog) TableName() string {
	return "provider_health_logs"
}

// WebhookEvent keeps every raw provider callback that went through ingestion.
type WebhookEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProviderID      uint      `gorm:"index" json:"provider_id"`
	EventCount      int       `json:"event_count"`
	Payload         string    `gorm:"type:text" json:"payload"`
	Processed       bool      `gorm:"default:false" json:"processed"`
	ProcessingError string    `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// SuppressedAddress is a do-not-contact entry (email or phone).
type SuppressedAddress struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Address   string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"address"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (SuppressedAddress) TableName() string {
	return "suppressed_addresses"
}

// All lists every model for AutoMigrate and the copy tool, parents first.
func All() []any {
	return []any{
		&Audience{},
		&Contact{},
		&Template{},
		&ProviderConfig{},
		&ProviderHealthLog{},
		&Campaign{},
		&SequenceStep{},
		&DispatchLog{},
		&PendingTask{},
		&WebhookEvent{},
		&SuppressedAddress{},
	}
}
