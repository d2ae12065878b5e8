package database

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"campaign-dispatch/internal/channel"
	"campaign-dispatch/internal/config"
	"campaign-dispatch/internal/models"
	"campaign-dispatch/internal/secrets"

	"gorm.io/gorm"
)

// SeedDefaultProvider turns the WhatsApp settings of the environment into a
// Meta provider record. It does nothing when the settings are missing or a
// Meta provider already exists. The new provider becomes the WhatsApp default
// unless another default is set.
func SeedDefaultProvider(db *gorm.DB, cfg *config.Config, box *secrets.Box) error {
	if cfg.WhatsAppToken == "" || cfg.PhoneNumberID == "" {
		return nil
	}

	var existing int64
	if err := db.Model(&models.ProviderConfig{}).
		Where("provider_type = ? AND is_deleted = ?", "meta", false).
		Count(&existing).Error; err != nil {
		return fmt.Errorf("count meta providers: %w", err)
	}
	if existing > 0 {
		return nil
	}

	raw, err := json.Marshal(channel.MetaCredentials{
		AccessToken:       cfg.WhatsAppToken,
		PhoneNumberID:     cfg.PhoneNumberID,
		BusinessAccountID: cfg.WhatsAppBusinessAccountID,
		VerifyToken:       cfg.VerifyToken,
	})
	if err != nil {
		return err
	}
	sealed, err := box.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var defaults int64
		if err := tx.Model(&models.ProviderConfig{}).
			Where("channel = ? AND is_default = ? AND is_deleted = ?", models.ChannelWhatsApp, true, false).
			Count(&defaults).Error; err != nil {
			return err
		}
		p := &models.ProviderConfig{
			Name:         "Meta (environment)",
			Channel:      models.ChannelWhatsApp,
			ProviderType: "meta",
			Credentials:  sealed,
			Status:       "active",
			HealthStatus: models.HealthUnknown,
			IsDefault:    defaults == 0,
			IsActive:     true,
		}
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("create meta provider: %w", err)
		}
		slog.Info("seeded meta provider from environment", "provider_id", p.ID, "phone_number_id", cfg.PhoneNumberID, "default", p.IsDefault)
		return nil
	})
}
