package channel

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"campaign-dispatch/internal/apperrors"
)

// Credentials is the decrypted secret bag of one provider type.
type Credentials interface {
	ProviderType() string
	// Redacted returns the non-secret fields plus masked secrets, safe for
	// logs and API responses.
	Redacted() map[string]string
	validate() error
}

type MetaCredentials struct {
	AccessToken       string `json:"access_token"`
	PhoneNumberID     string `json:"phone_number_id"`
	BusinessAccountID string `json:"business_account_id"`
	VerifyToken       string `json:"verify_token"`
}

func (MetaCredentials) ProviderType() string { return "meta" }

func (c MetaCredentials) Redacted() map[string]string {
	return map[string]string{
		"access_token":        mask(c.AccessToken),
		"phone_number_id":     c.PhoneNumberID,
		"business_account_id": c.BusinessAccountID,
		"verify_token":        mask(c.VerifyToken),
	}
}

func (c MetaCredentials) validate() error {
	return required(map[string]string{"access_token": c.AccessToken, "phone_number_id": c.PhoneNumberID})
}

type TwilioCredentials struct {
	AccountSID          string `json:"account_sid"`
	AuthToken           string `json:"auth_token"`
	FromNumber          string `json:"from_number"`
	MessagingServiceSID string `json:"messaging_service_sid"`
	StatusCallbackURL   string `json:"status_callback_url"`
}

func (TwilioCredentials) ProviderType() string { return "twilio" }

func (c TwilioCredentials) Redacted() map[string]string {
	return map[string]string{
		"account_sid":           c.AccountSID,
		"auth_token":            mask(c.AuthToken),
		"from_number":           c.FromNumber,
		"messaging_service_sid": c.MessagingServiceSID,
		"status_callback_url":   c.StatusCallbackURL,
	}
}

func (c TwilioCredentials) validate() error {
	if err := required(map[string]string{"account_sid": c.AccountSID, "auth_token": c.AuthToken}); err != nil {
		return err
	}
	if c.FromNumber == "" && c.MessagingServiceSID == "" {
		return fmt.Errorf("%w: from_number or messaging_service_sid is required", apperrors.ErrInvalidCredentials)
	}
	return nil
}

type GupshupCredentials struct {
	APIKey       string `json:"api_key"`
	AppName      string `json:"app_name"`
	SourceNumber string `json:"source_number"`
}

func (GupshupCredentials) ProviderType() string { return "gupshup" }

func (c GupshupCredentials) Redacted() map[string]string {
	return map[string]string{
		"api_key":       mask(c.APIKey),
		"app_name":      c.AppName,
		"source_number": c.SourceNumber,
	}
}

func (c GupshupCredentials) validate() error {
	return required(map[string]string{"api_key": c.APIKey, "app_name": c.AppName, "source_number": c.SourceNumber})
}

type Dialog360Credentials struct {
	APIKey      string `json:"api_key"`
	VerifyToken string `json:"verify_token"`
}

func (Dialog360Credentials) ProviderType() string { return "dialog360" }

func (c Dialog360Credentials) Redacted() map[string]string {
	return map[string]string{"api_key": mask(c.APIKey), "verify_token": mask(c.VerifyToken)}
}

func (c Dialog360Credentials) validate() error {
	return required(map[string]string{"api_key": c.APIKey})
}

type SendGridCredentials struct {
	APIKey    string `json:"api_key"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

func (SendGridCredentials) ProviderType() string { return "sendgrid" }

func (c SendGridCredentials) Redacted() map[string]string {
	return map[string]string{"api_key": mask(c.APIKey), "from_email": c.FromEmail, "from_name": c.FromName}
}

func (c SendGridCredentials) validate() error {
	return required(map[string]string{"api_key": c.APIKey, "from_email": c.FromEmail})
}

type SMTPCredentials struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

func (SMTPCredentials) ProviderType() string { return "smtp" }

func (c SMTPCredentials) Redacted() map[string]string {
	return map[string]string{
		"host":       c.Host,
		"port":       fmt.Sprint(c.Port),
		"username":   c.Username,
		"password":   mask(c.Password),
		"from_email": c.FromEmail,
		"from_name":  c.FromName,
	}
}

func (c SMTPCredentials) validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("%w: port is required", apperrors.ErrInvalidCredentials)
	}
	return required(map[string]string{"host": c.Host, "from_email": c.FromEmail})
}

// DecodeCredentials parses the plaintext credential JSON of a provider type
// into its concrete struct and validates the required fields.
func DecodeCredentials(providerType string, raw []byte) (Credentials, error) {
	var creds Credentials
	switch providerType {
	case "meta":
		var c MetaCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	case "twilio":
		var c TwilioCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	case "gupshup":
		var c GupshupCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	case "dialog360":
		var c Dialog360Credentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	case "sendgrid":
		var c SendGridCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	case "smtp":
		var c SMTPCredentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidCredentials, err)
		}
		creds = c
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedProvider, providerType)
	}
	if err := creds.validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: missing %s", apperrors.ErrInvalidCredentials, strings.Join(missing, ", "))
}

// mask hides a secret completely; empty stays empty so a missing value is visible.
func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}
