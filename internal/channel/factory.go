package channel

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"campaign-dispatch/internal/apperrors"
	"campaign-dispatch/internal/models"
)

// Options tune adapter construction. BaseURL replaces the provider's public
// API root, which points adapters at sandboxes and test servers.
type Options struct {
	Channel    models.Channel
	HTTPClient *http.Client
	BaseURL    string
}

type factory struct {
	channels []models.Channel
	build    func(Credentials, Options) (Adapter, error)
}

var factories = map[string]factory{
	"meta": {
		channels: []models.Channel{models.ChannelWhatsApp},
		build:    func(c Credentials, o Options) (Adapter, error) { return newMeta(c.(MetaCredentials), o), nil },
	},
	"dialog360": {
		channels: []models.Channel{models.ChannelWhatsApp},
		build:    func(c Credentials, o Options) (Adapter, error) { return newDialog360(c.(Dialog360Credentials), o), nil },
	},
	"gupshup": {
		channels: []models.Channel{models.ChannelWhatsApp},
		build:    func(c Credentials, o Options) (Adapter, error) { return newGupshup(c.(GupshupCredentials), o), nil },
	},
	"twilio": {
		channels: []models.Channel{models.ChannelSMS, models.ChannelWhatsApp},
		build:    func(c Credentials, o Options) (Adapter, error) { return newTwilio(c.(TwilioCredentials), o), nil },
	},
	"sendgrid": {
		channels: []models.Channel{models.ChannelEmail},
		build:    func(c Credentials, o Options) (Adapter, error) { return newSendGrid(c.(SendGridCredentials), o), nil },
	},
	"smtp": {
		channels: []models.Channel{models.ChannelEmail},
		build:    func(c Credentials, o Options) (Adapter, error) { return newSMTP(c.(SMTPCredentials), o), nil },
	},
}

// New builds the adapter registered for creds.ProviderType().
func New(creds Credentials, opts Options) (Adapter, error) {
	f, ok := factories[creds.ProviderType()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedProvider, creds.ProviderType())
	}
	if !slices.Contains(f.channels, opts.Channel) {
		return nil, apperrors.NewValidation("channel", "%s cannot send on channel %q", creds.ProviderType(), opts.Channel)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return f.build(creds, opts)
}

// Supports reports whether providerType can serve channel.
func Supports(providerType string, ch models.Channel) bool {
	f, ok := factories[providerType]
	return ok && slices.Contains(f.channels, ch)
}

func ProviderTypes() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
