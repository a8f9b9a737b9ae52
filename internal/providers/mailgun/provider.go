package mailgun

import (
	"context"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/lattiq/bulkmailer/internal/core"
)

// Name is the provider name reported in results and errors.
const Name = "mailgun"

// Default limits used when the settings carry none.
const (
	DefaultMaxSendRate   = 5
	DefaultMax24HourSend = -1
)

// Provider implements the core.Provider interface for Mailgun.
type Provider struct {
	client mailgun.Mailgun
	config core.ProviderSettings
}

// NewProvider creates a new Mailgun provider.
func NewProvider(settings core.ProviderSettings) (*Provider, error) {
	apiKey := settings.Get("api_key")
	if apiKey == "" {
		return nil, core.NewValidationError("api_key", "Mailgun API key is required")
	}

	domain := settings.Get("domain")
	if domain == "" {
		return nil, core.NewValidationError("domain", "Mailgun domain is required")
	}

	client := mailgun.NewMailgun(domain, apiKey)

	// EU accounts live on a different API host.
	if baseURL := settings.Get("base_url"); baseURL != "" {
		client.SetAPIBase(baseURL)
	}

	return &Provider{
		client: client,
		config: settings,
	}, nil
}

// Quota returns the limits configured through max_send_rate and max_24_hour_send.
func (p *Provider) Quota(_ context.Context) (*core.QuotaResponse, error) {
	return &core.QuotaResponse{
		Max24HourSend: p.config.Float("max_24_hour_send", DefaultMax24HourSend),
		MaxSendRate:   p.config.Float("max_send_rate", DefaultMaxSendRate),
	}, nil
}

// Send sends a single email using Mailgun.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	message := mailgun.NewMessage(msg.From, msg.Subject, "", msg.To)
	message.SetHTML(msg.HTML)

	if msg.ReturnPath != "" {
		message.AddHeader("Sender", msg.ReturnPath)
	}

	mes, id, err := p.client.Send(ctx, message)
	if err != nil {
		return nil, core.WrapProviderError(Name, "send_failed", err)
	}

	return &core.SendResult{
		MessageID: id,
		Provider:  Name,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"message": mes,
		},
	}, nil
}

// ValidateConfig validates the Mailgun provider configuration.
func (p *Provider) ValidateConfig() error {
	if p.config.Get("api_key") == "" {
		return core.NewValidationError("api_key", "Mailgun API key is required")
	}
	if p.config.Get("domain") == "" {
		return core.NewValidationError("domain", "Mailgun domain is required")
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}
