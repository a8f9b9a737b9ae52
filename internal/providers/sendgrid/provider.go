package sendgrid

import (
	"context"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/lattiq/bulkmailer/internal/core"
)

// Name is the provider name reported in results and errors.
const Name = "sendgrid"

// Default limits used when the settings carry none. SendGrid exposes no quota endpoint.
const (
	DefaultMaxSendRate   = 10
	DefaultMax24HourSend = -1
)

// Client is the subset of the SendGrid client used by the provider.
type Client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Provider implements the core.Provider interface for SendGrid.
type Provider struct {
	client Client
	config core.ProviderSettings
}

// NewProvider creates a new SendGrid provider.
func NewProvider(settings core.ProviderSettings) (*Provider, error) {
	apiKey := settings.Get("api_key")
	if apiKey == "" {
		return nil, core.NewValidationError("api_key", "SendGrid API key is required")
	}

	return NewWithClient(sendgrid.NewSendClient(apiKey), settings), nil
}

// NewWithClient creates a provider around an existing client.
func NewWithClient(client Client, settings core.ProviderSettings) *Provider {
	if settings == nil {
		settings = core.ProviderSettings{}
	}
	return &Provider{client: client, config: settings}
}

// Quota returns the limits configured through max_send_rate and max_24_hour_send.
func (p *Provider) Quota(_ context.Context) (*core.QuotaResponse, error) {
	return &core.QuotaResponse{
		Max24HourSend: p.config.Float("max_24_hour_send", DefaultMax24HourSend),
		MaxSendRate:   p.config.Float("max_send_rate", DefaultMaxSendRate),
	}, nil
}

// Send sends a single email using SendGrid.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	response, err := p.client.SendWithContext(ctx, BuildMessage(msg))
	if err != nil {
		return nil, core.WrapProviderError(Name, "send_error", err)
	}

	if response.StatusCode >= 400 {
		pe := core.NewProviderError(Name, "api_error", "SendGrid API error: "+response.Body)
		pe.StatusCode = response.StatusCode
		pe.IsRetryable = response.StatusCode == 429 || response.StatusCode >= 500
		return nil, pe
	}

	messageID := "unknown"
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}

	return &core.SendResult{
		MessageID: messageID,
		Provider:  Name,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"status_code": response.StatusCode,
		},
	}, nil
}

// BuildMessage converts a message into a SendGrid v3 mail body.
func BuildMessage(msg *core.Message) *mail.SGMailV3 {
	from := core.Address{Email: msg.From}
	if addr, err := core.ParseAddress(msg.From); err == nil {
		from = addr
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(from.Name, from.Email))
	m.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail("", msg.To))
	m.AddPersonalizations(personalization)

	m.AddContent(mail.NewContent("text/html", msg.HTML))
	return m
}

// ValidateConfig validates the provider configuration.
func (p *Provider) ValidateConfig() error {
	if p.client == nil {
		return core.NewValidationError("api_key", "SendGrid API key is required")
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}
