package logprovider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lattiq/bulkmailer/internal/core"
)

// Name is the provider name reported in results.
const Name = "log"

// DefaultMaxSendRate keeps dry runs fast while still exercising the limiter.
const DefaultMaxSendRate = 100

// Provider logs messages instead of sending them. Used for dry runs.
type Provider struct {
	logger *slog.Logger
	config core.ProviderSettings
}

// NewProvider creates a log-only provider.
func NewProvider(logger *slog.Logger, settings core.ProviderSettings) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if settings == nil {
		settings = core.ProviderSettings{}
	}
	return &Provider{logger: logger, config: settings}
}

// Quota returns max_send_rate from settings, unlimited daily volume otherwise.
func (p *Provider) Quota(_ context.Context) (*core.QuotaResponse, error) {
	return &core.QuotaResponse{
		Max24HourSend: -1,
		MaxSendRate:   p.config.Float("max_send_rate", DefaultMaxSendRate),
	}, nil
}

// Send logs the message and returns a fake message ID.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	id := "log-" + uuid.New().String()
	p.logger.InfoContext(ctx, "bulkmailer: email logged (not sent)",
		slog.String("provider", Name),
		slog.String("from", msg.From),
		slog.String("to", msg.To),
		slog.String("return_path", msg.ReturnPath),
		slog.String("subject", msg.Subject),
		slog.Int("html_length", len(msg.HTML)),
		slog.String("message_id", id),
	)
	return &core.SendResult{
		MessageID: id,
		Provider:  Name,
		Timestamp: time.Now(),
	}, nil
}

// ValidateConfig always succeeds.
func (p *Provider) ValidateConfig() error {
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}
