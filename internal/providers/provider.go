package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/lattiq/bulkmailer/internal/core"
	"github.com/lattiq/bulkmailer/internal/providers/logprovider"
	"github.com/lattiq/bulkmailer/internal/providers/mailgun"
	"github.com/lattiq/bulkmailer/internal/providers/sendgrid"
	"github.com/lattiq/bulkmailer/internal/providers/ses"
	"github.com/lattiq/bulkmailer/internal/providers/smtp"
)

// Provider type names accepted by New.
const (
	TypeSES      = ses.Name
	TypeSendGrid = sendgrid.Name
	TypeMailgun  = mailgun.Name
	TypeSMTP     = smtp.Name
	TypeLog      = logprovider.Name
)

// Deps carries what some providers need beyond their settings.
type Deps struct {
	// AWSConfig loads the shared AWS configuration. Only called for SES.
	AWSConfig func(ctx context.Context) (aws.Config, error)

	// Logger is used by the log provider.
	Logger *slog.Logger
}

// New creates a provider instance based on type and settings.
func New(ctx context.Context, providerType string, settings core.ProviderSettings, deps Deps) (core.Provider, error) {
	switch providerType {
	case TypeSES:
		if deps.AWSConfig == nil {
			return nil, core.NewValidationError("region", "AWS configuration is required for SES")
		}
		cfg, err := deps.AWSConfig(ctx)
		if err != nil {
			return nil, core.WrapProviderError(TypeSES, "config_error", err)
		}
		return wrap(ses.NewProvider(cfg, settings))
	case TypeSendGrid:
		return wrap(sendgrid.NewProvider(settings))
	case TypeMailgun:
		return wrap(mailgun.NewProvider(settings))
	case TypeSMTP:
		return wrap(smtp.NewProvider(settings))
	case TypeLog:
		return logprovider.NewProvider(deps.Logger, settings), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// wrap keeps a failed constructor from leaking a typed nil through the interface.
func wrap[P core.Provider](p P, err error) (core.Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}
