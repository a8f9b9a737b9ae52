package ses

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"

	"github.com/lattiq/bulkmailer/internal/core"
)

// Name is the provider name reported in results and errors.
const Name = "aws_ses"

// API is the subset of the SES client used by the provider.
type API interface {
	GetSendQuota(ctx context.Context, params *ses.GetSendQuotaInput, optFns ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error)
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Provider implements the core.Provider interface for AWS SES.
type Provider struct {
	client API
	config core.ProviderSettings
}

// NewProvider creates a new AWS SES provider from a loaded AWS config.
func NewProvider(cfg aws.Config, settings core.ProviderSettings) (*Provider, error) {
	if cfg.Region == "" {
		return nil, core.NewValidationError("region", "AWS region is required")
	}
	return NewWithClient(ses.NewFromConfig(cfg), settings), nil
}

// NewWithClient creates a provider around an existing SES API implementation.
func NewWithClient(client API, settings core.ProviderSettings) *Provider {
	if settings == nil {
		settings = core.ProviderSettings{}
	}
	return &Provider{
		client: client,
		config: settings,
	}
}

// Quota fetches the account's current sending quota.
func (p *Provider) Quota(ctx context.Context) (*core.QuotaResponse, error) {
	out, err := p.client.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	if err != nil {
		return nil, classify(err)
	}
	if out == nil {
		return nil, core.NewProviderError(Name, "empty_response", "GetSendQuota returned no output")
	}

	return &core.QuotaResponse{
		Max24HourSend:   out.Max24HourSend,
		MaxSendRate:     out.MaxSendRate,
		SentLast24Hours: out.SentLast24Hours,
	}, nil
}

// Send sends a single email using AWS SES.
func (p *Provider) Send(ctx context.Context, msg *core.Message) (*core.SendResult, error) {
	output, err := p.client.SendEmail(ctx, p.BuildInput(msg))
	if err != nil {
		return nil, classify(err)
	}

	return &core.SendResult{
		MessageID: aws.ToString(output.MessageId),
		Provider:  Name,
		Timestamp: time.Now(),
	}, nil
}

// BuildInput converts a message into the SES SendEmail request.
func (p *Provider) BuildInput(msg *core.Message) *ses.SendEmailInput {
	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String(msg.Charset),
				Data:    aws.String(msg.Subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String(msg.Charset),
					Data:    aws.String(msg.HTML),
				},
			},
		},
	}

	if msg.ReturnPath != "" {
		input.ReturnPath = aws.String(msg.ReturnPath)
	}

	if configSet := p.config.Get("configuration_set"); configSet != "" {
		input.ConfigurationSetName = aws.String(configSet)
	}

	return input
}

// ValidateConfig validates the provider configuration.
func (p *Provider) ValidateConfig() error {
	if p.client == nil {
		return core.NewValidationError("client", "SES client is required")
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return Name
}

// classify maps SDK errors onto provider errors keyed by the API error code.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		pe := core.WrapProviderError(Name, apiErr.ErrorCode(), err)
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "ServiceUnavailable":
			pe.IsRetryable = true
		}
		return pe
	}
	return core.WrapProviderError(Name, "transport_error", err)
}
