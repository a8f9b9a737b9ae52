package bulkmailer

import (
	"context"
	"io"

	"github.com/lattiq/bulkmailer/internal/core"
	"github.com/lattiq/bulkmailer/internal/providers/ses"
	"github.com/lattiq/bulkmailer/internal/source"
	"github.com/lattiq/bulkmailer/internal/visual"
)

// Type aliases re-export internal types for the public API.
type (
	Provider         = core.Provider
	ProviderSettings = core.ProviderSettings
	Address          = core.Address
	Message          = core.Message
	SendResult       = core.SendResult
	QuotaResponse    = core.QuotaResponse
	ResponseStatus   = core.ResponseStatus
	ValidationError  = core.ValidationError
	ProviderError    = core.ProviderError

	Level         = visual.Level
	Compiler      = visual.Compiler
	CompileResult = visual.Result
	Diagnostic    = visual.Diagnostic

	// SESAPI is the subset of the SES client the SES provider calls.
	SESAPI = ses.API

	// S3API is the subset of the S3 client used to read s3:// locations.
	S3API = source.S3API
)

// Validation levels for visual templates.
const (
	LevelStrict = visual.LevelStrict
	LevelSoft   = visual.LevelSoft
	LevelSkip   = visual.LevelSkip
)

// Error constructor functions
var (
	NewValidationError          = core.NewValidationError
	NewValidationErrorWithValue = core.NewValidationErrorWithValue
	NewProviderError            = core.NewProviderError
	IsRetryable                 = core.IsRetryable
	ParseAddress                = core.ParseAddress
)

// Public interfaces for the bulk mailer library
type (
	// Mailer defines the bulk sending workflow.
	// All methods are safe for concurrent use.
	Mailer interface {
		// SetMJML compiles the visual template at location into the body template.
		SetMJML(ctx context.Context, location string) error

		// SetSubjectTemplate compiles the subject template.
		SetSubjectTemplate(src string) error

		// SetCSVFromPath opens the CSV source at location.
		SetCSVFromPath(ctx context.Context, location string) error

		// SetCSV uses r as the CSV source.
		SetCSV(r io.Reader) error

		// FetchQuota reads the provider's current sending limits.
		FetchQuota(ctx context.Context) (Quota, error)

		// Send streams every row through the templates and the provider.
		Send(ctx context.Context) (*Summary, error)

		// Close releases the CSV source.
		Close() error
	}
)

var _ Mailer = (*Client)(nil)
