package bulkmailer

import (
	"log/slog"
	"unicode/utf8"
)

// Config holds the complete bulk mailer configuration.
type Config struct {
	// Source is the sender address, e.g. "News <news@example.com>". Required.
	Source string

	// ReturnPath receives bounces (optional).
	ReturnPath string

	// Encoding is the charset declared for subject and body (default: "utf-8").
	Encoding string

	// Level is the visual template validation level (default: strict).
	Level Level

	// Subject is an optional subject template compiled during New.
	Subject string

	// CSV contains the row source parsing options.
	CSV CSVOptions

	// Provider contains provider-specific configuration.
	Provider ProviderConfig

	// Monitoring contains observability configuration.
	Monitoring MonitoringConfig

	// Logger receives pipeline logs. Nil discards them.
	Logger *slog.Logger

	listeners []Listener
	compilers map[string]Compiler
	provider  Provider
	sesClient SESAPI
	s3Client  S3API
}

// ProviderConfig contains provider-specific settings.
type ProviderConfig struct {
	// Type specifies the email provider to use (default: aws_ses).
	Type ProviderType

	// Region is the AWS region for SES and s3:// sources.
	// It is passed explicitly; environment lookup belongs to the caller.
	Region string

	// Settings contains provider settings such as credentials or static send rates.
	Settings ProviderSettings

	// MaxAttempts caps the AWS SDK retryer. Zero keeps the SDK default.
	MaxAttempts int
}

// ProviderType represents the type of email provider.
type ProviderType string

const (
	// ProviderAWSSES represents Amazon Simple Email Service.
	ProviderAWSSES ProviderType = "aws_ses"

	// ProviderSendGrid represents the SendGrid email service.
	ProviderSendGrid ProviderType = "sendgrid"

	// ProviderMailgun represents the Mailgun email service.
	ProviderMailgun ProviderType = "mailgun"

	// ProviderSMTP represents a generic SMTP server.
	ProviderSMTP ProviderType = "smtp"

	// ProviderLog logs messages instead of sending them.
	ProviderLog ProviderType = "log"
)

// String returns the string representation of the provider type.
func (pt ProviderType) String() string {
	return string(pt)
}

// Valid checks if the provider type is supported.
func (pt ProviderType) Valid() bool {
	switch pt {
	case ProviderAWSSES, ProviderSendGrid, ProviderMailgun, ProviderSMTP, ProviderLog:
		return true
	default:
		return false
	}
}

// MonitoringConfig contains observability configuration.
type MonitoringConfig struct {
	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled indicates whether spans are recorded through the global tracer provider.
	Enabled bool

	// ServiceName names the tracer.
	ServiceName string
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled indicates whether instruments are recorded through the global meter provider.
	Enabled bool

	// Namespace prefixes instrument names.
	Namespace string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Encoding: "utf-8",
		Level:    LevelStrict,
		CSV:      CSVOptions{Delimiter: ','},
		Provider: ProviderConfig{
			Type:     ProviderAWSSES,
			Settings: ProviderSettings{},
		},
		Monitoring: MonitoringConfig{
			Tracing: TracingConfig{
				Enabled:     true,
				ServiceName: "bulkmailer",
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "bulkmailer",
			},
		},
	}
}

// applyDefaults fills zero values left by a hand-built Config.
func (c *Config) applyDefaults() {
	if c.Encoding == "" {
		c.Encoding = "utf-8"
	}
	if c.Level == "" {
		c.Level = LevelStrict
	}
	if c.Provider.Type == "" {
		c.Provider.Type = ProviderAWSSES
	}
	if c.Provider.Settings == nil {
		c.Provider.Settings = ProviderSettings{}
	}
	if c.CSV.Delimiter == 0 {
		c.CSV.Delimiter = ','
	}
	if c.Monitoring.Tracing.ServiceName == "" {
		c.Monitoring.Tracing.ServiceName = "bulkmailer"
	}
	if c.Monitoring.Metrics.Namespace == "" {
		c.Monitoring.Metrics.Namespace = "bulkmailer"
	}
}

// Validate checks if the configuration is valid and complete.
// The sender is checked first, then the region, then everything else.
func (c *Config) Validate() error {
	if c.Source == "" {
		return &ValidationError{
			Field:   "source",
			Message: `must define the "source" option`,
		}
	}

	if c.Provider.Type == ProviderAWSSES && c.Provider.Region == "" {
		return &ValidationError{
			Field:   "region",
			Message: "missing AWS_DEFAULT_REGION / AWS_REGION setting",
		}
	}

	if _, err := ParseAddress(c.Source); err != nil {
		return NewValidationErrorWithValue("source", "invalid sender address", c.Source)
	}

	if c.ReturnPath != "" {
		if _, err := ParseAddress(c.ReturnPath); err != nil {
			return NewValidationErrorWithValue("return_path", "invalid return path address", c.ReturnPath)
		}
	}

	if c.Encoding == "" {
		return NewValidationError("encoding", "encoding is required")
	}

	if !c.Level.Valid() {
		return NewValidationErrorWithValue("level", "level must be strict, soft or skip", string(c.Level))
	}

	if err := c.CSV.validate(); err != nil {
		return err
	}

	if !c.Provider.Type.Valid() {
		return &ValidationError{
			Field:   "provider.type",
			Message: "invalid or unsupported provider type: " + string(c.Provider.Type),
		}
	}

	if c.Provider.MaxAttempts < 0 {
		return NewValidationError("provider.max_attempts", "max attempts must not be negative")
	}

	return nil
}

// CSVOptions configures how rows are read from the CSV source.
// Values are always decoded as strings and row length is never enforced.
type CSVOptions struct {
	// Delimiter separates cells (default: ',').
	Delimiter rune

	// Quote and Escape may only be '"' (or zero for the default); the reader
	// escapes quotes by doubling them.
	Quote  rune
	Escape rune

	// Comment starts a comment line when non-zero.
	Comment rune

	// Headers names the columns explicitly. When empty, the first record is the header.
	Headers []string

	// TrimLeadingSpace ignores leading white space in a cell.
	TrimLeadingSpace bool

	// SkipLines drops this many records before the header is read.
	SkipLines int
}

func (o CSVOptions) validate() error {
	if !validDelim(o.Delimiter) {
		return NewValidationErrorWithValue("csv.delimiter", "invalid delimiter", string(o.Delimiter))
	}
	if o.Quote != 0 && o.Quote != '"' {
		return NewValidationErrorWithValue("csv.quote", `only '"' is supported as quote character`, string(o.Quote))
	}
	if o.Escape != 0 && o.Escape != '"' {
		return NewValidationErrorWithValue("csv.escape", `only '"' is supported as escape character`, string(o.Escape))
	}
	if o.Comment != 0 && (o.Comment == o.Delimiter || !validDelim(o.Comment)) {
		return NewValidationErrorWithValue("csv.comment", "invalid comment character", string(o.Comment))
	}
	if o.SkipLines < 0 {
		return NewValidationError("csv.skip_lines", "skip lines must not be negative")
	}
	return nil
}

func validDelim(r rune) bool {
	return r != 0 && r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}
