package bulkmailer

import (
	"log/slog"
	"strconv"
	"strings"
)

// Option is a functional option for configuring the bulk mailer client.
type Option func(*Config)

// WithSource sets the sender address.
func WithSource(source string) Option {
	return func(c *Config) {
		c.Source = source
	}
}

// WithReturnPath sets the address that receives bounces.
func WithReturnPath(returnPath string) Option {
	return func(c *Config) {
		c.ReturnPath = returnPath
	}
}

// WithEncoding sets the charset declared for subject and body.
func WithEncoding(encoding string) Option {
	return func(c *Config) {
		c.Encoding = encoding
	}
}

// WithLevel sets the visual template validation level.
func WithLevel(level Level) Option {
	return func(c *Config) {
		c.Level = level
	}
}

// WithSubject sets the subject template compiled during New.
func WithSubject(subject string) Option {
	return func(c *Config) {
		c.Subject = subject
	}
}

// WithCSV replaces the CSV parsing options.
func WithCSV(opts CSVOptions) Option {
	return func(c *Config) {
		c.CSV = opts
	}
}

// WithDelimiter sets the CSV cell separator.
func WithDelimiter(delim rune) Option {
	return func(c *Config) {
		c.CSV.Delimiter = delim
	}
}

// WithHeaders names the CSV columns instead of reading them from the first record.
func WithHeaders(headers ...string) Option {
	return func(c *Config) {
		c.CSV.Headers = headers
	}
}

// WithAWSSES configures AWS SES in region with the default credential chain.
func WithAWSSES(region string) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderAWSSES
		c.Provider.Region = region
	}
}

// WithAWSSESCredentials configures AWS SES with static credentials.
func WithAWSSESCredentials(region, accessKeyID, secretAccessKey string) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderAWSSES
		c.Provider.Region = region
		setProviderSetting(c, "access_key_id", accessKeyID)
		setProviderSetting(c, "secret_access_key", secretAccessKey)
	}
}

// WithRegion sets the AWS region used for s3:// locations without switching provider.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Provider.Region = region
	}
}

// WithSendGrid configures SendGrid. maxSendRate is the per-second budget to
// report as quota, since SendGrid has no quota endpoint.
func WithSendGrid(apiKey string, maxSendRate float64) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderSendGrid
		setProviderSetting(c, "api_key", apiKey)
		if maxSendRate > 0 {
			setProviderSetting(c, "max_send_rate", strconv.FormatFloat(maxSendRate, 'f', -1, 64))
		}
	}
}

// WithMailgun configures Mailgun.
func WithMailgun(apiKey, domain string) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderMailgun
		setProviderSetting(c, "api_key", apiKey)
		setProviderSetting(c, "domain", domain)
	}
}

// WithSMTP configures a generic SMTP server. Empty username disables auth.
func WithSMTP(host string, port int, username, password string) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderSMTP
		setProviderSetting(c, "host", host)
		setProviderSetting(c, "port", strconv.Itoa(port))
		if username != "" {
			setProviderSetting(c, "username", username)
			setProviderSetting(c, "password", password)
		}
	}
}

// WithDryRun logs messages instead of sending them.
func WithDryRun() Option {
	return func(c *Config) {
		c.Provider.Type = ProviderLog
	}
}

// WithProviderSetting sets a single provider setting.
func WithProviderSetting(key, value string) Option {
	return func(c *Config) {
		setProviderSetting(c, key, value)
	}
}

// WithMaxAttempts caps the AWS SDK retryer.
func WithMaxAttempts(attempts int) Option {
	return func(c *Config) {
		c.Provider.MaxAttempts = attempts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithListener registers a listener for per-row events.
func WithListener(l Listener) Option {
	return func(c *Config) {
		if l != nil {
			c.listeners = append(c.listeners, l)
		}
	}
}

// WithCompiler registers a visual compiler for a file extension such as ".mjml".
func WithCompiler(ext string, comp Compiler) Option {
	return func(c *Config) {
		if c.compilers == nil {
			c.compilers = make(map[string]Compiler)
		}
		ext = strings.ToLower(ext)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.compilers[ext] = comp
	}
}

// WithProviderClient uses p instead of building a provider from the configuration.
func WithProviderClient(p Provider) Option {
	return func(c *Config) {
		c.provider = p
	}
}

// WithSESClient wraps an existing SES client in the SES provider.
func WithSESClient(api SESAPI) Option {
	return func(c *Config) {
		c.Provider.Type = ProviderAWSSES
		c.sesClient = api
	}
}

// WithS3Client uses api for s3:// locations.
func WithS3Client(api S3API) Option {
	return func(c *Config) {
		c.s3Client = api
	}
}

// WithoutTracing disables span recording.
func WithoutTracing() Option {
	return func(c *Config) {
		c.Monitoring.Tracing.Enabled = false
	}
}

// WithoutMetrics disables metric instruments.
func WithoutMetrics() Option {
	return func(c *Config) {
		c.Monitoring.Metrics.Enabled = false
	}
}

func setProviderSetting(c *Config, key, value string) {
	if c.Provider.Settings == nil {
		c.Provider.Settings = ProviderSettings{}
	}
	c.Provider.Settings.Set(key, value)
}
