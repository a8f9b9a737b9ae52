// Command bulkmailer sends one templated email per row of a CSV file.
//
//	bulkmailer -source "News <news@example.com>" -subject "Hello {{ .name }}" \
//		-template templates/index.mjml -csv s3://lists/emails.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"

	"github.com/lattiq/bulkmailer"
)

type options struct {
	envFile     string
	source      string
	returnPath  string
	subject     string
	template    string
	csv         string
	provider    string
	region      string
	level       string
	encoding    string
	delimiter   string
	maxAttempts int
	dryRun      bool
	logFormat   string
	logLevel    string
	version     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bulkmailer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	fs.StringVar(&o.source, "source", "", "sender address (env BULKMAILER_SOURCE)")
	fs.StringVar(&o.returnPath, "return-path", "", "bounce address (env BULKMAILER_RETURN_PATH)")
	fs.StringVar(&o.subject, "subject", "", "subject template (env BULKMAILER_SUBJECT)")
	fs.StringVar(&o.template, "template", "", "MJML or Markdown template path or s3:// URI")
	fs.StringVar(&o.csv, "csv", "", "CSV path or s3:// URI")
	fs.StringVar(&o.provider, "provider", "", "aws_ses, sendgrid, mailgun, smtp or log (env BULKMAILER_PROVIDER)")
	fs.StringVar(&o.region, "region", "", "AWS region (default AWS_REGION, then AWS_DEFAULT_REGION)")
	fs.StringVar(&o.level, "level", string(bulkmailer.LevelStrict), "template validation level: strict, soft or skip")
	fs.StringVar(&o.encoding, "encoding", "utf-8", "charset for subject and body")
	fs.StringVar(&o.delimiter, "delimiter", ",", "CSV delimiter")
	fs.IntVar(&o.maxAttempts, "max-attempts", 0, "AWS SDK retry attempts (0 keeps the SDK default)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "log messages instead of sending them")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.BoolVar(&o.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if o.version {
		fmt.Fprintln(stdout, bulkmailer.GetVersionInfo().String())
		return 0
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintln(stderr, "bulkmailer: load env file:", err)
			return 1
		}
	}

	logger, err := newLogger(stderr, o.logFormat, o.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, "bulkmailer:", err)
		return 2
	}

	if o.template == "" || o.csv == "" {
		fmt.Fprintln(stderr, "bulkmailer: -template and -csv are required")
		fs.Usage()
		return 2
	}

	opts, err := clientOptions(o, os.LookupEnv)
	if err != nil {
		fmt.Fprintln(stderr, "bulkmailer:", err)
		return 2
	}
	opts = append(opts, bulkmailer.WithLogger(logger), bulkmailer.WithListener(bulkmailer.ListenerFuncs{
		Sent: func(e bulkmailer.SentEvent) {
			logger.Info("sent", slog.String("email", e.Row.Email()), slog.Int64("ms", e.Elapsed.Milliseconds()))
		},
		Error: func(e bulkmailer.FailedEvent) {
			logger.Error("failed", slog.String("email", e.Row.Email()), slog.Int("line", e.Row.Line), slog.Any("error", e.Err))
		},
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := bulkmailer.New(bulkmailer.DefaultConfig(), opts...)
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		return 1
	}
	defer client.Close()

	if err := client.SetMJML(ctx, o.template); err != nil {
		logger.Error("template", slog.String("location", o.template), slog.Any("error", err))
		return 1
	}
	if err := client.SetCSVFromPath(ctx, o.csv); err != nil {
		logger.Error("csv", slog.String("location", o.csv), slog.Any("error", err))
		return 1
	}

	summary, err := client.Send(ctx)
	if err != nil {
		logger.Error("send aborted", slog.Any("error", err))
		return 1
	}

	fmt.Fprintf(stdout, "%d rows: %d sent, %d failed in %s\n",
		summary.Total, summary.Sent, summary.Failed, summary.Duration.Round(time.Millisecond))
	return 0
}

// clientOptions maps flags and environment variables onto client options.
// Flags win over the environment.
func clientOptions(o options, lookup func(string) (string, bool)) ([]bulkmailer.Option, error) {
	env := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	pick := func(flagValue, key string) string {
		if flagValue != "" {
			return flagValue
		}
		return env(key)
	}

	delim, size := utf8.DecodeRuneInString(o.delimiter)
	if size == 0 || size != len(o.delimiter) {
		return nil, fmt.Errorf("delimiter must be a single character, got %q", o.delimiter)
	}

	region := o.region
	if region == "" {
		region = regionFromEnv(lookup)
	}

	opts := []bulkmailer.Option{
		bulkmailer.WithSource(pick(o.source, "BULKMAILER_SOURCE")),
		bulkmailer.WithReturnPath(pick(o.returnPath, "BULKMAILER_RETURN_PATH")),
		bulkmailer.WithSubject(pick(o.subject, "BULKMAILER_SUBJECT")),
		bulkmailer.WithLevel(bulkmailer.Level(o.level)),
		bulkmailer.WithEncoding(o.encoding),
		bulkmailer.WithDelimiter(delim),
		bulkmailer.WithRegion(region),
		bulkmailer.WithMaxAttempts(o.maxAttempts),
	}

	provider := pick(o.provider, "BULKMAILER_PROVIDER")
	if o.dryRun {
		provider = string(bulkmailer.ProviderLog)
	}

	switch bulkmailer.ProviderType(provider) {
	case "", bulkmailer.ProviderAWSSES:
		opts = append(opts, bulkmailer.WithAWSSES(region))
		if key := env("AWS_SES_CONFIGURATION_SET"); key != "" {
			opts = append(opts, bulkmailer.WithProviderSetting("configuration_set", key))
		}
	case bulkmailer.ProviderSendGrid:
		rate, err := floatEnv(env("SENDGRID_MAX_SEND_RATE"))
		if err != nil {
			return nil, fmt.Errorf("SENDGRID_MAX_SEND_RATE: %w", err)
		}
		opts = append(opts, bulkmailer.WithSendGrid(env("SENDGRID_API_KEY"), rate))
	case bulkmailer.ProviderMailgun:
		opts = append(opts, bulkmailer.WithMailgun(env("MAILGUN_API_KEY"), env("MAILGUN_DOMAIN")))
		if base := env("MAILGUN_API_BASE"); base != "" {
			opts = append(opts, bulkmailer.WithProviderSetting("base_url", base))
		}
	case bulkmailer.ProviderSMTP:
		port := 587
		if p := env("SMTP_PORT"); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("SMTP_PORT: %w", err)
			}
			port = n
		}
		opts = append(opts, bulkmailer.WithSMTP(env("SMTP_HOST"), port, env("SMTP_USERNAME"), env("SMTP_PASSWORD")))
	case bulkmailer.ProviderLog:
		opts = append(opts, bulkmailer.WithDryRun())
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	if rate := env("BULKMAILER_MAX_SEND_RATE"); rate != "" {
		opts = append(opts, bulkmailer.WithProviderSetting("max_send_rate", rate))
	}

	return opts, nil
}

// regionFromEnv resolves the AWS region, preferring AWS_REGION.
func regionFromEnv(lookup func(string) (string, bool)) string {
	for _, key := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func floatEnv(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
