package bulkmailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/lattiq/bulkmailer/internal/providers"
	"github.com/lattiq/bulkmailer/internal/providers/ses"
	"github.com/lattiq/bulkmailer/internal/source"
	"github.com/lattiq/bulkmailer/internal/visual"
)

// Client compiles one template and sends it to every row of a CSV source.
// All methods are safe for concurrent use; only one Send runs at a time.
type Client struct {
	config    Config
	provider  Provider
	opener    *source.Opener
	compilers map[string]Compiler
	tracer    trace.Tracer
	metrics   *instruments
	logger    *slog.Logger

	awsMu     sync.Mutex
	awsCfg    *aws.Config
	loadAWSFn func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error)

	mu         sync.Mutex
	body       *Template
	markup     string
	subject    *Template
	quota      Quota
	quotaKnown bool
	src        io.ReadCloser
	srcName    string
	consumed   bool
	busy       bool
	streaming  bool
	closed     bool
	listeners  []Listener
}

// New creates a client with the given configuration.
// Nothing is read or fetched until validation has passed.
func New(config Config, opts ...Option) (*Client, error) {
	for _, opt := range opts {
		opt(&config)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var tracer trace.Tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	if config.Monitoring.Tracing.Enabled {
		tracer = otel.Tracer(instrumentationName)
	}

	c := &Client{
		config:    config,
		tracer:    tracer,
		metrics:   newInstruments(config.Monitoring.Metrics),
		logger:    logger.With(slog.String("component", "bulkmailer")),
		listeners: append([]Listener(nil), config.listeners...),
		loadAWSFn: awsconfig.LoadDefaultConfig,
		compilers: map[string]Compiler{
			"":          visual.MJML{},
			".mjml":     visual.MJML{},
			".md":       visual.NewMarkdown(),
			".markdown": visual.NewMarkdown(),
		},
	}
	for ext, comp := range config.compilers {
		c.compilers[ext] = comp
	}

	c.opener = source.NewOpener(c.newS3Client)

	provider, err := c.buildProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	c.provider = provider

	if config.Subject != "" {
		if err := c.SetSubjectTemplate(config.Subject); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) buildProvider() (Provider, error) {
	switch {
	case c.config.provider != nil:
		return c.config.provider, nil
	case c.config.sesClient != nil:
		return ses.NewWithClient(c.config.sesClient, c.config.Provider.Settings), nil
	}
	p, err := providers.New(context.Background(), string(c.config.Provider.Type), c.config.Provider.Settings, providers.Deps{
		AWSConfig: c.awsConfig,
		Logger:    c.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	return p, nil
}

// awsConfig loads the shared AWS configuration. Only a successful load is kept.
func (c *Client) awsConfig(ctx context.Context) (aws.Config, error) {
	c.awsMu.Lock()
	defer c.awsMu.Unlock()

	if c.awsCfg != nil {
		return *c.awsCfg, nil
	}

	p := c.config.Provider
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(p.Region),
		awsconfig.WithAPIOptions([]func(*middleware.Stack) error{
			awsmiddleware.AddUserAgentKeyValue("bulkmailer", Version),
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, awsconfig.WithRetryMaxAttempts(p.MaxAttempts))
	}
	if key := p.Settings.Get("access_key_id"); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			key, p.Settings.Get("secret_access_key"), p.Settings.Get("session_token"),
		)))
	}

	cfg, err := c.loadAWSFn(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	c.awsCfg = &cfg
	return cfg, nil
}

func (c *Client) newS3Client(ctx context.Context) (source.S3API, error) {
	if c.config.s3Client != nil {
		return c.config.s3Client, nil
	}
	if c.config.Provider.Region == "" {
		return nil, source.ErrNoS3
	}
	cfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg), nil
}

// SetMJML reads the visual template at location, compiles it to markup and
// then into the body template. On failure the previous body is kept.
func (c *Client) SetMJML(ctx context.Context, location string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	data, err := c.opener.ReadAll(ctx, location)
	if err != nil {
		return err
	}

	markup, err := c.compileVisual(ctx, location, string(data))
	if err != nil {
		return err
	}

	body, err := CompileTemplate(filepath.Base(location), markup)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.body = body
	c.markup = markup
	c.mu.Unlock()

	c.logger.Debug("template compiled", slog.String("location", location), slog.Int("bytes", len(markup)))
	return nil
}

// SetHTMLTemplate installs already compiled markup as the body template.
func (c *Client) SetHTMLTemplate(markup string) error {
	if markup == "" {
		return ErrNoTemplate
	}
	body, err := CompileTemplate("body", markup)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.body = body
	c.markup = markup
	c.mu.Unlock()
	return nil
}

// Markup returns the compiled markup of the current body template.
func (c *Client) Markup() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markup
}

// SetSubjectTemplate compiles src as the subject template. An empty src is ignored.
func (c *Client) SetSubjectTemplate(src string) error {
	if src == "" {
		return nil
	}
	subject, err := CompileTemplate("subject", src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subject = subject
	c.mu.Unlock()
	return nil
}

// Body renders the body template with vars.
func (c *Client) Body(vars map[string]string) (string, error) {
	c.mu.Lock()
	body := c.body
	c.mu.Unlock()

	if body == nil {
		return "", ErrNoTemplate
	}
	return body.Render(vars)
}

// Subject renders the subject template with vars.
func (c *Client) Subject(vars map[string]string) (string, error) {
	c.mu.Lock()
	subject := c.subject
	c.mu.Unlock()

	if subject == nil {
		return "", ErrNoSubject
	}
	return subject.Render(vars)
}

// BuildMessage renders the message that Send would deliver to recipient.
func (c *Client) BuildMessage(recipient string, vars map[string]string) (*Message, error) {
	c.mu.Lock()
	body, subject := c.body, c.subject
	c.mu.Unlock()

	if body == nil {
		return nil, ErrNoTemplate
	}
	if subject == nil {
		return nil, ErrNoSubject
	}
	return c.buildMessage(recipient, vars, body, subject)
}

func (c *Client) buildMessage(recipient string, vars map[string]string, body, subject *Template) (*Message, error) {
	subj, err := subject.Render(vars)
	if err != nil {
		return nil, err
	}
	html, err := body.Render(vars)
	if err != nil {
		return nil, err
	}
	return &Message{
		From:       c.config.Source,
		To:         recipient,
		ReturnPath: c.config.ReturnPath,
		Charset:    c.config.Encoding,
		Subject:    subj,
		HTML:       html,
	}, nil
}

// SetCSVFromPath opens location as the CSV source. On failure the source is left unset.
// It fails with ErrSendInProgress while a send is running.
func (c *Client) SetCSVFromPath(ctx context.Context, location string) error {
	if err := c.checkIdle(); err != nil {
		return err
	}

	rc, err := c.opener.Open(ctx, location)
	if err != nil {
		_ = c.replaceSource(nil, "")
		return err
	}
	return c.replaceSource(rc, location)
}

// SetCSV uses r as the CSV source. If r is an io.Closer it is closed after the send,
// or right away when the client is closed or busy sending.
func (c *Client) SetCSV(r io.Reader) error {
	if r == nil {
		return c.replaceSource(nil, "")
	}
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return c.replaceSource(rc, "reader")
}

// replaceSource swaps the CSV source and closes the previous one.
// The running send owns its source, so replacement is refused while busy.
func (c *Client) replaceSource(rc io.ReadCloser, name string) error {
	c.mu.Lock()
	if err := c.idleLocked(); err != nil {
		c.mu.Unlock()
		if rc != nil {
			_ = rc.Close()
		}
		return err
	}
	prev := c.src
	c.src = rc
	c.srcName = name
	if rc != nil {
		c.consumed = false
	}
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Send streams every CSV row through the templates and the provider.
// Per-row failures are reported to listeners and counted in the Summary;
// the returned error is reserved for failures of the run itself.
func (c *Client) Send(ctx context.Context) (*Summary, error) {
	ctx, span := c.tracer.Start(ctx, "bulkmailer.Client.Send")
	defer span.End()

	span.SetAttributes(attribute.String("bulkmailer.provider", c.provider.Name()))

	c.mu.Lock()
	var err error
	switch {
	case c.closed:
		err = ErrClientClosed
	case c.busy:
		err = ErrSendInProgress
	case c.src == nil && c.consumed:
		err = ErrSourceConsumed
	case c.src == nil:
		err = ErrNoCSV
	case c.body == nil:
		err = ErrNoTemplate
	case c.subject == nil:
		err = ErrNoSubject
	}
	if err != nil {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	c.busy = true
	src, srcName, body, subject := c.src, c.srcName, c.body, c.subject
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	quota, err := c.FetchQuota(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "quota fetch failed")
		return nil, err
	}
	if quota.MaxSendRate <= 0 {
		span.RecordError(ErrNoSendRate)
		span.SetStatus(codes.Error, ErrNoSendRate.Error())
		return nil, ErrNoSendRate
	}

	c.mu.Lock()
	c.src = nil
	c.consumed = true
	c.streaming = true
	c.mu.Unlock()

	defer func() {
		_ = src.Close()
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
	}()

	c.logger.InfoContext(ctx, "send started",
		slog.String("source", srcName),
		slog.String("provider", c.provider.Name()),
		slog.Float64("max_send_rate", quota.MaxSendRate),
		slog.Float64("remaining_24h", quota.Remaining()),
	)

	summary, err := c.stream(ctx, src, body, subject, quota)

	span.SetAttributes(
		attribute.Int("bulkmailer.rows.total", summary.Total),
		attribute.Int("bulkmailer.rows.sent", summary.Sent),
		attribute.Int("bulkmailer.rows.failed", summary.Failed),
	)

	if err != nil {
		c.logger.ErrorContext(ctx, "send aborted",
			slog.Int("rows", summary.Total),
			slog.Any("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send aborted")
		return summary, err
	}

	c.logger.InfoContext(ctx, "send finished",
		slog.Int("rows", summary.Total),
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	)
	span.SetStatus(codes.Ok, "send completed")
	return summary, nil
}

func (c *Client) stream(ctx context.Context, src io.Reader, body, subject *Template, quota Quota) (*Summary, error) {
	summary := &Summary{Quota: quota}
	start := time.Now()
	defer func() { summary.Duration = time.Since(start) }()

	limiter := rate.NewLimiter(rate.Limit(quota.MaxSendRate), burst(quota.MaxSendRate))
	listeners := c.snapshotListeners()
	rows := NewRowReader(src, c.config.CSV)

	for {
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}

		if err := limiter.Wait(ctx); err != nil {
			return summary, err
		}

		c.sendRow(ctx, row, body, subject, listeners, summary)
	}
}

// burst is the bucket size for rate: whole tokens per second, at least one.
func burst(r float64) int {
	b := int(math.Floor(r))
	if b < 1 {
		return 1
	}
	return b
}

func (c *Client) sendRow(ctx context.Context, row Row, body, subject *Template, listeners []Listener, summary *Summary) {
	ctx, span := c.tracer.Start(ctx, "bulkmailer.Client.Send.row",
		trace.WithAttributes(attribute.Int("bulkmailer.row.line", row.Line)),
	)
	defer span.End()

	start := time.Now()
	result, err := c.deliver(ctx, row, body, subject)
	elapsed := time.Since(start)

	summary.Total++
	c.metrics.record(ctx, c.provider.Name(), elapsed, err)

	if err != nil {
		summary.Failed++
		span.RecordError(err)
		span.SetStatus(codes.Error, "row failed")
		c.logger.WarnContext(ctx, "row failed",
			slog.Int("line", row.Line),
			slog.String("email", row.Email()),
			slog.Any("error", err),
		)
		ev := FailedEvent{Row: row, Elapsed: elapsed, Err: err}
		for _, l := range listeners {
			l.OnError(ev)
		}
		return
	}

	summary.Sent++
	span.SetAttributes(attribute.String("bulkmailer.message_id", result.MessageID))
	span.SetStatus(codes.Ok, "row sent")
	c.logger.DebugContext(ctx, "row sent",
		slog.Int("line", row.Line),
		slog.String("email", row.Email()),
		slog.String("message_id", result.MessageID),
		slog.Duration("elapsed", elapsed),
	)
	ev := SentEvent{Row: row, Elapsed: elapsed, Result: result}
	for _, l := range listeners {
		l.OnSent(ev)
	}
}

func (c *Client) deliver(ctx context.Context, row Row, body, subject *Template) (*SendResult, error) {
	recipient := row.Email()
	if recipient == "" {
		return nil, ErrMissingRecipient
	}
	msg, err := c.buildMessage(recipient, row.Map(), body, subject)
	if err != nil {
		return nil, err
	}
	result, err := c.provider.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &SendResult{Provider: c.provider.Name(), Timestamp: time.Now()}
	}
	return result, nil
}

// Close releases the CSV source. The client cannot be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	src := c.src
	c.src = nil
	c.mu.Unlock()

	if src != nil {
		return src.Close()
	}
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) checkIdle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleLocked()
}

func (c *Client) idleLocked() error {
	switch {
	case c.closed:
		return ErrClientClosed
	case c.busy:
		return ErrSendInProgress
	}
	return nil
}
