package bulkmailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func toAddress(addr string) interface{} {
	return mock.MatchedBy(func(m *Message) bool { return m.To == addr })
}

func TestClient_SendWithoutCSV(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	c := newTestClient(t, p)
	require.NoError(t, c.SetHTMLTemplate("<p>{{ .name }}</p>"))

	summary, err := c.Send(context.Background())

	require.ErrorIs(t, err, ErrNoCSV)
	assert.EqualError(t, err, "no CSV file set")
	assert.Nil(t, summary)
	p.AssertNotCalled(t, "Quota", mock.Anything)
}

func TestClient_SendWithoutTemplate(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	c := newTestClient(t, p)
	c.SetCSV(strings.NewReader("email\na@example.com\n"))

	_, err := c.Send(context.Background())

	require.ErrorIs(t, err, ErrNoTemplate)
	p.AssertNotCalled(t, "Quota", mock.Anything)
}

func TestClient_SetCSVFromPathNotFound(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &MockProvider{})
	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	c.SetCSV(strings.NewReader("email\na@example.com\n"))

	err := c.SetCSVFromPath(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.Send(context.Background())
	require.ErrorIs(t, err, ErrNoCSV)
}

func TestClient_FetchQuota(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	c := newTestClient(t, p)

	q, err := c.FetchQuota(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Quota{Max24HourSend: 1000, MaxSendRate: 50, SentLast24Hours: 0}, q)
	got, known := c.Quota()
	assert.True(t, known)
	assert.Equal(t, q, got)
	assert.Equal(t, float64(1000), q.Remaining())
}

func TestClient_FetchQuotaFailures(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("getSendQuota")
	tests := []struct {
		name string
		resp *QuotaResponse
		err  error
	}{
		{name: "transport error", err: sentinel},
		{name: "status string", resp: &QuotaResponse{MaxSendRate: 1, Status: ResponseStatus{Error: "getSendQuota"}}},
		{name: "status error", resp: &QuotaResponse{MaxSendRate: 1, Status: ResponseStatus{Error: sentinel}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &MockProvider{}
			p.On("Quota", mock.Anything).Return(defaultQuota, nil).Once()
			p.On("Quota", mock.Anything).Return(tt.resp, tt.err)
			c := newTestClient(t, p)

			_, err := c.FetchQuota(context.Background())
			require.NoError(t, err)

			_, err = c.FetchQuota(context.Background())

			var qe *QuotaError
			require.ErrorAs(t, err, &qe)
			assert.EqualError(t, err, "getSendQuota")
			q, known := c.Quota()
			assert.False(t, known)
			assert.Equal(t, Quota{}, q)
		})
	}
}

func TestClient_SendQuotaFailureKeepsSource(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(nil, errors.New("getSendQuota")).Once()
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, toAddress("a@example.com")).Return(&SendResult{MessageID: "m-1"}, nil)
	c := newTestClient(t, p)
	require.NoError(t, c.SetHTMLTemplate("<p>{{ .name }}</p>"))
	c.SetCSV(strings.NewReader("email,name\na@example.com,Ada\n"))

	_, err := c.Send(context.Background())
	require.EqualError(t, err, "getSendQuota")
	assert.Equal(t, StateTemplateCompiled, c.State())

	summary, err := c.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
}

func TestClient_SendNoRate(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(&QuotaResponse{Max24HourSend: 200}, nil)
	c := newTestClient(t, p)
	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	c.SetCSV(strings.NewReader("email\na@example.com\n"))

	_, err := c.Send(context.Background())

	require.ErrorIs(t, err, ErrNoSendRate)
	p.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, toAddress("ok@github.com")).Return(&SendResult{MessageID: "m-1", Provider: "mock"}, nil)
	p.On("Send", mock.Anything, toAddress("error@github.com")).Return(nil, errors.New("Failed to send"))
	p.On("Send", mock.Anything, toAddress("other@github.com")).Return(&SendResult{MessageID: "m-3", Provider: "mock"}, nil)

	rec := &recorder{}
	c := newTestClient(t, p, WithListener(rec), WithLogger(logger))
	require.NoError(t, c.SetHTMLTemplate("<p>Hi {{ .name }}</p>"))
	require.NoError(t, c.SetCSVFromPath(context.Background(), filepath.Join("testdata", "emails.csv")))

	summary, err := c.Send(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, float64(50), summary.Quota.MaxSendRate)
	assert.Equal(t, []string{"sent:ok@github.com", "error:error@github.com", "sent:other@github.com"}, rec.events)

	require.Len(t, rec.failed, 1)
	assert.EqualError(t, rec.failed[0].Err, "Failed to send")
	assert.Equal(t, 3, rec.failed[0].Row.Line)
	assert.Equal(t, "m-3", rec.sent[1].Result.MessageID)
	for _, e := range rec.sent {
		assert.GreaterOrEqual(t, e.Elapsed.Nanoseconds(), int64(0))
	}

	assert.Equal(t, StateDone, c.State())
	assert.Contains(t, logs.String(), `"msg":"send finished"`)

	_, err = c.Send(context.Background())
	require.ErrorIs(t, err, ErrSourceConsumed)

	p.AssertNumberOfCalls(t, "Send", 3)
}

func TestClient_SendMessageShape(t *testing.T) {
	t.Parallel()

	var got *Message
	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(1).(*Message)
	}).Return(&SendResult{MessageID: "m-1"}, nil)

	c := newTestClient(t, p, WithEncoding("iso-8859-1"))
	require.NoError(t, c.SetHTMLTemplate("<p>{{ .name | upper }}</p>"))
	c.SetCSV(strings.NewReader("email,name\n a@example.com ,ada\n"))

	_, err := c.Send(context.Background())

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, &Message{
		From:       "example@example.com",
		To:         "a@example.com",
		ReturnPath: "bounce@example.com",
		Charset:    "iso-8859-1",
		Subject:    "Hello ada",
		HTML:       "<p>ADA</p>",
	}, got)
}

func TestClient_SendRowFailures(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, mock.Anything).Return(&SendResult{MessageID: "m"}, nil)

	rec := &recorder{}
	c := newTestClient(t, p)
	c.Subscribe(rec)
	require.NoError(t, c.SetHTMLTemplate("<p>{{ .name }}</p>"))
	c.SetCSV(strings.NewReader("email,name\na@example.com\n,Nobody\nb@example.com,Bob\n"))

	summary, err := c.Send(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, rec.failed, 2)

	var te *TemplateError
	require.ErrorAs(t, rec.failed[0].Err, &te)
	require.ErrorIs(t, rec.failed[1].Err, ErrMissingRecipient)
	p.AssertNumberOfCalls(t, "Send", 1)
}

func TestClient_SendStreamError(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, mock.Anything).Return(&SendResult{MessageID: "m"}, nil)

	rec := &recorder{}
	c := newTestClient(t, p, WithListener(rec))
	require.NoError(t, c.SetHTMLTemplate("<p>{{ .name }}</p>"))
	c.SetCSV(strings.NewReader("email,name\na@example.com,Ada\nb@example.com,\"Bob\n"))

	summary, err := c.Send(context.Background())

	require.ErrorIs(t, err, ErrStream)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Sent)
	assert.Len(t, rec.events, 1)
	assert.Equal(t, StateDone, c.State())
}

func TestClient_SendCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(&QuotaResponse{Max24HourSend: -1, MaxSendRate: 1}, nil)
	p.On("Send", mock.Anything, mock.Anything).Return(&SendResult{MessageID: "m"}, nil)

	c := newTestClient(t, p, WithListener(ListenerFuncs{
		Sent: func(SentEvent) { cancel() },
	}))
	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	c.SetCSV(strings.NewReader("email\na@example.com\nb@example.com\nc@example.com\n"))

	summary, err := c.Send(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Total)
	p.AssertNumberOfCalls(t, "Send", 1)
}

func TestClient_SendAfterClose(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &MockProvider{})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Send(context.Background())
	require.ErrorIs(t, err, ErrClientClosed)
	require.ErrorIs(t, c.SetMJML(context.Background(), "testdata/index.mjml"), ErrClientClosed)
}

func TestClient_StateTransitions(t *testing.T) {
	t.Parallel()

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, mock.Anything).Return(&SendResult{MessageID: "m"}, nil)

	var during State
	var c *Client
	c = newTestClient(t, p, WithListener(ListenerFuncs{
		Sent: func(SentEvent) { during = c.State() },
	}))
	assert.Equal(t, StateUnconfigured, c.State())

	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	assert.Equal(t, StateTemplateCompiled, c.State())

	_, err := c.FetchQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateQuotaKnown, c.State())

	c.SetCSV(strings.NewReader("email\na@example.com\n"))
	_, err = c.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, during)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, "done", c.State().String())

	c.SetCSV(strings.NewReader("email\nb@example.com\n"))
	assert.Equal(t, StateQuotaKnown, c.State())
}

func TestClient_SendThroughSES(t *testing.T) {
	t.Parallel()

	api := &mockSES{}
	api.On("GetSendQuota", mock.Anything, mock.Anything).Return(&ses.GetSendQuotaOutput{
		Max24HourSend: 1000,
		MaxSendRate:   1,
	}, nil)
	api.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *ses.SendEmailInput) bool {
		return aws.ToString(in.Source) == "example@example.com" &&
			aws.ToString(in.ReturnPath) == "bounce@example.com" &&
			in.Destination.ToAddresses[0] == "octo@github.com" &&
			aws.ToString(in.Message.Subject.Data) == "Hello Octo" &&
			aws.ToString(in.Message.Subject.Charset) == "utf-8" &&
			aws.ToString(in.Message.Body.Html.Data) == "<b>Octo</b>"
	})).Return(&ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	c, err := New(DefaultConfig(),
		WithSource("example@example.com"),
		WithReturnPath("bounce@example.com"),
		WithAWSSES("us-east-1"),
		WithSESClient(api),
		WithSubject("Hello {{ .name }}"),
		WithoutTracing(),
	)
	require.NoError(t, err)
	require.NoError(t, c.SetHTMLTemplate("<b>{{ .name }}</b>"))

	path := filepath.Join(t.TempDir(), "emails.csv")
	require.NoError(t, os.WriteFile(path, []byte("email,name\nocto@github.com,Octo\n"), 0o600))
	require.NoError(t, c.SetCSVFromPath(context.Background(), path))

	rec := &recorder{}
	c.Subscribe(rec)
	summary, err := c.Send(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "ses-1", rec.sent[0].Result.MessageID)
	api.AssertExpectations(t)
}

type mockSES struct {
	mock.Mock
}

func (m *mockSES) GetSendQuota(ctx context.Context, params *ses.GetSendQuotaInput, _ ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ses.GetSendQuotaOutput)
	return out, args.Error(1)
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ses.SendEmailOutput)
	return out, args.Error(1)
}

// closeTracker records whether the CSV source was closed.
type closeTracker struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (r *closeTracker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *closeTracker) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestClient_SendWaitsForTokens(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stamps []time.Time

	p := &MockProvider{}
	p.On("Quota", mock.Anything).Return(&QuotaResponse{Max24HourSend: -1, MaxSendRate: 2}, nil)
	p.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
	}).Return(&SendResult{MessageID: "m"}, nil)

	c := newTestClient(t, p)
	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	require.NoError(t, c.SetCSV(strings.NewReader(
		"email,name\na@example.com,A\nb@example.com,B\nc@example.com,C\nd@example.com,D\ne@example.com,E\n")))

	start := time.Now()
	summary, err := c.Send(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 5, summary.Sent)
	require.Len(t, stamps, 5)

	// Burst of two, then one token every 500ms.
	assert.GreaterOrEqual(t, elapsed, 1400*time.Millisecond)
	for i := 2; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 400*time.Millisecond, "row %d", i+1)
	}
}

func TestClient_SetCSVWhileSending(t *testing.T) {
	t.Parallel()

	original := &closeTracker{Reader: strings.NewReader("email,name\na@example.com,A\n")}
	replacement := &closeTracker{Reader: strings.NewReader("email,name\nz@example.com,Z\n")}

	var c *Client
	var setErr, pathErr error
	p := &MockProvider{}
	p.On("Quota", mock.Anything).Run(func(mock.Arguments) {
		setErr = c.SetCSV(replacement)
		pathErr = c.SetCSVFromPath(context.Background(), filepath.Join("testdata", "emails.csv"))
	}).Return(defaultQuota, nil)
	p.On("Send", mock.Anything, toAddress("a@example.com")).Return(&SendResult{MessageID: "m"}, nil)

	c = newTestClient(t, p)
	require.NoError(t, c.SetHTMLTemplate("<p>hi</p>"))
	require.NoError(t, c.SetCSV(original))

	summary, err := c.Send(context.Background())

	require.NoError(t, err)
	require.ErrorIs(t, setErr, ErrSendInProgress)
	require.ErrorIs(t, pathErr, ErrSendInProgress)
	assert.Equal(t, 1, summary.Sent)
	assert.True(t, original.isClosed())
	assert.True(t, replacement.isClosed())
	assert.Equal(t, StateDone, c.State())
}

func TestClient_SetCSVAfterClose(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &MockProvider{})
	require.NoError(t, c.Close())

	r := &closeTracker{Reader: strings.NewReader("email\na@example.com\n")}
	require.ErrorIs(t, c.SetCSV(r), ErrClientClosed)
	assert.True(t, r.isClosed())
	require.ErrorIs(t, c.SetCSVFromPath(context.Background(), filepath.Join("testdata", "emails.csv")), ErrClientClosed)
}

func TestClient_AWSConfigRetriedAfterFailure(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &MockProvider{})

	calls := 0
	c.loadAWSFn = func(ctx context.Context, _ ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		calls++
		if err := ctx.Err(); err != nil {
			return aws.Config{}, err
		}
		return aws.Config{Region: "us-east-1"}, nil
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.awsConfig(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	cfg, err := c.awsConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)

	_, err = c.awsConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
