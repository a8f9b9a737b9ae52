package bulkmailer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Quota(ctx context.Context) (*QuotaResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*QuotaResponse)
	return resp, args.Error(1)
}

func (m *MockProvider) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	args := m.Called(ctx, msg)
	res, _ := args.Get(0).(*SendResult)
	return res, args.Error(1)
}

func (m *MockProvider) ValidateConfig() error {
	return nil
}

func (m *MockProvider) Name() string {
	return "mock"
}

// recorder collects events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	sent   []SentEvent
	failed []FailedEvent
}

func (r *recorder) OnSent(e SentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "sent:"+e.Row.Email())
	r.sent = append(r.sent, e)
}

func (r *recorder) OnError(e FailedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "error:"+e.Row.Email())
	r.failed = append(r.failed, e)
}

var defaultQuota = &QuotaResponse{
	Max24HourSend:   1000,
	MaxSendRate:     50,
	SentLast24Hours: 0,
}

func newTestClient(t *testing.T, p Provider, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithSource("example@example.com"),
		WithReturnPath("bounce@example.com"),
		WithAWSSES("us-east-1"),
		WithSubject("Hello {{ .name }}"),
		WithProviderClient(p),
		WithoutTracing(),
		WithoutMetrics(),
	}
	c, err := New(DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}
