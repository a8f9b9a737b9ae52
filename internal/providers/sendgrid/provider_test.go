package sendgrid

import (
	"context"
	"net/http"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/bulkmailer/internal/core"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	args := m.Called(ctx, email)
	resp, _ := args.Get(0).(*rest.Response)
	return resp, args.Error(1)
}

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(core.ProviderSettings{})

	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "api_key", ve.Field)
}

func TestProvider_QuotaFromSettings(t *testing.T) {
	t.Parallel()

	p := NewWithClient(&mockClient{}, core.ProviderSettings{"max_send_rate": "25"})
	q, err := p.Quota(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 25.0, q.MaxSendRate, 0.001)
	assert.InDelta(t, float64(DefaultMax24HourSend), q.Max24HourSend, 0.001)
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("SendWithContext", mock.Anything, mock.MatchedBy(func(m *mail.SGMailV3) bool {
		return m.From.Address == "news@example.com" &&
			m.From.Name == "News" &&
			m.Subject == "Hello" &&
			len(m.Personalizations) == 1 &&
			m.Personalizations[0].To[0].Address == "a@example.com" &&
			m.Content[0].Value == "<p>x</p>"
	})).Return(&rest.Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string][]string{"X-Message-Id": {"sg-1"}},
	}, nil)

	res, err := NewWithClient(client, nil).Send(context.Background(), &core.Message{
		From:    "News <news@example.com>",
		To:      "a@example.com",
		Subject: "Hello",
		HTML:    "<p>x</p>",
	})

	require.NoError(t, err)
	assert.Equal(t, "sg-1", res.MessageID)
	client.AssertExpectations(t)
}

func TestProvider_SendAPIError(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	client.On("SendWithContext", mock.Anything, mock.Anything).Return(&rest.Response{
		StatusCode: http.StatusTooManyRequests,
		Body:       "slow down",
	}, nil)

	_, err := NewWithClient(client, nil).Send(context.Background(), &core.Message{To: "a@example.com"})

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.True(t, pe.IsRetryable)
}
