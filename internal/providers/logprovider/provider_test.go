package logprovider

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/bulkmailer/internal/core"
)

func TestProvider_SendLogs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewProvider(slog.New(slog.NewTextHandler(&buf, nil)), nil)

	res, err := p.Send(context.Background(), &core.Message{
		From:    "a@example.com",
		To:      "b@example.com",
		Subject: "Test Subject",
		HTML:    "<p>x</p>",
	})

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.MessageID, "log-"))
	assert.Equal(t, Name, res.Provider)
	assert.Contains(t, buf.String(), "to=b@example.com")
	assert.Contains(t, buf.String(), `subject="Test Subject"`)
}

func TestProvider_Quota(t *testing.T) {
	t.Parallel()

	q, err := NewProvider(nil, core.ProviderSettings{"max_send_rate": "3"}).Quota(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 3.0, q.MaxSendRate, 0.001)
	assert.InDelta(t, -1.0, q.Max24HourSend, 0.001)
}
