package mailgun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiq/bulkmailer/internal/core"
)

func TestNewProvider_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings core.ProviderSettings
		field    string
	}{
		{name: "missing api key", settings: core.ProviderSettings{"domain": "mg.example.com"}, field: "api_key"},
		{name: "missing domain", settings: core.ProviderSettings{"api_key": "key"}, field: "domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewProvider(tt.settings)

			var ve *core.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestProvider_Quota(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(core.ProviderSettings{
		"api_key":          "key",
		"domain":           "mg.example.com",
		"max_24_hour_send": "50000",
	})
	require.NoError(t, err)
	require.NoError(t, p.ValidateConfig())

	q, err := p.Quota(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, float64(DefaultMaxSendRate), q.MaxSendRate, 0.001)
	assert.InDelta(t, 50000.0, q.Max24HourSend, 0.001)
	assert.Equal(t, Name, p.Name())
}
