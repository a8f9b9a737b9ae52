package bulkmailer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Quota is the provider's sending limit snapshot.
type Quota struct {
	Max24HourSend   float64
	MaxSendRate     float64
	SentLast24Hours float64
}

// Remaining returns how many messages may still be sent in the current
// 24 hour window, or -1 when the provider reports no daily cap.
func (q Quota) Remaining() float64 {
	if q.Max24HourSend < 0 {
		return -1
	}
	if left := q.Max24HourSend - q.SentLast24Hours; left > 0 {
		return left
	}
	return 0
}

// QuotaError wraps a failed quota fetch. Its message is the underlying message.
type QuotaError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *QuotaError) Unwrap() error {
	return e.Err
}

var errEmptyQuota = errors.New("empty quota response")

// FetchQuota asks the provider for its current limits and stores them.
// On failure the stored quota is reset to unknown.
func (c *Client) FetchQuota(ctx context.Context) (Quota, error) {
	ctx, span := c.tracer.Start(ctx, "bulkmailer.Client.FetchQuota")
	defer span.End()

	span.SetAttributes(attribute.String("bulkmailer.provider", c.provider.Name()))

	resp, err := c.provider.Quota(ctx)
	if err == nil && resp == nil {
		err = errEmptyQuota
	}
	if err == nil {
		err = resp.Status.Err()
	}
	if err != nil {
		c.mu.Lock()
		c.quota = Quota{}
		c.quotaKnown = false
		c.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "quota fetch failed")
		return Quota{}, &QuotaError{Provider: c.provider.Name(), Err: err}
	}

	q := Quota{
		Max24HourSend:   resp.Max24HourSend,
		MaxSendRate:     resp.MaxSendRate,
		SentLast24Hours: resp.SentLast24Hours,
	}

	c.mu.Lock()
	c.quota = q
	c.quotaKnown = true
	c.mu.Unlock()

	span.SetAttributes(
		attribute.Float64("bulkmailer.quota.max_send_rate", q.MaxSendRate),
		attribute.Float64("bulkmailer.quota.max_24_hour_send", q.Max24HourSend),
		attribute.Float64("bulkmailer.quota.sent_last_24_hours", q.SentLast24Hours),
	)
	span.SetStatus(codes.Ok, "quota fetched")

	return q, nil
}

// Quota returns the last fetched quota and whether one is known.
func (c *Client) Quota() (Quota, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota, c.quotaKnown
}
