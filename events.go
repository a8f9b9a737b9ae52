package bulkmailer

import "time"

// SentEvent reports a row the provider accepted.
type SentEvent struct {
	Row     Row
	Elapsed time.Duration
	Result  *SendResult
}

// FailedEvent reports a row that could not be sent.
type FailedEvent struct {
	Row     Row
	Elapsed time.Duration
	Err     error
}

// Listener receives per-row outcomes in row order, on the goroutine running Send.
// Implementations must not call back into Send.
type Listener interface {
	OnSent(SentEvent)
	OnError(FailedEvent)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Sent  func(SentEvent)
	Error func(FailedEvent)
}

// OnSent implements Listener.
func (f ListenerFuncs) OnSent(e SentEvent) {
	if f.Sent != nil {
		f.Sent(e)
	}
}

// OnError implements Listener.
func (f ListenerFuncs) OnError(e FailedEvent) {
	if f.Error != nil {
		f.Error(e)
	}
}

// Summary describes a finished or aborted run.
type Summary struct {
	Total    int
	Sent     int
	Failed   int
	Duration time.Duration
	Quota    Quota
}

// Subscribe registers l for events of subsequent sends.
func (c *Client) Subscribe(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Client) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
