package bulkmailer

// State is the client's lifecycle stage.
type State int

const (
	// StateUnconfigured means no body template has been compiled.
	StateUnconfigured State = iota

	// StateTemplateCompiled means a body template is ready.
	StateTemplateCompiled

	// StateQuotaKnown means a template is ready and a quota has been fetched.
	StateQuotaKnown

	// StateStreaming means a send is pulling rows.
	StateStreaming

	// StateDone means the CSV source has been consumed.
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateTemplateCompiled:
		return "template_compiled"
	case StateQuotaKnown:
		return "quota_known"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// State reports the current lifecycle stage.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// stateLocked derives the stage from what the client holds. Callers hold c.mu.
func (c *Client) stateLocked() State {
	switch {
	case c.streaming:
		return StateStreaming
	case c.consumed && c.src == nil:
		return StateDone
	case c.body != nil && c.quotaKnown:
		return StateQuotaKnown
	case c.body != nil:
		return StateTemplateCompiled
	default:
		return StateUnconfigured
	}
}
