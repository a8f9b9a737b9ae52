package bulkmailer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lattiq/bulkmailer/internal/source"
)

// Predefined sentinel errors for common cases.
var (
	// ErrNoTemplate indicates the body template has not been compiled yet.
	ErrNoTemplate = errors.New("no template available")

	// ErrNoSubject indicates the subject template has not been set.
	ErrNoSubject = errors.New("no subject set")

	// ErrEmptyTemplate indicates the visual template compiled to no markup.
	ErrEmptyTemplate = errors.New("empty template")

	// ErrNoCSV indicates Send was called before a CSV source was set.
	ErrNoCSV = errors.New("no CSV file set")

	// ErrSourceConsumed indicates the CSV source was already streamed by an earlier Send.
	ErrSourceConsumed = errors.New("CSV source already consumed")

	// ErrSendInProgress indicates another Send is running on the same client.
	ErrSendInProgress = errors.New("send already in progress")

	// ErrNoSendRate indicates the provider reported a non-positive send rate.
	ErrNoSendRate = errors.New("provider reported no send rate")

	// ErrMissingRecipient indicates a row without a usable email column.
	ErrMissingRecipient = errors.New("row has no email address")

	// ErrStream indicates the CSV stream itself failed.
	ErrStream = errors.New("CSV stream failed")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrNotFound indicates a template or CSV location does not exist.
	ErrNotFound = source.ErrNotFound
)

// TemplateError represents an error in template processing.
type TemplateError struct {
	// Template is the name of the template that caused the error.
	Template string

	// Operation is the operation that failed (e.g., "parse", "render").
	Operation string

	// Message is the error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error in %s during %s: %s: %v", e.Template, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("template error in %s during %s: %s", e.Template, e.Operation, e.Message)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// NewTemplateError creates a new template error.
func NewTemplateError(template, operation, message string, cause error) *TemplateError {
	return &TemplateError{
		Template:  template,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// DiagnosticsError carries the line-numbered diagnostics of a failed visual compile.
type DiagnosticsError struct {
	Template    string
	Diagnostics []Diagnostic
}

// Error joins the diagnostics, one per line.
func (e *DiagnosticsError) Error() string {
	lines := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		lines = append(lines, d.String())
	}
	return fmt.Sprintf("template %s has %d error(s):\n%s", e.Template, len(e.Diagnostics), strings.Join(lines, "\n"))
}

// Lines returns the line numbers referenced by the diagnostics.
func (e *DiagnosticsError) Lines() []int {
	var out []int
	for _, d := range e.Diagnostics {
		if d.Line > 0 {
			out = append(out, d.Line)
		}
	}
	return out
}

// StreamError reports a failure of the CSV stream as a whole, as opposed to one row.
type StreamError struct {
	// Line is the input line where reading failed, 0 if unknown.
	Line int

	Err error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("CSV stream failed at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("CSV stream failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrStream.
func (e *StreamError) Is(target error) bool {
	return target == ErrStream
}
