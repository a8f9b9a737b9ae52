package core

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strconv"
	"time"
)

// Provider defines the interface for email service providers used by the bulk pipeline.
// Implementations handle provider-specific logic for quota lookup and sending.
type Provider interface {
	// Quota reports the provider's current sending limits.
	Quota(ctx context.Context) (*QuotaResponse, error)

	// Send sends a single rendered message.
	Send(ctx context.Context, msg *Message) (*SendResult, error)

	// ValidateConfig validates the provider configuration.
	// Returns an error if the configuration is invalid or incomplete.
	ValidateConfig() error

	// Name returns the provider's name for identification and logging.
	Name() string
}

// ProviderSettings represents configuration settings for email providers.
type ProviderSettings map[string]string

// Get retrieves a configuration value by key.
func (ps ProviderSettings) Get(key string) string {
	return ps[key]
}

// Set sets a configuration value.
func (ps ProviderSettings) Set(key, value string) {
	ps[key] = value
}

// Float returns the value for key parsed as a float, or def when unset or invalid.
func (ps ProviderSettings) Float(key string, def float64) float64 {
	v := ps.Get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Address represents an email address with optional display name.
type Address struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// String returns the formatted email address.
// If Name is provided, returns "Name <email@domain.com>"
// Otherwise returns just "email@domain.com"
func (a Address) String() string {
	if a.Name != "" {
		return mime.QEncoding.Encode("UTF-8", a.Name) + " <" + a.Email + ">"
	}
	return a.Email
}

// ParseAddress parses a single RFC 5322 address such as `Team <team@example.com>`.
func ParseAddress(s string) (Address, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, err
	}
	return Address{Name: addr.Name, Email: addr.Address}, nil
}

// Message is one fully rendered email addressed to a single recipient.
type Message struct {
	// From is the sender, as configured (may include a display name).
	From string

	// To is the single recipient address taken from the row.
	To string

	// ReturnPath receives bounces when set.
	ReturnPath string

	// Charset applies to both subject and body.
	Charset string

	Subject string
	HTML    string
}

// SendResult contains the result of sending a single email.
type SendResult struct {
	// MessageID is the unique identifier assigned by the provider.
	MessageID string

	// Provider is the name of the provider that sent the email.
	Provider string

	// Timestamp when the email was accepted by the provider.
	Timestamp time.Time

	// Metadata contains provider-specific information.
	Metadata map[string]interface{}
}

// QuotaResponse is the raw quota answer from a provider.
type QuotaResponse struct {
	Max24HourSend   float64
	MaxSendRate     float64
	SentLast24Hours float64

	// Status carries errors embedded in an otherwise successful response.
	Status ResponseStatus
}

// ResponseStatus mirrors the status envelope some provider APIs attach to a response.
// Error is either a string or an error value; nil means success.
type ResponseStatus struct {
	Error interface{}
}

// Err normalizes the embedded status into an error.
func (s ResponseStatus) Err() error {
	switch v := s.Error.(type) {
	case nil:
		return nil
	case error:
		return v
	case string:
		if v == "" {
			return nil
		}
		return errors.New(v)
	default:
		return fmt.Errorf("%v", v)
	}
}

// ValidationError represents a validation error with specific field information.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Message is the validation error message.
	Message string

	// Value is the invalid value (optional).
	Value interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation error in %s: %s (value: %v)", e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Is implements error matching for errors.Is.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ProviderError represents an error from an email provider.
type ProviderError struct {
	// Provider is the name of the provider that generated the error.
	Provider string

	// Code is the provider-specific error code.
	Code string

	// Message is the error message from the provider.
	Message string

	// StatusCode is the HTTP status code (for HTTP-based providers).
	StatusCode int

	// IsRetryable indicates whether the provider reported the failure as transient.
	IsRetryable bool

	// Cause is the underlying error that caused this provider error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s error [%s] (status: %d): %s",
			e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s error [%s]: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for errors.Is.
func (e *ProviderError) Is(target error) bool {
	pe, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return e.Provider == pe.Provider && e.Code == pe.Code
}

// Retryable reports whether the provider marked the failure as transient.
func (e *ProviderError) Retryable() bool {
	return e.IsRetryable
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// WrapProviderError creates a provider error that keeps cause for errors.Is/As.
func WrapProviderError(provider, code string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewValidationErrorWithValue creates a new validation error with a value.
func NewValidationErrorWithValue(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsRetryable checks if an error was reported as transient by a provider.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable
	}
	return false
}
