package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a transport-level failure talking to the exchange
type NetworkError struct {
	Op        string // Operation that failed (e.g., "limit_order", "dial")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// APIError is a non-2xx answer from the exchange REST API.
// Rate limits and server-side failures are retriable, client errors are not.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status=%d body=%s", e.Op, e.Status, e.Body)
}

func (e *APIError) IsRetriable() bool {
	return e.Status == 429 || e.Status >= 500
}

// Is reports not-found and not-cancelable answers as ErrOrderNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrOrderNotFound && (e.Status == 404 || e.Status == 422)
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrOrderNotFound matches an APIError for an order that is gone or no longer cancelable. Benign.
	ErrOrderNotFound = errors.New("order not found")

	// ErrRetryExhausted wraps the last error once the retry budget of an operation is spent.
	ErrRetryExhausted = errors.New("retry budget exhausted")

	// ErrFeedStale is reported by the feed watchdog when no message arrived within the staleness window.
	ErrFeedStale = errors.New("feed stale")

	// ErrNoTicker is returned when no ticker has been observed yet.
	ErrNoTicker = errors.New("no ticker observed")

	// ErrStopRequested asks the quoting loop to stop at the end of the current tick.
	ErrStopRequested = errors.New("stop requested")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
