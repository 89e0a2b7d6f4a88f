package peloton

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// ErrorType categorizes failures from the GitHub APIs.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "authentication"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeMalformed ErrorType = "malformed_response"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// APIError is a structured transport-level error from a query or mutation.
// A collection-phase APIError aborts the whole cycle; no partial results
// are used.
type APIError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Resource  string    `json:"resource,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s error for %s: %s", e.Type, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether retrying the operation may succeed.
func (e *APIError) IsRetryable() bool {
	return e.Retryable
}

// IsAuthError reports whether err is an authentication failure. Auth
// failures are fatal: the run exits non-zero without retrying.
func IsAuthError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Type == ErrorTypeAuth
}

// NewAPIError creates an APIError with the given type and message.
func NewAPIError(errorType ErrorType, message string, cause error) *APIError {
	return &APIError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableErrorType(errorType),
	}
}

// WrapAPIError classifies an arbitrary error from the GitHub REST or
// GraphQL clients into an APIError, tagged with the resource involved.
func WrapAPIError(err error, resource string) *APIError {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*APIError); ok {
		if apiErr.Resource == "" {
			apiErr.Resource = resource
		}
		return apiErr
	}

	if ghErr, ok := err.(*github.ErrorResponse); ok {
		return classifyRESTError(ghErr, resource)
	}

	if rlErr, ok := err.(*github.RateLimitError); ok {
		return &APIError{
			Type:      ErrorTypeRateLimit,
			Message:   fmt.Sprintf("rate limit exceeded, resets at %v", rlErr.Rate.Reset.Time),
			Cause:     err,
			Resource:  resource,
			Retryable: true,
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "bad credentials"):
		return &APIError{
			Type:      ErrorTypeAuth,
			Message:   "authentication failed; check the bearer token and its scopes",
			Cause:     err,
			Resource:  resource,
			Retryable: false,
		}
	case strings.Contains(msg, "rate limit"):
		return &APIError{
			Type:      ErrorTypeRateLimit,
			Message:   "API rate limit exceeded",
			Cause:     err,
			Resource:  resource,
			Retryable: true,
		}
	case isNetworkError(msg):
		return &APIError{
			Type:      ErrorTypeNetwork,
			Message:   "network error talking to the GitHub API",
			Cause:     err,
			Resource:  resource,
			Retryable: true,
		}
	}

	return &APIError{
		Type:      ErrorTypeUnknown,
		Message:   err.Error(),
		Cause:     err,
		Resource:  resource,
		Retryable: false,
	}
}

func classifyRESTError(ghErr *github.ErrorResponse, resource string) *APIError {
	apiErr := &APIError{Resource: resource, Cause: ghErr}

	switch ghErr.Response.StatusCode {
	case http.StatusUnauthorized:
		apiErr.Type = ErrorTypeAuth
		apiErr.Message = "authentication failed; the token is invalid or expired"
	case http.StatusForbidden:
		if strings.Contains(ghErr.Message, "rate limit") {
			apiErr.Type = ErrorTypeRateLimit
			apiErr.Message = "API rate limit exceeded"
			apiErr.Retryable = true
		} else {
			apiErr.Type = ErrorTypeAuth
			apiErr.Message = "token lacks a required scope (needs: project, repo, read:org, read:discussion)"
		}
	case http.StatusNotFound:
		apiErr.Type = ErrorTypeNotFound
		apiErr.Message = "resource not found; check the configured IDs and token access"
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		apiErr.Type = ErrorTypeNetwork
		apiErr.Message = "GitHub API is temporarily unavailable"
		apiErr.Retryable = true
	default:
		apiErr.Type = ErrorTypeUnknown
		apiErr.Message = ghErr.Message
		apiErr.Retryable = ghErr.Response.StatusCode >= 500
	}

	return apiErr
}

func isNetworkError(msg string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no such host",
		"timeout",
		"dial tcp",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

func isRetryableErrorType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeRateLimit, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// RetryConfig controls WithRetry.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Sleep is replaceable for tests.
	Sleep func(time.Duration)
}

// DefaultRetryConfig mirrors the GitHub timeout handling the board updater
// has always needed: a handful of attempts with growing gaps.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    4,
		InitialDelay:  5 * time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2.0,
		Sleep:         time.Sleep,
	}
}

// WithRetry runs operation, retrying retryable APIErrors with exponential
// backoff. Only mutations go through this path; collection failures abort
// the cycle without retry.
func WithRetry(operation func() error, config *RetryConfig) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			sleep(delay)
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", config.MaxRetries, lastErr)
}

// PartialSyncFailure reports a cycle where some item mutations failed
// while the rest were applied. The cycle is considered mostly complete;
// failed items are not retried within the same run.
type PartialSyncFailure struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"failed"`
}

// Error implements the error interface.
func (e *PartialSyncFailure) Error() string {
	return fmt.Sprintf("partial sync failure: %d operations succeeded, %d failed",
		len(e.Succeeded), len(e.Failed))
}

// FailedOperations returns the failed operation descriptions, sorted for
// stable logging.
func (e *PartialSyncFailure) FailedOperations() []string {
	ops := make([]string, 0, len(e.Failed))
	for op := range e.Failed {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// NewPartialSyncFailure creates a PartialSyncFailure from the outcome of
// an apply pass.
func NewPartialSyncFailure(succeeded []string, failed map[string]error) *PartialSyncFailure {
	return &PartialSyncFailure{Succeeded: succeeded, Failed: failed}
}
