package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/ticket-tagger/pkg/ratelimit"
)

// Common errors returned by the client.
var (
	// ErrNotModifiedWithoutRecord is returned when the origin answers 304 to
	// a request that carried no If-None-Match. It indicates a broken origin
	// or a cache key bug and must not be treated as transient.
	ErrNotModifiedWithoutRecord = errors.New("304 Not Modified without a cached record")

	// ErrClientRevoked is returned by every call on an installation client
	// (or a repository client minted from it) after Revoke.
	ErrClientRevoked = errors.New("installation client revoked")

	// ErrConfigConflict is returned when a config write carries a stale sha.
	ErrConfigConflict = errors.New("repository config changed since it was read")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses, 403 responses caused by
	// an exhausted rate limit and requests refused by the local gate.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// APIError is a failed platform API call. StatusCode is 0 when no response
// was received.
type APIError struct {
	StatusCode       int
	Class            ErrorClass
	Message          string
	DocumentationURL string
	Errors           []ValidationError
	Err              error
}

// ValidationError describes a field-level failure reported with a 422.
type ValidationError struct {
	Resource string `json:"resource"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	if e.StatusCode == 0 {
		fmt.Fprintf(&b, "platform %s error: %s", e.Class, e.Message)
	} else {
		fmt.Fprintf(&b, "platform %s error (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	for _, v := range e.Errors {
		detail := v.Message
		if detail == "" {
			detail = v.Code
		}
		fmt.Fprintf(&b, "; %s.%s: %s", v.Resource, v.Field, detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx status to an ErrorClass.
func classifyStatus(status int, message string) ErrorClass {
	switch {
	case status == 429, status == 403 && isRateLimitMessage(message):
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// isRateLimitMessage tells a rate-limit 403 apart from a permission 403.
func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") || strings.Contains(lower, "abuse detection")
}

// parseAPIError builds an APIError from an error response body. Bodies that
// are not the platform's JSON error shape are used verbatim as the message.
func parseAPIError(status int, body []byte) *APIError {
	var parsed struct {
		Message          string            `json:"message"`
		DocumentationURL string            `json:"documentation_url"`
		Errors           []ValidationError `json:"errors"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		apiErr.Message = parsed.Message
		apiErr.DocumentationURL = parsed.DocumentationURL
		apiErr.Errors = parsed.Errors
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d", status)
	}
	apiErr.Class = classifyStatus(status, apiErr.Message)
	return apiErr
}

// transportError wraps a failed round trip.
func transportError(err error) *APIError {
	class := ErrorClassNetwork
	message := "request failed"
	if errors.Is(err, ratelimit.ErrRateLimited) {
		class = ErrorClassRateLimit
		message = "request refused by rate limit gate"
	}
	return &APIError{Class: class, Message: message, Err: err}
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return hasStatus(err, 404)
}

// IsConflict reports whether err is a 409 response.
func IsConflict(err error) bool {
	return hasStatus(err, 409)
}

// IsUnauthorized reports whether err is a 401 response. The credential is
// revoked or expired; callers must re-authenticate instead of retrying.
func IsUnauthorized(err error) bool {
	return hasStatus(err, 401)
}

// IsRateLimited reports whether err was caused by a rate limit, at the
// origin or at the local gate.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Class == ErrorClassRateLimit {
		return true
	}
	return errors.Is(err, ratelimit.ErrRateLimited)
}
