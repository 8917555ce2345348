package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies a failure for retry decisions and user messaging.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindServerError    ErrorKind = "server_error"
	KindBadRequest     ErrorKind = "bad_request"
	KindAuthentication ErrorKind = "authentication"
	KindPermission     ErrorKind = "permission"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindUnknown        ErrorKind = "unknown"
)

// Retryable reports whether an error of this kind is worth retrying.
// Unclassified failures retry against the policy's default budget; only
// kinds mapped from 4xx responses are terminal.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindBadRequest, KindAuthentication, KindPermission, KindNotFound, KindValidation:
		return false
	default:
		return true
	}
}

// Error is a classified HTTP-layer failure. It carries the original cause,
// the error kind, and an optional server-suggested retry delay.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns a human-friendly explanation paired with a recommended
// next step for each error kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindRateLimit:
		return "The service is rate limiting requests. Wait a moment and try again."
	case KindTimeout:
		return "The service did not respond in time. Try again; if it persists, check the service status."
	case KindNetwork:
		return "Could not reach the service. Check your network connection and the configured base URL."
	case KindServerError:
		return "The service reported an internal error. This is usually transient; try again shortly."
	case KindBadRequest:
		return "The request was rejected by the service. Check the request parameters."
	case KindAuthentication:
		return "Authentication failed. Check that the API key is set and valid."
	case KindPermission:
		return "The API key does not have permission for this operation."
	case KindNotFound:
		return "The requested resource was not found. Check the model name and base URL."
	case KindValidation:
		return "The request parameters failed validation."
	default:
		return "An unexpected error occurred. Check the logs for details."
	}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case statusCode == http.StatusUnauthorized:
		return KindAuthentication
	case statusCode == http.StatusForbidden:
		return KindPermission
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusGatewayTimeout:
		return KindTimeout
	case statusCode >= 500:
		return KindServerError
	case statusCode >= 400:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// Classify maps an arbitrary transport error to an error kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "EOF"):
		return KindNetwork
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return KindTimeout
	default:
		return KindUnknown
	}
}
