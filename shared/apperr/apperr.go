package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Category string

const (
	InvalidRequest      Category = "INVALID_REQUEST"
	Unauthorized        Category = "UNAUTHORIZED"
	Forbidden           Category = "FORBIDDEN"
	NotFound            Category = "NOT_FOUND"
	RateLimited         Category = "RATE_LIMITED"
	ServiceUnavailable  Category = "SERVICE_UNAVAILABLE"
	UpstreamUnavailable Category = "UPSTREAM_UNAVAILABLE"
	UpstreamError       Category = "UPSTREAM_ERROR"
	PublishFailed       Category = "PUBLISH_FAILED"
	Internal            Category = "INTERNAL"
)

type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

func Wrap(err error, category Category, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Message: message, Err: err}
}

func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// CategoryOf reports the category of the first *Error in err's chain.
// Deadline and cancellation errors without a category count as UpstreamUnavailable.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamUnavailable
	}
	return Internal
}

func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}

// MessageOf returns the caller-safe message of err. Errors outside the taxonomy
// never expose their text.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "internal error"
}

func HTTPStatus(category Category) int {
	switch category {
	case InvalidRequest:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	case UpstreamUnavailable:
		return http.StatusGatewayTimeout
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Warning is a non-fatal outcome attached to an otherwise successful operation.
type Warning struct {
	Code     Category `json:"code"`
	Message  string   `json:"message"`
	EventID  string   `json:"event_id,omitempty"`
	Deferred bool     `json:"deferred,omitempty"`
}
