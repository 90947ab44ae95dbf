// Package errors defines the error taxonomy shared by the retrieval core.
// Component failures are wrapped around one of the sentinels below so callers
// can classify them with errors.Is regardless of how deep they were raised.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")

	ErrIndex        = errors.New("index error")
	ErrQuery        = errors.New("query enhancement error")
	ErrFusion       = errors.New("fusion error")
	ErrCacheWrite   = errors.New("cache write error")
	ErrCacheRead    = errors.New("cache read error")
	ErrInvalidation = errors.New("invalidation error")

	ErrDurablePatternUnsupported = errors.New("pattern invalidation is not supported on the durable tier")
	ErrQueueFull                 = errors.New("invalidation queue full")
	ErrQueueClosed               = errors.New("invalidation queue closed")
)

// AppError attaches a human-readable message and an HTTP status to one of
// the sentinels.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// IndexErrorf builds an ErrIndex failure for a rejected document mutation.
func IndexErrorf(format string, args ...any) *AppError {
	return Newf(ErrIndex, http.StatusBadRequest, format, args...)
}

// Recoverable reports whether err belongs to the part of the taxonomy that
// components absorb locally instead of surfacing to the caller.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, ErrQuery),
		errors.Is(err, ErrFusion),
		errors.Is(err, ErrCacheRead),
		errors.Is(err, ErrCacheWrite),
		errors.Is(err, ErrInvalidation),
		errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrIndex):
		return http.StatusBadRequest
	case errors.Is(err, ErrDurablePatternUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
