package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "top_k must be positive, got %d", -1)
	assert.Equal(t, "invalid input: top_k must be positive, got -1", err.Error())
	assert.ErrorIs(t, err, ErrInvalidInput)

	wrapped := fmt.Errorf("handling search: %w", err)
	var appErr *AppError
	assert.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(wrapped))

	idx := IndexErrorf("document at position %d has no id", 3)
	assert.ErrorIs(t, idx, ErrIndex)
	assert.Equal(t, http.StatusBadRequest, idx.StatusCode)

	custom := New(ErrInternal, http.StatusTeapot, "odd")
	assert.Equal(t, http.StatusTeapot, HTTPStatusCode(custom))
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrDocumentNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest},
		{ErrIndex, http.StatusBadRequest},
		{ErrDurablePatternUnsupported, http.StatusNotImplemented},
		{ErrQueueFull, http.StatusTooManyRequests},
		{ErrTimeout, http.StatusServiceUnavailable},
		{ErrQueueClosed, http.StatusServiceUnavailable},
		{ErrFusion, http.StatusInternalServerError},
		{errors.New("unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}

func TestRecoverable(t *testing.T) {
	for _, err := range []error{ErrQuery, ErrFusion, ErrCacheRead, ErrCacheWrite, ErrInvalidation, fmt.Errorf("semantic: %w", ErrTimeout)} {
		assert.True(t, Recoverable(err), err.Error())
	}
	for _, err := range []error{ErrIndex, ErrInvalidInput, ErrInternal, errors.New("other")} {
		assert.False(t, Recoverable(err), err.Error())
	}
}
