package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	err := NewError(ErrInferenceFailed, "llama server unreachable").
		WithCause(root).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithUpstream("llama")

	assert.Equal(t, ErrInferenceFailed, GetErrorCode(err))
	assert.True(t, IsRetryable(err))
	assert.True(t, errors.Is(err, root))
	assert.Equal(t, "[INFERENCE_FAILED] llama server unreachable: connection refused", err.Error())
	assert.Equal(t, "llama", err.Upstream)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrVisionUnavailable, "daemon not ready")
	wrapped := fmt.Errorf("capture: %w", inner)

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, IsErrorCode(wrapped, ErrVisionUnavailable))
	assert.False(t, IsRetryable(wrapped))
}

func TestError_PlainErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("boom")
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
	assert.False(t, IsRetryable(plain))
	_, ok := AsError(plain)
	assert.False(t, ok)
	assert.Equal(t, "[TIMEOUT] slow", NewError(ErrTimeout, "slow").Error())
}

func TestError_Status(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusServiceUnavailable, NewError(ErrInferenceFailed, "x").Status())
	assert.Equal(t, http.StatusBadGateway, NewError(ErrTranscriptionFailed, "x").Status())
	assert.Equal(t, http.StatusTeapot, NewError(ErrInvalidRequest, "x").WithHTTPStatus(http.StatusTeapot).Status())
	assert.Equal(t, http.StatusInternalServerError, ErrPersistenceFailed.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("SOMETHING_ELSE").HTTPStatus())
}
