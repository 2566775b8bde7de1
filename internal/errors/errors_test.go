package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("New creates error correctly", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest)

		assert.Equal(t, ErrorTypeValidation, err.Type)
		assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
		assert.Equal(t, "VALIDATION_ERROR: Invalid input", err.Error())
	})

	t.Run("Wrap keeps the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrapf(cause, ErrorTypeConnectionFailed, "connect to %s", "cam:554")

		assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
		assert.Equal(t, cause, err.Unwrap())
		assert.Contains(t, err.Error(), "connect to cam:554")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithDetails and WithCode", func(t *testing.T) {
		err := New(ErrorTypeValidation, "Invalid input", http.StatusBadRequest).
			WithCode("E1").
			WithDetails(map[string]interface{}{"field": "url"})

		assert.Equal(t, "E1", err.Code)
		assert.Equal(t, "url", err.Details["field"])
	})
}

func TestIsMatchesByType(t *testing.T) {
	sentinel := New(ErrorTypeConnectionFailed, "connection failed", 0)
	other := New(ErrorTypePlayRejected, "play rejected", 0)

	cause := Wrapf(errors.New("i/o timeout"), ErrorTypeConnectionFailed, "describe")
	scheduled := Wrapf(cause, ErrorTypeReconnectScheduled, "reconnect in %s", "5s")

	assert.True(t, errors.Is(cause, sentinel))
	assert.False(t, errors.Is(cause, other))

	assert.True(t, errors.Is(scheduled, New(ErrorTypeReconnectScheduled, "", 0)))
	assert.True(t, errors.Is(scheduled, sentinel), "cause must be visible through the wrapper")

	wrapped := fmt.Errorf("open: %w", scheduled)
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.Equal(t, ErrorTypeReconnectScheduled, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    int
	}{
		{ErrorTypeWrongState, http.StatusConflict},
		{ErrorTypeConnectionFailed, http.StatusBadGateway},
		{ErrorTypeDescriptionInvalid, http.StatusBadGateway},
		{ErrorTypeNoUsableStreams, http.StatusUnprocessableEntity},
		{ErrorTypePlayRejected, http.StatusBadGateway},
		{ErrorTypeReconnectScheduled, http.StatusAccepted},
		{ErrorTypeShuttingDown, http.StatusServiceUnavailable},
		{ErrorTypeRateLimit, http.StatusTooManyRequests},
		{ErrorType("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.errType))
		})
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewNotFoundError("session")
	got, ok := GetAppError(fmt.Errorf("lookup: %w", appErr))
	require.True(t, ok)
	assert.Same(t, appErr, got)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsAppError(nil))
}
