package errors

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestHandleError(t *testing.T) {
	handler := NewErrorHandler(quietLogger())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedType   ErrorType
		expectedCause  string
	}{
		{
			name:           "validation error",
			err:            NewValidationError("url is required"),
			expectedStatus: http.StatusBadRequest,
			expectedType:   ErrorTypeValidation,
		},
		{
			name:           "plain error becomes internal",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedType:   ErrorTypeInternal,
		},
		{
			name:           "wrong state",
			err:            Newf(ErrorTypeWrongState, "cannot play in state %s", "Initial"),
			expectedStatus: http.StatusConflict,
			expectedType:   ErrorTypeWrongState,
		},
		{
			name: "reconnect scheduled exposes cause",
			err: Wrapf(Newf(ErrorTypeConnectionFailed, "describe timed out"),
				ErrorTypeReconnectScheduled, "reconnecting"),
			expectedStatus: http.StatusAccepted,
			expectedType:   ErrorTypeReconnectScheduled,
			expectedCause:  "CONNECTION_FAILED: describe timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/session/open", nil)
			req.Header.Set("X-Request-ID", "trace-1")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedType, response.Error.Type)
			assert.NotEmpty(t, response.Error.Message)
			assert.Equal(t, tt.expectedCause, response.Error.Cause)
			assert.Equal(t, "trace-1", response.TraceID)
		})
	}
}

func TestHandleNotFoundAndMethod(t *testing.T) {
	handler := NewErrorHandler(quietLogger())

	rr := httptest.NewRecorder()
	handler.HandleNotFound(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	handler.HandleMethodNotAllowed(rr, httptest.NewRequest(http.MethodDelete, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	handler := NewErrorHandler(quietLogger())

	panicking := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		panicking.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, ErrorTypeInternal, response.Error.Type)
}
