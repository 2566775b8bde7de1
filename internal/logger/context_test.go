package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	entry := logrus.New().WithField("test", "value")

	ctx := WithLogger(context.Background(), entry)
	assert.Equal(t, "value", FromContext(ctx).Data["test"])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestRequestLoggerMiddleware(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	var seenID string
	handler := RequestLoggerMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID, _ = FromContext(r.Context()).Data["request_id"].(string)
		w.WriteHeader(http.StatusAccepted)
	}))

	t.Run("generates request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/session/play", nil))

		require.NotEmpty(t, seenID)
		assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))

		last := hook.LastEntry()
		require.NotNil(t, last)
		assert.Equal(t, http.StatusAccepted, last.Data["status"])
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "caller-id")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "caller-id", seenID)
		assert.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestResponseWriterFirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write([]byte("x"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rw.StatusCode())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
