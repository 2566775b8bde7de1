package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtspsource/pkg/version"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name    string
		checker *mockChecker
		code    int
		status  Status
	}{
		{"ok", &mockChecker{name: "c"}, http.StatusOK, StatusOK},
		{"degraded", &mockChecker{name: "c", err: fmt.Errorf("%w: lagging", ErrDegraded)}, http.StatusOK, StatusDegraded},
		{"down", &mockChecker{name: "c", err: errors.New("gone")}, http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(quietLogger())
			manager.Register(tt.checker)
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, version.Version, resp.Version)
			assert.Contains(t, resp.Checks, "c")
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(quietLogger())
	handler := NewHandler(manager)

	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "no checks have run")

	manager.Register(&mockChecker{name: "c"})
	manager.RunChecks(context.Background())

	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(quietLogger()))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0s", formatUptime(400*time.Millisecond))
	assert.Equal(t, "1m5s", formatUptime(65*time.Second+300*time.Millisecond))
	assert.Equal(t, "26h3m0s", formatUptime(26*time.Hour+3*time.Minute))
}
