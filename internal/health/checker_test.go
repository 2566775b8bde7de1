package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name    string
	err     error
	delay   time.Duration
	details map[string]interface{}
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type detailedChecker struct {
	mockChecker
}

func (d *detailedChecker) Details() map[string]interface{} {
	return d.details
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestManager(t *testing.T) {
	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(quietLogger())
		manager.Register(&mockChecker{name: "checker1"})
		manager.Register(&mockChecker{name: "checker2", err: errors.New("checker2 failed")})
		manager.Register(&mockChecker{name: "checker3", err: fmt.Errorf("%w: slow", ErrDegraded)})

		results := manager.RunChecks(context.Background())
		require.Len(t, results, 3)

		assert.Equal(t, StatusOK, results["checker1"].Status)
		assert.Empty(t, results["checker1"].Message)
		assert.Equal(t, StatusDown, results["checker2"].Status)
		assert.Equal(t, "checker2 failed", results["checker2"].Message)
		assert.Equal(t, StatusDegraded, results["checker3"].Status)
		assert.Contains(t, results["checker3"].Message, "slow")
	})

	t.Run("overall status", func(t *testing.T) {
		manager := NewManager(quietLogger())
		assert.Equal(t, StatusDown, manager.GetOverallStatus(), "no results yet")

		manager.Register(&mockChecker{name: "ok"})
		manager.RunChecks(context.Background())
		assert.Equal(t, StatusOK, manager.GetOverallStatus())

		manager.Register(&mockChecker{name: "degraded", err: ErrDegraded})
		manager.RunChecks(context.Background())
		assert.Equal(t, StatusDegraded, manager.GetOverallStatus())

		manager.Register(&mockChecker{name: "down", err: errors.New("boom")})
		manager.RunChecks(context.Background())
		assert.Equal(t, StatusDown, manager.GetOverallStatus())
	})

	t.Run("timeout", func(t *testing.T) {
		manager := NewManager(quietLogger())
		manager.Register(&mockChecker{name: "slow", delay: time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		results := manager.RunChecks(ctx)

		assert.Equal(t, StatusDown, results["slow"].Status)
		assert.Equal(t, "Health check timed out", results["slow"].Message)
	})

	t.Run("details", func(t *testing.T) {
		manager := NewManager(quietLogger())
		manager.Register(&detailedChecker{mockChecker{name: "d", details: map[string]interface{}{"k": 1}}})

		results := manager.RunChecks(context.Background())
		assert.Equal(t, map[string]interface{}{"k": 1}, results["d"].Details)
	})

	t.Run("GetResults returns copies", func(t *testing.T) {
		manager := NewManager(quietLogger())
		manager.Register(&mockChecker{name: "c"})
		manager.RunChecks(context.Background())

		results := manager.GetResults()
		results["c"].Status = StatusDown
		assert.Equal(t, StatusOK, manager.GetResults()["c"].Status)
	})
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(quietLogger())
	manager.Register(&mockChecker{name: "periodic"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, ok := manager.GetResults()["periodic"]
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
