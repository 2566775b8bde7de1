package health

import (
	"context"
	"fmt"

	"github.com/zsiec/rtspsource/internal/session"
)

// StatusSource is satisfied by *session.Engine.
type StatusSource interface {
	Status() session.Status
}

// SessionChecker reports the session engine. A reconnecting session is
// degraded; every other state is healthy since an idle engine is valid.
type SessionChecker struct {
	src StatusSource
}

func NewSessionChecker(src StatusSource) *SessionChecker {
	return &SessionChecker{src: src}
}

func (s *SessionChecker) Name() string { return "session" }

func (s *SessionChecker) Check(ctx context.Context) error {
	st := s.src.Status()
	if st.State == session.StateReconnecting.String() {
		return fmt.Errorf("%w: session reconnecting after %d attempts", ErrDegraded, st.Reconnects)
	}
	return nil
}

func (s *SessionChecker) Details() map[string]interface{} {
	st := s.src.Status()
	return map[string]interface{}{
		"id":         st.ID,
		"state":      st.State,
		"reconnects": st.Reconnects,
		"packets":    st.Packets,
	}
}
