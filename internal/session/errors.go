package session

import (
	"net/http"
	"time"

	apperrors "github.com/zsiec/rtspsource/internal/errors"
)

// Sentinels for errors.Is. Resolved errors carry the same Type with a more
// specific message and, where there is one, the underlying cause.
var (
	ErrWrongState         = apperrors.New(apperrors.ErrorTypeWrongState, "request not valid in current state", http.StatusConflict)
	ErrConnectionFailed   = apperrors.New(apperrors.ErrorTypeConnectionFailed, "connection failed", http.StatusBadGateway)
	ErrDescriptionInvalid = apperrors.New(apperrors.ErrorTypeDescriptionInvalid, "session description invalid", http.StatusBadGateway)
	ErrNoUsableStreams    = apperrors.New(apperrors.ErrorTypeNoUsableStreams, "no usable streams", http.StatusUnprocessableEntity)
	ErrPlayRejected       = apperrors.New(apperrors.ErrorTypePlayRejected, "play rejected", http.StatusBadGateway)
	ErrReconnectScheduled = apperrors.New(apperrors.ErrorTypeReconnectScheduled, "reconnection scheduled", http.StatusAccepted)
	ErrShuttingDown       = apperrors.New(apperrors.ErrorTypeShuttingDown, "shutting down", http.StatusServiceUnavailable)
)

func wrongState(kind Kind, state State) error {
	return apperrors.Newf(apperrors.ErrorTypeWrongState, "%s not valid in state %s", kind, state).
		WithDetails(map[string]interface{}{"request": kind.String(), "state": state.String()})
}

func connectionFailed(err error, format string, args ...interface{}) error {
	if err == nil {
		return apperrors.Newf(apperrors.ErrorTypeConnectionFailed, format, args...)
	}
	return apperrors.Wrapf(err, apperrors.ErrorTypeConnectionFailed, format, args...)
}

func descriptionInvalid(err error) error {
	return apperrors.Wrapf(err, apperrors.ErrorTypeDescriptionInvalid, "cannot use session description")
}

func noUsableStreams(offered int) error {
	return apperrors.Newf(apperrors.ErrorTypeNoUsableStreams, "none of %d offered streams could be set up", offered)
}

func playRejected(err error) error {
	return apperrors.Wrapf(err, apperrors.ErrorTypePlayRejected, "play failed")
}

// reconnectScheduled wraps cause, so errors.Is matches both
// ErrReconnectScheduled and the cause's sentinel.
func reconnectScheduled(cause error, delay time.Duration) error {
	return apperrors.Wrapf(cause, apperrors.ErrorTypeReconnectScheduled, "reconnecting in %s", delay).
		WithDetails(map[string]interface{}{"delay": delay.String()})
}

func shuttingDown(reason string) error {
	return apperrors.Newf(apperrors.ErrorTypeShuttingDown, "%s", reason)
}
