package errors

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ErrorResponse is the JSON body written for failed control API calls.
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	TraceID string       `json:"trace_id,omitempty"`
}

type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   string                 `json:"cause,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler renders errors as JSON responses.
type ErrorHandler struct {
	logger *logrus.Logger
}

func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError writes err as an ErrorResponse. Errors that are not AppErrors become internal errors.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	traceID := w.Header().Get("X-Request-ID")
	if traceID == "" {
		traceID = r.Header.Get("X-Request-ID")
	}

	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "An unexpected error occurred")
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = StatusFor(appErr.Type)
	}

	logEntry := h.logger.WithFields(logrus.Fields{
		"error_type": appErr.Type,
		"trace_id":   traceID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})

	switch {
	case status >= http.StatusInternalServerError:
		logEntry.Error(appErr.Error())
	case status >= http.StatusBadRequest:
		logEntry.Warn(appErr.Error())
	default:
		logEntry.Info(appErr.Error())
	}

	details := ErrorDetails{
		Type:    appErr.Type,
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	}
	if cause := appErr.Unwrap(); cause != nil && appErr.Type != ErrorTypeInternal {
		details.Cause = cause.Error()
	}

	h.WriteJSON(w, status, ErrorResponse{Error: details, TraceID: traceID})
}

func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

func (h *ErrorHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, New(ErrorTypeValidation, "Method not allowed", http.StatusMethodNotAllowed))
}

// WriteJSON writes data with the given status.
func (h *ErrorHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// Middleware recovers panics in downstream handlers.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.logger.WithFields(logrus.Fields{
					"panic":  recovered,
					"method": r.Method,
					"path":   r.URL.Path,
				}).Error("Panic recovered in HTTP handler")
				h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
