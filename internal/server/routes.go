package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/zsiec/rtspsource/internal/config"
	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/session"
	"github.com/zsiec/rtspsource/pkg/version"
)

// Controller is the part of *session.Engine the API drives.
type Controller interface {
	Open(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Status() session.Status
}

// OpenRequest is the optional body of POST /api/v1/session/open.
type OpenRequest struct {
	URL string `json:"url"`
}

const defaultControlTimeout = 30 * time.Second

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	s.errorHandler.WriteJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.errorHandler.WriteJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("request body must be JSON"))
		return
	}
	url := body.URL
	if url == "" {
		url = s.defaultURL
	}
	if url == "" {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError("url is required"))
		return
	}
	if err := config.ValidateURL(url); err != nil {
		s.errorHandler.HandleError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}
	s.control(w, r, func(ctx context.Context) error { return s.controller.Open(ctx, url) })
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.controller.Play)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.controller.Stop)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.controller.Reconnect)
}

// control runs one blocking engine request and answers with the resulting
// status. A deadline hit while the request is queued or running is a timeout.
func (s *Server) control(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	timeout := s.config.WriteTimeout
	if timeout <= 0 {
		timeout = defaultControlTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	log := logger.FromContext(r.Context())
	start := time.Now()
	if err := fn(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Wrap(err, apperrors.ErrorTypeTimeout, "session request timed out", http.StatusGatewayTimeout)
		}
		log.WithError(err).WithField("elapsed", time.Since(start).String()).Info("Session request failed")
		s.errorHandler.HandleError(w, r, err)
		return
	}

	st := s.controller.Status()
	log.WithFields(map[string]interface{}{
		"state":   st.State,
		"elapsed": time.Since(start).String(),
	}).Info("Session request completed")
	s.errorHandler.WriteJSON(w, http.StatusOK, st)
}
