// Package monitor is a terminal view of a running session, fed by the
// control API.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/session"
)

// Client talks to the control API of one rtspsource process.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Status fetches GET /api/v1/session.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var st session.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/session", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return st, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// Control posts one of open, play, stop or reconnect. url is only sent with
// open; empty means the server's configured URL.
func (c *Client) Control(ctx context.Context, action, url string) error {
	var body bytes.Buffer
	if action == "open" && url != "" {
		if err := json.NewEncoder(&body).Encode(map[string]string{"url": url}); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/session/"+action, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body apperrors.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error.Type == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	appErr := apperrors.New(body.Error.Type, body.Error.Message, resp.StatusCode)
	if body.Error.Cause != "" {
		appErr.Message += ": " + body.Error.Cause
	}
	return appErr
}
