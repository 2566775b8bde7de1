package registry

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/zsiec/rtspsource/internal/session"
)

var (
	// ErrSessionNotFound is returned when a session is not in the registry
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when registering an id twice
	ErrSessionExists = errors.New("session already registered")
)

// Record is the published view of one session engine
type Record struct {
	ID            string    `json:"id"`
	Host          string    `json:"host"`
	URL           string    `json:"url"`
	State         string    `json:"state"`
	Reconnects    int       `json:"reconnects"`
	Packets       uint64    `json:"packets"`
	CreatedAt     time.Time `json:"created_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// RecordFrom builds a record from an engine status. Credentials are removed
// from the URL.
func RecordFrom(host string, s session.Status) *Record {
	return &Record{
		ID:         s.ID,
		Host:       host,
		URL:        redact(s.URL),
		State:      s.State,
		Reconnects: s.Reconnects,
		Packets:    s.Packets,
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// Registry defines the session registry operations
type Registry interface {
	// Register adds a session, or refreshes it when already present
	Register(ctx context.Context, rec *Record) error

	// Unregister removes a session
	Unregister(ctx context.Context, id string) error

	// Get retrieves a session by ID
	Get(ctx context.Context, id string) (*Record, error)

	// List returns all live sessions
	List(ctx context.Context) ([]*Record, error)

	// UpdateState records a state transition and refreshes the TTL
	UpdateState(ctx context.Context, id, state string) error

	// Update replaces an existing record and refreshes the TTL
	Update(ctx context.Context, rec *Record) error

	// Close closes any resources held by the registry
	Close() error
}
