package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtspsource/internal/codec"
	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/queue"
	"github.com/zsiec/rtspsource/internal/session"
)

func TestClient(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/session":
			_ = json.NewEncoder(w).Encode(session.Status{ID: "s1", State: "Playing", Packets: 42})
		case "/api/v1/session/open":
			b, _ := io.ReadAll(r.Body)
			gotBody = string(b)
			_ = json.NewEncoder(w).Encode(session.Status{ID: "s1"})
		case "/api/v1/session/play":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(apperrors.ErrorResponse{Error: apperrors.ErrorDetails{
				Type:    apperrors.ErrorTypeWrongState,
				Message: "Play not valid in state Initial",
			}})
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Playing", st.State)
	assert.Equal(t, uint64(42), st.Packets)

	require.NoError(t, c.Control(ctx, "open", "rtsp://cam/live"))
	assert.JSONEq(t, `{"url":"rtsp://cam/live"}`, gotBody)

	err = c.Control(ctx, "play", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrWrongState))
	assert.Contains(t, err.Error(), "state Initial")

	err = c.Control(ctx, "bogus", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "418")
}

type fakeAPI struct {
	status  session.Status
	err     error
	actions []string
}

func (f *fakeAPI) Status(ctx context.Context) (session.Status, error) { return f.status, f.err }

func (f *fakeAPI) Control(ctx context.Context, action, url string) error {
	f.actions = append(f.actions, action)
	return f.err
}

func TestModelKeysIssueControls(t *testing.T) {
	api := &fakeAPI{}
	m := NewModel(api, time.Second)

	for _, key := range []string{"o", "p", "s", "r"} {
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
		require.NotNil(t, cmd, key)
		msg := cmd()
		_, _ = m.Update(msg)
	}
	assert.Equal(t, []string{"open", "play", "stop", "reconnect"}, api.actions)
	assert.Contains(t, m.View(), "reconnect ok")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestModelRendersStatus(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{status: session.Status{
		ID:         "sess-1",
		URL:        "rtsp://cam/live",
		State:      "Playing",
		Since:      now.Add(-90 * time.Second),
		Reconnects: 2,
		Packets:    1234,
		Queues: map[codec.Kind]queue.Stats{
			codec.KindVideo: {Depth: 3, Bytes: 4096, Dropped: 1},
		},
		Subsessions: map[codec.Kind]session.TrackStats{
			codec.KindVideo: {Media: "video/H264#0", Frames: 99},
		},
	}}
	m := NewModel(api, time.Second)

	_, _ = m.Update(m.fetch()())
	view := m.View()
	for _, want := range []string{"sess-1", "rtsp://cam/live", "Playing", "1234", "video/H264#0", "frames 99", "dropped 1"} {
		assert.Contains(t, view, want)
	}
}

func TestModelShowsUnreachableAPI(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	m := NewModel(api, time.Second)

	_, _ = m.Update(m.fetch()())
	assert.Contains(t, m.View(), "control API unreachable")

	_, _ = m.Update(m.control("play")())
	assert.Contains(t, m.View(), "play failed")
}
