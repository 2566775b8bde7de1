package session

import (
	"time"

	"github.com/zsiec/rtspsource/internal/metrics"
	"github.com/zsiec/rtspsource/internal/reactor"
)

type timerRole int

const (
	timerFirstResponse timerRole = iota
	timerGapCheck
	timerLiveness
	timerSessionEnd
	timerReconnect
	numTimerRoles
)

func (r timerRole) String() string {
	switch r {
	case timerFirstResponse:
		return "first_response"
	case timerGapCheck:
		return "gap_check"
	case timerLiveness:
		return "liveness"
	case timerSessionEnd:
		return "session_end"
	case timerReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// supervisorTimers holds at most one outstanding reactor timer per role.
type supervisorTimers struct {
	reactor *reactor.Reactor
	handles [numTimerRoles]*reactor.Timer
}

// arm replaces any outstanding timer of role.
func (t *supervisorTimers) arm(role timerRole, d time.Duration, fn func()) {
	t.cancel(role)
	var h *reactor.Timer
	h = t.reactor.Schedule(d, func() {
		if t.handles[role] == h {
			t.handles[role] = nil
		}
		metrics.IncTimerFire(role.String())
		fn()
	})
	t.handles[role] = h
}

func (t *supervisorTimers) cancel(role timerRole) {
	t.handles[role].Cancel()
	t.handles[role] = nil
}

func (t *supervisorTimers) cancelAll() {
	for role := timerRole(0); role < numTimerRoles; role++ {
		t.cancel(role)
	}
}

func (t *supervisorTimers) pending(role timerRole) bool {
	return t.handles[role] != nil
}

func (t *supervisorTimers) outstanding() int {
	n := 0
	for _, h := range t.handles {
		if h != nil {
			n++
		}
	}
	return n
}
