package timestamp

import "time"

// Synchronizer maps presentation times onto a host playback clock for one
// output stream. The first sample after a reset establishes both baselines:
// the host clock plus a latency margin, and the sample's own time. If that
// sample was not RTCP synced, the baselines are established once more by the
// first synced sample and are final from then on.
//
// A Synchronizer is owned by the consumer goroutine of its stream.
type Synchronizer struct {
	latency time.Duration

	established      bool
	rtcpSynced       bool
	localBaseline    time.Duration
	protocolBaseline time.Time
}

func NewSynchronizer(latency time.Duration) *Synchronizer {
	return &Synchronizer{latency: latency}
}

// Synchronize converts ts to host stream time. hostNow is the host clock's
// current stream time and is only read when a baseline is (re)established.
func (s *Synchronizer) Synchronize(ts time.Time, rtcpSynced bool, hostNow time.Duration) time.Duration {
	switch {
	case !s.established:
		s.establish(ts, hostNow)
		s.rtcpSynced = rtcpSynced
	case !s.rtcpSynced && rtcpSynced:
		s.establish(ts, hostNow)
		s.rtcpSynced = true
	}
	return ts.Sub(s.protocolBaseline) + s.localBaseline
}

func (s *Synchronizer) establish(ts time.Time, hostNow time.Duration) {
	s.localBaseline = hostNow + s.latency
	s.protocolBaseline = ts
	s.established = true
}

// Reset clears both baselines; the next sample re-establishes them.
func (s *Synchronizer) Reset() {
	s.established = false
	s.rtcpSynced = false
	s.localBaseline = 0
	s.protocolBaseline = time.Time{}
}

// Established reports whether a baseline is in place.
func (s *Synchronizer) Established() bool { return s.established }

// Final reports whether the baseline is RTCP synced and will no longer move.
func (s *Synchronizer) Final() bool { return s.established && s.rtcpSynced }

// Baselines returns the current host and presentation baselines.
func (s *Synchronizer) Baselines() (local time.Duration, protocol time.Time) {
	return s.localBaseline, s.protocolBaseline
}
