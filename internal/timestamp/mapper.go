// Package timestamp converts RTP timestamps into presentation times and maps
// presentation times onto a host playback clock.
package timestamp

import (
	"sync"
	"time"
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// NTPToTime converts a 64-bit NTP timestamp from an RTCP sender report.
func NTPToTime(ntp uint64) time.Time {
	secs := int64(ntp>>32) - ntpEpochOffset
	frac := (ntp & 0xFFFFFFFF) * uint64(time.Second) >> 32
	return time.Unix(secs, int64(frac)).UTC()
}

// TimeToNTP is the inverse of NTPToTime.
func TimeToNTP(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// Mapper turns the RTP timestamps of one media into presentation times.
// Until an RTCP sender report arrives times are extrapolated from the wall
// clock of the first packet; afterwards they follow the sender's NTP clock
// and are reported as synced.
type Mapper struct {
	clockRate uint32
	now       func() time.Time

	started   bool
	lastRTP   uint32
	extended  int64 // unwrapped timestamp of the last packet
	wrapCount int

	baseExt  int64
	baseTime time.Time

	synced bool

	mu sync.RWMutex
}

func NewMapper(clockRate uint32, now func() time.Time) *Mapper {
	if clockRate == 0 {
		clockRate = 90000
	}
	if now == nil {
		now = time.Now
	}
	return &Mapper{clockRate: clockRate, now: now}
}

// Map returns the presentation time of an RTP timestamp and whether it is RTCP synced.
func (m *Mapper) Map(rtpTimestamp uint32) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ext := m.unwrapLocked(rtpTimestamp)
	if m.baseTime.IsZero() {
		m.baseExt = ext
		m.baseTime = m.now()
	}
	return m.timeOfLocked(ext), m.synced
}

// unwrapLocked extends a 32-bit timestamp using the signed distance from the
// previous one, so reordered packets step backwards instead of wrapping.
func (m *Mapper) unwrapLocked(ts uint32) int64 {
	if !m.started {
		m.started = true
		m.lastRTP = ts
		m.extended = int64(ts)
		return m.extended
	}
	delta := int64(int32(ts - m.lastRTP))
	if delta > 0 && ts < m.lastRTP {
		m.wrapCount++
	}
	m.extended += delta
	m.lastRTP = ts
	return m.extended
}

func (m *Mapper) timeOfLocked(ext int64) time.Time {
	ticks := ext - m.baseExt
	return m.baseTime.Add(time.Duration(ticks * int64(time.Second) / int64(m.clockRate)))
}

// OnSenderReport re-anchors the mapping on an RTCP sender report.
func (m *Mapper) OnSenderReport(ntpTime uint64, rtpTime uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ext int64
	if m.started {
		ext = m.extended + int64(int32(rtpTime-m.lastRTP))
	} else {
		// anchor the unwrap state on the report itself
		m.started = true
		m.lastRTP = rtpTime
		m.extended = int64(rtpTime)
		ext = m.extended
	}
	m.baseExt = ext
	m.baseTime = NTPToTime(ntpTime)
	m.synced = true
}

// Synced reports whether a sender report has been applied.
func (m *Mapper) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

func (m *Mapper) ClockRate() uint32 {
	return m.clockRate
}

// Reset forgets every anchor, including RTCP sync.
func (m *Mapper) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = false
	m.lastRTP = 0
	m.extended = 0
	m.wrapCount = 0
	m.baseExt = 0
	m.baseTime = time.Time{}
	m.synced = false
}

// MapperStats contains timestamp statistics
type MapperStats struct {
	ClockRate uint32    `json:"clock_rate"`
	LastRTP   uint32    `json:"last_rtp"`
	WrapCount int       `json:"wrap_count"`
	Synced    bool      `json:"rtcp_synced"`
	BaseTime  time.Time `json:"base_time"`
}

func (m *Mapper) Stats() MapperStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MapperStats{
		ClockRate: m.clockRate,
		LastRTP:   m.lastRTP,
		WrapCount: m.wrapCount,
		Synced:    m.synced,
		BaseTime:  m.baseTime,
	}
}
