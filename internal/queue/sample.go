package queue

import "time"

// Sample is one depacketized access unit, or the end-of-stream sentinel.
// Samples are immutable once constructed; Data must not be modified by consumers.
type Sample struct {
	data       []byte
	timestamp  time.Time
	rtcpSynced bool
	eos        bool
}

// NewSample wraps data received with the given presentation time.
// rtcpSynced reports whether the time is derived from an RTCP sender report.
func NewSample(data []byte, timestamp time.Time, rtcpSynced bool) Sample {
	return Sample{data: data, timestamp: timestamp, rtcpSynced: rtcpSynced}
}

// EndOfStream returns the sentinel telling a consumer no more samples follow.
func EndOfStream() Sample {
	return Sample{eos: true}
}

func (s Sample) Data() []byte         { return s.data }
func (s Sample) Timestamp() time.Time { return s.timestamp }
func (s Sample) RTCPSynced() bool     { return s.rtcpSynced }
func (s Sample) IsEndOfStream() bool  { return s.eos }

// Size is the payload length in bytes.
func (s Sample) Size() int { return len(s.data) }
