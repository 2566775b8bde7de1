package rtsp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/metrics"
	"github.com/zsiec/rtspsource/internal/timestamp"
)

// Frame is one depacketized unit: a NAL unit for video, an access unit for
// AAC. Timestamp is the presentation time from the media's clock mapping.
type Frame struct {
	Data       []byte
	Timestamp  time.Time
	RTCPSynced bool
}

// Stats are the receive counters of one media.
type Stats struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Lost    uint64 `json:"lost"`
}

// stream receives one set up media. RTP and RTCP may be handled on
// different goroutines.
type stream struct {
	media  *Media
	label  string
	depkt  codec.Depacketizer
	mapper *timestamp.Mapper
	now    func() time.Time

	// interleaved channels, or the UDP socket pair
	rtpChannel  int
	rtcpChannel int
	udp         *udpPair

	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64

	mu       sync.Mutex
	started  bool
	lastSeq  uint16
	ssrc     uint32
	lastSR   uint32
	lastSRAt time.Time
}

func newStream(m *Media, now func() time.Time) *stream {
	return &stream{
		media:  m,
		label:  string(m.Kind),
		depkt:  m.Format.NewDepacketizer(),
		mapper: timestamp.NewMapper(m.Format.ClockRate(), now),
		now:    now,
	}
}

// handleRTP parses one packet and returns the frames it completes.
func (s *stream) handleRTP(buf []byte) ([]Frame, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return nil, err
	}
	if pkt.PayloadType != s.media.PayloadType {
		return nil, nil
	}

	s.packets.Add(1)
	s.bytes.Add(uint64(len(buf)))
	metrics.AddRTP(s.label, 1, len(buf))
	s.trackSequence(pkt.SequenceNumber, pkt.SSRC)

	units, err := s.depkt.Depacketize(&pkt)
	if err != nil || len(units) == 0 {
		return nil, err
	}

	ts, synced := s.mapper.Map(pkt.Timestamp)
	frames := make([]Frame, len(units))
	for i, u := range units {
		frames[i] = Frame{Data: u, Timestamp: ts, RTCPSynced: synced}
	}
	return frames, nil
}

func (s *stream) trackSequence(seq uint16, ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ssrc = ssrc
	if !s.started {
		s.started = true
		s.lastSeq = seq
		return
	}
	diff := seq - s.lastSeq
	if diff == 0 || diff >= 0x8000 {
		// duplicate or reordered
		return
	}
	if diff > 1 {
		s.lost.Add(uint64(diff - 1))
		metrics.AddRTPLost(s.label, int(diff-1))
	}
	s.lastSeq = seq
}

// handleRTCP applies sender reports to the clock mapping and reports whether
// the compound packet carried a sender report or a BYE.
func (s *stream) handleRTCP(buf []byte) (sr, bye bool, err error) {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return false, false, err
	}

	for _, p := range pkts {
		switch p := p.(type) {
		case *rtcp.SenderReport:
			s.mapper.OnSenderReport(p.NTPTime, p.RTPTime)
			s.mu.Lock()
			s.lastSR = uint32(p.NTPTime >> 16)
			s.lastSRAt = s.now()
			s.mu.Unlock()
			sr = true
		case *rtcp.Goodbye:
			bye = true
		}
	}
	return sr, bye, nil
}

func (s *stream) receiverReport(localSSRC uint32) *rtcp.ReceiverReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := rtcp.ReceptionReport{
		SSRC:               s.ssrc,
		LastSequenceNumber: uint32(s.lastSeq),
		TotalLost:          uint32(s.lost.Load()) & 0xFFFFFF,
		LastSenderReport:   s.lastSR,
	}
	if !s.lastSRAt.IsZero() {
		// delay since last SR in 1/65536 seconds
		report.Delay = uint32(s.now().Sub(s.lastSRAt).Seconds() * 65536)
	}
	return &rtcp.ReceiverReport{
		SSRC:    localSSRC,
		Reports: []rtcp.ReceptionReport{report},
	}
}

func (s *stream) stats() Stats {
	return Stats{
		Packets: s.packets.Load(),
		Bytes:   s.bytes.Load(),
		Lost:    s.lost.Load(),
	}
}
