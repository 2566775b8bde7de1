package codec

import (
	"errors"

	"github.com/pion/rtp"
)

// ErrPayloadTooShort is returned for packets that cannot hold a payload header.
var ErrPayloadTooShort = errors.New("payload too short")

// Depacketizer turns RTP packets of one media into complete units: NAL units
// without start codes for video, raw access units for audio. Implementations
// are not safe for concurrent use; each belongs to one receive path.
type Depacketizer interface {
	Depacketize(pkt *rtp.Packet) ([][]byte, error)
	// Reset drops any partially reassembled unit.
	Reset()
}

// seqTracker detects gaps in RTP sequence numbers.
type seqTracker struct {
	valid bool
	last  uint16
}

// next records seq and reports whether it directly follows the previous one.
func (s *seqTracker) next(seq uint16) bool {
	contiguous := !s.valid || seq == s.last+1
	s.valid = true
	s.last = seq
	return contiguous
}

func (s *seqTracker) reset() {
	s.valid = false
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
