package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// H.264 RTP payload structure types (RFC 6184).
const (
	h264STAPA  = 24
	h264STAPB  = 25
	h264MTAP16 = 26
	h264MTAP24 = 27
	h264FUA    = 28
	h264FUB    = 29
)

// H264Depacketizer handles single NAL unit, STAP-A and FU-A packets.
type H264Depacketizer struct {
	fragments [][]byte
	size      int
	seq       seqTracker
}

func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) ([][]byte, error) {
	payload := pkt.Payload
	contiguous := d.seq.next(pkt.SequenceNumber)
	if len(payload) < 1 {
		return nil, ErrPayloadTooShort
	}

	nalType := payload[0] & 0x1F

	// a gap in the middle of a fragmented unit invalidates it
	if !contiguous && d.fragments != nil {
		d.Reset()
	}

	switch {
	case nalType == 0 || nalType >= 30:
		return nil, fmt.Errorf("reserved NAL type: %d", nalType)

	case nalType <= 23:
		d.Reset()
		return [][]byte{copyBytes(payload)}, nil

	case nalType == h264STAPA:
		d.Reset()
		return splitAggregate(payload[1:])

	case nalType == h264FUA:
		nalu, err := d.handleFUA(payload)
		if err != nil || nalu == nil {
			return nil, err
		}
		return [][]byte{nalu}, nil

	case nalType == h264STAPB, nalType == h264MTAP16, nalType == h264MTAP24, nalType == h264FUB:
		return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
	}
	return nil, fmt.Errorf("unknown NAL type: %d", nalType)
}

// splitAggregate reads 16-bit length-prefixed NAL units.
func splitAggregate(buf []byte) ([][]byte, error) {
	var nalus [][]byte
	offset := 0
	for offset < len(buf) {
		if len(nalus) >= MaxAggregatedUnits {
			return nalus, fmt.Errorf("too many NAL units in aggregation packet: %d", len(nalus))
		}
		if offset+2 > len(buf) {
			return nalus, fmt.Errorf("aggregation packet truncated at offset %d", offset)
		}
		size := int(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
		if size == 0 {
			continue
		}
		if offset+size > len(buf) {
			return nalus, fmt.Errorf("aggregated NAL unit out of bounds: offset=%d size=%d available=%d",
				offset, size, len(buf)-offset)
		}
		nalus = append(nalus, copyBytes(buf[offset:offset+size]))
		offset += size
	}
	return nalus, nil
}

func (d *H264Depacketizer) handleFUA(payload []byte) ([]byte, error) {
	if len(payload) < 3 {
		return nil, ErrPayloadTooShort
	}

	fuIndicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	body := payload[2:]

	if start {
		header := (fuIndicator & 0xE0) | (fuHeader & 0x1F)
		d.fragments = [][]byte{{header}}
		d.size = 1
	} else if d.fragments == nil {
		// continuation of a unit whose start we never saw
		return nil, nil
	}

	if d.size+len(body) > MaxNALUnitSize || len(d.fragments) >= MaxFragments {
		d.Reset()
		return nil, fmt.Errorf("fragmented NAL unit exceeds limits")
	}
	d.fragments = append(d.fragments, copyBytes(body))
	d.size += len(body)

	if !end {
		return nil, nil
	}

	nalu := make([]byte, 0, d.size)
	for _, f := range d.fragments {
		nalu = append(nalu, f...)
	}
	d.Reset()
	return nalu, nil
}

func (d *H264Depacketizer) Reset() {
	d.fragments = nil
	d.size = 0
}
