package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.265 RTP payload structure types (RFC 7798).
const (
	h265AP   = 48
	h265FU   = 49
	h265PACI = 50
)

// H265Depacketizer handles single NAL unit, AP and FU packets without DONL.
type H265Depacketizer struct {
	fragments [][]byte
	size      int
	seq       seqTracker
}

func NewH265Depacketizer() *H265Depacketizer {
	return &H265Depacketizer{}
}

func (d *H265Depacketizer) Depacketize(pkt *rtp.Packet) ([][]byte, error) {
	payload := pkt.Payload
	contiguous := d.seq.next(pkt.SequenceNumber)
	if len(payload) < 2 {
		return nil, ErrPayloadTooShort
	}

	if !contiguous && d.fragments != nil {
		d.Reset()
	}

	nalType := (payload[0] >> 1) & 0x3F
	switch {
	case nalType < h265AP:
		d.Reset()
		return [][]byte{copyBytes(payload)}, nil

	case nalType == h265AP:
		d.Reset()
		return splitAggregate(payload[2:])

	case nalType == h265FU:
		nalu, err := d.handleFU(payload)
		if err != nil || nalu == nil {
			return nil, err
		}
		return [][]byte{nalu}, nil
	}
	return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
}

func (d *H265Depacketizer) handleFU(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, ErrPayloadTooShort
	}

	fuHeader := payload[2]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	body := payload[3:]

	if start {
		header := []byte{(payload[0] & 0x81) | ((fuHeader & 0x3F) << 1), payload[1]}
		d.fragments = [][]byte{header}
		d.size = 2
	} else if d.fragments == nil {
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

func (d *H265Depacketizer) Reset() {
	d.fragments = nil
	d.size = 0
}
