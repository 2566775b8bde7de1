package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// AACDepacketizer handles MPEG4-GENERIC payloads (RFC 3640) carrying AU
// headers. An access unit larger than one packet is reassembled across
// packets up to the one with the marker bit.
type AACDepacketizer struct {
	SizeLength       int
	IndexLength      int
	IndexDeltaLength int

	fragment     []byte
	fragmentSize int
	seq          seqTracker
}

// NewAACDepacketizer uses the AAC-hbr defaults when lengths are zero.
func NewAACDepacketizer(sizeLength, indexLength, indexDeltaLength int) *AACDepacketizer {
	if sizeLength == 0 {
		sizeLength, indexLength, indexDeltaLength = 13, 3, 3
	}
	return &AACDepacketizer{
		SizeLength:       sizeLength,
		IndexLength:      indexLength,
		IndexDeltaLength: indexDeltaLength,
	}
}

func (d *AACDepacketizer) Depacketize(pkt *rtp.Packet) ([][]byte, error) {
	payload := pkt.Payload
	contiguous := d.seq.next(pkt.SequenceNumber)
	if !contiguous {
		d.Reset()
	}
	if len(payload) < 2 {
		return nil, ErrPayloadTooShort
	}

	headersBits := int(payload[0])<<8 | int(payload[1])
	headersBytes := (headersBits + 7) / 8
	if 2+headersBytes > len(payload) {
		return nil, fmt.Errorf("AU headers length %d exceeds payload", headersBits)
	}

	sizes, err := d.readSizes(payload[2:2+headersBytes], headersBits)
	if err != nil {
		return nil, err
	}
	data := payload[2+headersBytes:]

	if d.fragment != nil {
		return d.continueFragment(data, pkt.Marker)
	}

	if len(sizes) == 1 && sizes[0] > len(data) {
		// first fragment of a large access unit
		if sizes[0] > MaxAccessUnitSize {
			return nil, fmt.Errorf("access unit too large: %d", sizes[0])
		}
		d.fragment = append(make([]byte, 0, sizes[0]), data...)
		d.fragmentSize = sizes[0]
		return nil, nil
	}

	aus := make([][]byte, 0, len(sizes))
	for _, size := range sizes {
		if size > len(data) {
			return aus, fmt.Errorf("access unit size %d exceeds remaining payload %d", size, len(data))
		}
		aus = append(aus, copyBytes(data[:size]))
		data = data[size:]
	}
	return aus, nil
}

func (d *AACDepacketizer) continueFragment(data []byte, marker bool) ([][]byte, error) {
	d.fragment = append(d.fragment, data...)
	if len(d.fragment) > d.fragmentSize {
		d.Reset()
		return nil, fmt.Errorf("fragmented access unit overflows its declared size")
	}
	if !marker {
		return nil, nil
	}
	au := d.fragment
	complete := len(au) == d.fragmentSize
	d.Reset()
	if !complete {
		return nil, fmt.Errorf("fragmented access unit incomplete")
	}
	return [][]byte{au}, nil
}

// readSizes parses the AU-size fields of the AU header section.
func (d *AACDepacketizer) readSizes(buf []byte, totalBits int) ([]int, error) {
	var sizes []int
	pos := 0
	for pos < totalBits {
		indexBits := d.IndexDeltaLength
		if len(sizes) == 0 {
			indexBits = d.IndexLength
		}
		if pos+d.SizeLength+indexBits > totalBits {
			return nil, fmt.Errorf("truncated AU header at bit %d", pos)
		}
		sizes = append(sizes, int(readBits(buf, pos, d.SizeLength)))
		pos += d.SizeLength + indexBits
	}
	return sizes, nil
}

func readBits(buf []byte, pos, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := (pos + i) / 8
		bit := (buf[byteIdx] >> (7 - uint((pos+i)%8))) & 1
		v = v<<1 | uint32(bit)
	}
	return v
}

func (d *AACDepacketizer) Reset() {
	d.fragment = nil
	d.fragmentSize = 0
}
