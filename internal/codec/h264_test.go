package codec

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(seq uint16, marker bool, payload ...byte) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: seq, Marker: marker},
		Payload: payload,
	}
}

func TestH264SingleNAL(t *testing.T) {
	d := NewH264Depacketizer()
	nalus, err := d.Depacketize(packet(1, true, 0x65, 0xAA, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x65, 0xAA, 0xBB}}, nalus)
}

func TestH264STAPA(t *testing.T) {
	d := NewH264Depacketizer()
	nalus, err := d.Depacketize(packet(1, false,
		0x18,
		0x00, 0x02, 0x67, 0x42,
		0x00, 0x00, // zero-size unit is skipped
		0x00, 0x03, 0x68, 0xCE, 0x38,
	))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x67, 0x42}, {0x68, 0xCE, 0x38}}, nalus)

	_, err = d.Depacketize(packet(2, false, 0x18, 0x00, 0x09, 0x67))
	assert.Error(t, err, "truncated unit")
}

func TestH264FUA(t *testing.T) {
	d := NewH264Depacketizer()

	out, err := d.Depacketize(packet(10, false, 0x7C, 0x85, 0x01, 0x02))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = d.Depacketize(packet(11, false, 0x7C, 0x05, 0x03))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = d.Depacketize(packet(12, true, 0x7C, 0x45, 0x04))
	require.NoError(t, err)
	require.Len(t, out, 1)
	// NRI from the indicator, type from the FU header
	assert.Equal(t, []byte{0x65, 0x01, 0x02, 0x03, 0x04}, out[0])
}

func TestH264FUALossDropsUnit(t *testing.T) {
	d := NewH264Depacketizer()

	_, _ = d.Depacketize(packet(10, false, 0x7C, 0x85, 0x01))
	out, err := d.Depacketize(packet(12, true, 0x7C, 0x45, 0x02))
	require.NoError(t, err)
	assert.Empty(t, out, "gap inside the fragmented unit")

	// next unit reassembles normally
	_, _ = d.Depacketize(packet(13, false, 0x7C, 0x81, 0x09))
	out, err = d.Depacketize(packet(14, true, 0x7C, 0x41, 0x0A))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x61, 0x09, 0x0A}}, out)
}

func TestH264SequenceWrapIsContiguous(t *testing.T) {
	d := NewH264Depacketizer()
	_, _ = d.Depacketize(packet(65535, false, 0x7C, 0x85, 0x01))
	out, err := d.Depacketize(packet(0, true, 0x7C, 0x45, 0x02))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x65, 0x01, 0x02}}, out)
}

func TestH264RejectsReservedAndUnsupported(t *testing.T) {
	d := NewH264Depacketizer()

	_, err := d.Depacketize(packet(1, false))
	assert.ErrorIs(t, err, ErrPayloadTooShort)

	_, err = d.Depacketize(packet(2, false, 0x00))
	assert.Error(t, err)

	_, err = d.Depacketize(packet(3, false, 0x19, 0x00))
	assert.ErrorContains(t, err, "unsupported NAL type")
}

func TestH265Depacketizer(t *testing.T) {
	d := NewH265Depacketizer()

	// single IDR_W_RADL (type 19)
	out, err := d.Depacketize(packet(1, true, 0x26, 0x01, 0xAF))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x26, 0x01, 0xAF}}, out)

	// aggregation packet: VPS and SPS headers
	out, err = d.Depacketize(packet(2, false, 0x60, 0x01,
		0x00, 0x03, 0x40, 0x01, 0x0C,
		0x00, 0x02, 0x42, 0x01))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x40, 0x01, 0x0C}, {0x42, 0x01}}, out)

	// FU carrying type 19
	_, err = d.Depacketize(packet(3, false, 0x62, 0x01, 0x93, 0xAA))
	require.NoError(t, err)
	out, err = d.Depacketize(packet(4, true, 0x62, 0x01, 0x53, 0xBB))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x26, 0x01, 0xAA, 0xBB}}, out)
}
