package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auHeader builds a 16-bit AAC-hbr AU header: 13-bit size, 3-bit index.
func auHeader(size int) []byte {
	v := uint16(size) << 3
	return []byte{byte(v >> 8), byte(v)}
}

func TestAACMultipleAccessUnits(t *testing.T) {
	d := NewAACDepacketizer(0, 0, 0)

	payload := []byte{0x00, 0x20} // 32 bits of headers
	payload = append(payload, auHeader(2)...)
	payload = append(payload, auHeader(3)...)
	payload = append(payload, 0x01, 0x02, 0x03, 0x04, 0x05)

	out, err := d.Depacketize(packet(1, true, payload...))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01, 0x02}, {0x03, 0x04, 0x05}}, out)
}

func TestAACFragmentedAccessUnit(t *testing.T) {
	d := NewAACDepacketizer(13, 3, 3)

	first := append([]byte{0x00, 0x10}, auHeader(5)...)
	first = append(first, 0x01, 0x02, 0x03)
	out, err := d.Depacketize(packet(7, false, first...))
	require.NoError(t, err)
	assert.Empty(t, out)

	second := append([]byte{0x00, 0x10}, auHeader(5)...)
	second = append(second, 0x04, 0x05)
	out, err = d.Depacketize(packet(8, true, second...))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01, 0x02, 0x03, 0x04, 0x05}}, out)
}

func TestAACLossResetsFragment(t *testing.T) {
	d := NewAACDepacketizer(13, 3, 3)

	first := append([]byte{0x00, 0x10}, auHeader(5)...)
	first = append(first, 0x01, 0x02, 0x03)
	_, _ = d.Depacketize(packet(7, false, first...))

	whole := append([]byte{0x00, 0x10}, auHeader(1)...)
	whole = append(whole, 0x09)
	out, err := d.Depacketize(packet(9, true, whole...))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x09}}, out)
}

func TestAACMalformed(t *testing.T) {
	d := NewAACDepacketizer(13, 3, 3)

	_, err := d.Depacketize(packet(1, true, 0x00))
	assert.ErrorIs(t, err, ErrPayloadTooShort)

	_, err = d.Depacketize(packet(2, true, 0x00, 0x40, 0x00))
	assert.Error(t, err, "header section longer than payload")
}
