package rtsp

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtspsource/internal/codec"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func sdpLines(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

var cameraSDP = sdpLines(
	`v=0`,
	`o=- 0 0 IN IP4 192.168.10.93`,
	`s=Unnamed`,
	`i=N/A`,
	`c=IN IP4 192.168.10.95`,
	`t=0 0`,
	`a=recvonly`,
	`a=range:npt=0-125.5`,
	`m=video 0 RTP/AVP 97`,
	`a=rtpmap:97 H264/90000`,
	`a=fmtp:97 packetization-mode=1`,
	`a=control:trackID=1`,
	`m=audio 0 RTP/AVP 111`,
	`a=rtpmap:111 UNK/8000`,
	`a=control:trackID=2`,
	`m=audio 0 RTP/AVP 96`,
	`a=rtpmap:96 mpeg4-generic/8000/2`,
	`a=fmtp:96 streamtype=5;mode=AAC-hbr;config=1590;sizelength=13;indexlength=3;indexdeltalength=3`,
	`a=control:rtsp://10.0.0.5/live/track3`,
)

func TestParseDescription(t *testing.T) {
	base := mustURL(t, "rtsp://10.0.0.5/live")

	d, err := ParseDescription(cameraSDP, base)
	require.NoError(t, err)
	require.Len(t, d.Medias, 3)

	assert.Equal(t, 125500*time.Millisecond, d.Range.End)
	assert.True(t, d.Range.Bounded())

	video := d.Medias[0]
	assert.Equal(t, codec.KindVideo, video.Kind)
	assert.Equal(t, uint8(97), video.PayloadType)
	assert.True(t, video.Supported())
	assert.Equal(t, codec.CodecH264, video.Format.Codec())
	assert.Equal(t, "rtsp://10.0.0.5/live/trackID=1", video.Control.String())

	unknown := d.Medias[1]
	assert.False(t, unknown.Supported())
	assert.True(t, errors.Is(unknown.FormatErr, codec.ErrUnsupported))

	audio := d.Medias[2]
	assert.True(t, audio.Supported())
	assert.Equal(t, codec.CodecAAC, audio.Format.Codec())
	assert.Equal(t, "rtsp://10.0.0.5/live/track3", audio.Control.String())
}

func TestParseDescriptionSessionControl(t *testing.T) {
	body := sdpLines(
		`v=0`,
		`o=- 1 1 IN IP4 0.0.0.0`,
		`s=Session`,
		`t=0 0`,
		`a=control:rtsp://10.0.0.5/agg/`,
		`m=video 0 RTP/AVP 96`,
		`a=rtpmap:96 H265/90000`,
		`a=control:stream=0`,
	)

	d, err := ParseDescription(body, mustURL(t, "rtsp://10.0.0.5/live"))
	require.NoError(t, err)
	assert.Equal(t, "rtsp://10.0.0.5/agg/", d.BaseURL.String())
	assert.Equal(t, "rtsp://10.0.0.5/agg/stream=0", d.Medias[0].Control.String())
	assert.Equal(t, codec.CodecH265, d.Medias[0].Format.Codec())
	assert.False(t, d.Range.Bounded(), "no range means live")
}

func TestParseDescriptionInvalid(t *testing.T) {
	base := mustURL(t, "rtsp://10.0.0.5/live")

	_, err := ParseDescription([]byte("not sdp at all"), base)
	assert.Error(t, err)

	_, err = ParseDescription(sdpLines(`v=0`, `o=- 1 1 IN IP4 0.0.0.0`, `s=-`, `t=0 0`), base)
	assert.ErrorIs(t, err, ErrNoMedia)
}

func TestResolveControl(t *testing.T) {
	base := mustURL(t, "rtsp://user:pw@cam/live")

	tests := map[string]string{
		"":                   "rtsp://user:pw@cam/live",
		"*":                  "rtsp://user:pw@cam/live",
		"track1":             "rtsp://user:pw@cam/live/track1",
		"/track1":            "rtsp://user:pw@cam/live/track1",
		"rtsp://other/x":     "rtsp://user:pw@other/x",
		"rtsp://a:b@other/x": "rtsp://a:b@other/x",
	}
	for control, want := range tests {
		u, err := resolveControl(base, control)
		require.NoError(t, err, control)
		assert.Equal(t, want, u.String(), control)
	}
}
