package codec

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// ErrUnsupported is returned by ParseFormat for (media, codec) pairs the
// receiver cannot depacketize.
var ErrUnsupported = errors.New("unsupported media format")

// Kind is the SDP media type of a stream.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Codec names a supported RTP payload format.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecH265 Codec = "H265"
	CodecAAC  Codec = "MPEG4-GENERIC"
)

// Format is the closed set of stream formats a session can carry:
// *H264Format, *H265Format and *AACFormat.
type Format interface {
	Kind() Kind
	Codec() Codec
	ClockRate() uint32
	PayloadType() uint8
	NewDepacketizer() Depacketizer
	Descriptor() Descriptor
	isFormat()
}

// Descriptor is what a host pipeline needs to build its media type.
type Descriptor struct {
	Kind       Kind    `json:"kind"`
	Codec      Codec   `json:"codec"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	// Extradata holds out-of-band decoder configuration: Annex-B parameter
	// sets for video, the AudioSpecificConfig for AAC.
	Extradata []byte `json:"-"`
}

type H264Format struct {
	PT                uint8
	SPS               []byte
	PPS               []byte
	PacketizationMode int
}

func (f *H264Format) Kind() Kind                    { return KindVideo }
func (f *H264Format) Codec() Codec                  { return CodecH264 }
func (f *H264Format) ClockRate() uint32             { return 90000 }
func (f *H264Format) PayloadType() uint8            { return f.PT }
func (f *H264Format) NewDepacketizer() Depacketizer { return NewH264Depacketizer() }
func (f *H264Format) isFormat()                     {}

func (f *H264Format) Descriptor() Descriptor {
	d := Descriptor{Kind: KindVideo, Codec: CodecH264}
	if len(f.SPS) > 0 {
		var sps h264.SPS
		if err := sps.Unmarshal(f.SPS); err == nil {
			d.Width = sps.Width()
			d.Height = sps.Height()
			d.FrameRate = sps.FPS()
		}
	}
	d.Extradata = AnnexB(f.SPS, f.PPS)
	return d
}

// ParameterSets returns the out-of-band SPS and PPS, nil when absent.
func (f *H264Format) ParameterSets() [][]byte {
	return nonEmpty(f.SPS, f.PPS)
}

type H265Format struct {
	PT  uint8
	VPS []byte
	SPS []byte
	PPS []byte
}

func (f *H265Format) Kind() Kind                    { return KindVideo }
func (f *H265Format) Codec() Codec                  { return CodecH265 }
func (f *H265Format) ClockRate() uint32             { return 90000 }
func (f *H265Format) PayloadType() uint8            { return f.PT }
func (f *H265Format) NewDepacketizer() Depacketizer { return NewH265Depacketizer() }
func (f *H265Format) isFormat()                     {}

func (f *H265Format) Descriptor() Descriptor {
	d := Descriptor{Kind: KindVideo, Codec: CodecH265}
	if len(f.SPS) > 0 {
		var sps h265.SPS
		if err := sps.Unmarshal(f.SPS); err == nil {
			d.Width = sps.Width()
			d.Height = sps.Height()
			d.FrameRate = sps.FPS()
		}
	}
	d.Extradata = AnnexB(f.VPS, f.SPS, f.PPS)
	return d
}

func (f *H265Format) ParameterSets() [][]byte {
	return nonEmpty(f.VPS, f.SPS, f.PPS)
}

type AACFormat struct {
	PT               uint8
	Rate             uint32
	Config           mpeg4audio.AudioSpecificConfig
	RawConfig        []byte
	SizeLength       int
	IndexLength      int
	IndexDeltaLength int
}

func (f *AACFormat) Kind() Kind         { return KindAudio }
func (f *AACFormat) Codec() Codec       { return CodecAAC }
func (f *AACFormat) ClockRate() uint32  { return f.Rate }
func (f *AACFormat) PayloadType() uint8 { return f.PT }
func (f *AACFormat) isFormat()          {}

func (f *AACFormat) NewDepacketizer() Depacketizer {
	return NewAACDepacketizer(f.SizeLength, f.IndexLength, f.IndexDeltaLength)
}

func (f *AACFormat) Descriptor() Descriptor {
	return Descriptor{
		Kind:       KindAudio,
		Codec:      CodecAAC,
		SampleRate: f.Config.SampleRate,
		Channels:   f.Config.ChannelCount,
		Extradata:  f.RawConfig,
	}
}

// ParseFormat builds the Format of one SDP media section from its media type,
// payload type, a=rtpmap value (without the payload type) and a=fmtp parameters.
func ParseFormat(media string, pt uint8, rtpmap string, fmtp map[string]string) (Format, error) {
	encoding, rate, _ := parseRTPMap(rtpmap)

	switch {
	case media == string(KindVideo) && encoding == string(CodecH264):
		return parseH264(pt, fmtp)
	case media == string(KindVideo) && (encoding == string(CodecH265) || encoding == "HEVC"):
		return parseH265(pt, fmtp)
	case media == string(KindAudio) && encoding == string(CodecAAC):
		return parseAAC(pt, rate, fmtp)
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnsupported, media, rtpmap)
}

// parseRTPMap splits "H264/90000" or "MPEG4-GENERIC/48000/2".
func parseRTPMap(v string) (encoding string, rate uint32, channels int) {
	parts := strings.Split(strings.TrimSpace(v), "/")
	encoding = strings.ToUpper(parts[0])
	if len(parts) > 1 {
		if r, err := strconv.ParseUint(parts[1], 10, 32); err == nil {
			rate = uint32(r)
		}
	}
	if len(parts) > 2 {
		channels, _ = strconv.Atoi(parts[2])
	}
	return
}

func parseH264(pt uint8, fmtp map[string]string) (*H264Format, error) {
	f := &H264Format{PT: pt}
	if v, ok := fmtp["packetization-mode"]; ok {
		mode, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid packetization-mode %q", v)
		}
		if mode > 1 {
			return nil, fmt.Errorf("%w: H264 packetization-mode %d", ErrUnsupported, mode)
		}
		f.PacketizationMode = mode
	}
	if v, ok := fmtp["sprop-parameter-sets"]; ok {
		for _, part := range strings.Split(v, ",") {
			nalu, err := base64.StdEncoding.DecodeString(strings.TrimSpace(part))
			if err != nil || len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				f.SPS = nalu
			case h264.NALUTypePPS:
				f.PPS = nalu
			}
		}
	}
	return f, nil
}

func parseH265(pt uint8, fmtp map[string]string) (*H265Format, error) {
	f := &H265Format{PT: pt}
	decode := func(key string) []byte {
		v, ok := fmtp[key]
		if !ok {
			return nil
		}
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return b
	}
	f.VPS = decode("sprop-vps")
	f.SPS = decode("sprop-sps")
	f.PPS = decode("sprop-pps")
	if v, ok := fmtp["sprop-max-don-diff"]; ok && v != "0" {
		return nil, fmt.Errorf("%w: H265 with DONL", ErrUnsupported)
	}
	return f, nil
}

func parseAAC(pt uint8, rate uint32, fmtp map[string]string) (*AACFormat, error) {
	if mode, ok := fmtp["mode"]; ok && !strings.EqualFold(mode, "AAC-hbr") && !strings.EqualFold(mode, "AAC-lbr") {
		return nil, fmt.Errorf("%w: MPEG4-GENERIC mode %s", ErrUnsupported, mode)
	}

	f := &AACFormat{PT: pt, Rate: rate}
	if v, ok := fmtp["config"]; ok {
		raw, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AAC config %q: %w", v, err)
		}
		if err := f.Config.Unmarshal(raw); err != nil {
			return nil, fmt.Errorf("invalid AAC config %q: %w", v, err)
		}
		f.RawConfig = raw
	}
	if f.Rate == 0 {
		f.Rate = uint32(f.Config.SampleRate)
	}

	var err error
	if f.SizeLength, err = intParam(fmtp, "sizelength"); err != nil {
		return nil, err
	}
	if f.IndexLength, err = intParam(fmtp, "indexlength"); err != nil {
		return nil, err
	}
	if f.IndexDeltaLength, err = intParam(fmtp, "indexdeltalength"); err != nil {
		return nil, err
	}
	return f, nil
}

func intParam(fmtp map[string]string, key string) (int, error) {
	v, ok := fmtp[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 32 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// ParseFMTP splits an a=fmtp value (without the payload type) into lower-cased keys.
func ParseFMTP(v string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(v, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, val, _ := strings.Cut(kv, "=")
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(val)
	}
	return out
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// AnnexB joins NAL units with 4-byte start codes, skipping empty ones.
func AnnexB(nalus ...[]byte) []byte {
	size := 0
	for _, n := range nalus {
		if len(n) > 0 {
			size += len(startCode) + len(n)
		}
	}
	if size == 0 {
		return nil
	}
	out := make([]byte, 0, size)
	for _, n := range nalus {
		if len(n) > 0 {
			out = append(out, startCode...)
			out = append(out, n...)
		}
	}
	return out
}

func nonEmpty(nalus ...[]byte) [][]byte {
	var out [][]byte
	for _, n := range nalus {
		if len(n) > 0 {
			out = append(out, n)
		}
	}
	return out
}

// IsRandomAccess reports whether a NAL unit of the given codec starts a
// decodable sequence (H.264 IDR, H.265 IRAP).
func IsRandomAccess(c Codec, nalu []byte) bool {
	if len(nalu) == 0 {
		return false
	}
	switch c {
	case CodecH264:
		return h264.IsRandomAccess([][]byte{nalu})
	case CodecH265:
		return h265.IsRandomAccess([][]byte{nalu})
	}
	return true
}
