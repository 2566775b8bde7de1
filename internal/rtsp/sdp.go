package rtsp

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/zsiec/rtspsource/internal/codec"
)

var ErrNoMedia = errors.New("session description has no media")

// Media is one m= section of a session description.
type Media struct {
	Index       int
	Kind        codec.Kind
	PayloadType uint8
	Control     *url.URL

	// Format is nil when the stream cannot be received; FormatErr says why.
	Format    codec.Format
	FormatErr error
}

func (m *Media) Supported() bool {
	return m.Format != nil
}

func (m *Media) String() string {
	if m.Format != nil {
		return fmt.Sprintf("%s/%s#%d", m.Kind, m.Format.Codec(), m.Index)
	}
	return fmt.Sprintf("%s#%d", m.Kind, m.Index)
}

// Description is a parsed DESCRIBE response.
type Description struct {
	BaseURL *url.URL
	Range   Range
	Medias  []*Media
}

// ParseDescription parses an SDP body. base is the Content-Base of the
// response, or the request URL when there was none.
func ParseDescription(body []byte, base *url.URL) (*Description, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return nil, ErrNoMedia
	}

	d := &Description{BaseURL: base}
	if ctrl, ok := sd.Attribute("control"); ok {
		if u, err := resolveControl(base, ctrl); err == nil {
			d.BaseURL = u
		}
	}
	if v, ok := sd.Attribute("range"); ok {
		if r, err := ParseRange(v); err == nil {
			d.Range = r
		}
	}

	for i, md := range sd.MediaDescriptions {
		m, err := parseMedia(i, md, d.BaseURL)
		if err != nil {
			return nil, err
		}
		// a media level range is used when the session has none
		if d.Range == (Range{}) {
			if v, ok := md.Attribute("range"); ok {
				if r, err := ParseRange(v); err == nil {
					d.Range = r
				}
			}
		}
		d.Medias = append(d.Medias, m)
	}
	return d, nil
}

func parseMedia(index int, md *sdp.MediaDescription, base *url.URL) (*Media, error) {
	m := &Media{
		Index: index,
		Kind:  codec.Kind(md.MediaName.Media),
	}

	ctrl, _ := md.Attribute("control")
	u, err := resolveControl(base, ctrl)
	if err != nil {
		return nil, fmt.Errorf("media %d: %w", index, err)
	}
	m.Control = u

	if len(md.MediaName.Formats) == 0 {
		m.FormatErr = fmt.Errorf("%w: no payload type", codec.ErrUnsupported)
		return m, nil
	}
	pt, err := strconv.ParseUint(md.MediaName.Formats[0], 10, 7)
	if err != nil {
		m.FormatErr = fmt.Errorf("%w: payload type %q", codec.ErrUnsupported, md.MediaName.Formats[0])
		return m, nil
	}
	m.PayloadType = uint8(pt)

	rtpmap := payloadAttribute(md, "rtpmap", m.PayloadType)
	fmtp := codec.ParseFMTP(payloadAttribute(md, "fmtp", m.PayloadType))
	m.Format, m.FormatErr = codec.ParseFormat(md.MediaName.Media, m.PayloadType, rtpmap, fmtp)
	return m, nil
}

// payloadAttribute returns the value of "a=<key>:<pt> <value>".
func payloadAttribute(md *sdp.MediaDescription, key string, pt uint8) string {
	prefix := strconv.Itoa(int(pt))
	for _, a := range md.Attributes {
		if a.Key != key {
			continue
		}
		id, value, ok := strings.Cut(strings.TrimSpace(a.Value), " ")
		if ok && id == prefix {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// resolveControl applies an a=control value to the base URL. Relative
// controls are appended to the base the way most servers expect, not
// resolved as RFC 3986 references.
func resolveControl(base *url.URL, control string) (*url.URL, error) {
	control = strings.TrimSpace(control)
	if control == "" || control == "*" {
		return base, nil
	}
	if u, err := url.Parse(control); err == nil && u.IsAbs() {
		if u.User == nil {
			u.User = base.User
		}
		return u, nil
	}

	s := base.String()
	if !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return url.Parse(s + strings.TrimPrefix(control, "/"))
}
