package rtsp

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// Range is a play range. An End at or before Start means open ended.
// Clock, when set, is an absolute clock= range that replaces Start and End.
type Range struct {
	Start time.Duration
	End   time.Duration
	Clock string
}

func (r Range) Bounded() bool {
	return r.Clock == "" && r.End > r.Start
}

func (r Range) Duration() time.Duration {
	if !r.Bounded() {
		return 0
	}
	return r.End - r.Start
}

// String formats the range as a Range header value.
func (r Range) String() string {
	if r.Clock != "" {
		return "clock=" + r.Clock
	}
	npt := &headers.RangeNPT{Start: r.Start}
	if r.Bounded() {
		end := r.End
		npt.End = &end
	}
	return headers.Range{Value: npt}.Marshal()[0]
}

// ParseRange parses a Range header or an SDP a=range value.
func ParseRange(v string) (Range, error) {
	v = strings.TrimSpace(v)
	unit, _, ok := strings.Cut(v, "=")
	if !ok {
		return Range{}, fmt.Errorf("invalid range %q", v)
	}
	// live streams start at "now"
	if strings.EqualFold(strings.TrimSpace(unit), "npt") {
		v = strings.Replace(v, "=now-", "=0-", 1)
	}

	var h headers.Range
	if err := h.Unmarshal(base.HeaderValue{v}); err != nil {
		return Range{}, fmt.Errorf("invalid range %q: %w", v, err)
	}

	switch rv := h.Value.(type) {
	case *headers.RangeNPT:
		r := Range{Start: rv.Start}
		if rv.End != nil {
			r.End = *rv.End
		}
		return r, nil
	case *headers.RangeUTC:
		spec, _, _ := strings.Cut(v, ";")
		_, spec, _ = strings.Cut(spec, "=")
		return Range{Clock: strings.TrimSpace(spec)}, nil
	default:
		return Range{}, fmt.Errorf("unsupported range unit %q", unit)
	}
}

// parseSession splits a Session header into the id and the timeout
// parameter. A malformed parameter list still yields the id.
func parseSession(v string) (id string, timeout time.Duration) {
	var h headers.Session
	if err := h.Unmarshal(base.HeaderValue{v}); err != nil {
		id, _, _ = strings.Cut(v, ";")
		return strings.TrimSpace(id), 0
	}
	if h.Timeout != nil && *h.Timeout > 0 {
		timeout = time.Duration(*h.Timeout) * time.Second
	}
	return strings.TrimSpace(h.Session), timeout
}

func setupTransport(interleaved, clientPorts *[2]int) base.HeaderValue {
	delivery := headers.TransportDeliveryUnicast
	mode := headers.TransportModePlay
	th := headers.Transport{
		Protocol: headers.TransportProtocolUDP,
		Delivery: &delivery,
		Mode:     &mode,
	}
	if interleaved != nil {
		th.Protocol = headers.TransportProtocolTCP
		th.InterleavedIDs = interleaved
	} else {
		th.ClientPorts = clientPorts
	}
	return th.Marshal()
}

// transportReply is the part of a SETUP response Transport header the
// client acts on.
type transportReply struct {
	interleaved *[2]int
	serverPorts *[2]int
	source      string
}

// parseTransport reads a SETUP reply. Servers that omit the header keep the
// requested transport.
func parseTransport(v base.HeaderValue) (transportReply, error) {
	if len(v) == 0 {
		return transportReply{}, nil
	}

	var h headers.Transport
	if err := h.Unmarshal(v); err != nil {
		return transportReply{}, err
	}

	t := transportReply{
		interleaved: h.InterleavedIDs,
		serverPorts: h.ServerPorts,
	}
	if h.Source != nil {
		t.source = h.Source.String()
	}
	return t, nil
}
