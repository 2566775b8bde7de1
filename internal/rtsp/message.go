// Package rtsp is an asynchronous RTSP/1.0 client. Commands run on a client
// goroutine and report their completions through a Poster, so the caller's
// event loop stays the only owner of session state.
package rtsp

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

const (
	MethodOptions      = base.Options
	MethodDescribe     = base.Describe
	MethodSetup        = base.Setup
	MethodPlay         = base.Play
	MethodTeardown     = base.Teardown
	MethodGetParameter = base.GetParameter
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     base.Method
	StatusCode base.StatusCode
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Method, e.StatusCode, e.Message)
}

func newRequest(method base.Method, u *url.URL, header base.Header) *base.Request {
	if header == nil {
		header = make(base.Header)
	}
	return &base.Request{
		Method: method,
		URL:    (*base.URL)(u),
		Header: header,
	}
}

// headerValue returns the first value of a header, or "".
func headerValue(h base.Header, key string) string {
	if v := h[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// responseCSeq returns the sequence number of a response, or -1 when missing.
func responseCSeq(res *base.Response) int {
	n, err := strconv.Atoi(headerValue(res.Header, "CSeq"))
	if err != nil {
		return -1
	}
	return n
}

// message is one item read off the control connection. Requests sent by
// the server are read in full so the stream stays in sync, and are reported
// with a nil response.
type message struct {
	frame    *base.InterleavedFrame
	response *base.Response
	request  *base.Request
}

func readMessage(br *bufio.Reader) (message, error) {
	b, err := br.Peek(1)
	if err != nil {
		return message{}, err
	}

	if b[0] == '$' {
		var f base.InterleavedFrame
		if err := f.Unmarshal(br); err != nil {
			return message{}, err
		}
		return message{frame: &f}, nil
	}

	if head, err := br.Peek(5); err == nil && string(head) == "RTSP/" {
		var res base.Response
		if err := res.Unmarshal(br); err != nil {
			return message{}, err
		}
		return message{response: &res}, nil
	}

	var req base.Request
	if err := req.Unmarshal(br); err != nil {
		return message{}, err
	}
	return message{request: &req}, nil
}
