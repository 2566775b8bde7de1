package rtsp

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPort  = "554"
	readBufSize  = 64 * 1024
	writeBufSize = 16 * 1024
)

// conn is the control channel: one TCP connection, or a GET/POST pair when
// tunneling RTSP over HTTP.
type conn struct {
	br    *bufio.Reader
	bw    *bufio.Writer
	conns []net.Conn
}

func (c *conn) SetWriteDeadline(t time.Time) {
	for _, nc := range c.conns {
		_ = nc.SetWriteDeadline(t)
	}
}

func (c *conn) LocalAddr() net.Addr {
	return c.conns[0].LocalAddr()
}

func (c *conn) RemoteAddr() net.Addr {
	return c.conns[0].RemoteAddr()
}

func (c *conn) Close() error {
	var first error
	for _, nc := range c.conns {
		if err := nc.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func hostPort(u *url.URL, port string) string {
	if port == "" {
		port = u.Port()
	}
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func dialConn(ctx context.Context, u *url.URL, timeout time.Duration) (*conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", hostPort(u, ""))
	if err != nil {
		return nil, err
	}
	return &conn{
		br:    bufio.NewReaderSize(nc, readBufSize),
		bw:    bufio.NewWriterSize(nc, writeBufSize),
		conns: []net.Conn{nc},
	}, nil
}

// dialTunnel opens an RTSP-over-HTTP tunnel: responses arrive on a GET
// connection, requests go base64 encoded on a POST connection sharing the
// same session cookie.
func dialTunnel(ctx context.Context, u *url.URL, port int, userAgent string, timeout time.Duration) (*conn, error) {
	addr := hostPort(u, fmt.Sprint(port))
	cookie := strings.ReplaceAll(uuid.NewString(), "-", "")
	path := u.RequestURI()

	d := net.Dialer{Timeout: timeout}

	getConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	get := tunnelRequest(http.MethodGet, addr, path, cookie, userAgent)
	get.Header.Set("Accept", "application/x-rtsp-tunnelled")
	_ = getConn.SetDeadline(time.Now().Add(timeout))
	if err := get.Write(getConn); err != nil {
		getConn.Close()
		return nil, fmt.Errorf("tunnel GET: %w", err)
	}
	br := bufio.NewReaderSize(getConn, readBufSize)
	resp, err := http.ReadResponse(br, get)
	if err != nil {
		getConn.Close()
		return nil, fmt.Errorf("tunnel GET: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		getConn.Close()
		return nil, fmt.Errorf("tunnel GET: %s", resp.Status)
	}
	_ = getConn.SetDeadline(time.Time{})

	postConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		getConn.Close()
		return nil, err
	}
	post := tunnelRequest(http.MethodPost, addr, path, cookie, userAgent)
	post.Header.Set("Content-Type", "application/x-rtsp-tunnelled")
	post.Header.Set("Content-Length", "32767")
	post.Header.Set("Expires", "Sun, 9 Jan 1972 00:00:00 GMT")
	if err := writeHead(postConn, post); err != nil {
		getConn.Close()
		postConn.Close()
		return nil, fmt.Errorf("tunnel POST: %w", err)
	}

	return &conn{
		br:    br,
		bw:    bufio.NewWriterSize(&base64Writer{w: postConn}, writeBufSize),
		conns: []net.Conn{getConn, postConn},
	}, nil
}

func tunnelRequest(method, host, path, cookie, userAgent string) *http.Request {
	req := &http.Request{
		Method:     method,
		URL:        &url.URL{Path: path},
		Proto:      "HTTP/1.0",
		ProtoMajor: 1,
		Header:     make(http.Header),
		Host:       host,
	}
	req.Header.Set("X-Sessioncookie", cookie)
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Cache-Control", "no-cache")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req
}

// writeHead writes the request line and headers of a POST whose body is the
// open-ended tunnel; http.Request.Write would want the body up front.
func writeHead(w io.Writer, req *http.Request) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s %s\r\n", req.Method, req.URL.RequestURI(), req.Proto)
	fmt.Fprintf(bw, "Host: %s\r\n", req.Host)
	if err := req.Header.Write(bw); err != nil {
		return err
	}
	bw.WriteString("\r\n")
	return bw.Flush()
}

// base64Writer encodes each write on its own. Callers flush one complete
// message per write.
type base64Writer struct {
	w io.Writer
}

func (b *base64Writer) Write(p []byte) (int, error) {
	buf := make([]byte, base64.StdEncoding.EncodedLen(len(p)))
	base64.StdEncoding.Encode(buf, p)
	if _, err := b.w.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
