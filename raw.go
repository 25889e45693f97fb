package speedtest

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RawConnectionsFactory creates http and https transfer connections
// speaking the minimal subset of HTTP/1.1 needed to run a transfer
// over a raw TCP (or TLS) socket.
type RawConnectionsFactory struct {
	// Dialer dials the TCP connections.
	Dialer NetDialer

	// TLSConfig is the optional TLS configuration for https.
	TLSConfig *tls.Config
}

// NewRawConnectionsFactory returns a factory for http and https.
func NewRawConnectionsFactory(dialer NetDialer) *RawConnectionsFactory {
	return &RawConnectionsFactory{Dialer: dialer}
}

// DialDownload implements ConnectionsFactory.DialDownload.
func (rcf *RawConnectionsFactory) DialDownload(ctx context.Context, req *Request) (Conn, error) {
	return rcf.dial(ctx, req, http.MethodGet)
}

// DialUpload implements ConnectionsFactory.DialUpload.
func (rcf *RawConnectionsFactory) DialUpload(ctx context.Context, req *Request) (Conn, error) {
	return rcf.dial(ctx, req, http.MethodPost)
}

func (rcf *RawConnectionsFactory) dial(ctx context.Context, req *Request, method string) (Conn, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	conn, err := rcf.dialConn(ctx, req)
	if err != nil {
		return nil, err
	}
	rc := &rawConn{conn: conn, reader: bufio.NewReader(conn), contentLength: -1}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := rc.handshake(req, method); err != nil {
		rc.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return rc, nil
}

func (rcf *RawConnectionsFactory) dialConn(ctx context.Context, req *Request) (net.Conn, error) {
	switch req.URL.Scheme {
	case "http":
		return dialContext(ctx, rcf.Dialer, hostport(req.URL.Host, "80"))
	case "https":
		conn, err := dialContext(ctx, rcf.Dialer, hostport(req.URL.Host, "443"))
		if err != nil {
			return nil, err
		}
		config := rcf.TLSConfig.Clone()
		if config == nil {
			config = new(tls.Config)
		}
		if config.ServerName == "" {
			config.ServerName = req.URL.Hostname()
		}
		tlsconn := tls.Client(conn, config)
		if err := tlsconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, classify(err, ConnectionError, "TLS handshake failed")
		}
		return tlsconn, nil
	default:
		return nil, newError(UnsupportedProtocol, nil, "unsupported scheme %q", req.URL.Scheme)
	}
}

type rawConn struct {
	conn          net.Conn
	reader        *bufio.Reader
	body          io.ReadCloser
	contentLength int64

	closeOnce sync.Once
	closeErr  error
}

func (rc *rawConn) handshake(req *Request, method string) error {
	// GET or POST with the Content-Length of the upload, then for a
	// download we immediately parse the response headers.
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, req.URL.RequestURI())
	fmt.Fprintf(&b, "Host: %s\r\n", req.URL.Host)
	if req.UserAgent != "" {
		fmt.Fprintf(&b, "User-Agent: %s\r\n", req.UserAgent)
	}
	b.WriteString("Accept: */*\r\n")
	if method == http.MethodPost {
		b.WriteString("Content-Type: application/octet-stream\r\n")
		fmt.Fprintf(&b, "Content-Length: %d\r\n", req.Size)
	}
	b.WriteString("Connection: close\r\n\r\n")
	if _, err := io.WriteString(rc.conn, b.String()); err != nil {
		return classify(err, SocketError, "cannot send request")
	}
	if method == http.MethodPost {
		return nil
	}
	resp, err := rc.readResponse()
	if err != nil {
		return err
	}
	rc.body = resp.Body
	rc.contentLength = resp.ContentLength
	return nil
}

func (rc *rawConn) readResponse() (*http.Response, error) {
	resp, err := http.ReadResponse(rc.reader, nil)
	if err != nil {
		return nil, classifyHandshake(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, newError(Forbidden, nil, "server responded with %q", resp.Status)
	}
	return resp, nil
}

func (rc *rawConn) ContentLength() int64 {
	return rc.contentLength
}

func (rc *rawConn) ReadChunk(b []byte, deadline time.Time) (int, error) {
	if rc.body == nil {
		return 0, io.EOF
	}
	if err := rc.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return rc.body.Read(b)
}

func (rc *rawConn) WriteChunk(b []byte, deadline time.Time) (int, error) {
	if err := rc.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	return rc.conn.Write(b)
}

func (rc *rawConn) Finish(deadline time.Time) error {
	if err := rc.conn.SetReadDeadline(deadline); err != nil {
		return classify(err, SocketError, "cannot set deadline")
	}
	resp, err := rc.readResponse()
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (rc *rawConn) Close() error {
	rc.closeOnce.Do(func() {
		rc.closeErr = rc.conn.Close()
	})
	return rc.closeErr
}
