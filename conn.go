package speedtest

import (
	"context"
	"net"
	"net/url"
	"time"
)

// NetDialer is the interface of net.Dialer.
type NetDialer interface {
	Dial(network, address string) (net.Conn, error)
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Request describes the transfer a ConnectionsFactory should prepare.
type Request struct {
	// URL is the remote endpoint.
	URL *url.URL

	// UserAgent is sent during the handshake.
	UserAgent string

	// Size is the number of bytes we will upload. It is ignored
	// when dialing a download connection.
	Size int64

	// Timeout bounds dialing plus the handshake.
	Timeout time.Duration
}

// Conn is a transfer connection that already completed the handshake
// with the remote endpoint. A Conn is owned by a single goroutine, except
// for Close, which may be called any number of times.
type Conn interface {
	// ContentLength returns the number of bytes the server announced
	// for a download, or -1 if unknown.
	ContentLength() int64

	// ReadChunk reads at most len(b) bytes, failing with a timeout if
	// nothing can be read before deadline. Returns io.EOF once the
	// server has cleanly finished sending.
	ReadChunk(b []byte, deadline time.Time) (int, error)

	// WriteChunk writes b, failing with a timeout if the write cannot
	// complete before deadline.
	WriteChunk(b []byte, deadline time.Time) (int, error)

	// Finish waits for the server to acknowledge an upload.
	Finish(deadline time.Time) error

	// Close releases the connection. It is idempotent.
	Close() error
}

// ConnectionsFactory creates transfer connections. There is one factory
// per transport (e.g. raw HTTP, WebSocket); the Engine selects the factory
// using the URL scheme. Dial errors are classified with an *Error.
type ConnectionsFactory interface {
	// DialDownload connects and requests the resource named by req.URL.
	DialDownload(ctx context.Context, req *Request) (Conn, error)

	// DialUpload connects and announces an upload of req.Size bytes.
	DialUpload(ctx context.Context, req *Request) (Conn, error)
}

// dialContext dials address and classifies the failure.
func dialContext(ctx context.Context, dialer NetDialer, address string) (net.Conn, error) {
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, classify(err, ConnectionError, "cannot connect to "+address)
	}
	return conn, nil
}

// hostport appends the default port for the scheme if host has none.
func hostport(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(trimBrackets(host), port)
	}
	return host
}

func trimBrackets(host string) string {
	if len(host) > 1 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
