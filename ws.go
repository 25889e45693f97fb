package speedtest

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConnectionsFactory creates ws and wss transfer connections. A download
// reads every message the server sends until it closes the channel; an
// upload sends binary messages and then performs the closing handshake.
type WSConnectionsFactory struct {
	// Dialer is the WebSocket dialer. Its HandshakeTimeout is
	// replaced by the timeout of each request.
	Dialer *websocket.Dialer

	// Subprotocol is the optional value of Sec-WebSocket-Protocol.
	Subprotocol string
}

// NewWSConnectionsFactory returns a factory for ws and wss.
func NewWSConnectionsFactory(dialer NetDialer) *WSConnectionsFactory {
	const bufferSize = 1 << 20
	netDialContext := func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialContext(ctx, dialer, address)
	}
	return &WSConnectionsFactory{
		Dialer: &websocket.Dialer{
			NetDialContext:  netDialContext,
			ReadBufferSize:  bufferSize,
			WriteBufferSize: bufferSize,
		},
	}
}

// DialDownload implements ConnectionsFactory.DialDownload.
func (cf *WSConnectionsFactory) DialDownload(ctx context.Context, req *Request) (Conn, error) {
	return cf.dial(ctx, req)
}

// DialUpload implements ConnectionsFactory.DialUpload.
func (cf *WSConnectionsFactory) DialUpload(ctx context.Context, req *Request) (Conn, error) {
	return cf.dial(ctx, req)
}

func (cf *WSConnectionsFactory) dial(ctx context.Context, req *Request) (Conn, error) {
	if req.URL.Scheme != "ws" && req.URL.Scheme != "wss" {
		return nil, newError(UnsupportedProtocol, nil, "unsupported scheme %q", req.URL.Scheme)
	}
	dialer := *cf.Dialer
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
		dialer.HandshakeTimeout = req.Timeout
	}
	headers := http.Header{}
	if cf.Subprotocol != "" {
		headers.Add("Sec-WebSocket-Protocol", cf.Subprotocol)
	}
	if req.UserAgent != "" {
		headers.Add("User-Agent", req.UserAgent)
	}
	conn, resp, err := dialer.DialContext(ctx, req.URL.String(), headers)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, newError(Forbidden, nil, "server responded with %q", resp.Status)
		}
		if errors.Is(err, websocket.ErrBadHandshake) {
			return nil, newError(MalformedResponse, err, "invalid WebSocket handshake")
		}
		return nil, classifyHandshake(err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (mc *wsConn) ContentLength() int64 {
	return -1
}

func (mc *wsConn) ReadChunk(b []byte, deadline time.Time) (int, error) {
	if err := mc.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	for {
		if mc.reader == nil {
			_, reader, err := mc.conn.NextReader()
			if err != nil {
				return 0, mapCloseError(err)
			}
			mc.reader = reader
		}
		n, err := mc.reader.Read(b)
		if errors.Is(err, io.EOF) {
			mc.reader = nil
			err = nil
			if n == 0 {
				continue
			}
		}
		return n, err
	}
}

func (mc *wsConn) WriteChunk(b []byte, deadline time.Time) (int, error) {
	if err := mc.conn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	if err := mc.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Finish sends a normal closure and waits for the server to reply with
// its own close frame, discarding any message sent in the meanwhile.
func (mc *wsConn) Finish(deadline time.Time) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := mc.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		return classify(err, SocketError, "cannot send close message")
	}
	if err := mc.conn.SetReadDeadline(deadline); err != nil {
		return classify(err, SocketError, "cannot set deadline")
	}
	for {
		if _, _, err := mc.conn.NextReader(); err != nil {
			if err = mapCloseError(err); errors.Is(err, io.EOF) {
				return nil
			}
			return classify(err, SocketError, "upload not acknowledged")
		}
	}
}

func (mc *wsConn) Close() error {
	mc.closeOnce.Do(func() {
		mc.closeErr = mc.conn.Close()
	})
	return mc.closeErr
}

// mapCloseError turns a normal closure into io.EOF.
func mapCloseError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return io.EOF
	}
	return err
}
