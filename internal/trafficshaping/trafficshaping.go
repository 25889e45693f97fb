// Package trafficshaping contains dialers throttling the connections
// they create, which is useful to exercise the client against a slow link.
package trafficshaping

import (
	"context"
	"net"

	"github.com/google/martian/v3/trafficshape"
)

// DefaultBitrate is the default bitrate in bit/s.
const DefaultBitrate = 1 << 20

// ContextDialer is the dialer wrapped by Dialer.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dialer is a dialer performing shaping. A non positive bitrate
// disables shaping in the corresponding direction.
type Dialer struct {
	// ReadBitrate is the download bitrate in bit/s.
	ReadBitrate int64

	// WriteBitrate is the upload bitrate in bit/s.
	WriteBitrate int64

	dialer ContextDialer
}

// NewDialerWithBitrate returns a new dialer with the specified throttled
// bitrate in both directions.
func NewDialerWithBitrate(bitrate int64) *Dialer {
	return Wrap(new(net.Dialer), bitrate, bitrate)
}

// NewDialer returns a new dialer with the default throttled bitrate.
func NewDialer() *Dialer {
	return NewDialerWithBitrate(DefaultBitrate)
}

// Wrap returns a dialer shaping the connections created by dialer.
func Wrap(dialer ContextDialer, readBitrate, writeBitrate int64) *Dialer {
	return &Dialer{ReadBitrate: readBitrate, WriteBitrate: writeBitrate, dialer: dialer}
}

// Dial dials a shaped network connection.
func (d *Dialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

// DialContext is like Dial but with a context.
func (d *Dialer) DialContext(
	ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	if d.ReadBitrate <= 0 && d.WriteBitrate <= 0 {
		return conn, nil
	}
	listener := trafficshape.NewListener(new(net.TCPListener))
	if d.ReadBitrate > 0 {
		listener.SetReadBitrate(d.ReadBitrate)
	}
	if d.WriteBitrate > 0 {
		listener.SetWriteBitrate(d.WriteBitrate)
	}
	return listener.GetTrafficShapedConn(conn), nil
}
