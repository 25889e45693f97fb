package speedtest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ErrorKind classifies the failure of a transfer.
type ErrorKind int

const (
	// ConnectionError indicates we could not establish the transport.
	ConnectionError ErrorKind = iota + 1

	// SocketError indicates the transport dropped mid-transfer.
	SocketError

	// SocketTimeout indicates that an I/O call exceeded its deadline.
	SocketTimeout

	// MalformedResponse indicates that the server handshake could not be parsed.
	MalformedResponse

	// UnsupportedProtocol indicates that the URL scheme is not recognized.
	UnsupportedProtocol

	// Forbidden indicates that the server rejected the request.
	Forbidden
)

// String returns the canonical name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ConnectionError:
		return "CONNECTION_ERROR"
	case SocketError:
		return "SOCKET_ERROR"
	case SocketTimeout:
		return "SOCKET_TIMEOUT"
	case MalformedResponse:
		return "MALFORMED_RESPONSE"
	case UnsupportedProtocol:
		return "UNSUPPORTED_PROTOCOL"
	case Forbidden:
		return "FORBIDDEN"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	if k < ConnectionError || k > Forbidden {
		return nil, fmt.Errorf("invalid error kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind := ConnectionError; kind <= Forbidden; kind++ {
		if kind.String() == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("invalid error kind %q", text)
}

// Error is a classified transfer failure. The Kind is the discriminant
// and the Message is meant for humans.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // underlying cause, may be nil
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind with an
// empty message, so that errors.Is(err, &Error{Kind: SocketTimeout})
// matches any timeout.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	// ErrTransferInProgress indicates that the slot for the requested
	// direction is occupied by a transfer that is not terminated yet.
	ErrTransferInProgress = errors.New("transfer already in progress")

	// ErrInvalidArgument indicates that a Start method was called with
	// arguments that cannot describe a transfer.
	ErrInvalidArgument = errors.New("invalid argument")

	errStopped = errors.New("transfer stopped")
)

// KindOf returns the classification of err, or zero if err was not
// classified by this package.
func KindOf(err error) ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return 0
}

func newError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	message := fmt.Sprintf(format, args...)
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, err.Error())
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// classify maps err to the taxonomy. Errors that are already classified
// are returned unchanged, timeouts become SocketTimeout and everything
// else becomes fallback.
func classify(err error, fallback ErrorKind, what string) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}
	if isTimeout(err) {
		return newError(SocketTimeout, err, "%s", what)
	}
	return newError(fallback, err, "%s", what)
}

// classifyHandshake is like classify but for errors returned while
// parsing the server response, where an unparsable message is the
// default explanation.
func classifyHandshake(err error) *Error {
	var serr *Error
	switch {
	case errors.As(err, &serr):
		return serr
	case isTimeout(err):
		return newError(SocketTimeout, err, "handshake timed out")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return newError(SocketError, err, "connection closed during handshake")
	case isTransportError(err):
		return newError(SocketError, err, "handshake failed")
	default:
		return newError(MalformedResponse, err, "cannot parse server response")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func isTransportError(err error) bool {
	var (
		operr   *net.OpError
		certerr *tls.CertificateVerificationError
		recerr  tls.RecordHeaderError
	)
	return errors.As(err, &operr) || errors.As(err, &certerr) ||
		errors.As(err, &recerr) || errors.Is(err, io.ErrClosedPipe)
}
