// Package speedtest contains a throughput measurement engine. It performs
// timed download and upload transfers against a remote HTTP or WebSocket
// endpoint and reports progress, final transfer rate and classified errors
// to a Listener.
//
// The Engine runs each transfer in its own goroutine. Starting a transfer
// returns immediately and every Listener callback is invoked from the
// goroutine performing the transfer. For each transfer the listener sees
// zero or more progress events followed by at most one terminal event
// (completion or error). A transfer stopped with ForceStop or by cancelling
// its context emits no terminal event.
package speedtest

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the direction of a transfer.
type Direction int

const (
	// Download pulls bytes from the remote endpoint.
	Download Direction = iota

	// Upload pushes bytes to the remote endpoint.
	Upload
)

func (d Direction) String() string {
	switch d {
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if d != Download && d != Upload {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "download":
		*d = Download
	case "upload":
		*d = Upload
	default:
		return fmt.Errorf("invalid direction %q", text)
	}
	return nil
}

// Sample is a point in the transfer history.
type Sample struct {
	Elapsed time.Duration // since the beginning of the transfer
	Count   int64         // cumulative number of bytes transferred
}

var eight = decimal.NewFromInt(8)

// RateEstimate is a transfer rate computed over a window of samples.
// BitsPerSecond is always exactly eight times BytesPerSecond.
type RateEstimate struct {
	BytesPerSecond decimal.Decimal
	BitsPerSecond  decimal.Decimal
	WindowStart    time.Duration
	WindowEnd      time.Duration
}

// NewRateEstimate returns the rate at which count bytes have been moved
// between start and end. An empty or inverted window yields a zero rate.
func NewRateEstimate(count int64, start, end time.Duration) RateEstimate {
	if count <= 0 || end <= start {
		return newRateEstimateFromBytes(decimal.Zero, start, end)
	}
	bytesPerSecond := decimal.NewFromInt(count).
		Mul(decimal.NewFromInt(int64(time.Second))).
		Div(decimal.NewFromInt(int64(end - start)))
	return newRateEstimateFromBytes(bytesPerSecond, start, end)
}

func newRateEstimateFromBytes(bytesPerSecond decimal.Decimal, start, end time.Duration) RateEstimate {
	return RateEstimate{
		BytesPerSecond: bytesPerSecond,
		BitsPerSecond:  bytesPerSecond.Mul(eight),
		WindowStart:    start,
		WindowEnd:      end,
	}
}

// Report is a snapshot of the progress of a transfer. Reports are values
// and are never modified after being handed to a Listener.
type Report struct {
	TaskID      string
	Direction   Direction
	Progress    float64 // percentage in [0, 100]
	StartTime   time.Time
	ReportTime  time.Time
	Elapsed     time.Duration
	Rate        RateEstimate
	Transferred int64 // bytes moved so far
	Total       int64 // expected bytes, or -1 when open-ended
	Repetition  int   // 1-based, 0 outside of repeat mode
}
