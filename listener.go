package speedtest

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Listener observes transfers. All methods are invoked from the goroutine
// running the transfer, never from the goroutine that started it, so
// implementations must be safe for concurrent use when a download and an
// upload run at the same time. Methods should return quickly because the
// transfer does not make progress while a callback is running.
type Listener interface {
	// OnDownloadProgress is called after each sampled download chunk.
	OnDownloadProgress(percent float64, report Report)

	// OnDownloadPacketsReceived is called once when the download completes
	// with the number of bytes received and the average rate in bit/s and
	// byte/s.
	OnDownloadPacketsReceived(packetSize int64, rateBps, rateOps decimal.Decimal)

	// OnDownloadError is called once when the download fails.
	OnDownloadError(kind ErrorKind, message string)

	// OnUploadProgress is called after each sampled upload chunk.
	OnUploadProgress(percent float64, report Report)

	// OnUploadPacketsReceived is called once when the upload completes.
	OnUploadPacketsReceived(packetSize int64, rateBps, rateOps decimal.Decimal)

	// OnUploadError is called once when the upload fails.
	OnUploadError(kind ErrorKind, message string)
}

// Output is an event emitted by a ChannelListener. Exactly one of the
// pointer fields is set.
type Output struct {
	Direction  Direction
	Progress   *Report     `json:",omitempty"`
	Completion *Completion `json:",omitempty"`
	Failure    *Failure    `json:",omitempty"`
}

// Terminal returns whether this is the last event of a transfer.
func (o *Output) Terminal() bool {
	return o.Completion != nil || o.Failure != nil
}

// Completion contains the result of a completed transfer.
type Completion struct {
	PacketSize     int64
	BitsPerSecond  decimal.Decimal
	BytesPerSecond decimal.Decimal
}

// Failure contains a classified transfer error.
type Failure struct {
	Kind    ErrorKind
	Message string
}

// ChannelListener is a Listener that posts events on a channel. Progress
// events are dropped when the buffer is full, so a slow reader never
// stalls a transfer. The channel has extra room for the final progress
// report and the terminal event of one download and one upload, which
// are therefore never dropped as long as the reader drains the events of
// a transfer before starting the next one in the same direction. No send
// ever blocks: a reader that stops reading early leaks nothing. The
// channel is never closed: readers stop after the terminal event of every
// transfer they started.
type ChannelListener struct {
	mu   sync.Mutex
	size int
	ch   chan *Output
}

// reserved is the room kept for two final reports and two terminal events.
const reserved = 4

// NewChannelListener returns a ChannelListener whose channel buffers up
// to size progress events.
func NewChannelListener(size int) *ChannelListener {
	return &ChannelListener{size: size, ch: make(chan *Output, size+reserved)}
}

// C returns the events channel.
func (l *ChannelListener) C() <-chan *Output {
	return l.ch
}

// send posts ev. Unless final is true, ev is dropped when the room
// for ordinary progress events is exhausted.
func (l *ChannelListener) send(ev *Output, final bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !final && len(l.ch) >= l.size {
		return
	}
	select {
	case l.ch <- ev:
	default:
	}
}

func (l *ChannelListener) progress(d Direction, report Report) {
	l.send(&Output{Direction: d, Progress: &report}, report.Progress >= 100)
}

func (l *ChannelListener) complete(d Direction, size int64, bps, ops decimal.Decimal) {
	l.send(&Output{Direction: d, Completion: &Completion{
		PacketSize: size, BitsPerSecond: bps, BytesPerSecond: ops,
	}}, true)
}

func (l *ChannelListener) fail(d Direction, kind ErrorKind, message string) {
	l.send(&Output{Direction: d, Failure: &Failure{Kind: kind, Message: message}}, true)
}

// OnDownloadProgress implements Listener.OnDownloadProgress.
func (l *ChannelListener) OnDownloadProgress(percent float64, report Report) {
	l.progress(Download, report)
}

// OnDownloadPacketsReceived implements Listener.OnDownloadPacketsReceived.
func (l *ChannelListener) OnDownloadPacketsReceived(size int64, bps, ops decimal.Decimal) {
	l.complete(Download, size, bps, ops)
}

// OnDownloadError implements Listener.OnDownloadError.
func (l *ChannelListener) OnDownloadError(kind ErrorKind, message string) {
	l.fail(Download, kind, message)
}

// OnUploadProgress implements Listener.OnUploadProgress.
func (l *ChannelListener) OnUploadProgress(percent float64, report Report) {
	l.progress(Upload, report)
}

// OnUploadPacketsReceived implements Listener.OnUploadPacketsReceived.
func (l *ChannelListener) OnUploadPacketsReceived(size int64, bps, ops decimal.Decimal) {
	l.complete(Upload, size, bps, ops)
}

// OnUploadError implements Listener.OnUploadError.
func (l *ChannelListener) OnUploadError(kind ErrorKind, message string) {
	l.fail(Upload, kind, message)
}
