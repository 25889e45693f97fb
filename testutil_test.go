package speedtest_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	speedtest "github.com/m-lab/speedtest-client-go"
)

const (
	clientName    = "speedtest-client-go-testing"
	clientVersion = "0.1.0"
	UserAgent     = clientName + "/" + clientVersion
)

var ErrMocked = errors.New("mocked error")

type RecordParametersDialer struct {
	Address string
	Network string
}

func (d *RecordParametersDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

func (d *RecordParametersDialer) DialContext(
	ctx context.Context, network, address string) (net.Conn, error) {
	d.Network = network
	d.Address = address
	return nil, ErrMocked
}

type AlwaysFailingDialer struct{}

func (d *AlwaysFailingDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

func (d *AlwaysFailingDialer) DialContext(
	ctx context.Context, network, address string) (net.Conn, error) {
	return nil, ErrMocked
}

type PipeDialer struct {
	ServerConn net.Conn
	ClientConn net.Conn
}

func NewPipeDialer() *PipeDialer {
	d := new(PipeDialer)
	d.ClientConn, d.ServerConn = net.Pipe()
	return d
}

func (d *PipeDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, address)
}

func (d *PipeDialer) DialContext(
	ctx context.Context, network, address string) (net.Conn, error) {
	return d.ClientConn, nil
}

// ServeDownload runs a minimal HTTP server on the server side of the
// pipe. It sends chunks writes of chunkSize bytes each, sleeping before
// the chunks listed in stalls.
func (d *PipeDialer) ServeDownload(chunks, chunkSize int, stalls map[int]time.Duration) {
	go func() {
		defer d.ServerConn.Close()
		if _, err := http.ReadRequest(bufio.NewReader(d.ServerConn)); err != nil {
			return
		}
		header := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n", chunks*chunkSize)
		if _, err := io.WriteString(d.ServerConn, header); err != nil {
			return
		}
		data := make([]byte, chunkSize)
		for i := 1; i <= chunks; i++ {
			time.Sleep(stalls[i])
			if _, err := d.ServerConn.Write(data); err != nil {
				return
			}
		}
	}()
}

// ServeRaw reads the request and then writes response verbatim.
func (d *PipeDialer) ServeRaw(response string) {
	go func() {
		defer d.ServerConn.Close()
		if _, err := http.ReadRequest(bufio.NewReader(d.ServerConn)); err != nil {
			return
		}
		if response != "" {
			io.WriteString(d.ServerConn, response)
		}
	}()
}

// ServeSilently reads the request and never answers. The returned
// channel is closed once the request has been read.
func (d *PipeDialer) ServeSilently() <-chan struct{} {
	requested := make(chan struct{})
	go func() {
		defer d.ServerConn.Close()
		reader := bufio.NewReader(d.ServerConn)
		if _, err := http.ReadRequest(reader); err != nil {
			return
		}
		close(requested)
		io.Copy(io.Discard, reader)
	}()
	return requested
}

// ServeUpload reads the request and its body and then acknowledges
// with the given status.
func (d *PipeDialer) ServeUpload(status int) {
	go func() {
		defer d.ServerConn.Close()
		req, err := http.ReadRequest(bufio.NewReader(d.ServerConn))
		if err != nil {
			return
		}
		if _, err := io.Copy(io.Discard, req.Body); err != nil {
			return
		}
		fmt.Fprintf(d.ServerConn, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n",
			status, http.StatusText(status))
	}()
}

type progressEvent struct {
	Direction speedtest.Direction
	Percent   float64
	Report    speedtest.Report
}

type completionEvent struct {
	Direction  speedtest.Direction
	PacketSize int64
	Bps        decimal.Decimal
	Ops        decimal.Decimal
}

type errorEvent struct {
	Direction speedtest.Direction
	Kind      speedtest.ErrorKind
	Message   string
}

// RecordingListener records every event. Done is closed by the
// first terminal event.
type RecordingListener struct {
	mu          sync.Mutex
	Progress    []progressEvent
	Completions []completionEvent
	Errors      []errorEvent
	Done        chan struct{}
	once        sync.Once

	// OnProgress, if not nil, is called after recording a progress event.
	OnProgress func(n int)
}

func NewRecordingListener() *RecordingListener {
	return &RecordingListener{Done: make(chan struct{})}
}

func (l *RecordingListener) progress(d speedtest.Direction, percent float64, r speedtest.Report) {
	l.mu.Lock()
	l.Progress = append(l.Progress, progressEvent{Direction: d, Percent: percent, Report: r})
	n := len(l.Progress)
	l.mu.Unlock()
	if l.OnProgress != nil {
		l.OnProgress(n)
	}
}

func (l *RecordingListener) complete(d speedtest.Direction, size int64, bps, ops decimal.Decimal) {
	l.mu.Lock()
	l.Completions = append(l.Completions, completionEvent{d, size, bps, ops})
	l.mu.Unlock()
	l.once.Do(func() { close(l.Done) })
}

func (l *RecordingListener) fail(d speedtest.Direction, kind speedtest.ErrorKind, message string) {
	l.mu.Lock()
	l.Errors = append(l.Errors, errorEvent{d, kind, message})
	l.mu.Unlock()
	l.once.Do(func() { close(l.Done) })
}

func (l *RecordingListener) OnDownloadProgress(percent float64, r speedtest.Report) {
	l.progress(speedtest.Download, percent, r)
}

func (l *RecordingListener) OnDownloadPacketsReceived(size int64, bps, ops decimal.Decimal) {
	l.complete(speedtest.Download, size, bps, ops)
}

func (l *RecordingListener) OnDownloadError(kind speedtest.ErrorKind, message string) {
	l.fail(speedtest.Download, kind, message)
}

func (l *RecordingListener) OnUploadProgress(percent float64, r speedtest.Report) {
	l.progress(speedtest.Upload, percent, r)
}

func (l *RecordingListener) OnUploadPacketsReceived(size int64, bps, ops decimal.Decimal) {
	l.complete(speedtest.Upload, size, bps, ops)
}

func (l *RecordingListener) OnUploadError(kind speedtest.ErrorKind, message string) {
	l.fail(speedtest.Upload, kind, message)
}

// Wait waits for the terminal event, failing the test after a while.
func (l *RecordingListener) Wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.Done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the terminal event")
	}
}

func (l *RecordingListener) Percents() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []float64
	for _, ev := range l.Progress {
		out = append(out, ev.Percent)
	}
	return out
}

// WaitForState polls the engine until direction d reaches state s.
func WaitForState(t *testing.T, engine *speedtest.Engine, d speedtest.Direction, s speedtest.State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for engine.State(d) != s {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; state is %s", s, engine.State(d))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ScriptedConn is a speedtest.Conn returning predefined chunks.
type ScriptedConn struct {
	Length int64
	Chunks []int
	// Gate, if not nil, is received from before completing the read or
	// the write with index GateIndex. Blocked, if not nil, is closed right
	// before. GateErr, if not nil, is then returned by that call.
	Gate      chan struct{}
	GateIndex int
	Blocked   chan struct{}
	GateErr   error

	mu      sync.Mutex
	next    int
	writes  int
	written int64
	closed  int
}

func (c *ScriptedConn) ContentLength() int64 {
	return c.Length
}

func (c *ScriptedConn) wait(idx int) error {
	if c.Gate == nil || idx != c.GateIndex {
		return nil
	}
	if c.Blocked != nil {
		close(c.Blocked)
	}
	<-c.Gate
	return c.GateErr
}

func (c *ScriptedConn) ReadChunk(b []byte, deadline time.Time) (int, error) {
	c.mu.Lock()
	idx := c.next
	c.next++
	c.mu.Unlock()
	if err := c.wait(idx); err != nil {
		return 0, err
	}
	if idx >= len(c.Chunks) {
		return 0, io.EOF
	}
	return min(c.Chunks[idx], len(b)), nil
}

func (c *ScriptedConn) WriteChunk(b []byte, deadline time.Time) (int, error) {
	c.mu.Lock()
	idx := c.writes
	c.writes++
	c.mu.Unlock()
	if err := c.wait(idx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written += int64(len(b))
	return len(b), nil
}

func (c *ScriptedConn) Finish(deadline time.Time) error {
	return nil
}

func (c *ScriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *ScriptedConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ScriptedFactory returns Conn from both dial methods, unless NewConn
// is set, in which case every dial calls it.
type ScriptedFactory struct {
	Conn    speedtest.Conn
	Err     error
	NewConn func() (speedtest.Conn, error)
}

func (f *ScriptedFactory) DialDownload(ctx context.Context, req *speedtest.Request) (speedtest.Conn, error) {
	if f.NewConn != nil {
		return f.NewConn()
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Conn, nil
}

func (f *ScriptedFactory) DialUpload(ctx context.Context, req *speedtest.Request) (speedtest.Conn, error) {
	return f.DialDownload(ctx, req)
}

// NewTestEngine returns an engine whose http transport is factory.
func NewTestEngine(factory speedtest.ConnectionsFactory) *speedtest.Engine {
	engine := speedtest.NewEngine(clientName, clientVersion)
	engine.Transports["http"] = factory
	return engine
}
