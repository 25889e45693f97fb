package speedtest

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Engine runs download and upload transfers. An Engine owns one slot per
// direction: a download and an upload may run concurrently, but starting
// a transfer while the slot for its direction is busy fails.
type Engine struct {
	// Config is the configuration used by the transfers started
	// after it is modified. It's set to its default value by
	// NewEngine; you may override it.
	Config Config

	// Transports maps an URL scheme to the factory creating the
	// connections for such scheme. NewEngine registers the raw
	// transport for http and https and the WebSocket transport for
	// ws and wss. You may override them, e.g., for testing.
	Transports map[string]ConnectionsFactory

	// Logger is the logger. It's a no-op logger by default.
	Logger zerolog.Logger

	mu    sync.Mutex
	slots [2]*task
}

// NewEngine creates a new Engine using the default transports with
// a user agent built from clientName and clientVersion.
func NewEngine(clientName, clientVersion string) *Engine {
	config := DefaultConfig()
	config.UserAgent = clientName + "/" + clientVersion
	raw := NewRawConnectionsFactory(new(net.Dialer))
	ws := NewWSConnectionsFactory(new(net.Dialer))
	return &Engine{
		Config: config,
		Transports: map[string]ConnectionsFactory{
			"http":  raw,
			"https": raw,
			"ws":    ws,
			"wss":   ws,
		},
		Logger: zerolog.Nop(),
	}
}

// StartDownload starts downloading rawURL. If the server announces the
// length of the resource, the progress tracks the bytes received;
// otherwise the download lasts for Config.Duration and the progress
// tracks the elapsed time. The context bounds dialing and cancelling it
// stops the transfer like ForceStop does. The returned error is only
// non-nil if the transfer could not be started; all transfer errors are
// reported to the listener.
func (e *Engine) StartDownload(ctx context.Context, rawURL string, listener Listener) error {
	t := e.newTask(Download, rawURL, listener)
	return e.start(ctx, t, e.runOnce)
}

// StartFixedDownload is like StartDownload but the download lasts for
// duration regardless of the length announced by the server, unless the
// server finishes sending earlier.
func (e *Engine) StartFixedDownload(
	ctx context.Context, rawURL string, duration time.Duration, listener Listener,
) error {
	if duration <= 0 {
		return fmt.Errorf("%w: non positive duration", ErrInvalidArgument)
	}
	t := e.newTask(Download, rawURL, listener)
	t.duration = duration
	return e.start(ctx, t, e.runOnce)
}

// StartUpload starts uploading size bytes to rawURL.
func (e *Engine) StartUpload(ctx context.Context, rawURL string, size int64, listener Listener) error {
	if size <= 0 {
		return fmt.Errorf("%w: non positive upload size", ErrInvalidArgument)
	}
	t := e.newTask(Upload, rawURL, listener)
	t.size = size
	return e.start(ctx, t, e.runOnce)
}

// StartDownloadRepeat runs consecutive downloads of rawURL until the
// repeat configuration is satisfied and then reports the aggregated rate.
func (e *Engine) StartDownloadRepeat(
	ctx context.Context, rawURL string, listener Listener, rc RepeatConfig,
) error {
	if err := rc.validate(); err != nil {
		return err
	}
	t := e.newTask(Download, rawURL, listener)
	return e.start(ctx, t, e.runRepeat(rc))
}

// StartUploadRepeat is like StartDownloadRepeat for uploads of size bytes.
func (e *Engine) StartUploadRepeat(
	ctx context.Context, rawURL string, size int64, listener Listener, rc RepeatConfig,
) error {
	if size <= 0 {
		return fmt.Errorf("%w: non positive upload size", ErrInvalidArgument)
	}
	if err := rc.validate(); err != nil {
		return err
	}
	t := e.newTask(Upload, rawURL, listener)
	t.size = size
	return e.start(ctx, t, e.runRepeat(rc))
}

// ForceStop asks the running transfers to stop. It does not wait for
// them: each transfer notices the request between two I/O operations,
// closes its own connection and emits no further events. A transfer
// blocked in I/O waits for the operation to complete or time out first.
func (e *Engine) ForceStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.slots {
		if t != nil {
			t.cancel()
		}
	}
}

// State returns the state of the most recent transfer in direction d.
func (e *Engine) State(d Direction) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t := e.slots[d]; t != nil {
		return t.State()
	}
	return StateIdle
}

func (e *Engine) newTask(d Direction, rawURL string, listener Listener) *task {
	return newTask(d, rawURL, listener, e.Config.withDefaults(), e.Logger)
}

// start claims the slot of t and runs t in a background goroutine.
func (e *Engine) start(ctx context.Context, t *task, run func(context.Context, *task)) error {
	if t.listener == nil {
		return fmt.Errorf("%w: nil listener", ErrInvalidArgument)
	}
	e.mu.Lock()
	if cur := e.slots[t.direction]; cur != nil && !cur.State().Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", t.direction, ErrTransferInProgress)
	}
	e.slots[t.direction] = t
	e.mu.Unlock()
	t.begin = time.Now()
	go run(ctx, t)
	return nil
}

// runOnce performs a single transfer.
func (e *Engine) runOnce(ctx context.Context, t *task) {
	m, err := e.transfer(ctx, t, func(p progress) {
		t.emit(t.newReport(p, p.Percent))
	})
	t.finish(ctx, m.Count, m.rate(), err)
}

// resolve returns the factory for the scheme of rawURL.
func (e *Engine) resolve(rawURL string) (ConnectionsFactory, *url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, newError(UnsupportedProtocol, err, "cannot parse URL")
	}
	factory := e.Transports[u.Scheme]
	if factory == nil {
		return nil, nil, newError(UnsupportedProtocol, nil, "unsupported scheme %q", u.Scheme)
	}
	return factory, u, nil
}
