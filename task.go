package speedtest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// State is the state of a transfer.
type State int32

const (
	// StateIdle is the state of a direction that never ran a transfer.
	StateIdle State = iota

	// StateConnecting means we are dialing and performing the handshake.
	StateConnecting

	// StateStreaming means that bytes are flowing.
	StateStreaming

	// StateCompleted means the transfer ended successfully.
	StateCompleted

	// StateFailed means the transfer ended with an error.
	StateFailed

	// StateCancelled means the transfer was stopped by ForceStop or by
	// cancelling its context.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal returns whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// task is a transfer in flight. Apart from the atomic fields, a task
// is only accessed by the goroutine running the transfer.
type task struct {
	id        string
	direction Direction
	rawURL    string
	size      int64         // upload size
	duration  time.Duration // fixed duration, zero when bounded by size
	listener  Listener
	config    Config
	logger    zerolog.Logger

	state      atomic.Int32
	stop       atomic.Bool
	terminated atomic.Bool

	begin       time.Time
	until       time.Time // repeat ceiling, zero when unset
	lastPercent float64
	gate        *rate.Sometimes
}

func newTask(d Direction, rawURL string, listener Listener, config Config, logger zerolog.Logger) *task {
	id := uuid.NewString()
	gate := &rate.Sometimes{Every: config.ReportEvery, Interval: config.SampleInterval}
	if config.ReportEvery <= 0 && config.SampleInterval <= 0 {
		gate.Every = 1
	}
	return &task{
		id:        id,
		direction: d,
		rawURL:    rawURL,
		listener:  listener,
		config:    config,
		logger: logger.With().Str("task", id).Stringer("direction", d).
			Str("url", rawURL).Logger(),
		gate: gate,
	}
}

func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) setState(s State) {
	t.state.Store(int32(s))
	t.logger.Debug().Stringer("state", s).Msg("transition")
}

// cancel asks the worker to stop at its next check.
func (t *task) cancel() {
	t.stop.Store(true)
}

func (t *task) stopped(ctx context.Context) bool {
	return t.stop.Load() || ctx.Err() != nil
}

func (t *task) expired() bool {
	return !t.until.IsZero() && !time.Now().Before(t.until)
}

func (t *task) newReport(p progress, percent float64) Report {
	now := time.Now()
	return Report{
		TaskID:      t.id,
		Direction:   t.direction,
		Progress:    percent,
		StartTime:   t.begin,
		ReportTime:  now,
		Elapsed:     now.Sub(t.begin),
		Rate:        p.Rate,
		Transferred: p.Sample.Count,
		Total:       p.Total,
	}
}

// emit delivers a progress report. Percentages never go backwards and
// reports other than the final one are subject to the sampling cadence.
func (t *task) emit(report Report) {
	if t.terminated.Load() {
		return
	}
	if report.Progress < t.lastPercent {
		report.Progress = t.lastPercent
	}
	deliver := func() {
		t.lastPercent = report.Progress
		switch t.direction {
		case Download:
			t.listener.OnDownloadProgress(report.Progress, report)
		case Upload:
			t.listener.OnUploadProgress(report.Progress, report)
		}
	}
	if report.Progress >= 100 {
		deliver()
		return
	}
	t.gate.Do(deliver)
}

// finish moves the task to its terminal state and emits the terminal
// event, if any. Only the first call has an effect. A failure observed
// after a stop request is a consequence of the stop, e.g. an I/O call
// that was blocked when ForceStop was called, so it cancels the task.
func (t *task) finish(ctx context.Context, count int64, estimate RateEstimate, err error) {
	if !t.terminated.CompareAndSwap(false, true) {
		return
	}
	if err != nil && t.stopped(ctx) {
		err = errStopped
	}
	if errors.Is(err, errStopped) {
		t.setState(StateCancelled)
		t.logger.Debug().Int64("bytes", count).Msg("transfer stopped")
		return
	}
	if err != nil {
		serr := classify(err, SocketError, "transfer failed")
		t.setState(StateFailed)
		t.logger.Warn().Err(serr).Int64("bytes", count).Msg("transfer failed")
		switch t.direction {
		case Download:
			t.listener.OnDownloadError(serr.Kind, serr.Message)
		case Upload:
			t.listener.OnUploadError(serr.Kind, serr.Message)
		}
		return
	}
	t.setState(StateCompleted)
	t.logger.Debug().Int64("bytes", count).
		Str("bps", estimate.BitsPerSecond.StringFixed(0)).Msg("transfer completed")
	switch t.direction {
	case Download:
		t.listener.OnDownloadPacketsReceived(count, estimate.BitsPerSecond, estimate.BytesPerSecond)
	case Upload:
		t.listener.OnUploadPacketsReceived(count, estimate.BitsPerSecond, estimate.BytesPerSecond)
	}
}
