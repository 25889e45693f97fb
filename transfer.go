package speedtest

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"
)

// measurement is the outcome of a single transfer.
type measurement struct {
	Count   int64
	Elapsed time.Duration
}

// rate returns the average rate of the whole transfer.
func (m measurement) rate() RateEstimate {
	return NewRateEstimate(m.Count, 0, m.Elapsed)
}

// progress is what a worker tells its observer after each chunk.
type progress struct {
	Sample  Sample
	Rate    RateEstimate // smoothed
	Percent float64
	Total   int64
}

// goal says when a transfer is over. A transfer is bounded either by
// the number of bytes (duration is zero) or by time, in which case it also
// ends if the total number of bytes is known and has been transferred.
type goal struct {
	total    int64 // -1 when unknown
	duration time.Duration
}

func newGoal(contentLength int64, fixed, fallback time.Duration) goal {
	switch {
	case fixed > 0:
		return goal{total: contentLength, duration: fixed}
	case contentLength >= 0:
		return goal{total: contentLength}
	default:
		return goal{total: -1, duration: fallback}
	}
}

func (g goal) openEnded() bool {
	return g.total < 0
}

func (g goal) reached(s Sample) bool {
	if g.total >= 0 && s.Count >= g.total {
		return true
	}
	return g.duration > 0 && s.Elapsed >= g.duration
}

func (g goal) percent(s Sample, done bool) float64 {
	switch {
	case done:
		return 100
	case g.duration > 0:
		return min(float64(s.Elapsed)*100/float64(g.duration), 100)
	case g.total > 0:
		return min(float64(s.Count)*100/float64(g.total), 100)
	default:
		return 0
	}
}

// limit shrinks b so that we never transfer more than the total.
func (g goal) limit(b []byte, count int64) []byte {
	if g.total >= 0 && g.total-count < int64(len(b)) {
		return b[:g.total-count]
	}
	return b
}

type observer func(p progress)

func (e *Engine) transfer(ctx context.Context, t *task, observe observer) (measurement, error) {
	if t.direction == Upload {
		return e.upload(ctx, t, observe)
	}
	return e.download(ctx, t, observe)
}

// download runs the download state machine. It takes ownership of the
// connection it dials and always closes it before returning.
func (e *Engine) download(ctx context.Context, t *task, observe observer) (measurement, error) {
	t.setState(StateConnecting)
	factory, u, err := e.resolve(t.rawURL)
	if err != nil {
		return measurement{}, err
	}
	conn, err := factory.DialDownload(ctx, &Request{
		URL:       u,
		UserAgent: t.config.UserAgent,
		Timeout:   t.config.ConnectTimeout,
	})
	if err != nil {
		return measurement{}, classify(err, ConnectionError, "cannot connect")
	}
	defer conn.Close()
	t.setState(StateStreaming)
	var (
		g       = newGoal(conn.ContentLength(), t.duration, t.config.Duration)
		buf     = make([]byte, t.config.ChunkSize)
		sampler = NewRateSampler(t.config.Window)
		begin   = time.Now()
		sample  Sample
	)
	sampler.Record(sample)
	if g.reached(sample) {
		observe(progress{Sample: sample, Rate: sampler.Record(sample), Percent: 100, Total: g.total})
		return measurement{}, nil
	}
	for {
		m := measurement{Count: sample.Count, Elapsed: sample.Elapsed}
		if t.stopped(ctx) {
			return m, errStopped
		}
		if t.expired() {
			return m, nil
		}
		deadline := time.Now().Add(t.config.ReadTimeout)
		n, err := conn.ReadChunk(g.limit(buf, sample.Count), deadline)
		eof := errors.Is(err, io.EOF)
		if n > 0 || eof {
			sample = Sample{Elapsed: time.Since(begin), Count: sample.Count + int64(n)}
		}
		done := g.reached(sample) || (eof && g.openEnded())
		if n > 0 || done {
			observe(progress{
				Sample:  sample,
				Rate:    sampler.Record(sample),
				Percent: g.percent(sample, done),
				Total:   g.total,
			})
		}
		m = measurement{Count: sample.Count, Elapsed: sample.Elapsed}
		if done {
			return m, nil
		}
		if eof || errors.Is(err, io.ErrUnexpectedEOF) {
			return m, newError(SocketError, err,
				"connection closed after %d of %d bytes", sample.Count, g.total)
		}
		if err != nil {
			return m, classify(err, SocketError, "cannot read from server")
		}
	}
}

// upload is like download but writes synthetic bytes and waits for the
// server to acknowledge them.
func (e *Engine) upload(ctx context.Context, t *task, observe observer) (measurement, error) {
	t.setState(StateConnecting)
	factory, u, err := e.resolve(t.rawURL)
	if err != nil {
		return measurement{}, err
	}
	conn, err := factory.DialUpload(ctx, &Request{
		URL:       u,
		UserAgent: t.config.UserAgent,
		Size:      t.size,
		Timeout:   t.config.ConnectTimeout,
	})
	if err != nil {
		return measurement{}, classify(err, ConnectionError, "cannot connect")
	}
	defer conn.Close()
	t.setState(StateStreaming)
	var (
		g       = goal{total: t.size}
		payload = makePayload(t.config.ChunkSize)
		sampler = NewRateSampler(t.config.Window)
		begin   = time.Now()
		sample  Sample
	)
	sampler.Record(sample)
	for !g.reached(sample) {
		m := measurement{Count: sample.Count, Elapsed: sample.Elapsed}
		if t.stopped(ctx) {
			return m, errStopped
		}
		if t.expired() {
			return m, nil
		}
		deadline := time.Now().Add(t.config.WriteTimeout)
		n, err := conn.WriteChunk(g.limit(payload, sample.Count), deadline)
		if n > 0 {
			sample = Sample{Elapsed: time.Since(begin), Count: sample.Count + int64(n)}
			estimate := sampler.Record(sample)
			if !g.reached(sample) {
				observe(progress{
					Sample:  sample,
					Rate:    estimate,
					Percent: g.percent(sample, false),
					Total:   g.total,
				})
			}
		}
		if err != nil {
			m = measurement{Count: sample.Count, Elapsed: sample.Elapsed}
			return m, classify(err, SocketError, "cannot write to server")
		}
	}
	if err := conn.Finish(time.Now().Add(t.config.WriteTimeout)); err != nil {
		m := measurement{Count: sample.Count, Elapsed: sample.Elapsed}
		return m, classify(err, SocketError, "upload not acknowledged")
	}
	sample.Elapsed = time.Since(begin)
	observe(progress{Sample: sample, Rate: sampler.Record(sample), Percent: 100, Total: g.total})
	return measurement{Count: sample.Count, Elapsed: sample.Elapsed}, nil
}

// makePayload returns a buffer of random printable characters.
func makePayload(size int) []byte {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, size)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return b
}
