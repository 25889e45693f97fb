package speedtest

import (
	"time"

	"github.com/gammazero/deque"
)

const (
	// DefaultWindow is the default width of the smoothing window.
	DefaultWindow = time.Second

	// MaxSamples is the maximum number of samples a RateSampler retains.
	MaxSamples = 1024
)

// RateSampler smooths a sequence of samples into a transfer rate using
// a sliding time window. It is not safe for concurrent use; each transfer
// owns its sampler.
type RateSampler struct {
	window  time.Duration
	samples deque.Deque[Sample]
}

// NewRateSampler returns a sampler using the given window. A non positive
// window selects DefaultWindow.
func NewRateSampler(window time.Duration) *RateSampler {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RateSampler{window: window}
}

// Record appends sample to the history and returns the rate over the
// current window. The oldest retained sample is the most recent one at
// or before the window start, so the estimate spans the whole window once
// enough history exists. With fewer than two samples the rate is zero.
func (s *RateSampler) Record(sample Sample) RateEstimate {
	if s.samples.Len() > 0 && sample.Elapsed < s.samples.Back().Elapsed {
		// out of order samples would produce a negative window
		return s.estimate()
	}
	s.samples.PushBack(sample)
	cutoff := sample.Elapsed - s.window
	for s.samples.Len() > 2 && s.samples.At(1).Elapsed <= cutoff {
		s.samples.PopFront()
	}
	for s.samples.Len() > MaxSamples {
		s.samples.PopFront()
	}
	return s.estimate()
}

func (s *RateSampler) estimate() RateEstimate {
	if s.samples.Len() < 2 {
		var at time.Duration
		if s.samples.Len() == 1 {
			at = s.samples.Front().Elapsed
		}
		return NewRateEstimate(0, at, at)
	}
	first, last := s.samples.Front(), s.samples.Back()
	return NewRateEstimate(last.Count-first.Count, first.Elapsed, last.Elapsed)
}

// Len returns the number of retained samples.
func (s *RateSampler) Len() int {
	return s.samples.Len()
}

// Reset discards the whole history.
func (s *RateSampler) Reset() {
	s.samples.Clear()
}
