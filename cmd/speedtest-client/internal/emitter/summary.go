package emitter

import (
	"fmt"

	"github.com/shopspring/decimal"

	speedtest "github.com/m-lab/speedtest-client-go"
)

// Result is the outcome of the transfer in one direction. The rates are
// the exact values computed by the engine and are zero until the transfer
// completes.
type Result struct {
	// URL is the measured endpoint.
	URL string

	// TaskID identifies the transfer in the logs.
	TaskID string `json:",omitempty"`

	// Bytes is the number of bytes moved so far, or the total once the
	// transfer is over.
	Bytes int64

	// BitsPerSecond is the average rate of a completed transfer.
	BitsPerSecond decimal.Decimal

	// BytesPerSecond is BitsPerSecond divided by eight.
	BytesPerSecond decimal.Decimal

	// Completed is set once the transfer completes.
	Completed bool

	// Failure describes why the transfer failed, if it did.
	Failure *speedtest.Failure `json:",omitempty"`
}

// Observe folds an event of the transfer into r.
func (r *Result) Observe(ev *speedtest.Output) {
	switch {
	case ev.Progress != nil:
		r.TaskID = ev.Progress.TaskID
		r.Bytes = ev.Progress.Transferred
	case ev.Completion != nil:
		r.Bytes = ev.Completion.PacketSize
		r.BitsPerSecond = ev.Completion.BitsPerSecond
		r.BytesPerSecond = ev.Completion.BytesPerSecond
		r.Completed = true
	case ev.Failure != nil:
		f := *ev.Failure
		r.Failure = &f
	}
}

// Err returns the failure of the transfer as an error, or nil.
func (r *Result) Err(d speedtest.Direction) error {
	if r == nil || r.Failure == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %s", d, r.Failure.Kind, r.Failure.Message)
}

// Summary is a struct containing the values displayed to the user at
// the end of a run. A nil Result means the direction was not measured.
type Summary struct {
	Download *Result `json:",omitempty"`
	Upload   *Result `json:",omitempty"`
}

// NewSummary returns a new Summary with a Result for each non-empty URL.
func NewSummary(downloadURL, uploadURL string) *Summary {
	s := &Summary{}
	if downloadURL != "" {
		s.Download = &Result{URL: downloadURL}
	}
	if uploadURL != "" {
		s.Upload = &Result{URL: uploadURL}
	}
	return s
}

// Result returns the Result for the given direction.
func (s *Summary) Result(d speedtest.Direction) *Result {
	if d == speedtest.Upload {
		return s.Upload
	}
	return s.Download
}

// megabits formats a bit/s rate as Mbit/s with four decimals, without
// going through a float.
func megabits(bps decimal.Decimal) string {
	return bps.Div(decimal.NewFromInt(1_000_000)).StringFixed(4)
}
