package emitter

import (
	speedtest "github.com/m-lab/speedtest-client-go"
)

// Quiet acts as a filter allowing summary and failure events only, and
// doesn't perform any formatting.
// The message is actually emitted by the embedded Emitter.
type Quiet struct {
	emitter Emitter
}

// NewQuiet returns a Summary emitter which emits messages
// via the passed Emitter.
func NewQuiet(e Emitter) Emitter {
	return &Quiet{
		emitter: e,
	}
}

// OnStarting does not emit anything.
func (q Quiet) OnStarting(speedtest.Direction, string) error {
	return nil
}

// OnProgress does not emit anything.
func (q Quiet) OnProgress(speedtest.Report) error {
	return nil
}

// OnComplete does not emit anything.
func (q Quiet) OnComplete(speedtest.Direction, speedtest.Completion) error {
	return nil
}

// OnFailure emits the failure event.
func (q Quiet) OnFailure(d speedtest.Direction, f speedtest.Failure) error {
	return q.emitter.OnFailure(d, f)
}

// OnSummary handles the summary event, emitted after the test is over.
func (q Quiet) OnSummary(s *Summary) error {
	return q.emitter.OnSummary(s)
}
