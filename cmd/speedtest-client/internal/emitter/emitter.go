// Package emitter renders the events of the speedtest-client transfers.
package emitter

import (
	speedtest "github.com/m-lab/speedtest-client-go"
)

// Emitter is a generic emitter. When an event occurs, the
// corresponding method will be called. An error will generally
// mean that it's not possible to write the output. A common
// case where this happen is where the output is redirected to
// a file on a full hard disk.
//
// For each direction OnStarting comes first, followed by zero or more
// OnProgress and at most one of OnComplete and OnFailure. OnSummary is
// emitted once after all the transfers are over.
type Emitter interface {
	// OnStarting is emitted when a transfer has been started.
	OnStarting(d speedtest.Direction, rawURL string) error

	// OnProgress is emitted for each progress report of a transfer.
	OnProgress(r speedtest.Report) error

	// OnComplete is emitted when a transfer completes.
	OnComplete(d speedtest.Direction, c speedtest.Completion) error

	// OnFailure is emitted when a transfer fails.
	OnFailure(d speedtest.Direction, f speedtest.Failure) error

	// OnSummary is emitted after all the transfers are over.
	OnSummary(s *Summary) error
}
