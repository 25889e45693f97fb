package emitter

import (
	"time"

	"github.com/shopspring/decimal"

	speedtest "github.com/m-lab/speedtest-client-go"
)

// 11640425 byte/s is exactly 93.1234 Mbit/s.
const bytesPerSecond = 11640425

func newReport() speedtest.Report {
	return speedtest.Report{
		TaskID:      "task-1",
		Direction:   speedtest.Download,
		Progress:    42.5,
		Elapsed:     1500 * time.Millisecond,
		Rate:        speedtest.NewRateEstimate(bytesPerSecond, 0, time.Second),
		Transferred: 1234,
		Total:       10000,
	}
}

func newCompletion() speedtest.Completion {
	rate := speedtest.NewRateEstimate(bytesPerSecond, 0, time.Second)
	return speedtest.Completion{
		PacketSize:     10000000,
		BitsPerSecond:  rate.BitsPerSecond,
		BytesPerSecond: rate.BytesPerSecond,
	}
}

func newFailure() speedtest.Failure {
	return speedtest.Failure{Kind: speedtest.Forbidden, Message: "403 Forbidden"}
}

// newFinishedSummary returns a summary with a completed download and a
// rejected upload.
func newFinishedSummary() *Summary {
	s := NewSummary("http://127.0.0.1/down", "http://127.0.0.1/up")
	r := newReport()
	c := newCompletion()
	f := newFailure()
	s.Download.Observe(&speedtest.Output{Direction: speedtest.Download, Progress: &r})
	s.Download.Observe(&speedtest.Output{Direction: speedtest.Download, Completion: &c})
	s.Upload.Observe(&speedtest.Output{Direction: speedtest.Upload, Failure: &f})
	return s
}

var (
	mbit  = decimal.NewFromInt(93123400)
	eight = decimal.NewFromInt(8)
)
