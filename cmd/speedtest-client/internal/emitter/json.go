package emitter

import (
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"

	speedtest "github.com/m-lab/speedtest-client-go"
)

// jsonEmitter is a jsonEmitter emitter. It emits messages consistent with
// the cmd/speedtest-client/main.go documentation for `-format=json`.
// Rates are encoded as decimal strings so no precision is lost.
type jsonEmitter struct {
	io.Writer
}

// NewJSON creates a new JSON emitter
func NewJSON(w io.Writer) Emitter {
	return jsonEmitter{w}
}

func (j jsonEmitter) emitData(data []byte) error {
	_, err := j.Write(append(data, byte('\n')))
	return err
}

func (j jsonEmitter) emitInterface(any interface{}) error {
	data, err := json.Marshal(any)
	if err != nil {
		return err
	}
	return j.emitData(data)
}

type batchEvent struct {
	Key   string
	Value interface{}
}

type startingValue struct {
	Direction speedtest.Direction
	URL       string
}

type progressValue struct {
	TaskID         string
	Direction      speedtest.Direction
	Percent        float64
	Elapsed        float64 // seconds
	Transferred    int64
	Total          int64
	Repetition     int `json:",omitempty"`
	BitsPerSecond  decimal.Decimal
	BytesPerSecond decimal.Decimal
}

type completeValue struct {
	Direction      speedtest.Direction
	Bytes          int64
	BitsPerSecond  decimal.Decimal
	BytesPerSecond decimal.Decimal
}

type failureValue struct {
	Direction speedtest.Direction
	Kind      speedtest.ErrorKind
	Message   string
}

// OnStarting emits starting events.
func (j jsonEmitter) OnStarting(d speedtest.Direction, rawURL string) error {
	return j.emitInterface(batchEvent{
		Key:   "starting",
		Value: startingValue{Direction: d, URL: rawURL},
	})
}

// OnProgress emits progress events.
func (j jsonEmitter) OnProgress(r speedtest.Report) error {
	return j.emitInterface(batchEvent{
		Key: "progress",
		Value: progressValue{
			TaskID:         r.TaskID,
			Direction:      r.Direction,
			Percent:        r.Progress,
			Elapsed:        float64(r.Elapsed) / float64(time.Second),
			Transferred:    r.Transferred,
			Total:          r.Total,
			Repetition:     r.Repetition,
			BitsPerSecond:  r.Rate.BitsPerSecond,
			BytesPerSecond: r.Rate.BytesPerSecond,
		},
	})
}

// OnComplete emits complete events.
func (j jsonEmitter) OnComplete(d speedtest.Direction, c speedtest.Completion) error {
	return j.emitInterface(batchEvent{
		Key: "complete",
		Value: completeValue{
			Direction:      d,
			Bytes:          c.PacketSize,
			BitsPerSecond:  c.BitsPerSecond,
			BytesPerSecond: c.BytesPerSecond,
		},
	})
}

// OnFailure emits failure events.
func (j jsonEmitter) OnFailure(d speedtest.Direction, f speedtest.Failure) error {
	return j.emitInterface(batchEvent{
		Key:   "failure",
		Value: failureValue{Direction: d, Kind: f.Kind, Message: f.Message},
	})
}

// OnSummary handles the summary event, emitted after the test is over.
func (j jsonEmitter) OnSummary(s *Summary) error {
	return j.emitInterface(s)
}
