package emitter

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	speedtest "github.com/m-lab/speedtest-client-go"
	"github.com/m-lab/speedtest-client-go/cmd/speedtest-client/internal/mocks"
)

// decodeEvent decodes the single line written by the emitter.
func decodeEvent(t *testing.T, sw *mocks.SavingWriter) (string, map[string]interface{}) {
	t.Helper()
	if len(sw.Data) != 1 {
		t.Fatal("invalid length")
	}
	data := sw.Data[0]
	if data[len(data)-1] != '\n' {
		t.Fatal("missing newline")
	}
	var event struct {
		Key   string
		Value map[string]interface{}
	}
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatal(err)
	}
	return event.Key, event.Value
}

// requireDecimal checks that v is the string encoding of want.
func requireDecimal(t *testing.T, v interface{}, want decimal.Decimal) {
	t.Helper()
	s, ok := v.(string)
	if !ok {
		t.Fatalf("expected a decimal string, got %T", v)
	}
	got, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestJSONOnStarting(t *testing.T) {
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	if err := j.OnStarting(speedtest.Upload, "ws://127.0.0.1/up"); err != nil {
		t.Fatal(err)
	}
	key, value := decodeEvent(t, sw)
	if key != "starting" {
		t.Fatal("Unexpected event key")
	}
	expected := map[string]interface{}{"Direction": "upload", "URL": "ws://127.0.0.1/up"}
	if diff := cmp.Diff(expected, value); diff != "" {
		t.Fatalf("Unexpected event value (-want +got):\n%s", diff)
	}

	j = NewJSON(&mocks.FailingWriter{})
	if err := j.OnStarting(speedtest.Upload, "ws://127.0.0.1/up"); err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnProgress(t *testing.T) {
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	if err := j.OnProgress(newReport()); err != nil {
		t.Fatal(err)
	}
	key, value := decodeEvent(t, sw)
	if key != "progress" {
		t.Fatal("Unexpected event key")
	}
	requireDecimal(t, value["BitsPerSecond"], mbit)
	requireDecimal(t, value["BytesPerSecond"], decimal.NewFromInt(bytesPerSecond))
	delete(value, "BitsPerSecond")
	delete(value, "BytesPerSecond")
	expected := map[string]interface{}{
		"TaskID":      "task-1",
		"Direction":   "download",
		"Percent":     42.5,
		"Elapsed":     1.5,
		"Transferred": 1234.0,
		"Total":       10000.0,
	}
	if diff := cmp.Diff(expected, value); diff != "" {
		t.Fatalf("Unexpected event value (-want +got):\n%s", diff)
	}

	j = NewJSON(&mocks.FailingWriter{})
	if err := j.OnProgress(newReport()); err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnProgressRepetition(t *testing.T) {
	sw := &mocks.SavingWriter{}
	r := newReport()
	r.Repetition = 2
	if err := NewJSON(sw).OnProgress(r); err != nil {
		t.Fatal(err)
	}
	_, value := decodeEvent(t, sw)
	if value["Repetition"] != 2.0 {
		t.Fatalf("unexpected repetition %v", value["Repetition"])
	}
}

func TestJSONOnComplete(t *testing.T) {
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	if err := j.OnComplete(speedtest.Download, newCompletion()); err != nil {
		t.Fatal(err)
	}
	key, value := decodeEvent(t, sw)
	if key != "complete" {
		t.Fatal("Unexpected event key")
	}
	requireDecimal(t, value["BitsPerSecond"], mbit)
	requireDecimal(t, value["BytesPerSecond"], decimal.NewFromInt(bytesPerSecond))
	if value["Direction"] != "download" || value["Bytes"] != 10000000.0 {
		t.Fatalf("Unexpected event value %+v", value)
	}

	j = NewJSON(&mocks.FailingWriter{})
	if err := j.OnComplete(speedtest.Download, newCompletion()); err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnFailure(t *testing.T) {
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	if err := j.OnFailure(speedtest.Upload, newFailure()); err != nil {
		t.Fatal(err)
	}
	key, value := decodeEvent(t, sw)
	if key != "failure" {
		t.Fatal("Unexpected event key")
	}
	expected := map[string]interface{}{
		"Direction": "upload",
		"Kind":      "FORBIDDEN",
		"Message":   "403 Forbidden",
	}
	if diff := cmp.Diff(expected, value); diff != "" {
		t.Fatalf("Unexpected event value (-want +got):\n%s", diff)
	}

	j = NewJSON(&mocks.FailingWriter{})
	if err := j.OnFailure(speedtest.Upload, newFailure()); err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnSummary(t *testing.T) {
	sw := &mocks.SavingWriter{}
	j := NewJSON(sw)
	if err := j.OnSummary(newFinishedSummary()); err != nil {
		t.Fatal(err)
	}
	if len(sw.Data) != 1 {
		t.Fatal("invalid length")
	}
	var s Summary
	if err := json.Unmarshal(sw.Data[0], &s); err != nil {
		t.Fatal(err)
	}
	if !s.Download.BitsPerSecond.Equal(mbit) || s.Download.Bytes != 10000000 || !s.Download.Completed {
		t.Fatalf("unexpected download %+v", s.Download)
	}
	if s.Upload.Failure == nil || s.Upload.Failure.Kind != speedtest.Forbidden {
		t.Fatalf("unexpected upload %+v", s.Upload)
	}
	var raw struct {
		Upload struct {
			Failure struct{ Kind string }
		}
	}
	if err := json.Unmarshal(sw.Data[0], &raw); err != nil {
		t.Fatal(err)
	}
	if raw.Upload.Failure.Kind != "FORBIDDEN" {
		t.Fatalf("unexpected kind %q", raw.Upload.Failure.Kind)
	}

	j = NewJSON(&mocks.FailingWriter{})
	if err := j.OnSummary(newFinishedSummary()); err != mocks.ErrMocked {
		t.Fatal("Not the error we expected")
	}
}

func TestJSONOnSummaryOmitsMissingDirection(t *testing.T) {
	sw := &mocks.SavingWriter{}
	if err := NewJSON(sw).OnSummary(NewSummary("http://127.0.0.1/down", "")); err != nil {
		t.Fatal(err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(sw.Data[0], &fields); err != nil {
		t.Fatal(err)
	}
	if _, found := fields["Upload"]; found {
		t.Fatal("the summary must not contain an upload")
	}
}
