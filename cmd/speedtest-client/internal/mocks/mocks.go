// Package mocks contains mocks used by the speedtest-client tests.
package mocks

import "errors"

// ErrMocked is a mocked error.
var ErrMocked = errors.New("mocked error")

// SavingWriter is a writer that saves what it's passed.
type SavingWriter struct {
	Data [][]byte
}

// Write implements io.Writer.Write.
func (sw *SavingWriter) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	sw.Data = append(sw.Data, data)
	return len(p), nil
}

// FailingWriter is a writer that always fails.
type FailingWriter struct{}

// Write implements io.Writer.Write.
func (FailingWriter) Write(p []byte) (int, error) {
	return 0, ErrMocked
}
