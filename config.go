package speedtest

import "time"

const (
	// DefaultChunkSize is the default size of a single read or write.
	DefaultChunkSize = 1 << 17

	// DefaultTimeout is the default per-operation timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultDuration is the default duration of a transfer whose
	// size is not known in advance.
	DefaultDuration = 10 * time.Second
)

// Config configures an Engine. The zero value of each field selects
// the corresponding default.
type Config struct {
	// ChunkSize is the size of the buffer used for each read or write.
	ChunkSize int

	// ConnectTimeout bounds dialing plus the protocol handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each read.
	ReadTimeout time.Duration

	// WriteTimeout bounds each write and waiting for the upload
	// acknowledgment.
	WriteTimeout time.Duration

	// Duration is the target duration of open-ended downloads, i.e.
	// downloads for which the server does not announce a length.
	Duration time.Duration

	// Window is the width of the rate smoothing window.
	Window time.Duration

	// SampleInterval is the minimum interval between two progress
	// reports. Zero means that no time based limit applies.
	SampleInterval time.Duration

	// ReportEvery emits a progress report every ReportEvery chunks.
	// Zero and one both mean every chunk.
	ReportEvery int

	// UserAgent is sent to the server.
	UserAgent string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		ConnectTimeout: DefaultTimeout,
		ReadTimeout:    DefaultTimeout,
		WriteTimeout:   DefaultTimeout,
		Duration:       DefaultDuration,
		Window:         DefaultWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Duration <= 0 {
		c.Duration = d.Duration
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}
