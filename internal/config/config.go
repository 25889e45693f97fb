// Package config loads the optional YAML configuration of the
// speedtest-client command. Settings in the file act as defaults for the
// corresponding command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ErrInvalid is returned when the file contains invalid values.
var ErrInvalid = errors.New("invalid configuration")

// Repeat configures repeat mode.
type Repeat struct {
	Count  int           `yaml:"count,omitempty"`
	Window time.Duration `yaml:"window,omitempty"`
}

// Config is the content of the configuration file.
type Config struct {
	DownloadURL    string        `yaml:"downloadUrl,omitempty"`
	UploadURL      string        `yaml:"uploadUrl,omitempty"`
	UploadSize     int64         `yaml:"uploadSize,omitempty"`
	Duration       time.Duration `yaml:"duration,omitempty"`
	Repeat         Repeat        `yaml:"repeat,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	ChunkSize      int           `yaml:"chunkSize,omitempty"`
	SampleInterval time.Duration `yaml:"sampleInterval,omitempty"`
	Throttle       int64         `yaml:"throttle,omitempty"`
	Parallel       bool          `yaml:"parallel,omitempty"`
	Format         string        `yaml:"format,omitempty"`
	CAFile         string        `yaml:"caFile,omitempty"`
	WSSubprotocol  string        `yaml:"wsSubprotocol,omitempty"`
}

// Load reads the configuration from the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses a configuration. Unknown keys are rejected. An empty
// document yields the zero Config.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch {
	case c.UploadSize < 0:
		return fmt.Errorf("%w: negative uploadSize", ErrInvalid)
	case c.Duration < 0, c.Timeout < 0, c.SampleInterval < 0, c.Repeat.Window < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	case c.Repeat.Count < 0:
		return fmt.Errorf("%w: negative repeat count", ErrInvalid)
	case c.ChunkSize < 0:
		return fmt.Errorf("%w: negative chunkSize", ErrInvalid)
	case c.Throttle < 0:
		return fmt.Errorf("%w: negative throttle", ErrInvalid)
	}
	return nil
}

// Flags returns the values of the settings present in the file keyed
// by the name of the flag they provide a default for.
func (c *Config) Flags() map[string]string {
	out := make(map[string]string)
	setString := func(name, value string) {
		if value != "" {
			out[name] = value
		}
	}
	setInt := func(name string, value int64) {
		if value != 0 {
			out[name] = strconv.FormatInt(value, 10)
		}
	}
	setDuration := func(name string, value time.Duration) {
		if value != 0 {
			out[name] = value.String()
		}
	}
	setString("download-url", c.DownloadURL)
	setString("upload-url", c.UploadURL)
	setInt("upload-size", c.UploadSize)
	setDuration("duration", c.Duration)
	setInt("repeat-count", int64(c.Repeat.Count))
	setDuration("repeat-window", c.Repeat.Window)
	setDuration("timeout", c.Timeout)
	setInt("chunk-size", int64(c.ChunkSize))
	setDuration("sample-interval", c.SampleInterval)
	setInt("throttle", c.Throttle)
	setString("format", c.Format)
	setString("ca-file", c.CAFile)
	setString("ws-subprotocol", c.WSSubprotocol)
	if c.Parallel {
		out["parallel"] = "true"
	}
	return out
}
