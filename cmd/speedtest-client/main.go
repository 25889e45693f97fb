// Command speedtest-client measures download and upload throughput
// against user supplied URLs.
//
// Usage:
//
//	speedtest-client -download-url URL [-upload-url URL] [flags]
//
// The download URL may use the http, https, ws, or wss scheme. An
// http(s) download fetches the resource with a GET request; a ws(s)
// download reads binary messages until the server closes the channel.
// The upload sends -upload-size bytes with a POST request, or as binary
// messages for ws(s), and waits for the server to acknowledge them.
//
// Every flag may also be set with an environment variable named like the
// flag in upper case with dashes replaced by underscores (e.g.
// DOWNLOAD_URL), or in the YAML file passed with -config. Flags passed on
// the command line win over the environment, which wins over the file.
//
// With -format=json, each line of the standard output is a JSON object
// with a "Key" and a "Value". The keys are "starting", "progress",
// "complete" and "failure", e.g.
//
//	{"Key":"progress","Value":{"TaskID":"...","Direction":"download","Percent":10,
//	  "Elapsed":0.5,"Transferred":65536,"Total":655360,
//	  "BitsPerSecond":"1048576","BytesPerSecond":"131072"}}
//
// Rates are decimal strings in bit/s and byte/s. The last line is the
// summary, which carries the URL, the number of bytes, the average rates
// and the failure kind of each direction.
//
// Certificates of https and wss servers are verified against the system
// roots, or against the PEM certificates in -ca-file when it is set.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	speedtest "github.com/m-lab/speedtest-client-go"
	"github.com/m-lab/speedtest-client-go/cmd/speedtest-client/internal/emitter"
	"github.com/m-lab/speedtest-client-go/internal/config"
	"github.com/m-lab/speedtest-client-go/internal/trafficshaping"
)

const (
	clientName        = "speedtest-client-go-cmd"
	clientVersion     = "0.1.0"
	defaultTimeout    = 55 * time.Second
	defaultUploadSize = 10 << 20
)

var (
	flagDownloadURL = flag.String("download-url", "", "URL to download from")
	flagUploadURL   = flag.String("upload-url", "", "URL to upload to")
	flagUploadSize  = flag.Int64("upload-size", defaultUploadSize, "Number of bytes to upload")
	flagDuration    = flag.Duration(
		"duration", 0, "Fixed download duration (zero follows the length announced by the server)")
	flagRepeatCount  = flag.Int("repeat-count", 0, "Repeat each transfer this many times")
	flagRepeatWindow = flag.Duration("repeat-window", 0, "Repeat each transfer for this long")
	flagTimeout      = flag.Duration(
		"timeout", defaultTimeout, "time after which the run is aborted")
	flagChunkSize      = flag.Int("chunk-size", speedtest.DefaultChunkSize, "Size of each read or write")
	flagSampleInterval = flag.Duration(
		"sample-interval", 100*time.Millisecond, "Minimum interval between progress reports")
	flagThrottle = flag.Int64("throttle", 0, "Throttle connections to this many bit/s (0 disables)")
	flagParallel = flag.Bool("parallel", false, "Run the download and the upload at the same time")
	flagFormat   = flagx.Enum{
		Options: []string{"human", "json"},
		Value:   "human",
	}
	flagQuiet   = flag.Bool("quiet", false, "emit summary and errors only")
	flagVerbose = flag.Bool("verbose", false, "Log transfer state transitions on stderr")
	flagConfig  = flag.String("config", "", "Optional YAML configuration file")
	flagCAFile  = flag.String(
		"ca-file", "", "PEM file with the certificates trusted for https and wss (default: system roots)")
	flagSubprotocol = flag.String(
		"ws-subprotocol", "", "WebSocket subprotocol requested from ws and wss servers")
)

func init() {
	flag.Var(
		&flagFormat,
		"format",
		`Output format: "human" or "json"`,
	)
}

// options contains what to measure.
type options struct {
	downloadURL string
	uploadURL   string
	uploadSize  int64
	duration    time.Duration
	repeat      speedtest.RepeatConfig
	parallel    bool
}

func (o options) repeating() bool {
	return o.repeat.Count > 0 || o.repeat.Window > 0
}

// applyConfig sets the flags that the user did not set explicitly to the
// values found in the configuration file.
func applyConfig(fs *flag.FlagSet, c *config.Config) error {
	visited := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})
	for name, value := range c.Flags() {
		if visited[name] {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
	return zerolog.New(cw).Level(level).With().Timestamp().Logger()
}

func newEmitter(format string, quiet bool) emitter.Emitter {
	var e emitter.Emitter
	switch format {
	case "json":
		e = emitter.NewJSON(os.Stdout)
	default:
		e = emitter.NewHumanReadable()
	}
	if quiet {
		e = emitter.NewQuiet(e)
	}
	return e
}

// transportOptions configures the connections factories.
type transportOptions struct {
	throttle    int64
	caFile      string
	subprotocol string
}

// loadRoots reads the PEM certificates in path.
func loadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%s: no certificates found", path)
	}
	return pool, nil
}

func newEngine(logger zerolog.Logger, topts transportOptions) (*speedtest.Engine, error) {
	var dialer speedtest.NetDialer = new(net.Dialer)
	if topts.throttle > 0 {
		dialer = trafficshaping.Wrap(new(net.Dialer), topts.throttle, topts.throttle)
	}
	engine := speedtest.NewEngine(clientName, clientVersion)
	raw := speedtest.NewRawConnectionsFactory(dialer)
	ws := speedtest.NewWSConnectionsFactory(dialer)
	ws.Subprotocol = topts.subprotocol
	if topts.caFile != "" {
		roots, err := loadRoots(topts.caFile)
		if err != nil {
			return nil, err
		}
		raw.TLSConfig = &tls.Config{RootCAs: roots}
		ws.Dialer.TLSClientConfig = &tls.Config{RootCAs: roots}
	}
	engine.Transports["http"] = raw
	engine.Transports["https"] = raw
	engine.Transports["ws"] = ws
	engine.Transports["wss"] = ws
	engine.Config.ChunkSize = *flagChunkSize
	engine.Config.SampleInterval = *flagSampleInterval
	engine.Logger = logger
	return engine, nil
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	if *flagConfig != "" {
		c, err := config.Load(*flagConfig)
		rtx.Must(err, "Could not load %s", *flagConfig)
		rtx.Must(applyConfig(flag.CommandLine, c), "Could not apply %s", *flagConfig)
	}
	opts := options{
		downloadURL: *flagDownloadURL,
		uploadURL:   *flagUploadURL,
		uploadSize:  *flagUploadSize,
		duration:    *flagDuration,
		repeat:      speedtest.RepeatConfig{Count: *flagRepeatCount, Window: *flagRepeatWindow},
		parallel:    *flagParallel,
	}
	if opts.downloadURL == "" && opts.uploadURL == "" {
		rtx.Must(errors.New("nothing to do"), "Please specify -download-url and/or -upload-url")
	}
	e := newEmitter(flagFormat.Value, *flagQuiet)
	engine, err := newEngine(newLogger(*flagVerbose), transportOptions{
		throttle:    *flagThrottle,
		caFile:      *flagCAFile,
		subprotocol: *flagSubprotocol,
	})
	rtx.Must(err, "Could not configure the transports")
	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()
	summary, err := run(ctx, engine, e, opts)
	rtx.Must(e.OnSummary(summary), "Could not emit the summary")
	if err != nil {
		os.Exit(1)
	}
}

// run performs the requested transfers, one after the other unless
// opts.parallel is set, and returns their summary. The returned error
// joins the errors of the failed transfers.
func run(ctx context.Context, engine *speedtest.Engine, e emitter.Emitter, opts options) (*emitter.Summary, error) {
	summary := emitter.NewSummary(opts.downloadURL, opts.uploadURL)
	g, ctx := errgroup.WithContext(ctx)
	if !opts.parallel {
		g.SetLimit(1)
	}
	if opts.downloadURL != "" {
		g.Go(func() error {
			return consume(ctx, e, speedtest.Download, summary.Download, func(l speedtest.Listener) error {
				switch {
				case opts.repeating():
					return engine.StartDownloadRepeat(ctx, opts.downloadURL, l, opts.repeat)
				case opts.duration > 0:
					return engine.StartFixedDownload(ctx, opts.downloadURL, opts.duration, l)
				default:
					return engine.StartDownload(ctx, opts.downloadURL, l)
				}
			})
		})
	}
	if opts.uploadURL != "" {
		g.Go(func() error {
			return consume(ctx, e, speedtest.Upload, summary.Upload, func(l speedtest.Listener) error {
				if opts.repeating() {
					return engine.StartUploadRepeat(ctx, opts.uploadURL, opts.uploadSize, l, opts.repeat)
				}
				return engine.StartUpload(ctx, opts.uploadURL, opts.uploadSize, l)
			})
		})
	}
	err := g.Wait()
	return summary, errors.Join(err, summary.Download.Err(speedtest.Download), summary.Upload.Err(speedtest.Upload))
}

// consume starts a transfer and feeds its events to e and to res. A failed
// transfer is recorded in res; the returned error is only non-nil when the
// transfer could not start, the output could not be written, or the
// context is done, so that a failed download does not prevent the upload.
func consume(
	ctx context.Context, e emitter.Emitter, d speedtest.Direction, res *emitter.Result,
	start func(speedtest.Listener) error,
) error {
	listener := speedtest.NewChannelListener(64)
	if err := start(listener); err != nil {
		return err
	}
	if err := e.OnStarting(d, res.URL); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", d, ctx.Err())
		case ev := <-listener.C():
			res.Observe(ev)
			switch {
			case ev.Progress != nil:
				if err := e.OnProgress(*ev.Progress); err != nil {
					return err
				}
			case ev.Completion != nil:
				return e.OnComplete(d, *ev.Completion)
			case ev.Failure != nil:
				return e.OnFailure(d, *ev.Failure)
			}
		}
	}
}
