package emitter

import (
	"fmt"
	"io"
	"os"
	"strings"

	speedtest "github.com/m-lab/speedtest-client-go"
)

// HumanReadable is a human readable emitter. It emits the events generated
// by running the transfers as pleasant stdout messages.
type HumanReadable struct {
	out io.Writer
}

// NewHumanReadable returns a new human readable emitter.
func NewHumanReadable() Emitter {
	return HumanReadable{os.Stdout}
}

// NewHumanReadableWithWriter returns a new human readable emitter using the
// specified writer.
func NewHumanReadableWithWriter(w io.Writer) Emitter {
	return HumanReadable{w}
}

// OnStarting handles the start of a transfer.
func (h HumanReadable) OnStarting(d speedtest.Direction, rawURL string) error {
	_, err := fmt.Fprintf(h.out, "\r%-10s%s\n", d.String()+":", rawURL)
	return err
}

// OnProgress handles a progress event during a transfer. The line is
// overwritten by the next event. The repetition is shown in repeat mode.
func (h HumanReadable) OnProgress(r speedtest.Report) error {
	label := r.Direction.String()
	if r.Repetition > 0 {
		label = fmt.Sprintf("%s#%d", label, r.Repetition)
	}
	_, err := fmt.Fprintf(h.out, "\r%-10s%5.1f%% %11s Mbit/s %12d bytes",
		label+":", r.Progress, megabits(r.Rate.BitsPerSecond), r.Transferred)
	return err
}

// OnComplete handles the completion of a transfer.
func (h HumanReadable) OnComplete(d speedtest.Direction, c speedtest.Completion) error {
	_, err := fmt.Fprintf(h.out, "\r%-10s%s Mbit/s, %d bytes\n",
		d.String()+":", megabits(c.BitsPerSecond), c.PacketSize)
	return err
}

// OnFailure handles the failure of a transfer.
func (h HumanReadable) OnFailure(d speedtest.Direction, f speedtest.Failure) error {
	_, err := fmt.Fprintf(h.out, "\r%-10s%s: %s\n", d.String()+":", f.Kind, f.Message)
	return err
}

// OnSummary handles the summary event.
func (h HumanReadable) OnSummary(s *Summary) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, d := range []speedtest.Direction{speedtest.Download, speedtest.Upload} {
		r := s.Result(d)
		if r == nil {
			continue
		}
		name := strings.ToUpper(d.String()[:1]) + d.String()[1:]
		fmt.Fprintf(&b, "%15s: %s\n", name+" URL", r.URL)
		switch {
		case r.Failure != nil:
			fmt.Fprintf(&b, "%15s: %s: %s\n", name, r.Failure.Kind, r.Failure.Message)
		case r.Completed:
			fmt.Fprintf(&b, "%15s: %s Mbit/s\n", name, megabits(r.BitsPerSecond))
		default:
			fmt.Fprintf(&b, "%15s: incomplete\n", name)
		}
		fmt.Fprintf(&b, "%15s: %d bytes\n", "Transferred", r.Bytes)
	}
	_, err := io.WriteString(h.out, b.String())
	return err
}
