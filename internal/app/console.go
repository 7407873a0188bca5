package app

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"netwarmer/internal/warmer"
)

// Report is what a consumer saw of one run.
type Report struct {
	Outcome     warmer.Outcome
	Speed       warmer.ThroughputResult
	SpeedKnown  bool
	Lines       int
	Interrupted bool
}

// Console prints a run's event stream as plain text.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console { return &Console{out: out} }

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

// Stopping acknowledges a cancellation request.
func (c *Console) Stopping() { c.println("\nStopping warming process...") }

// Consume prints events until the stream ends and returns what it observed.
// A stream closed without EventDone is reported as Interrupted.
func (c *Console) Consume(events <-chan warmer.Event) Report {
	rep := Report{Outcome: warmer.OutcomeCompleted}
	done := false
	for ev := range events {
		switch ev.Kind {
		case warmer.EventLog:
			rep.Lines++
			switch ev.Text {
			case warmer.MsgStopped:
				rep.Outcome = warmer.OutcomeStopped
				c.println("\n" + ev.Text)
			case warmer.MsgComplete:
				c.println("\n" + ev.Text)
			default:
				c.println(formatLine(ev))
			}
		case warmer.EventSpeed:
			rep.Speed = ev.Speed
			rep.SpeedKnown = true
		case warmer.EventDone:
			done = true
		}
	}
	rep.Interrupted = !done
	c.println(speedLine("Download", rep.Speed.DownloadMbps, rep.SpeedKnown))
	c.println(speedLine("Upload", rep.Speed.UploadMbps, rep.SpeedKnown))
	return rep
}

// formatLine indents everything a stage prints under its "[n/3]" header.
func formatLine(ev warmer.Event) string {
	if ev.Stage == warmer.StageNone || strings.HasPrefix(ev.Text, "[") {
		return ev.Text
	}
	return "  " + ev.Text
}

func speedLine(label string, mbps float64, known bool) string {
	if !known {
		return label + ": -- Mbps"
	}
	return fmt.Sprintf("%s: %.2f Mbps", label, mbps)
}
