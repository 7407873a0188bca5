package warmer

import "fmt"

// EventKind tags the Event variant.
type EventKind int

const (
	// EventLog is a human-readable progress line.
	EventLog EventKind = iota
	// EventSpeed carries the throughput result of a run.
	EventSpeed
	// EventDone is the last event of every run.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventSpeed:
		return "speed"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one notification on a run's event stream.
//
// Log events may carry the Stage that produced them, the tally for stage
// summary lines and the underlying error for failure lines.
type Event struct {
	Kind  EventKind
	Text  string
	Stage Stage

	Result *StageResult
	Speed  ThroughputResult
	Err    error
}

func (e Event) String() string {
	switch e.Kind {
	case EventSpeed:
		return fmt.Sprintf("speed(%.2f, %.2f)", e.Speed.DownloadMbps, e.Speed.UploadMbps)
	case EventDone:
		return "done"
	default:
		return e.Text
	}
}

// Run-level progress lines.
const (
	MsgStarted   = "=== Network Warming Started ==="
	MsgStopped   = "=== Network Warming Stopped ==="
	MsgComplete  = "=== Network Warming Complete ==="
	MsgOptimized = "Network connection optimized."
)

func logEvent(stage Stage, format string, args ...any) Event {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	return Event{Kind: EventLog, Text: text, Stage: stage}
}

func summaryEvent(stage Stage, label string, res StageResult) Event {
	r := res
	ev := logEvent(stage, "%s: %d/%d successful", label, res.Succeeded, res.Attempted)
	ev.Result = &r
	return ev
}

func failureEvent(stage Stage, text string, err error) Event {
	return Event{Kind: EventLog, Text: text, Stage: stage, Err: err}
}

func speedEvent(res ThroughputResult) Event {
	return Event{Kind: EventSpeed, Stage: StageThroughput, Speed: res}
}

func doneEvent() Event { return Event{Kind: EventDone} }
