package app

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"netwarmer/internal/warmer"
	"netwarmer/pkg/logx"
)

func TestConsoleIndentsStageLines(t *testing.T) {
	t.Parallel()
	events := make(chan warmer.Event, 8)
	events <- warmer.Event{Kind: warmer.EventLog, Text: warmer.MsgStarted}
	events <- warmer.Event{Kind: warmer.EventLog, Stage: warmer.StageReachability, Text: "[1/3] HTTP Warm-up..."}
	events <- warmer.Event{Kind: warmer.EventLog, Stage: warmer.StageReachability, Text: "HTTP: 0/5 successful"}
	events <- warmer.Event{Kind: warmer.EventLog, Stage: warmer.StageThroughput, Text: "Speed test failed: boom", Err: errors.New("boom")}
	events <- warmer.Event{Kind: warmer.EventLog, Text: warmer.MsgComplete}
	events <- warmer.Event{Kind: warmer.EventDone}
	close(events)

	var out bytes.Buffer
	rep := NewConsole(&out).Consume(events)
	if rep.Interrupted || rep.Lines != 5 || rep.SpeedKnown {
		t.Fatalf("report = %+v", rep)
	}
	want := strings.Join([]string{
		warmer.MsgStarted,
		"[1/3] HTTP Warm-up...",
		"  HTTP: 0/5 successful",
		"  Speed test failed: boom",
		"",
		warmer.MsgComplete,
		"Download: -- Mbps",
		"Upload: -- Mbps",
		"",
	}, "\n")
	if out.String() != want {
		t.Fatalf("output:\n%q\nwant:\n%q", out.String(), want)
	}
}

func TestConsoleReportsMissingDone(t *testing.T) {
	t.Parallel()
	events := make(chan warmer.Event, 2)
	events <- warmer.Event{Kind: warmer.EventSpeed, Speed: warmer.ThroughputResult{DownloadMbps: 1.5, UploadMbps: 0.25}}
	close(events)

	var out bytes.Buffer
	rep := NewConsole(&out).Consume(events)
	if !rep.Interrupted {
		t.Fatal("stream without Done not flagged")
	}
	if !strings.Contains(out.String(), "Download: 1.50 Mbps\nUpload: 0.25 Mbps") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSDNotifierStates(t *testing.T) {
	t.Parallel()
	var got []string
	n := newSDNotifier(logx.Nop())
	n.send = func(state string) (bool, error) {
		got = append(got, state)
		if strings.HasPrefix(state, "STATUS=fail") {
			return false, errors.New("socket gone")
		}
		return true, nil
	}
	n.Ready()
	n.Status("idle")
	n.Status("fail")
	n.Stopping()
	want := []string{"READY=1", "STATUS=idle", "STATUS=fail", "STOPPING=1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("states = %v, want %v", got, want)
	}
}
