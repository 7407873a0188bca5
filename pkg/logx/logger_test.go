package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "debug", "Warn"} {
		if !ValidLevel(ok) {
			t.Fatalf("ValidLevel(%q) = false, want true", ok)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true, want false")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped", String("k", "v"))
	if l.Enabled(LevelError) {
		t.Fatal("zero logger should not be enabled")
	}
}

func TestServiceConsoleLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "warn", Console: true}, &buf)
	defer svc.Close()

	log = log.With(String("comp", "test"))
	log.Info("hidden")
	log.Warn("visible", Int("n", 3), Err(errors.New("boom")))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	for _, want := range []string{"visible", "comp=test", "n=3", "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}

	// Apply is live for loggers derived before the change.
	buf.Reset()
	svc.Apply(Config{Level: "debug", Console: true})
	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug line missing after Apply: %q", buf.String())
	}
}

func TestServiceFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	var console bytes.Buffer
	svc, log := newService(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, &console)

	log.Info("to file", Float64("mbps", 12.5))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, b)
	}
	if rec["message"] != "to file" {
		t.Fatalf("message = %v, want %q", rec["message"], "to file")
	}
	if rec["mbps"] != 12.5 {
		t.Fatalf("mbps = %v, want 12.5", rec["mbps"])
	}
	if console.Len() != 0 {
		t.Fatalf("console disabled but got %q", console.String())
	}
}
