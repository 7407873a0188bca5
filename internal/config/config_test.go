package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := `
logging:
  level: debug
speedtest:
  server_count: 3
schedule:
  enabled: true
  spec: "30m"
`
	cfg, err := Decode("netwarmer.yaml", []byte(yml))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Speedtest.ServerCount != 3 || !cfg.Schedule.Enabled {
		t.Fatalf("decoded = %+v", cfg)
	}
	// untouched fields keep their defaults
	if !cfg.Logging.Console || cfg.Speedtest.MaxConnections != 4 || cfg.Metrics.Addr != DefaultMetricsAddr {
		t.Fatalf("defaults lost: %+v", cfg)
	}

	js := `{"metrics":{"enabled":true,"addr":":9000"}}`
	cfg, err = Decode("netwarmer.json", []byte(js))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9000" || cfg.Metrics.Path != DefaultMetricsPath {
		t.Fatalf("metrics = %+v", cfg.Metrics)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown yaml key", "c.yaml", "logging:\n  colour: true\n"},
		{"unknown json key", "c.json", `{"targets":[]}`},
		{"trailing json", "c.json", `{} {}`},
		{"bad yaml", "c.yml", "logging: [\n"},
		{"wrong type", "c.json", `{"speedtest":{"server_count":"five"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecodeEmptyYAMLIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yaml", []byte("# nothing here\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level = %q, want info", cfg.Logging.Level)
	}
}

func TestReadFileMissingIsDefault(t *testing.T) {
	t.Parallel()
	cfg, err := ReadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if cfg.Speedtest.ServerCount != 5 || cfg.Schedule.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"default ok", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file without path", func(c *Config) { c.Logging.File.Enabled = true }, "logging.file.path"},
		{"negative servers", func(c *Config) { c.Speedtest.ServerCount = -1 }, "server_count"},
		{"bad timeout", func(c *Config) { c.Speedtest.OperationTimeout = "soon" }, "operation_timeout"},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParsedOperationTimeout(t *testing.T) {
	t.Parallel()
	d, err := SpeedtestConfig{}.ParsedOperationTimeout()
	if err != nil || d != 60*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = SpeedtestConfig{OperationTimeout: "0s"}.ParsedOperationTimeout()
	if err != nil || d != 0 {
		t.Fatalf("0s = %v, %v", d, err)
	}
	if _, err := (SpeedtestConfig{OperationTimeout: "-1s"}).ParsedOperationTimeout(); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	if got, _ := SummarizeChange(a, b); len(got) != 0 {
		t.Fatalf("identical configs changed = %v", got)
	}

	b.Logging.Level = "debug"
	b.Schedule.Spec = " 1h "
	b.Schedule.Enabled = true
	got, attrs := SummarizeChange(a, b)
	if strings.Join(got, ",") != "logging,schedule" {
		t.Fatalf("changed = %v", got)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}

	no := false
	c := Default()
	c.Schedule.RunOnStart = &no
	if got, _ := SummarizeChange(a, c); len(got) != 1 || got[0] != "schedule" {
		t.Fatalf("run_on_start change = %v", got)
	}
}

func TestManagerLoadAndValidator(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netwarmer.yaml")
	writeFile(t, path, "schedule:\n  enabled: true\n  spec: nope\n")

	m := NewConfigManager(path)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Schedule.Spec == "nope" {
			return os.ErrInvalid
		}
		return nil
	})
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("validator error not returned")
	}
	if m.Get() != nil {
		t.Fatal("rejected config was committed")
	}

	writeFile(t, path, "schedule:\n  enabled: true\n  spec: 5m\n")
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the loaded config")
	}
}

func TestManagerReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netwarmer.json")
	writeFile(t, path, `{"logging":{"level":"info"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file republished")
	}

	writeFile(t, path, `{"logging":{"level":"warn"}}`)
	if !m.reload(context.Background()) {
		t.Fatal("changed file not published")
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	default:
		t.Fatal("subscriber got nothing")
	}

	writeFile(t, path, `{"logging":{"level":"shouting"}}`)
	if m.reload(context.Background()) {
		t.Fatal("invalid config published")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatal("invalid config replaced the active one")
	}
}

func TestReloadKeepsConfigWhenFileRemoved(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netwarmer.yaml")
	writeFile(t, path, "schedule:\n  enabled: true\n  spec: 30m\n")

	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if m.reload(context.Background()) {
		t.Fatal("removed file published a config")
	}
	select {
	case cfg := <-sub:
		t.Fatalf("subscriber got %+v", cfg.Schedule)
	default:
	}
	if got := m.Get().Schedule; !got.Enabled || got.Spec != "30m" {
		t.Fatalf("active schedule = %+v, want previous", got)
	}

	writeFile(t, path, "schedule:\n  enabled: true\n  spec: 1h\n")
	if !m.reload(context.Background()) {
		t.Fatal("recreated file not published")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	first, second := Default(), Default()
	second.Logging.Level = "debug"

	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatal("slow subscriber did not receive the latest config")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed on Unsubscribe")
	}
	m.publish(first) // no subscribers, must not panic
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "netwarmer.yaml")
	writeFile(t, path, "logging:\n  level: info\n")

	m := NewConfigManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register the directory
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "error" {
				t.Fatalf("level = %q", cfg.Logging.Level)
			}
			return
		case <-tick.C:
			writeFile(t, path, "logging:\n  level: error\n")
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
