package config

// Config is the on-disk configuration of netwarmer.
//
// Probe targets and per-probe timeouts are deliberately absent: they are
// fixed by the warm-up pipeline.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Speedtest SpeedtestConfig `json:"speedtest"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SpeedtestConfig tunes the throughput provider.
type SpeedtestConfig struct {
	ServerCount     int  `json:"server_count"`
	MaxConnections  int  `json:"max_connections"`
	SavingMode      bool `json:"saving_mode"`
	PingConcurrency int  `json:"ping_concurrency"`
	DisableHTTP2    bool `json:"disable_http2"`
	// OperationTimeout is a Go duration string bounding each speedtest step.
	// "0s" disables it.
	OperationTimeout string `json:"operation_timeout,omitempty"`
}

// ScheduleConfig enables daemon mode.
//
// Spec accepts a cron expression ("*/30 * * * *", "@hourly"), a Go duration
// ("30m") or HH:MM ("00:30" = every 30 minutes).
type ScheduleConfig struct {
	Enabled    bool   `json:"enabled"`
	Spec       string `json:"spec"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart *bool  `json:"run_on_start,omitempty"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Path    string `json:"path,omitempty"` // default: "/metrics"
}

const (
	DefaultMetricsAddr      = "127.0.0.1:9464"
	DefaultMetricsPath      = "/metrics"
	DefaultOperationTimeout = "60s"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Speedtest: SpeedtestConfig{
			ServerCount:      5,
			MaxConnections:   4,
			PingConcurrency:  4,
			OperationTimeout: DefaultOperationTimeout,
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr, Path: DefaultMetricsPath},
	}
}

// ShouldRunOnStart reports whether daemon mode fires once immediately.
// Defaults to true when omitted.
func (s ScheduleConfig) ShouldRunOnStart() bool {
	return s.RunOnStart == nil || *s.RunOnStart
}
