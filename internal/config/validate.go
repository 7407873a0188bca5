package config

import (
	"errors"
	"fmt"
	"strings"

	"netwarmer/pkg/logx"
)

// Validate checks values that decode fine but cannot be used. Schedule
// expressions are checked by the scheduler, which owns their grammar.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}

	st := cfg.Speedtest
	if st.ServerCount < 0 {
		errs = append(errs, errors.New("speedtest.server_count: must be >= 0"))
	}
	if st.MaxConnections < 0 {
		errs = append(errs, errors.New("speedtest.max_connections: must be >= 0"))
	}
	if st.PingConcurrency < 0 {
		errs = append(errs, errors.New("speedtest.ping_concurrency: must be >= 0"))
	}
	if _, err := st.ParsedOperationTimeout(); err != nil {
		errs = append(errs, err)
	}

	if _, err := cfg.Schedule.Location(); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Enabled {
		if strings.TrimSpace(cfg.Metrics.Addr) == "" {
			errs = append(errs, errors.New("metrics.addr: required when metrics are enabled"))
		}
		if p := strings.TrimSpace(cfg.Metrics.Path); p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("metrics.path: must start with '/', got %q", p))
		}
	}
	return errors.Join(errs...)
}
