package config

import (
	"strings"

	"netwarmer/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and structured
// fields describing their new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Speedtest != newCfg.Speedtest {
		changed = append(changed, "speedtest")
		attrs = append(attrs,
			logx.Int("speedtest.server_count", newCfg.Speedtest.ServerCount),
			logx.Int("speedtest.max_connections", newCfg.Speedtest.MaxConnections),
			logx.Bool("speedtest.saving_mode", newCfg.Speedtest.SavingMode),
		)
	}

	if !scheduleEqual(oldCfg.Schedule, newCfg.Schedule) {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.Bool("schedule.enabled", newCfg.Schedule.Enabled),
			logx.String("schedule.spec", strings.TrimSpace(newCfg.Schedule.Spec)),
			logx.String("schedule.timezone", strings.TrimSpace(newCfg.Schedule.Timezone)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
		)
	}

	return changed, attrs
}

func scheduleEqual(a, b ScheduleConfig) bool {
	return a.Enabled == b.Enabled &&
		strings.TrimSpace(a.Spec) == strings.TrimSpace(b.Spec) &&
		strings.TrimSpace(a.Timezone) == strings.TrimSpace(b.Timezone) &&
		a.ShouldRunOnStart() == b.ShouldRunOnStart()
}
