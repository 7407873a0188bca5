package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParsedOperationTimeout resolves speedtest.operation_timeout. An empty value means
// the default; "0s" disables the bound.
func (s SpeedtestConfig) ParsedOperationTimeout() (time.Duration, error) {
	if strings.TrimSpace(s.OperationTimeout) == "" {
		return time.ParseDuration(DefaultOperationTimeout)
	}
	return ParseDurationField("speedtest.operation_timeout", s.OperationTimeout)
}

// Location resolves schedule.timezone, falling back to time.Local.
func (s ScheduleConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}
