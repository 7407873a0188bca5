package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"netwarmer/internal/config"
	"netwarmer/internal/warmer"
	"netwarmer/pkg/logx"
)

// Trigger starts a warm-up run. It must not block for the duration of the run.
type Trigger func(reason string) error

// Stats counts trigger outcomes since New.
type Stats struct {
	Fired    uint64
	Skipped  uint64
	Failed   uint64
	Schedule string
}

// Service fires Trigger on a cron or interval schedule. Overlapping triggers
// are rejected by the warmer and only logged here.
type Service struct {
	log     logx.Logger
	trigger Trigger
	parser  cron.Parser

	mu   sync.Mutex
	cfg  config.ScheduleConfig
	spec ParsedSpec
	loc  *time.Location
	c    *cron.Cron

	fired, skipped, failed atomic.Uint64
}

func newParser() cron.Parser {
	// SecondOptional allows both 5-field and 6-field cron specs.
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

func New(trigger Trigger, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		trigger: trigger,
		parser:  newParser(),
		loc:     time.Local,
	}
}

// Validate checks a schedule section the same way Apply would.
func Validate(cfg config.ScheduleConfig) error {
	if !cfg.Enabled {
		return nil
	}
	_, _, err := resolve(newParser(), cfg)
	return err
}

func resolve(parser cron.Parser, cfg config.ScheduleConfig) (ParsedSpec, cron.Schedule, error) {
	spec, err := ParseSchedule(cfg.Spec)
	if err != nil {
		return ParsedSpec{}, nil, fmt.Errorf("schedule.spec: %w", err)
	}
	if spec.Kind == SpecInterval {
		return spec, cron.Every(spec.Every), nil
	}
	sched, err := parser.Parse(spec.Cron)
	if err != nil {
		return ParsedSpec{}, nil, fmt.Errorf("schedule.spec: invalid cron %q: %w", spec.Cron, err)
	}
	return spec, sched, nil
}

// Apply installs cfg. When the service is running the cron is rebuilt only if
// the schedule or timezone changed.
func (s *Service) Apply(cfg config.ScheduleConfig) error {
	var spec ParsedSpec
	if cfg.Enabled {
		var err error
		if spec, _, err = resolve(s.parser, cfg); err != nil {
			return err
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	same := s.cfg.Enabled == cfg.Enabled &&
		strings.TrimSpace(s.cfg.Spec) == strings.TrimSpace(cfg.Spec) &&
		s.loc.String() == loc.String()
	s.cfg, s.spec, s.loc = cfg, spec, loc
	if s.c != nil && !same {
		s.restartLocked()
	}
	return nil
}

// Start begins triggering. With run_on_start the first run is fired at once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	s.startLocked()
	runNow := s.cfg.Enabled && s.cfg.ShouldRunOnStart()
	s.mu.Unlock()

	if runNow && ctx.Err() == nil {
		s.fire("startup")
	}
}

// Stop halts triggering. Runs already started are not affected.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Next returns the next planned trigger, if any.
func (s *Service) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	for _, e := range s.c.Entries() {
		if !e.Next.IsZero() {
			return e.Next, true
		}
	}
	return time.Time{}, false
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	sched := ""
	if s.cfg.Enabled {
		sched = s.spec.String()
	}
	s.mu.Unlock()
	return Stats{
		Fired:    s.fired.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
		Schedule: sched,
	}
}

func (s *Service) startLocked() {
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	if s.cfg.Enabled {
		_, sched, err := resolve(s.parser, s.cfg)
		if err != nil {
			// Apply already validated; only a programming error gets here.
			s.log.Error("schedule rejected", logx.Err(err))
		} else {
			s.c.Schedule(sched, cron.FuncJob(func() { s.fire("schedule") }))
		}
	}
	s.c.Start()

	if s.cfg.Enabled {
		s.log.Info("scheduler started",
			logx.String("schedule", s.spec.String()),
			logx.String("tz", s.loc.String()),
		)
	} else {
		s.log.Info("scheduler idle (schedule disabled)")
	}
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
}

func (s *Service) fire(reason string) {
	err := s.trigger(reason)
	switch {
	case err == nil:
		s.fired.Add(1)
		s.log.Info("warm-up triggered", logx.String("reason", reason))
	case errors.Is(err, warmer.ErrAlreadyRunning):
		s.skipped.Add(1)
		s.log.Info("warm-up skipped: previous run still active", logx.String("reason", reason))
	default:
		s.failed.Add(1)
		s.log.Warn("warm-up trigger failed", logx.String("reason", reason), logx.Err(err))
	}
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
