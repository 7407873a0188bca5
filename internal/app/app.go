package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"netwarmer/internal/config"
	"netwarmer/internal/metrics"
	"netwarmer/internal/probe"
	rtsup "netwarmer/internal/runtime/supervisor"
	"netwarmer/internal/scheduler"
	"netwarmer/internal/warmer"
	"netwarmer/pkg/logx"
	"netwarmer/pkg/speedtest"
)

// Options are the command-line level inputs of the application.
type Options struct {
	ConfigPath string
	// Schedule, when set, overrides schedule.spec and enables daemon mode.
	Schedule string
	// LogLevel, when set, overrides logging.level.
	LogLevel string
	// Out receives the run transcript. Defaults to os.Stdout.
	Out io.Writer

	// Deps replaces the network primitives (tests). Nil means the real ones.
	Deps *warmer.Deps
	// WarmerOptions are appended after the defaults.
	WarmerOptions []warmer.Option
}

// App wires config, logging, the warmer and the daemon services together.
type App struct {
	opts Options

	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	sup  *rtsup.Supervisor

	warm    *warmer.Warmer
	closers []io.Closer
	obs     *metrics.Collector
	metrics *metrics.Server
	sched   *scheduler.Service
	console *Console
	sd      *sdNotifier

	lastMu sync.Mutex
	last   *Report
}

func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if lvl := strings.TrimSpace(opts.LogLevel); lvl != "" && !logx.ValidLevel(lvl) {
		return nil, fmt.Errorf("invalid log level %q", opts.LogLevel)
	}

	a := &App{opts: opts}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return scheduler.Validate(a.effective(cfg).Schedule)
	})
	raw, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg := a.effective(raw)

	logs, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a.cfgm = cfgm
	a.logs = logs
	a.log = log.With(logx.String("comp", "app"))
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(log.With(logx.String("comp", "app.sup"))),
		rtsup.WithCancelOnError(true),
	)
	a.obs = metrics.NewCollector()
	a.console = NewConsole(opts.Out)
	a.sd = newSDNotifier(log.With(logx.String("comp", "systemd")))

	var deps warmer.Deps
	if opts.Deps != nil {
		deps = *opts.Deps
	} else {
		deps = a.defaultDeps()
	}
	wopts := append([]warmer.Option{
		warmer.WithLogger(log),
		warmer.WithObserver(a.obs),
	}, opts.WarmerOptions...)
	a.warm, err = warmer.New(a.sup.Context(), deps, wopts...)
	if err != nil {
		a.sup.Cancel()
		_ = a.closeAll()
		return nil, err
	}

	a.metrics = metrics.NewServer(a.obs.Registry(), log.With(logx.String("comp", "metrics")))
	a.sched = scheduler.New(a.trigger, log.With(logx.String("comp", "scheduler")))
	if err := a.sched.Apply(cfg.Schedule); err != nil {
		_ = a.warm.Close(ctx)
		_ = a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) defaultDeps() warmer.Deps {
	fetcher := probe.NewHTTPFetcher()
	a.closers = append(a.closers, fetcher)
	return warmer.Deps{
		Fetcher:       fetcher,
		Sender:        probe.NewUDPSender(),
		NewThroughput: a.newThroughput,
	}
}

// newThroughput builds a provider from the current speedtest config, so
// reloads take effect on the next run.
func (a *App) newThroughput(context.Context) (warmer.ThroughputProvider, error) {
	sc := a.cfgm.Get().Speedtest
	timeout, err := sc.ParsedOperationTimeout()
	if err != nil {
		return nil, err
	}
	spawn := speedtest.SpawnerFunc(func(name string, fn func()) {
		a.sup.Go0(name, func(context.Context) { fn() })
	})
	return speedtest.New(speedtest.Config{
		ServerCount:      sc.ServerCount,
		MaxConnections:   sc.MaxConnections,
		SavingMode:       sc.SavingMode,
		PingConcurrency:  sc.PingConcurrency,
		DisableHTTP2:     sc.DisableHTTP2,
		OperationTimeout: timeout,
	},
		speedtest.WithSpawner(spawn),
		speedtest.WithLogger(a.log.With(logx.String("comp", "speedtest"))),
	), nil
}

// effective applies command-line overrides on top of a loaded config.
func (a *App) effective(cfg *config.Config) *config.Config {
	cp := *cfg
	if s := strings.TrimSpace(a.opts.Schedule); s != "" {
		cp.Schedule.Enabled = true
		cp.Schedule.Spec = s
	}
	if lvl := strings.TrimSpace(a.opts.LogLevel); lvl != "" {
		cp.Logging.Level = lvl
	}
	return &cp
}

func (a *App) config() *config.Config { return a.effective(a.cfgm.Get()) }

// Daemon reports whether the configuration asks for scheduled runs.
func (a *App) Daemon() bool { return a.config().Schedule.Enabled }

// Cancel requests cooperative cancellation of the active run. It reports
// whether a run was active.
func (a *App) Cancel() bool {
	if !a.warm.Running() {
		return false
	}
	a.warm.Cancel()
	a.console.Stopping()
	return true
}

// RunOnce performs a single run and prints it. Canceling ctx cancels the run
// cooperatively; RunOnce still returns only after the run's Done event.
func (a *App) RunOnce(ctx context.Context) (Report, error) {
	events, err := a.warm.Start()
	if err != nil {
		return Report{}, err
	}
	stop := context.AfterFunc(ctx, func() { a.Cancel() })
	defer stop()

	rep := a.console.Consume(events)
	a.record(rep)
	if rep.Interrupted {
		return rep, errors.New("run interrupted before completion")
	}
	return rep, nil
}

// Serve runs in daemon mode until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.config()
	a.metrics.Reconfigure(a.sup.Context(), metricsConfig(cfg))

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, next)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sched.Start(a.sup.Context())
	a.sd.Ready()
	a.sd.Status(a.statusLine())
	a.log.Info("daemon started", logx.String("schedule", a.sched.Stats().Schedule))

	select {
	case <-ctx.Done():
	case <-a.sup.Context().Done():
	}
	a.sd.Stopping()
	return a.sup.Err()
}

func (a *App) applyConfig(ctx context.Context, raw *config.Config) {
	cfg := a.effective(raw)
	a.logs.Apply(logConfig(cfg))
	if err := a.sched.Apply(cfg.Schedule); err != nil {
		a.log.Warn("schedule rejected; keeping previous", logx.Err(err))
	}
	a.metrics.Reconfigure(ctx, metricsConfig(cfg))
	a.sd.Status(a.statusLine())
}

// trigger is the scheduler's entry point. The run is consumed on its own
// goroutine so the scheduler never blocks.
func (a *App) trigger(reason string) error {
	events, err := a.warm.Start()
	if err != nil {
		return err
	}
	a.sd.Status("warming network (" + reason + ")")
	a.sup.Go0("warmer.consume", func(context.Context) {
		a.record(a.console.Consume(events))
		a.sd.Status(a.statusLine())
	})
	return nil
}

func (a *App) record(rep Report) {
	a.lastMu.Lock()
	a.last = &rep
	a.lastMu.Unlock()
}

// LastReport returns the most recently finished run, if any.
func (a *App) LastReport() (Report, bool) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if a.last == nil {
		return Report{}, false
	}
	return *a.last, true
}

func (a *App) statusLine() string {
	var parts []string
	if rep, ok := a.LastReport(); ok {
		last := "last run " + rep.Outcome.String()
		if rep.SpeedKnown {
			last += fmt.Sprintf(" (down %.2f Mbps, up %.2f Mbps)", rep.Speed.DownloadMbps, rep.Speed.UploadMbps)
		}
		parts = append(parts, last)
	}
	if next, ok := a.sched.Next(); ok {
		parts = append(parts, "next run "+humanize.Time(next))
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "; ")
}

// Close stops the daemon services, cancels any active run and waits for it.
func (a *App) Close(ctx context.Context) error {
	start := time.Now()
	a.sched.Stop(ctx)
	err := a.warm.Close(ctx)
	a.metrics.Stop(ctx)
	if serr := a.sup.Stop(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
		err = errors.Join(err, serr)
	}
	a.log.Info("stopped", logx.Duration("took", time.Since(start)))
	return errors.Join(err, a.closeAll())
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func metricsConfig(cfg *config.Config) metrics.ServerConfig {
	return metrics.ServerConfig{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
	}
}
