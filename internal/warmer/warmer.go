package warmer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"netwarmer/internal/runtime/supervisor"
	"netwarmer/pkg/logx"
)

var (
	ErrAlreadyRunning = errors.New("network warming already running")
	ErrClosed         = errors.New("warmer closed")
)

// Fixed per-call limits.
const (
	HTTPTimeout   = 5 * time.Second
	UDPTimeout    = 2 * time.Second
	TargetSpacing = 100 * time.Millisecond
)

const defaultEventBuffer = 64

// Deps are the external primitives a Warmer drives.
type Deps struct {
	Fetcher       Fetcher
	Sender        DatagramSender
	NewThroughput ThroughputFactory
}

// Option customizes a Warmer.
type Option func(*Warmer)

func WithLogger(log logx.Logger) Option { return func(w *Warmer) { w.log = log } }

func WithObserver(o Observer) Option {
	return func(w *Warmer) {
		if o != nil {
			w.obs = o
		}
	}
}

// WithReachTargets replaces the default reachability targets.
func WithReachTargets(ts ...ReachTarget) Option {
	return func(w *Warmer) { w.reach = append([]ReachTarget(nil), ts...) }
}

// WithDatagramTargets replaces the default datagram targets.
func WithDatagramTargets(ts ...DatagramTarget) Option {
	return func(w *Warmer) { w.datagram = append([]DatagramTarget(nil), ts...) }
}

// WithSpacing overrides the minimum gap between consecutive probes of a stage.
func WithSpacing(d time.Duration) Option { return func(w *Warmer) { w.spacing = d } }

// WithEventBuffer sets the capacity of each run's event channel.
func WithEventBuffer(n int) Option {
	return func(w *Warmer) {
		if n > 0 {
			w.buffer = n
		}
	}
}

// Warmer runs warm-up pipelines, one at a time, on a supervised worker.
type Warmer struct {
	deps Deps
	log  logx.Logger
	obs  Observer

	reach    []ReachTarget
	datagram []DatagramTarget
	spacing  time.Duration
	buffer   int

	sup *supervisor.Supervisor

	// mu serializes Start against Close; Cancel never takes it.
	mu      sync.Mutex
	closed  bool
	current atomic.Pointer[RunState]
}

// New constructs a Warmer. The parent context bounds the worker's lifetime;
// canceling it has the same effect as Close.
func New(parent context.Context, deps Deps, opts ...Option) (*Warmer, error) {
	if deps.Fetcher == nil || deps.Sender == nil || deps.NewThroughput == nil {
		return nil, errors.New("warmer: fetcher, sender and throughput factory are required")
	}
	w := &Warmer{
		deps:     deps,
		obs:      nopObserver{},
		reach:    DefaultReachTargets(),
		datagram: DefaultDatagramTargets(),
		spacing:  TargetSpacing,
		buffer:   defaultEventBuffer,
	}
	for _, o := range opts {
		o(w)
	}
	if len(w.reach) == 0 || len(w.datagram) == 0 {
		return nil, errors.New("warmer: at least one target per probe stage is required")
	}
	w.sup = supervisor.New(parent, supervisor.WithLogger(w.log.With(logx.String("comp", "warmer.sup"))))
	return w, nil
}

// Start begins a run on the worker and returns its event stream. The stream
// ends with exactly one EventDone and is then closed. The one exception is
// Close: once the worker context is canceled, events that do not fit in the
// buffer are dropped, Done included, so shutdown never waits on a reader.
//
// It returns ErrAlreadyRunning while a previous run has not emitted Done.
func (w *Warmer) Start() (<-chan Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}
	state := &RunState{}
	if !w.current.CompareAndSwap(nil, state) {
		return nil, ErrAlreadyRunning
	}

	ch := make(chan Event, w.buffer)
	w.sup.Go0("warmer.run", func(ctx context.Context) {
		defer close(ch)
		w.Run(ctx, state, func(ev Event) {
			if ev.Kind == EventDone {
				w.current.CompareAndSwap(state, nil)
			}
			deliver(ctx, ch, ev)
		})
	})
	return ch, nil
}

// Cancel asks the active run to stop at its next check point. It never
// blocks and is a no-op when nothing is running.
func (w *Warmer) Cancel() {
	if st := w.current.Load(); st != nil {
		st.Cancel()
	}
}

// Running reports whether a run is active.
func (w *Warmer) Running() bool { return w.current.Load() != nil }

// Close cancels any active run, interrupts its in-flight probes and waits for
// the worker to exit or ctx to expire.
func (w *Warmer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.Cancel()
	return w.sup.Stop(ctx)
}

// Run is the synchronous body of a warm-up run. It emits progress through
// emit and always finishes with a single EventDone.
func (w *Warmer) Run(ctx context.Context, state *RunState, emit func(Event)) (outcome Outcome) {
	start := time.Now()
	log := w.log.With(logx.String("comp", "warmer"))
	defer func() {
		elapsed := time.Since(start)
		w.obs.RunFinished(outcome, elapsed)
		log.Info("network warming finished", logx.String("outcome", outcome.String()), logx.Duration("elapsed", elapsed))
		emit(doneEvent())
	}()

	log.Info("network warming started")
	emit(logEvent(StageNone, MsgStarted))

	for i, stage := range stageOrder {
		if stopped(ctx, state) {
			emit(logEvent(StageNone, MsgStopped))
			return OutcomeStopped
		}
		emit(logEvent(stage, "[%d/%d] %s...", i+1, len(stageOrder), stageTitle(stage)))
		if err := w.runStage(ctx, state, stage, emit); err != nil {
			log.Warn("stage failed", logx.String("stage", stage.String()), logx.Err(err))
			w.obs.StageFailed(stage, err)
			emit(failureEvent(stage, "Error: "+err.Error(), err))
		}
	}

	if stopped(ctx, state) {
		emit(logEvent(StageNone, MsgStopped))
		return OutcomeStopped
	}
	emit(logEvent(StageNone, MsgComplete))
	emit(logEvent(StageNone, MsgOptimized))
	return OutcomeCompleted
}

func (w *Warmer) runStage(ctx context.Context, state *RunState, stage Stage, emit func(Event)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panicked: %v", stage, r)
		}
	}()

	switch stage {
	case StageReachability:
		w.obs.StageFinished(stage, w.runReachability(ctx, state, emit))
	case StageDatagram:
		w.obs.StageFinished(stage, w.runDatagram(ctx, state, emit))
	case StageThroughput:
		if res, ok := w.runThroughput(ctx, state, emit); ok {
			w.obs.ThroughputMeasured(res)
		}
	default:
		return fmt.Errorf("unknown stage %d", int(stage))
	}
	return nil
}

func stageTitle(s Stage) string {
	switch s {
	case StageReachability:
		return "HTTP Warm-up"
	case StageDatagram:
		return "UDP Connection Tests"
	case StageThroughput:
		return "Speed Test"
	default:
		return s.String()
	}
}

// stopped reports whether the run must not start new work: either the user
// asked to cancel or the worker itself is shutting down.
func stopped(ctx context.Context, state *RunState) bool {
	return state.Canceled() || ctx.Err() != nil
}

// deliver blocks until the consumer has room. Once ctx is done (the Warmer
// is closing) undeliverable events are dropped so shutdown cannot hang.
func deliver(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
