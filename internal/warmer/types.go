package warmer

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// Stage identifies one phase of a warm-up run.
type Stage int

const (
	StageNone Stage = iota
	StageReachability
	StageDatagram
	StageThroughput
)

func (s Stage) String() string {
	switch s {
	case StageReachability:
		return "http"
	case StageDatagram:
		return "udp"
	case StageThroughput:
		return "speedtest"
	default:
		return "run"
	}
}

// stageOrder is the fixed execution order of a run.
var stageOrder = [...]Stage{StageReachability, StageDatagram, StageThroughput}

// ReachTarget is an HTTPS endpoint probed by the reachability stage.
type ReachTarget struct {
	URL string
}

// DatagramTarget is a host/port pair the datagram stage sends to.
type DatagramTarget struct {
	Address string
	Port    uint16
}

func (t DatagramTarget) String() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(int(t.Port)))
}

// StageResult is the attempted/succeeded tally of a probe stage.
type StageResult struct {
	Attempted uint
	Succeeded uint
}

// ThroughputResult carries measured throughput in megabits per second.
type ThroughputResult struct {
	DownloadMbps float64
	UploadMbps   float64
}

// RunState holds the cancellation flag of a single run. It is written by
// the control side and polled by the worker.
type RunState struct {
	canceled atomic.Bool
}

// Cancel requests a cooperative stop. Safe to call any number of times.
func (s *RunState) Cancel() { s.canceled.Store(true) }

// Canceled reports whether Cancel has been called.
func (s *RunState) Canceled() bool { return s.canceled.Load() }

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeStopped
)

func (o Outcome) String() string {
	if o == OutcomeStopped {
		return "stopped"
	}
	return "completed"
}

// Fetcher issues a single reachability request and returns its HTTP status.
type Fetcher interface {
	Get(ctx context.Context, url string, timeout time.Duration) (int, error)
}

// DatagramSender sends a single datagram. A nil error means the local
// stack accepted the send; delivery is not verified.
type DatagramSender interface {
	Send(ctx context.Context, address string, port uint16, payload []byte, timeout time.Duration) error
}

// ThroughputProvider discovers a measurement server and measures throughput
// against it. Rates are in bits per second.
type ThroughputProvider interface {
	DiscoverBestServer(ctx context.Context) error
	MeasureDownload(ctx context.Context) (float64, error)
	MeasureUpload(ctx context.Context) (float64, error)
}

// ServerDescriber is optionally implemented by a ThroughputProvider that can
// name the server it selected.
type ServerDescriber interface {
	DescribeServer() (string, bool)
}

// ThroughputFactory builds a fresh provider for each run.
type ThroughputFactory func(ctx context.Context) (ThroughputProvider, error)

// Observer receives structured notifications alongside the event stream.
// Calls happen on the worker goroutine and must not block.
type Observer interface {
	StageFinished(stage Stage, res StageResult)
	StageFailed(stage Stage, err error)
	ThroughputMeasured(res ThroughputResult)
	RunFinished(outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StageFinished(Stage, StageResult)    {}
func (nopObserver) StageFailed(Stage, error)            {}
func (nopObserver) ThroughputMeasured(ThroughputResult) {}
func (nopObserver) RunFinished(Outcome, time.Duration)  {}
