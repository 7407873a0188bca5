package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netwarmer/internal/warmer"
)

const namespace = "netwarmer"

// Collector records run outcomes. It is safe for concurrent use.
type Collector struct {
	reg *prometheus.Registry

	probesAttempted *prometheus.CounterVec
	probesSucceeded *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	downloadMbps    prometheus.Gauge
	uploadMbps      prometheus.Gauge
	lastRun         prometheus.Gauge
}

var _ warmer.Observer = (*Collector)(nil)

// NewCollector registers all metrics on a private registry, plus the Go and
// process collectors.
func NewCollector() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		probesAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_attempted_total",
			Help:      "Probes attempted, by stage.",
		}, []string{"stage"}),
		probesSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_succeeded_total",
			Help:      "Probes that succeeded, by stage.",
		}, []string{"stage"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Stages that ended with an error, by stage.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished warm-up runs, by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of warm-up runs.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
		downloadMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_mbps",
			Help:      "Last measured download throughput in Mbps.",
		}),
		uploadMbps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_mbps",
			Help:      "Last measured upload throughput in Mbps.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	c.reg.MustRegister(
		c.probesAttempted, c.probesSucceeded, c.stageFailures, c.runs,
		c.runDuration, c.downloadMbps, c.uploadMbps, c.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// pre-create label sets so dashboards see zeros before the first run
	for _, st := range []warmer.Stage{warmer.StageReachability, warmer.StageDatagram, warmer.StageThroughput} {
		c.stageFailures.WithLabelValues(st.String())
	}
	for _, st := range []warmer.Stage{warmer.StageReachability, warmer.StageDatagram} {
		c.probesAttempted.WithLabelValues(st.String())
		c.probesSucceeded.WithLabelValues(st.String())
	}
	c.runs.WithLabelValues(warmer.OutcomeCompleted.String())
	c.runs.WithLabelValues(warmer.OutcomeStopped.String())
	return c
}

// Registry is the registry served by Server.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) StageFinished(stage warmer.Stage, res warmer.StageResult) {
	c.probesAttempted.WithLabelValues(stage.String()).Add(float64(res.Attempted))
	c.probesSucceeded.WithLabelValues(stage.String()).Add(float64(res.Succeeded))
}

func (c *Collector) StageFailed(stage warmer.Stage, _ error) {
	c.stageFailures.WithLabelValues(stage.String()).Inc()
}

func (c *Collector) ThroughputMeasured(res warmer.ThroughputResult) {
	c.downloadMbps.Set(res.DownloadMbps)
	c.uploadMbps.Set(res.UploadMbps)
}

func (c *Collector) RunFinished(outcome warmer.Outcome, elapsed time.Duration) {
	c.runs.WithLabelValues(outcome.String()).Inc()
	c.runDuration.Observe(elapsed.Seconds())
	c.lastRun.SetToCurrentTime()
}
