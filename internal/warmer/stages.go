package warmer

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"netwarmer/pkg/logx"
)

// datagramPayload is the fixed body of every datagram probe.
var datagramPayload = []byte{0x00, 0x00}

const megabit = 1_000_000

// pacer enforces a quiet gap of at least every between the end of one probe
// and the start of the next. It is re-armed each time a probe completes.
type pacer struct {
	every time.Duration
	lim   *rate.Limiter
}

func newPacer(d time.Duration) *pacer { return &pacer{every: d} }

// done marks the end of a probe; the next wait lasts the full gap from now.
func (p *pacer) done() {
	if p.every <= 0 {
		return
	}
	p.lim = rate.NewLimiter(rate.Every(p.every), 1)
	p.lim.Allow()
}

func (p *pacer) wait(ctx context.Context) error {
	if p.lim == nil {
		return nil
	}
	return p.lim.Wait(ctx)
}

// next blocks until the next probe may start. It returns false when the run
// should stop instead.
func next(ctx context.Context, state *RunState, p *pacer) bool {
	if stopped(ctx, state) {
		return false
	}
	if err := p.wait(ctx); err != nil {
		return false
	}
	return !stopped(ctx, state)
}

func (w *Warmer) runReachability(ctx context.Context, state *RunState, emit func(Event)) StageResult {
	log := w.log.With(logx.String("comp", "warmer"), logx.String("stage", StageReachability.String()))
	pace := newPacer(w.spacing)

	var res StageResult
	for _, t := range w.reach {
		if !next(ctx, state, pace) {
			break
		}
		res.Attempted++
		started := time.Now()
		code, err := w.deps.Fetcher.Get(ctx, t.URL, HTTPTimeout)
		pace.done()
		switch {
		case err != nil:
			log.Debug("probe failed", logx.String("target", t.URL), logx.Err(err))
		case code != http.StatusOK:
			log.Debug("probe non-success status", logx.String("target", t.URL), logx.Int("status", code))
		default:
			res.Succeeded++
			log.Trace("probe ok", logx.String("target", t.URL), logx.Duration("rtt", time.Since(started)))
		}
	}

	log.Debug("stage finished", logx.Uint("attempted", res.Attempted), logx.Uint("succeeded", res.Succeeded))
	emit(summaryEvent(StageReachability, "HTTP", res))
	return res
}

func (w *Warmer) runDatagram(ctx context.Context, state *RunState, emit func(Event)) StageResult {
	log := w.log.With(logx.String("comp", "warmer"), logx.String("stage", StageDatagram.String()))
	pace := newPacer(w.spacing)

	var res StageResult
	for _, t := range w.datagram {
		if !next(ctx, state, pace) {
			break
		}
		res.Attempted++
		err := w.deps.Sender.Send(ctx, t.Address, t.Port, datagramPayload, UDPTimeout)
		pace.done()
		if err != nil {
			log.Debug("send failed", logx.String("target", t.String()), logx.Err(err))
			continue
		}
		res.Succeeded++
	}

	log.Debug("stage finished", logx.Uint("attempted", res.Attempted), logx.Uint("succeeded", res.Succeeded))
	emit(summaryEvent(StageDatagram, "UDP", res))
	return res
}

// runThroughput reports ok only when both directions were measured.
func (w *Warmer) runThroughput(ctx context.Context, state *RunState, emit func(Event)) (ThroughputResult, bool) {
	log := w.log.With(logx.String("comp", "warmer"), logx.String("stage", StageThroughput.String()))
	fail := func(err error) (ThroughputResult, bool) {
		log.Warn("speed test failed", logx.Err(err))
		w.obs.StageFailed(StageThroughput, err)
		emit(failureEvent(StageThroughput, "Speed test failed: "+err.Error(), err))
		return ThroughputResult{}, false
	}

	p, err := w.deps.NewThroughput(ctx)
	if err != nil {
		return fail(err)
	}
	if c, ok := p.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Debug("provider close failed", logx.Err(err))
			}
		}()
	}

	if stopped(ctx, state) {
		return ThroughputResult{}, false
	}
	emit(logEvent(StageThroughput, "Finding optimal server..."))
	if err := p.DiscoverBestServer(ctx); err != nil {
		return fail(err)
	}
	if d, ok := p.(ServerDescriber); ok {
		if desc, ok := d.DescribeServer(); ok {
			log.Debug("server selected", logx.String("server", desc))
		}
	}

	if stopped(ctx, state) {
		return ThroughputResult{}, false
	}
	emit(logEvent(StageThroughput, "Testing download speed..."))
	down, err := p.MeasureDownload(ctx)
	if err != nil {
		return fail(err)
	}
	log.Debug("download measured", logx.String("rate", humanize.SIWithDigits(down, 2, "bit/s")))

	if stopped(ctx, state) {
		return ThroughputResult{}, false
	}
	emit(logEvent(StageThroughput, "Testing upload speed..."))
	up, err := p.MeasureUpload(ctx)
	if err != nil {
		return fail(err)
	}
	log.Debug("upload measured", logx.String("rate", humanize.SIWithDigits(up, 2, "bit/s")))

	res := ThroughputResult{DownloadMbps: down / megabit, UploadMbps: up / megabit}
	emit(logEvent(StageThroughput, "Download: %.2f Mbps", res.DownloadMbps))
	emit(logEvent(StageThroughput, "Upload: %.2f Mbps", res.UploadMbps))
	emit(speedEvent(res))
	log.Info("throughput measured", logx.Float64("download_mbps", res.DownloadMbps), logx.Float64("upload_mbps", res.UploadMbps))
	return res, true
}
