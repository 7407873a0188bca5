package speedtest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"netwarmer/pkg/logx"
)

var (
	// ErrNoServers means the server list came back empty.
	ErrNoServers = errors.New("no speedtest servers available")
	// ErrNoServer means a measurement was requested before a server was chosen.
	ErrNoServer = errors.New("no speedtest server selected")
)

// Config controls server discovery and measurement.
type Config struct {
	// ServerCount is how many of the nearest servers are latency-tested.
	ServerCount int
	// MaxConnections and SavingMode are passed to speedtest-go's UserConfig.
	MaxConnections int
	SavingMode     bool
	// PingConcurrency caps concurrent latency tests.
	PingConcurrency int
	// DisableHTTP2 forces HTTP/1.1 for speedtest traffic.
	DisableHTTP2 bool
	// OperationTimeout bounds each step (discovery, download, upload). 0 disables it.
	OperationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	return c
}

// Provider measures throughput against speedtest.net servers. A Provider is
// meant for a single run: discover once, measure, then Close.
type Provider struct {
	cfg     Config
	spawner Spawner
	log     logx.Logger

	stc *st.Speedtest
	tr  *http.Transport

	mu   sync.Mutex
	best *st.Server
}

// Option customizes a Provider.
type Option func(*Provider)

// WithSpawner makes the provider start its goroutines through s.
func WithSpawner(s Spawner) Option { return func(p *Provider) { p.spawner = s } }

func WithLogger(log logx.Logger) Option { return func(p *Provider) { p.log = log } }

// New builds a provider with a dedicated HTTP transport so connections can
// be torn down when the run ends.
func New(cfg Config, opts ...Option) *Provider {
	cfg = cfg.withDefaults()
	p := &Provider{cfg: cfg}
	for _, o := range opts {
		o(p)
	}

	hc, tr := newHTTPClient(cfg)
	p.tr = tr
	// Use a private instance; speedtest-go keeps package-level state for its helpers.
	p.stc = st.New(
		st.WithDoer(hc),
		st.WithUserConfig(&st.UserConfig{
			SavingMode:     cfg.SavingMode,
			MaxConnections: cfg.MaxConnections,
		}),
	)
	p.stc.SetNThread(cfg.MaxConnections)
	return p
}

func (p *Provider) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// DiscoverBestServer picks the lowest-latency server among the nearest candidates.
func (p *Provider) DiscoverBestServer(ctx context.Context) error {
	ctx, cancel := p.stepContext(ctx)
	defer cancel()

	user, err := p.stc.FetchUserInfoContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	p.log.Debug("speedtest client", logx.String("isp", user.Isp), logx.String("ip", user.IP))

	servers, err := p.stc.FetchServerListContext(ctx)
	if err != nil {
		return fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}

	candidates := nearest(servers, p.cfg.ServerCount)
	if len(candidates) == 0 {
		return ErrNoServers
	}

	p.pingAll(ctx, candidates)
	best := lowestLatency(candidates)
	if best == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("all latency tests failed")
	}

	p.mu.Lock()
	p.best = best
	p.mu.Unlock()
	p.log.Debug("speedtest server selected",
		logx.String("sponsor", best.Sponsor),
		logx.String("name", best.Name),
		logx.Float64("distance_km", best.Distance),
		logx.Duration("latency", best.Latency),
	)
	return nil
}

// MeasureDownload runs a download test against the selected server and
// returns the rate in bits per second.
func (p *Provider) MeasureDownload(ctx context.Context) (float64, error) {
	s, err := p.selected()
	if err != nil {
		return 0, err
	}
	ctx, cancel := p.stepContext(ctx)
	defer cancel()
	if err := s.DownloadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("download test: %w", err)
	}
	return float64(s.DLSpeed) * 8, nil
}

// MeasureUpload runs an upload test against the selected server and returns
// the rate in bits per second.
func (p *Provider) MeasureUpload(ctx context.Context) (float64, error) {
	s, err := p.selected()
	if err != nil {
		return 0, err
	}
	ctx, cancel := p.stepContext(ctx)
	defer cancel()
	if err := s.UploadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("upload test: %w", err)
	}
	return float64(s.ULSpeed) * 8, nil
}

// DescribeServer names the selected server for logs.
func (p *Provider) DescribeServer() (string, bool) {
	s, err := p.selected()
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s (%s, %s) host=%s distance=%.1fkm latency=%s",
		s.Sponsor, s.Name, s.Country, s.Host, s.Distance, s.Latency), true
}

// Close releases library snapshots and pooled connections.
func (p *Provider) Close() error {
	p.stc.Snapshots().Clean()
	p.stc.Reset()
	if p.tr != nil {
		p.tr.CloseIdleConnections()
	}
	return nil
}

func (p *Provider) selected() (*st.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.best == nil {
		return nil, ErrNoServer
	}
	return p.best, nil
}

// pingAll latency-tests servers with bounded concurrency. Failures leave the
// server's Latency at zero, which lowestLatency skips.
func (p *Provider) pingAll(ctx context.Context, servers []*st.Server) {
	sem := make(chan struct{}, p.cfg.PingConcurrency)
	var wg sync.WaitGroup

	launch := func(name string, fn func()) {
		if p.spawner != nil {
			p.spawner.Go(name, fn)
			return
		}
		go fn()
	}

	for i, s := range servers {
		s := s
		wg.Add(1)
		launch(fmt.Sprintf("speedtest.ping.%d", i), func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil {
				s.Latency = 0
				p.log.Trace("ping failed", logx.String("host", s.Host), logx.Err(err))
			}
		})
	}
	wg.Wait()
}

// nearest returns up to n servers ordered by distance.
func nearest(servers st.Servers, n int) []*st.Server {
	out := make([]*st.Server, 0, len(servers))
	for _, s := range servers {
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// lowestLatency prefers lower latency, then shorter distance.
func lowestLatency(servers []*st.Server) *st.Server {
	var best *st.Server
	for _, s := range servers {
		if s == nil || s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency || (s.Latency == best.Latency && s.Distance < best.Distance) {
			best = s
		}
	}
	return best
}

func newHTTPClient(cfg Config) (*http.Client, *http.Transport) {
	dialTimeout := 10 * time.Second
	if cfg.OperationTimeout > 0 {
		if half := cfg.OperationTimeout / 2; half < dialTimeout {
			dialTimeout = half
		}
		if dialTimeout < 2*time.Second {
			dialTimeout = 2 * time.Second
		}
	}

	perHost := cfg.MaxConnections
	if perHost < 2 {
		perHost = 2
	}

	d := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	return &http.Client{Transport: tr}, tr
}
