package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "netwarmer/internal/runtime/supervisor"
	"netwarmer/pkg/logx"
)

const (
	defaultAddr = "127.0.0.1:9464"
	defaultPath = "/metrics"
)

// ServerConfig controls the exposition endpoint.
type ServerConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

func (c ServerConfig) normalized() ServerConfig {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	c.Path = strings.TrimSpace(c.Path)
	if c.Path == "" {
		c.Path = defaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	return c
}

// Server serves a registry over HTTP. It can be reconfigured at runtime.
type Server struct {
	log logx.Logger
	reg prometheus.Gatherer

	mu   sync.Mutex
	cfg  ServerConfig
	sup  *rtsup.Supervisor
	addr string
}

func NewServer(reg prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{reg: reg, log: log}
}

// Addr returns the bound listen address while serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Reconfigure starts, stops or restarts the server to match cfg.
func (s *Server) Reconfigure(ctx context.Context, cfg ServerConfig) {
	cfg = cfg.normalized()

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.start(ctx)
	case prev.Addr != cfg.Addr || prev.Path != cfg.Path:
		s.Stop(ctx)
		s.start(ctx)
	}
}

func (s *Server) start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	// Metrics are optional; a broken listener must never take the app down.
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("metrics.serve", s.serveOnce, 500*time.Millisecond, 10*time.Second)
}

// Stop shuts the server down and waits for it, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("metrics stopped")
}

func (s *Server) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()

	ln, err := net.Listen("tcp", cur.Addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cur.Path, promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	})
	defer stop()

	bound := ln.Addr().String()
	s.mu.Lock()
	s.addr = bound
	s.mu.Unlock()
	s.log.Info("metrics started", logx.String("addr", bound), logx.String("path", cur.Path))

	err = srv.Serve(ln)

	s.mu.Lock()
	if s.addr == bound {
		s.addr = ""
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("metrics server exited unexpectedly")
	}
	return err
}
