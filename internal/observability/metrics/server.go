package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "obsched/pkg/logx"
)

// ServerConfig controls the optional debug listener.
type ServerConfig struct {
	Enabled bool
	Addr    string
	// Pprof mounts /debug/pprof/ next to /metrics.
	Pprof bool
}

func (c ServerConfig) withDefaults() ServerConfig {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:9464"
	}
	return c
}

// Validate rejects addresses that would expose the listener beyond the
// loopback interface.
func (c ServerConfig) Validate() error {
	c = c.withDefaults()
	if !c.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", c.Addr, err)
	}
	if !strings.EqualFold(host, "localhost") {
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			return fmt.Errorf("debug.addr: %q is not a loopback address", c.Addr)
		}
	}
	return nil
}

// Server manages the debug HTTP listener lifecycle.
type Server struct {
	gatherer prometheus.Gatherer
	log      logx.Logger
	ready    func() bool

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
	cfg  ServerConfig
}

// NewServer serves g. ready backs /readyz; nil means always ready.
func NewServer(g prometheus.Gatherer, ready func() bool, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{gatherer: g, ready: ready, log: log}
}

// Apply starts, restarts or stops the listener to match cfg.
func (s *Server) Apply(ctx context.Context, cfg ServerConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) handler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready\n"))
	})
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (s *Server) startLocked(cfg ServerConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("debug listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{Handler: s.handler(cfg), ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln, s.addr, s.cfg = srv, ln, ln.Addr().String(), cfg

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("debug server enabled", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr, s.cfg = nil, nil, "", ServerConfig{}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("debug server shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("debug server disabled", logx.String("addr", addr))
}

// Addr reports the bound address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
