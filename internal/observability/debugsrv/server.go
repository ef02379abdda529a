// Package debugsrv runs the optional operator HTTP endpoint:
// /healthz, /metrics and /debug/pprof/.
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback address requires Token or AllowInsecure.
package debugsrv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "dosebot/internal/runtime/supervisor"
	logx "dosebot/pkg/logx"
)

const defaultAddr = "127.0.0.1:6060"

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// HealthFunc reports component state for /healthz. A non-nil error turns the
// response into 503.
type HealthFunc func() (any, error)

type Server struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	gather prometheus.Gatherer
	health HealthFunc

	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, gather prometheus.Gatherer, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, gather: gather, health: health, log: log.With(logx.String("comp", "debugsrv"))}
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts, stops or restarts the listener as needed.
// Safe to call during hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

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
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr || a.Token != b.Token || a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof || a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start is idempotent. The listener runs under a restart loop.
func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		// Detached from ctx's cancellation: the server lives until Stop.
		s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
		sup := s.sup
		ready := make(chan struct{})
		s.mu.Unlock()

		var once sync.Once
		sup.GoRestart("http.serve", func(c context.Context) error {
			return s.serveOnce(c, func() { once.Do(func() { close(ready) }) })
		},
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)

		// Wait briefly for the first bind so Addr() is meaningful to callers.
		t := time.NewTimer(time.Second)
		select {
		case <-ready:
		case <-t.C:
		case <-ctx.Done():
		}
		t.Stop()
		return
	}
}

func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		sup.Cancel()
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("debug server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Server) serveOnce(ctx context.Context, bound func()) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	if !cur.Enabled {
		return context.Canceled
	}

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("debug server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return errors.New("debug server refused to start: insecure bind")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:      s.routes(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}

	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()
	bound()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cur.Token != ""), logx.Bool("pprof", cur.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.ln, s.srv = nil, nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("debug server exited unexpectedly")
	}
	return err
}

func (s *Server) routes(cur Config) http.Handler {
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cur.Token, h) }
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", wrap(s.handleHealth))
	if s.gather != nil {
		mux.Handle("/metrics", wrap(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}).ServeHTTP))
	}
	if cur.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		detail, err := s.health()
		if detail != nil {
			body["detail"] = detail
		}
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false // all interfaces
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
