// Package ops serves the operational HTTP surface: /metrics, /healthz and
// the pprof endpoints.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"hushd/internal/metrics"
	"hushd/pkg/logx"
)

// Config controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	met *metrics.Metrics

	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func New(cfg Config, met *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, met: met, log: log}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot-reload.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if prev != cfg {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.srv != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cur := s.cfg

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:6060"
	}

	// Safety: prevent accidental public exposure without auth.
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.mu.Unlock()
		s.log.Error("ops server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("ops server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("ops listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	srv := &http.Server{
		Handler:      s.buildMux(cur.Token),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	done := make(chan struct{})
	s.ln = ln
	s.srv = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server exited", logx.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cur.Token != ""),
		logx.String("hint", fmt.Sprintf("http://%s/metrics", ln.Addr().String())),
	)
}

func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	srv := s.srv
	done := s.done
	s.srv = nil
	s.ln = nil
	s.done = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	_ = srv.Close()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	s.log.Info("ops server stopped")
}

func (s *Server) buildMux(token string) *http.ServeMux {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.HandlerFunc { return withAuth(token, h.ServeHTTP) }

	mux.HandleFunc("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})))
	if s.met != nil {
		mux.HandleFunc("/metrics", wrap(s.met.Handler()))
	}
	mux.HandleFunc("/debug/pprof/", wrap(http.HandlerFunc(hpprof.Index)))
	mux.HandleFunc("/debug/pprof/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
	mux.HandleFunc("/debug/pprof/profile", wrap(http.HandlerFunc(hpprof.Profile)))
	mux.HandleFunc("/debug/pprof/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
	mux.HandleFunc("/debug/pprof/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	return mux
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept either:
		//   Authorization: Bearer <token>
		// or query param: ?token=<token>
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	// addr is expected in host:port (host may be empty).
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
