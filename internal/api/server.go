// Package api serves the ingest/admin HTTP API: notification ingest plus
// per-user DND, queue and bundle management.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"hushd/internal/bundle"
	"hushd/internal/dnd"
	"hushd/internal/pipeline"
	"hushd/internal/queue"
	"hushd/pkg/logx"
)

// Config controls the API HTTP server. Same security posture as the ops
// server: loopback by default, token required for non-loopback binds.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type Server struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	pipe    *pipeline.Service
	dnd     *dnd.Service
	queue   *queue.Service
	bundler *bundle.Service

	ln   net.Listener
	srv  *http.Server
	done chan struct{}
}

func New(cfg Config, pipe *pipeline.Service, d *dnd.Service, q *queue.Service, b *bundle.Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, pipe: pipe, dnd: d, queue: q, bundler: b, log: log}
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
		addr = "127.0.0.1:8080"
	}

	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.mu.Unlock()
		s.log.Error("api server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("api server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("api listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}

	srv := &http.Server{
		Handler:      s.buildRouter(cur),
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
			s.log.Warn("api server exited", logx.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("api server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cur.Token != ""),
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
	s.log.Info("api server stopped")
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
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
