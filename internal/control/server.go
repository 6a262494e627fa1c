// Package control exposes a running campaign over HTTP: status, failure
// list and the pause/resume/stop operations.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"velo/internal/campaign"
	logx "velo/pkg/logx"
)

// Controller is the part of the engine the control surface drives.
type Controller interface {
	Snapshot() campaign.Snapshot
	Failures() []campaign.FailureRecord
	Pause() error
	Resume() error
	Stop() error
}

type Config struct {
	Addr string
	// Token, when set, is required as "Authorization: Bearer <token>".
	Token       string
	Metrics     http.Handler
	MetricsPath string
	Pprof       bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8089"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	return c
}

type Server struct {
	cfg Config
	ctl Controller
	log logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	addr string
}

func NewServer(cfg Config, ctl Controller, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), ctl: ctl, log: log.With(logx.String("comp", "control"))}
}

// Handler builds the router. It is usable without Start (e.g. in tests).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.cfg.Metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/status", s.status)
		r.Get("/failures", s.failures)
		r.Post("/pause", s.op(s.ctl.Pause))
		r.Post("/resume", s.op(s.ctl.Resume))
		r.Post("/stop", s.op(s.ctl.Stop))
		if s.cfg.Pprof {
			r.HandleFunc("/debug/pprof/*", pprof.Index)
			r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
			r.HandleFunc("/debug/pprof/profile", pprof.Profile)
			r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
			r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		}
	})
	return r
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot())
}

func (s *Server) failures(w http.ResponseWriter, r *http.Request) {
	fl := s.ctl.Failures()
	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="failed_contacts.csv"`)
		if err := campaign.WriteFailureCSV(w, fl); err != nil {
			s.log.Warn("write failure csv", logx.Err(err))
		}
		return
	}
	if fl == nil {
		fl = []campaign.FailureRecord{}
	}
	writeJSON(w, http.StatusOK, fl)
}

func (s *Server) op(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, campaign.ErrInvalidTransition) {
				code = http.StatusConflict
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, s.ctl.Snapshot())
	}
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("control request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	s.srv, s.ln, s.addr = srv, ln, ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("control server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	if s.cfg.Token == "" && !isLoopback(ln.Addr()) {
		s.log.Warn("control server reachable without token", logx.String("addr", addr))
	}
	s.log.Info("control server listening", logx.String("addr", addr))
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	err := srv.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("control shutdown error", logx.String("addr", addr), logx.Err(err))
	} else {
		err = nil
	}
	_ = ln.Close()
	s.log.Info("control server stopped", logx.String("addr", addr))
	return err
}

// Addr reports the listen address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func isLoopback(a net.Addr) bool {
	tcp, ok := a.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}
