// Package httpserver: служебный HTTP-сервер бинарников: Prometheus-метрики,
// liveness и readiness с проверкой брокера.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/YaganovValera/iggy-clients/common/logger"
)

// Check: одна проверка готовности, например Ping транспорта.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// status: тело /healthz и /readyz.
type status struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Server: служебный HTTP-сервер.
type Server struct {
	cfg    Config
	srv    *http.Server
	checks []Check
	log    *logger.Logger
}

// New собирает chi-роутер. Без checks /readyz всегда готов.
func New(cfg Config, checks []Check, log *logger.Logger, mws ...Middleware) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, checks: checks, log: log.Named("http-server")}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware(), RecoverMiddleware(s.log), LoggingMiddleware(s.log))
	for _, mw := range mws {
		r.Use(mw)
	}
	r.Method(http.MethodGet, cfg.Paths.Metrics, promhttp.Handler())
	r.Get(cfg.Paths.Healthz, func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, status{Status: "ok"})
	})
	r.Get(cfg.Paths.Readyz, s.ready)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProbeTimeout)
	defer cancel()

	body := status{Status: "ready", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for _, c := range s.checks {
		if err := c.Probe(ctx); err != nil {
			body.Checks[c.Name] = err.Error()
			body.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		body.Checks[c.Name] = "ok"
	}
	if code != http.StatusOK {
		s.log.WithContext(r.Context()).Warn("readiness probe failed", zap.Any("checks", body.Checks))
	}
	writeStatus(w, code, body)
}

func writeStatus(w http.ResponseWriter, code int, body status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Handler: корневой обработчик, для httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run слушает Addr до отмены ctx, затем делает graceful shutdown.
// Ошибка bind возвращается сразу; при отмене возвращается ctx.Err().
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.cfg.Addr, err)
	}
	s.log.Info("ops server listening", zap.String("addr", ln.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("httpserver: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("ops server stopped")
	return ctx.Err()
}
