// Package server exposes the pipeline over HTTP and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"intelpipe/internal/metrics"
	"intelpipe/internal/pipeline"
	"intelpipe/internal/report"
	"intelpipe/internal/reportstore"
)

// Trigger runs one pipeline cycle.
type Trigger interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

var errRunning = errors.New("collection already running")

// Server wraps HTTP and gRPC servers
type Server struct {
	trigger Trigger
	latest  *latestCache
	cfg     *Config
	router  *mux.Router
	grpcSrv *grpc.Server
	running sync.Mutex
}

func New(trigger Trigger, store reportstore.Store, cfg *Config) *Server {
	s := &Server{
		trigger: trigger,
		latest:  newLatestCache(store, cfg.CacheTTL),
		cfg:     cfg,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.instrument)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/reports/latest", s.handleLatest).Methods(http.MethodGet)
	s.router.HandleFunc("/collect-and-analyze", s.handleCollect).Methods(http.MethodPost)
}

func (s *Server) Router() http.Handler { return s.router }

// collect runs the pipeline unless a run started here is still in flight.
func (s *Server) collect(ctx context.Context) (*report.Document, error) {
	if !s.running.TryLock() {
		return nil, errRunning
	}
	defer s.running.Unlock()

	res, err := s.trigger.Run(ctx)
	if err != nil {
		return nil, err
	}
	s.latest.Set(res.Document)
	return res.Document, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	doc, err := s.latest.Latest(r.Context())
	switch {
	case errors.Is(err, reportstore.ErrNoReports):
		writeError(w, http.StatusNotFound, "No reports available")
	case err != nil:
		slog.Error("read latest report", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to read report")
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	doc, err := s.collect(r.Context())
	switch {
	case errors.Is(err, errRunning):
		writeError(w, http.StatusConflict, "Collection already running")
	case err != nil:
		slog.Error("collect and analyze", "err", err)
		writeError(w, http.StatusInternalServerError, "Collection failed")
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		slog.Debug("http request", "method", r.Method, "route", route, "status", rec.code, "took", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) metricsServer() *http.Server {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: s.cfg.MetricsAddr, Handler: m, ReadHeaderTimeout: 5 * time.Second}
}

// GRPCServer returns the gRPC server with IntelService registered.
func (s *Server) GRPCServer() *grpc.Server {
	if s.grpcSrv == nil {
		s.grpcSrv = grpc.NewServer()
		RegisterIntelServiceServer(s.grpcSrv, &intelService{srv: s})
	}
	return s.grpcSrv
}

// ListenAndServe runs the HTTP, metrics and gRPC listeners until ctx is
// cancelled or one of them fails. An empty address disables that listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := s.metricsServer()

	errc := make(chan error, 3)
	serve := func(name string, fn func() error) {
		go func() {
			slog.Info("listening", "server", name)
			if err := fn(); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
				errc <- err
			}
		}()
	}

	slog.Info("starting servers", "http", s.cfg.HTTPAddr, "metrics", s.cfg.MetricsAddr, "grpc", s.cfg.GRPCAddr)
	serve("http", httpSrv.ListenAndServe)
	if s.cfg.MetricsAddr != "" {
		serve("metrics", metricsSrv.ListenAndServe)
	}
	if s.cfg.GRPCAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			_ = httpSrv.Close()
			_ = metricsSrv.Close()
			return err
		}
		grpcSrv := s.GRPCServer()
		serve("grpc", func() error { return grpcSrv.Serve(ln) })
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		slog.Error("server error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	return err
}
