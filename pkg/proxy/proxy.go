package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tokentap/tokentap/pkg/config"
	"github.com/tokentap/tokentap/pkg/metrics"
	"github.com/tokentap/tokentap/pkg/tracker"
)

// Server is the tokentap metering proxy.
type Server struct {
	cfg      *config.Config
	tracker  tracker.Tracker
	recorder *tracker.Recorder
	metrics  *metrics.Metrics
	upstream *upstreamClient
	mux      *http.ServeMux
}

// New creates a proxy Server wired with all dependencies.
func New(cfg *config.Config, t tracker.Tracker, m *metrics.Metrics) (*Server, error) {
	upstream, err := newUpstreamClient(cfg.UpstreamURL, cfg.Upstream.Timeout)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		tracker:  t,
		recorder: tracker.NewRecorder(t, cfg.Recorder.QueueSize, m.ObserveDroppedRecord),
		metrics:  m,
		upstream: upstream,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/stats/summary", s.handleStatsSummary)
	s.mux.HandleFunc("/stats/by-model", s.handleStatsByModel)
	s.mux.HandleFunc("/stats/recent", s.handleStatsRecent)
	s.mux.Handle("/metrics", m.Handler())
	s.mux.HandleFunc("/v1/", s.handleProxy)
	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the record queue and drains pending writes.
func (s *Server) Close() {
	s.recorder.Close()
}

// ListenAndServe starts the proxy server with graceful shutdown support.
// Pending usage records are drained before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tokentap proxy listening", "addr", s.cfg.Listen, "upstream", s.cfg.UpstreamURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutCtx)
		s.Close()
		return err
	case err := <-errCh:
		s.Close()
		return err
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"tokentap_error","code":%d}}`, message, code)
}
