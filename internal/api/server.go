// Package api serves the dashboard data and controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"mongo-query-top/internal/db"
	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
	"mongo-query-top/internal/render"
	"mongo-query-top/internal/snapshot"
)

const (
	Name            = "MongoDB Query Top API"
	Version         = "1.0.0"
	shutdownTimeout = 5 * time.Second
)

// Advisor explains how to speed up an operation.
type Advisor interface {
	Advise(ctx context.Context, op *query.Operation) (string, error)
}

// Server holds what the handlers share. Advisor may be nil, which disables
// /api/advise.
type Server struct {
	Name      string
	Conn      db.Connector
	Prefs     *prefs.Preferences
	Processor *render.Processor
	Renderer  *render.JSON
	Store     *snapshot.Store
	Metrics   *metrics.Metrics
	Advisor   Advisor
}

// Handler returns the routes wrapped in CORS, request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/currentOp", s.handleCurrentOp)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("POST /api/preferences", s.handlePreferences)
	mux.HandleFunc("POST /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("DELETE /api/killOp/{opid}", s.handleKillOp)
	mux.HandleFunc("GET /api/advise/{opid}", s.handleAdvise)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /metrics", s.Metrics.Handler())

	return cors(requestLog(s.Metrics.Middleware(mux)))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger.WithFields(logrus.Fields{"addr": addr, "server": s.Name}).Info("API server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// poll fetches and processes the running operations with settings st.
func (s *Server) poll(ctx context.Context, st prefs.Settings) (render.Result, error) {
	start := time.Now()
	ops, err := s.Conn.CurrentOp(ctx, db.Filter{IP: st.IP})
	s.Metrics.ObservePoll(time.Since(start), err)
	if err != nil {
		return render.Result{}, err
	}
	res := s.Processor.Process(ops, st)
	s.Metrics.ObserveSummary(res.Summary)
	return res, nil
}

func (s *Server) filter() db.Filter {
	return db.Filter{IP: s.Prefs.Get().IP}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger.WithError(err).Warn("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, summary string, err error) {
	writeJSON(w, status, render.ErrorResponse{Success: false, Error: summary, Message: err.Error()})
}
