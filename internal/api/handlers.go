package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
)

func (s *Server) handleCurrentOp(w http.ResponseWriter, r *http.Request) {
	st := s.Prefs.Get()
	if v := r.URL.Query().Get("minTime"); v != "" {
		minTime, err := strconv.ParseFloat(v, 64)
		if err != nil || minTime < 0 {
			writeError(w, http.StatusBadRequest, "Invalid minTime", fmt.Errorf("minTime must be a non-negative number, got %q", v))
			return
		}
		st.MinTime = minTime
	}

	res, err := s.poll(r.Context(), st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch current operations", err)
		return
	}
	s.Store.AutoLog(r.Context(), res.Kept, st)

	writeJSON(w, http.StatusOK, s.Renderer.Render(res, st, s.Prefs.Notice()))
}

type infoData struct {
	Server      string         `json:"server"`
	Preferences prefs.Settings `json:"preferences"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    infoData{Server: s.Name, Preferences: s.Prefs.Get()},
	})
}

type preferenceField struct {
	number bool
	apply  func(st *prefs.Settings, num float64, flag bool)
}

// preferenceFields are the keys a client may change. Anything else in the
// request body is ignored.
var preferenceFields = map[string]preferenceField{
	"refreshInterval": {number: true, apply: func(st *prefs.Settings, n float64, _ bool) { st.RefreshInterval = n }},
	"minTime":         {number: true, apply: func(st *prefs.Settings, n float64, _ bool) { st.MinTime = n }},
	"log":             {number: true, apply: func(st *prefs.Settings, n float64, _ bool) { st.LogThreshold = n }},
	"all":             {apply: func(st *prefs.Settings, _ float64, b bool) { st.ShowAll = b }},
	"paused":          {apply: func(st *prefs.Settings, _ float64, b bool) { st.Paused = b }},
	"reversed":        {apply: func(st *prefs.Settings, _ float64, b bool) { st.Reversed = b }},
}

type preferencesResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Updated map[string]interface{} `json:"updated"`
	Current prefs.Settings         `json:"current"`
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to update preferences", errors.Wrap(err, "invalid JSON body"))
		return
	}

	type change struct {
		field preferenceField
		num   float64
		flag  bool
	}
	changes := make(map[string]change)
	updated := make(map[string]interface{})
	for name, raw := range body {
		field, ok := preferenceFields[name]
		if !ok {
			continue
		}
		c := change{field: field}
		if field.number {
			if err := json.Unmarshal(raw, &c.num); err != nil || c.num < 0 {
				writeError(w, http.StatusBadRequest, "Failed to update preferences", fmt.Errorf("%s must be a non-negative number", name))
				return
			}
			updated[name] = c.num
		} else {
			if err := json.Unmarshal(raw, &c.flag); err != nil {
				writeError(w, http.StatusBadRequest, "Failed to update preferences", fmt.Errorf("%s must be a boolean", name))
				return
			}
			updated[name] = c.flag
		}
		changes[name] = c
	}

	current := s.Prefs.Update(func(st *prefs.Settings) {
		for _, c := range changes {
			c.field.apply(st, c.num, c.flag)
		}
	})
	logging.Logger.WithField("updated", updated).Info("Preferences updated")

	writeJSON(w, http.StatusOK, preferencesResponse{
		Success: true,
		Message: "Preferences updated",
		Updated: updated,
		Current: current,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	res, err := s.poll(r.Context(), s.Prefs.Get())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save snapshot", err)
		return
	}
	n, err := s.Store.Save(res.Kept)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Snapshot saved successfully",
		"queryCount": n,
	})
}

func parseOpid(r *http.Request) (int64, error) {
	v := r.PathValue("opid")
	opid, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("opid must be an integer, got %q", v)
	}
	return opid, nil
}

func (s *Server) handleKillOp(w http.ResponseWriter, r *http.Request) {
	opid, err := parseOpid(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opid", err)
		return
	}

	result, err := s.Conn.KillOp(r.Context(), opid)
	s.Metrics.KillsTotal.WithLabelValues(metrics.Result(err)).Inc()
	log := logging.Logger.WithField("opid", opid)
	if err != nil {
		log.WithError(err).Error("killOp failed")
		writeError(w, http.StatusInternalServerError, "Failed to kill operation", err)
		return
	}
	log.Warn("Operation killed")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Operation %d killed", opid),
		"result":  result,
	})
}

func (s *Server) handleAdvise(w http.ResponseWriter, r *http.Request) {
	if s.Advisor == nil {
		writeError(w, http.StatusServiceUnavailable, "Index advice unavailable", errors.New("no Gemini API key configured"))
		return
	}
	opid, err := parseOpid(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opid", err)
		return
	}

	ops, err := s.Conn.CurrentOp(r.Context(), s.filter())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch current operations", err)
		return
	}
	op := findOp(ops, opid)
	if op == nil {
		writeError(w, http.StatusNotFound, "Operation not found", fmt.Errorf("opid %d is not running", opid))
		return
	}

	advice, err := s.Advisor.Advise(r.Context(), op)
	s.Metrics.AdviceRequests.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		logging.Logger.WithFields(logrus.Fields{"opid": opid}).WithError(err).Error("Index advice failed")
		writeError(w, http.StatusInternalServerError, "Failed to get index advice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"opid":    opid,
		"ns":      op.Ns,
		"advice":  advice,
	})
}

func findOp(ops []query.Operation, opid int64) *query.Operation {
	for i := range ops {
		if ops[i].Opid == opid {
			return &ops[i]
		}
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"server":    s.Name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpoints = []endpoint{
	{"GET", "/api/currentOp", "Current operations, optional ?minTime=<seconds>"},
	{"GET", "/api/info", "Server name and preferences"},
	{"POST", "/api/preferences", "Update refreshInterval, minTime, all, log, paused or reversed"},
	{"POST", "/api/snapshot", "Write the current operations to disk"},
	{"DELETE", "/api/killOp/{opid}", "Kill an operation"},
	{"GET", "/api/advise/{opid}", "Index advice for a running operation"},
	{"GET", "/api/stream", "WebSocket feed of /api/currentOp every refresh interval"},
	{"GET", "/health", "Liveness check"},
	{"GET", "/metrics", "Prometheus metrics"},
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      Name,
		"version":   Version,
		"server":    s.Name,
		"endpoints": endpoints,
	})
}
