package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"mongo-query-top/internal/db"
	dbmock "mongo-query-top/internal/db/mock"
	"mongo-query-top/internal/metrics"
	"mongo-query-top/internal/prefs"
	"mongo-query-top/internal/query"
	"mongo-query-top/internal/render"
	"mongo-query-top/internal/snapshot"
)

func testOp(t *testing.T, opid int64, secs int64) query.Operation {
	t.Helper()
	op, err := query.FromDocument(bson.M{
		"opid":              opid,
		"op":                "query",
		"ns":                "shop.orders",
		"secs_running":      secs,
		"microsecs_running": secs * 1000000,
		"client":            "10.0.0.7:51000",
		"appName":           "checkout",
		"command":           bson.M{"find": "orders", "filter": bson.M{"status": "open"}},
	})
	require.NoError(t, err)
	return op
}

type stubAdvisor struct {
	advice string
	err    error
}

func (a stubAdvisor) Advise(_ context.Context, _ *query.Operation) (string, error) {
	return a.advice, a.err
}

func newServer(t *testing.T, conn db.Connector) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	m := metrics.New()
	p := prefs.New(prefs.Settings{RefreshInterval: 0.1, MinTime: 1})
	return &Server{
		Name:      "prod",
		Conn:      conn,
		Prefs:     p,
		Processor: render.NewProcessor(nil),
		Renderer:  render.NewJSON("prod", "mongodb://db.example.com"),
		Store:     snapshot.New(dir, "prod", p, snapshot.WithMetrics(m)),
		Metrics:   m,
	}, dir
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCurrentOp(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).
		Return([]query.Operation{testOp(t, 1, 5), testOp(t, 2, 0)}, nil)
	s, _ := newServer(t, conn)

	rec, out := do(t, s.Handler(), http.MethodGet, "/api/currentOp", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Equal(t, true, out["success"])

	data := out["data"].(map[string]interface{})
	assert.Len(t, data["queries"], 1)
	summary := data["summary"].(map[string]interface{})
	assert.EqualValues(t, 2, summary["totalQueries"])

	meta := out["metadata"].(map[string]interface{})
	assert.Equal(t, "prod", meta["server"])
	assert.EqualValues(t, 1, meta["minTime"])
}

func TestCurrentOpMinTimeOverride(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).
		Return([]query.Operation{testOp(t, 1, 5), testOp(t, 2, 0)}, nil)
	s, _ := newServer(t, conn)

	rec, out := do(t, s.Handler(), http.MethodGet, "/api/currentOp?minTime=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]interface{})
	assert.Len(t, data["queries"], 2)

	// the override applies to this request only
	assert.Equal(t, 1.0, s.Prefs.Get().MinTime)
}

func TestCurrentOpInvalidMinTime(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	rec, out := do(t, s.Handler(), http.MethodGet, "/api/currentOp?minTime=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, out["success"])
}

func TestCurrentOpError(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).Return(nil, errors.New("not authorized"))
	s, _ := newServer(t, conn)

	rec, out := do(t, s.Handler(), http.MethodGet, "/api/currentOp", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Failed to fetch current operations", out["error"])
	assert.Equal(t, "not authorized", out["message"])
}

func TestInfo(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	rec, out := do(t, s.Handler(), http.MethodGet, "/api/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "prod", data["server"])
	assert.Equal(t, 0.1, data["preferences"].(map[string]interface{})["refreshInterval"])
}

func TestPreferences(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))

	rec, out := do(t, s.Handler(), http.MethodPost, "/api/preferences",
		`{"minTime": 0.5, "all": true, "log": 30, "snapshot": true, "bogus": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, map[string]interface{}{"minTime": 0.5, "all": true, "log": 30.0}, out["updated"])

	st := s.Prefs.Get()
	assert.Equal(t, 0.5, st.MinTime)
	assert.True(t, st.ShowAll)
	assert.Equal(t, 30.0, st.LogThreshold)
	assert.False(t, st.Snapshot)

	current := out["current"].(map[string]interface{})
	assert.Equal(t, true, current["showAll"])
}

func TestPreferencesRejectsWrongType(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	before := s.Prefs.Get()

	for _, body := range []string{
		`{"minTime": "fast"}`,
		`{"paused": 1}`,
		`{"refreshInterval": -2}`,
		`{"all": true, "reversed": "yes"}`,
		`not json`,
	} {
		rec, out := do(t, s.Handler(), http.MethodPost, "/api/preferences", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, false, out["success"], body)
	}
	assert.Equal(t, before, s.Prefs.Get())
}

func TestSnapshot(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).
		Return([]query.Operation{testOp(t, 1, 5), testOp(t, 2, 7), testOp(t, 3, 0)}, nil)
	s, dir := newServer(t, conn)

	rec, out := do(t, s.Handler(), http.MethodPost, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["queryCount"])

	files, err := filepath.Glob(filepath.Join(dir, "prod", "queries-*.json"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestKillOp(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("KillOp", mock.Anything, int64(42)).Return(query.Document{"info": "attempting to kill op", "ok": 1.0}, nil)
	conn.On("KillOp", mock.Anything, int64(7)).Return(nil, errors.New("unauthorized"))
	s, _ := newServer(t, conn)
	h := s.Handler()

	rec, out := do(t, h, http.MethodDelete, "/api/killOp/42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Operation 42 killed", out["message"])
	assert.Equal(t, 1.0, out["result"].(map[string]interface{})["ok"])

	rec, out = do(t, h, http.MethodDelete, "/api/killOp/7", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "unauthorized", out["message"])

	rec, _ = do(t, h, http.MethodDelete, "/api/killOp/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/killOp/42", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	conn.AssertNumberOfCalls(t, "KillOp", 2)
}

func TestAdvise(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).Return([]query.Operation{testOp(t, 9, 12)}, nil)
	s, _ := newServer(t, conn)

	rec, _ := do(t, s.Handler(), http.MethodGet, "/api/advise/9", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.Advisor = stubAdvisor{advice: "Create `{status: 1}`."}
	h := s.Handler()

	rec, out := do(t, h, http.MethodGet, "/api/advise/9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Create `{status: 1}`.", out["advice"])
	assert.Equal(t, "shop.orders", out["ns"])

	rec, _ = do(t, h, http.MethodGet, "/api/advise/10", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.Advisor = stubAdvisor{err: errors.New("quota exceeded")}
	rec, out = do(t, s.Handler(), http.MethodGet, "/api/advise/9", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "quota exceeded", out["message"])
}

func TestPreflight(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	rec, _ := do(t, s.Handler(), http.MethodOptions, "/api/preferences", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestHealthAndIndex(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	h := s.Handler()

	rec, out := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])

	rec, out = do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Name, out["name"])
	assert.Len(t, out["endpoints"], len(endpoints))

	rec, _ = do(t, h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("KillOp", mock.Anything, int64(1)).Return(query.Document{"ok": 1.0}, nil)
	s, _ := newServer(t, conn)
	h := s.Handler()

	do(t, h, http.MethodDelete, "/api/killOp/1", "")
	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mqt_kills_total{result="ok"} 1`)
	assert.Contains(t, body, `path="DELETE /api/killOp/{opid}"`)
}

func TestStream(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).Return([]query.Operation{testOp(t, 1, 5)}, nil).Once()
	conn.On("CurrentOp", mock.Anything, db.Filter{}).Return(nil, errors.New("connection reset"))
	s, _ := newServer(t, conn)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer ws.Close()

	var first render.Response
	require.NoError(t, ws.ReadJSON(&first))
	assert.True(t, first.Success)
	assert.Len(t, first.Data.Queries, 1)

	var second render.ErrorResponse
	require.NoError(t, ws.ReadJSON(&second))
	assert.False(t, second.Success)
	assert.Equal(t, "connection reset", second.Message)
}

func TestStreamPausedRepeatsLastPayload(t *testing.T) {
	conn := new(dbmock.Connector)
	conn.On("CurrentOp", mock.Anything, db.Filter{}).Return([]query.Operation{testOp(t, 1, 5)}, nil)
	s, _ := newServer(t, conn)
	s.Prefs.Update(func(st *prefs.Settings) { st.Paused = true })

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	require.NoError(t, err)
	defer ws.Close()

	for i := 0; i < 3; i++ {
		var frame render.Response
		require.NoError(t, ws.ReadJSON(&frame))
		assert.True(t, frame.Success)
		require.Len(t, frame.Data.Queries, 1)
		assert.Equal(t, int64(1), frame.Data.Queries[0].Opid)
	}
	// only the first frame needed a fetch
	conn.AssertNumberOfCalls(t, "CurrentOp", 1)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, _ := newServer(t, new(dbmock.Connector))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}

