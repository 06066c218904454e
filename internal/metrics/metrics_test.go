package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mongo-query-top/internal/query"
)

func TestNewHasSeparateRegistries(t *testing.T) {
	a := New()
	b := New()

	a.KillsTotal.WithLabelValues("ok").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.KillsTotal.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.KillsTotal.WithLabelValues("ok")))
}

func TestObservePoll(t *testing.T) {
	m := New()

	m.ObservePoll(20*time.Millisecond, nil)
	m.ObservePoll(0, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollsTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PollDuration))
}

func TestObserveSummary(t *testing.T) {
	m := New()

	m.ObserveSummary(query.Summary{TotalQueries: 7, DisplayedQueries: 3, SkippedQueries: 4, UnindexedQueries: 1})

	assert.Equal(t, 7.0, testutil.ToFloat64(m.Operations.WithLabelValues("total")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Operations.WithLabelValues("displayed")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Operations.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("unindexed")))
}

func TestMiddleware(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/killOp/{opid}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := m.Middleware(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/killOp/12", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /api/killOp/{opid}", "418")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SnapshotsTotal.WithLabelValues("manual").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `mqt_snapshots_total{trigger="manual"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rw := NewStatusRecorder(httptest.NewRecorder())
	_, _, err := rw.Hijack()
	assert.Error(t, err)
}
