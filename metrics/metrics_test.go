package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.IncFetch("courtauction", "ok")
	m.IncFetch("courtauction", "ok")
	m.IncFetch("courtauction", "empty")
	m.IncRetry("publicdata")
	m.IncError("publicdata", "rate_limited")
	m.IncCandidate("courtauction", "created")
	m.RunStarted()
	m.RunFinished("courtauction", "completed", 3*time.Second)
	m.RunSkipped("courtauction")

	body := scrape(t, m)
	for _, want := range []string{
		`ingest_fetches_total{outcome="ok",source="courtauction"} 2`,
		`ingest_fetches_total{outcome="empty",source="courtauction"} 1`,
		`ingest_retries_total{source="publicdata"} 1`,
		`ingest_fetch_errors_total{error_type="rate_limited",source="publicdata"} 1`,
		`ingest_candidates_total{outcome="created",source="courtauction"} 1`,
		`ingest_runs_total{source="courtauction",status="completed"} 1`,
		`ingest_runs_total{source="courtauction",status="skipped"} 1`,
		`ingest_active_runs 0`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncFetch("s", "ok")
		m.ObserveFetch("s", time.Second)
		m.IncRetry("s")
		m.IncError("s", "timeout")
		m.IncCandidate("s", "created")
		m.RunStarted()
		m.RunFinished("s", "failed", time.Second)
		m.RunSkipped("s")
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.IncCandidate("manual", "updated")

	assert.Contains(t, scrape(t, m), `ingest_candidates_total{outcome="updated",source="manual"} 1`)

	var empty *Metrics
	rec := httptest.NewRecorder()
	empty.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
