package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Submission("accepted", "anonymous")
	m.Submission("accepted", "anonymous")
	m.QuotaDenied()
	m.EventDiscarded("poll")
	m.PhaseTransition("finished", "push")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("accepted", "anonymous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaDenials))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discardedEvents.WithLabelValues("poll")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phaseTransitions.WithLabelValues("finished", "push")))
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.WatcherStarted()
	m.WatcherStarted()
	m.WatcherStopped()
	m.StreamOpened()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWatchers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MalformedResult()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "scanner_malformed_results_total 1"))
}

func TestNew_Independent(t *testing.T) {
	a, b := New(), New()
	a.QuotaDenied()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.quotaDenials))
}
