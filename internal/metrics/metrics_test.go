package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveHTTP("/books", http.MethodGet, 200, time.Millisecond)
		m.ObserveCirculation("issue", OutcomeSuccess, "", time.Millisecond)
		m.StoreRetry()
		m.SetOverdue(3, time.Now())
		m.CacheLookup(true)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ObserveCirculation("issue", OutcomeSuccess, "", time.Millisecond)
	m.ObserveCirculation("issue", OutcomeRejected, "no_copies", time.Millisecond)
	m.ObserveCirculation("issue", OutcomeRejected, "no_copies", time.Millisecond)
	m.StoreRetry()
	m.SetOverdue(7, time.Unix(1700000000, 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.circulation.WithLabelValues("issue", OutcomeSuccess, "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circulation.WithLabelValues("issue", OutcomeRejected, "no_copies")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRetries))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.overdueOpen))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP("/books", http.MethodGet, 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "library_http_requests_total")
}
