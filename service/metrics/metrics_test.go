package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordTransactionProcessed("success", 0.001)
	m.RecordTransactionProcessed("success", 0.002)
	m.RecordTransactionProcessed("failed", 0.001)
	m.RecordProgramInvocation("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", "success")
	m.RecordInstruction("mint_tokens", "success")
	m.RecordTokensMinted("mint1", 1_000)
	m.RecordTokensMinted("mint1", 500)
	m.RecordDBQuery("insert", "instruction_events", 0.01, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.instructionsTotal.WithLabelValues("mint_tokens", "success")))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.tokensMinted.WithLabelValues("mint1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "success")))

	count, err := testutil.GatherAndCount(reg, "bank_transactions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/transactions")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/transactions", "POST", "4xx")))
}

func TestHTTPMetricsMiddleware_Flush(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/stream")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Write([]byte("data: hi\n\n"))
		f.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.True(t, rec.Flushed)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(201))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}

func TestTimer(t *testing.T) {
	var got float64
	Timer(time.Now().Add(-time.Second), func(d float64) { got = d })()
	assert.GreaterOrEqual(t, got, 1.0)
}
