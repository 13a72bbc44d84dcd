package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Runtime Metrics
	transactionsTotal      *prometheus.CounterVec
	transactionDuration    *prometheus.HistogramVec
	programInvocationTotal *prometheus.CounterVec

	// Program Metrics
	instructionsTotal *prometheus.CounterVec
	tokensMinted      *prometheus.CounterVec
	tokensTransferred *prometheus.CounterVec

	// Solana RPC Metrics
	solanaRPCCallsTotal      *prometheus.CounterVec
	solanaRPCCallDuration    *prometheus.HistogramVec
	solanaRPCRateLimitHits   *prometheus.CounterVec
	solanaRPCRetries         *prometheus.CounterVec
	confirmationWaitDuration *prometheus.HistogramVec

	// Workflow Metrics
	distributionWorkflowDuration *prometheus.HistogramVec
	distributionWorkflowTotal    *prometheus.CounterVec
	activityDuration             *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Runtime Metrics
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bank_transactions_total",
				Help: "Total number of transactions submitted to the local bank by outcome",
			},
			[]string{"status"},
		),
		transactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bank_transaction_duration_seconds",
				Help:    "Time spent verifying and executing a transaction",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"status"},
		),
		programInvocationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bank_program_invocations_total",
				Help: "Total number of program invocations, including cross-program calls",
			},
			[]string{"program", "status"},
		),

		// Program Metrics
		instructionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "week_instructions_total",
				Help: "Total number of WEEK program instructions observed by instruction and status",
			},
			[]string{"instruction", "status"},
		),
		tokensMinted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "week_tokens_minted_total",
				Help: "Base units minted through the WEEK program",
			},
			[]string{"mint"},
		),
		tokensTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "week_tokens_transferred_total",
				Help: "Base units transferred through the WEEK program",
			},
			[]string{"mint"},
		),

		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		confirmationWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_confirmation_wait_seconds",
				Help:    "Time between sending a transaction and observing its confirmation",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		),

		// Workflow Metrics
		distributionWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distribution_workflow_duration_seconds",
				Help:    "Duration of token distribution workflows in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		distributionWorkflowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "distribution_workflow_executions_total",
				Help: "Total number of token distribution workflow executions",
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "distribution_activity_duration_seconds",
				Help:    "Duration of token distribution activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"mint"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"mint", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Runtime metric helpers

// RecordTransactionProcessed records a transaction handled by the bank.
// status is one of success, failed or rejected.
func (m *Metrics) RecordTransactionProcessed(status string, duration float64) {
	m.transactionsTotal.WithLabelValues(status).Inc()
	m.transactionDuration.WithLabelValues(status).Observe(duration)
}

// RecordProgramInvocation records one program invocation.
func (m *Metrics) RecordProgramInvocation(program, status string) {
	m.programInvocationTotal.WithLabelValues(program, status).Inc()
}

// Program metric helpers

// RecordInstruction records an observed WEEK instruction.
func (m *Metrics) RecordInstruction(instruction, status string) {
	m.instructionsTotal.WithLabelValues(instruction, status).Inc()
}

// RecordTokensMinted adds amount base units to the minted total of mint.
func (m *Metrics) RecordTokensMinted(mint string, amount uint64) {
	m.tokensMinted.WithLabelValues(mint).Add(float64(amount))
}

// RecordTokensTransferred adds amount base units to the transferred total of mint.
func (m *Metrics) RecordTokensTransferred(mint string, amount uint64) {
	m.tokensTransferred.WithLabelValues(mint).Add(float64(amount))
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordConfirmationWait records how long a sent transaction took to confirm.
func (m *Metrics) RecordConfirmationWait(status string, duration float64) {
	m.confirmationWaitDuration.WithLabelValues(status).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.distributionWorkflowDuration.WithLabelValues(status).Observe(duration)
	m.distributionWorkflowTotal.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, status string, duration float64) {
	m.activityDuration.WithLabelValues(activity, status).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
// mint is "all" for the unfiltered stream.
func (m *Metrics) RecordSSEConnectionChange(mint string, delta float64) {
	m.sseActiveConnections.WithLabelValues(mint).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(mint, eventType string) {
	m.sseEventsSent.WithLabelValues(mint, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
