package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	"go.temporal.io/sdk/client"
)

// Client starts distributions and reads their results from Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return newClient(c, taskQueue, m, logger), nil
}

func newClient(c client.Client, taskQueue string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}
}

// StartDistribution starts a DistributeTokensWorkflow and returns its
// workflow ID. An empty id gets one derived from the mint and start time.
func (c *Client) StartDistribution(ctx context.Context, id string, input DistributeTokensInput) (string, error) {
	if id == "" {
		id = distributionID(input.Mint, time.Now())
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, DistributeTokensWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("failed to start distribution: %w", err)
	}

	c.logger.InfoContext(ctx, "distribution started",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"mint", input.Mint,
		"recipients", len(input.Recipients),
	)
	return run.GetID(), nil
}

// GetDistributionResult blocks until the distribution finishes and returns
// its result.
func (c *Client) GetDistributionResult(ctx context.Context, workflowID string) (*DistributeTokensResult, error) {
	var result DistributeTokensResult
	if err := c.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); err != nil {
		if c.metrics != nil {
			c.metrics.RecordWorkflowDuration("failed", 0)
		}
		return nil, fmt.Errorf("distribution %s failed: %w", workflowID, err)
	}

	if c.metrics != nil {
		status := "success"
		if result.Failed > 0 {
			status = "partial"
		}
		c.metrics.RecordWorkflowDuration(status, result.CompletedAt.Sub(result.StartedAt).Seconds())
	}
	return &result, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// distributionID generates a workflow ID for a distribution.
func distributionID(mint string, at time.Time) string {
	return "distribute-" + mint + "-" + at.UTC().Format("20060102T150405.000")
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
