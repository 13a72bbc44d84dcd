package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/weektoken/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing instruction events to NATS.
type Publisher interface {
	// PublishInstructionEvent publishes a single event to JetStream on
	// the subject "week.{instruction}.{mint}".
	PublishInstructionEvent(ctx context.Context, event *InstructionEvent) error

	// PublishInstructionEventBatch publishes multiple events. A failed
	// event is logged and does not stop the rest of the batch.
	PublishInstructionEventBatch(ctx context.Context, events []*InstructionEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes instruction events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for WEEK events.
	StreamName = "WEEK_EVENTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "week.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// Connect dials NATS with the reconnect policy shared by the publisher
// and the SSE consumers.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := Connect(natsURL, "weektoken-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := EnsureStream(context.Background(), js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// EnsureStream creates the WEEK_EVENTS stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "WEEK token program instruction events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishInstructionEvent publishes a single instruction event.
func (p *JetStreamPublisher) PublishInstructionEvent(ctx context.Context, event *InstructionEvent) error {
	start := time.Now()
	subject := event.Subject()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal instruction event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	p.record(subject, start, err)
	if err != nil {
		return fmt.Errorf("failed to publish instruction event: %w", err)
	}

	p.logger.DebugContext(ctx, "published instruction event",
		"subject", subject,
		"signature", event.Signature,
		"index", event.InstructionIndex,
	)

	return nil
}

// PublishInstructionEventBatch publishes multiple instruction events.
func (p *JetStreamPublisher) PublishInstructionEventBatch(ctx context.Context, events []*InstructionEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishInstructionEvent(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish instruction event in batch",
				"signature", event.Signature,
				"instruction", event.Instruction,
				"error", err,
			)
			continue
		}
	}

	p.logger.DebugContext(ctx, "published instruction event batch", "count", len(events))
	return nil
}

func (p *JetStreamPublisher) record(subject string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
