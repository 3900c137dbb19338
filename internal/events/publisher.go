package events

import (
	"context"
	"time"

	"argus/internal/adapters/kafka"
	"argus/internal/domain/optimization"
	"argus/internal/metrics"
	"argus/pkg/errors"
	"argus/pkg/logger"
)

// TopicOptimizationEvents carries optimization ledger lifecycle events
const TopicOptimizationEvents = "argus.optimization.events"

// Event type names used in envelopes
const (
	EventRecommendationCreated     = "recommendation_created"
	EventRecommendationImplemented = "recommendation_implemented"
	EventResultRecorded            = "result_recorded"
)

// Envelope wraps every published event with type and timing metadata
type Envelope struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// Publisher publishes ledger lifecycle events to Kafka as JSON
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(producer *kafka.Producer, log *logger.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		log:      log,
	}
}

// RecommendationCreated publishes a recommendation created event
func (p *Publisher) RecommendationCreated(ctx context.Context, rec *optimization.Recommendation) error {
	return p.publish(ctx, EventRecommendationCreated, rec.ID, rec)
}

// RecommendationImplemented publishes an implemented transition event
func (p *Publisher) RecommendationImplemented(ctx context.Context, rec *optimization.Recommendation) error {
	return p.publish(ctx, EventRecommendationImplemented, rec.ID, rec)
}

// ResultRecorded publishes a result recorded event
func (p *Publisher) ResultRecorded(ctx context.Context, res *optimization.Result) error {
	return p.publish(ctx, EventResultRecorded, res.RecommendationID, res)
}

func (p *Publisher) publish(ctx context.Context, eventType, key string, payload interface{}) error {
	envelope := Envelope{
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	if err := p.producer.Publish(ctx, TopicOptimizationEvents, key, envelope); err != nil {
		metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
		return errors.Wrapf(err, "publish %s", eventType)
	}

	metrics.EventsPublished.WithLabelValues(eventType, "success").Inc()

	p.log.Debugw("Ledger event published",
		"type", eventType,
		"key", key,
	)

	return nil
}
