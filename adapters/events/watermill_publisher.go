package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/prover/core"
	"github.com/layer-3/prover/ports"
)

const (
	TopicKeyRegistered = "prover.key_registered"
	TopicJobFinished   = "prover.job_finished"
)

// KeyRegisteredEvent is published when a principal registers a new access key
type KeyRegisteredEvent struct {
	Key          string `json:"key"`
	Scheme       string `json:"scheme"`
	Label        string `json:"label,omitempty"`
	RegisteredBy string `json:"registered_by"`
}

// JobFinishedEvent is published after every sandbox run
type JobFinishedEvent struct {
	JobID      string `json:"job_id"`
	Backend    string `json:"backend"`
	Subject    string `json:"subject"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishKeyRegistered publishes a key registration event
func (p *WatermillPublisher) PublishKeyRegistered(ctx context.Context, key core.AccessKey, registeredBy string) error {
	return p.publish(ctx, TopicKeyRegistered, KeyRegisteredEvent{
		Key:          key.ID(),
		Scheme:       string(key.Scheme),
		Label:        key.Label,
		RegisteredBy: registeredBy,
	})
}

// PublishJobFinished publishes a job completion event
func (p *WatermillPublisher) PublishJobFinished(ctx context.Context, result core.JobResult) error {
	return p.publish(ctx, TopicJobFinished, JobFinishedEvent{
		JobID:      result.JobID,
		Backend:    result.Backend,
		Subject:    result.Subject,
		ExitCode:   result.ExitCode,
		DurationMS: result.Duration.Milliseconds(),
		Error:      result.Err,
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("published_at", time.Now().UTC().Format(time.RFC3339Nano))

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops all events
type NopPublisher struct{}

func (NopPublisher) PublishKeyRegistered(context.Context, core.AccessKey, string) error { return nil }
func (NopPublisher) PublishJobFinished(context.Context, core.JobResult) error           { return nil }
