package ports

import (
	"context"

	"github.com/layer-3/prover/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishKeyRegistered(ctx context.Context, key core.AccessKey, registeredBy string) error
	PublishJobFinished(ctx context.Context, result core.JobResult) error
}
