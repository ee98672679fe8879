package interfaces

import (
	"context"

	"github.com/ternarybob/xhspub/internal/models"
)

// EnqueueResult is returned to the caller as soon as a task is accepted
type EnqueueResult struct {
	TaskID     string
	Position   int // 1-based position among tasks not yet started
	QueueDepth int // tasks not yet started, including this one
}

// PublishQueue accepts publish requests and runs them one at a time
type PublishQueue interface {
	Enqueue(ctx context.Context, req *models.PublishRequest) (*EnqueueResult, error)
	Snapshot() models.QueueSnapshot
	Start(ctx context.Context) error
	Stop() error
}

// StateObserver is told about every publish state as it is entered
type StateObserver func(state models.PublishState)

// Publisher runs one resolved job through browser acquisition, authentication and the
// publish state machine. The returned state is the last state entered.
type Publisher interface {
	Publish(ctx context.Context, job *models.PublishJob, observe StateObserver) (models.PublishState, error)
}

// Stager makes a task's video available on local storage and removes it afterwards
type Stager interface {
	Stage(ctx context.Context, req *models.PublishRequest) (*models.Artifact, error)
	Cleanup(artifact *models.Artifact) error
}
