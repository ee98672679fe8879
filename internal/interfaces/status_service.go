package interfaces

import "github.com/ternarybob/xhspub/internal/models"

// StatusService tracks what the single worker is doing right now
type StatusService interface {
	SetState(state models.WorkerState, metadata map[string]interface{})
	GetState() models.WorkerState
	GetStatus() map[string]interface{}
}
