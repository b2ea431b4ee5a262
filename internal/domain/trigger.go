package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is queued for the dispatcher once the build state has moved.
type TriggerEvent struct {
	ID       uuid.UUID
	Event    string // webhook event name, e.g. "save_post"
	EntityID string // empty for menu, taxonomy and manual triggers

	State  BuildState
	Manual bool

	CreatedAt time.Time
}

// DeliveryResult is the outcome of one attempt against one sink.
type DeliveryResult struct {
	Sink       string
	StatusCode int
	Error      error
	Duration   time.Duration
}

// OK reports whether the sink accepted the delivery.
func (r DeliveryResult) OK() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}
