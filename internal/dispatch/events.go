package dispatch

import "github.com/google/uuid"

// Lifecycle event kinds reported to an Observer.
const (
	EventRegistered = "registered"
	EventQueued     = "queued"
	EventPulled     = "pulled"
	EventReclaimed  = "reclaimed"
	EventCompleted  = "completed"
	EventRequeued   = "requeued"
	EventFailed     = "failed"
)

// Observer receives lifecycle events. It is called synchronously from the
// operation that produced the event, but only after the registry locks
// have been released, so implementations may read the registry. Worker is
// uuid.Nil for queued events.
type Observer func(event string, worker uuid.UUID, path string)
