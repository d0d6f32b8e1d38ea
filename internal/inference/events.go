package inference

// Event represents a service lifecycle event.
// Minimal and stable: name + job/item IDs and optional fields via key/values.
type Event struct {
	Name   string
	JobID  string
	ItemID string
	Fields map[string]any
}

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// Event names.
const (
	EventWarmupStart = "warmup_start"
	EventWarmupDone  = "warmup_done"
	EventWarmupError = "warmup_error"
	EventItemDone    = "item_done"
	EventBatchStart  = "batch_start"
	EventBatchDone   = "batch_done"
)
