package services

// Event is a typed signal from the session transition coordinator to
// whoever holds workspace state. It replaces name-based event dispatch
// with explicit message types.
type Event int

const (
	// EventRestored tells listeners to reload from the now-active
	// partition: either a remote restore finished or a sign-out settled.
	EventRestored Event = iota
	// EventCreateDefault tells listeners the active partition is empty
	// and a default task should be created.
	EventCreateDefault
)

func (e Event) String() string {
	switch e {
	case EventRestored:
		return "data-restored"
	case EventCreateDefault:
		return "create-default-task"
	default:
		return "unknown"
	}
}

// EventHandler receives coordinator events. Delivery is synchronous and
// in registration order.
type EventHandler func(event Event)
