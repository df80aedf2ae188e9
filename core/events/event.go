package events

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (analytics, indexers).
// No core logic ever reads events back; the stream is append-only.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder captures emitted events in order. It is primarily used by tests
// and by tools that need to inspect the event stream of a single operation.
type Recorder struct {
	Events []Event
}

// Emit appends the event to the recorded stream.
func (r *Recorder) Emit(evt Event) {
	r.Events = append(r.Events, evt)
}
