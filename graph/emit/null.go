package emit

// NullEmitter implements Emitter by discarding all events.
//
// Example usage:
//
//	engine := graph.New(reducer, st, emit.NewNullEmitter())
type NullEmitter struct{}

// NewNullEmitter creates a new NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
