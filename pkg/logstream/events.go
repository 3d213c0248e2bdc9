package logstream

// EventType classifies a stream metadata change.
type EventType int

const (
	// EventStreamCreated fires when a lazy stream binds a freshly created
	// physical stream.
	EventStreamCreated EventType = iota

	// EventStreamOpened fires when a managed stream reopens an existing
	// physical stream.
	EventStreamOpened
)

func (t EventType) String() string {
	switch t {
	case EventStreamCreated:
		return "created"
	case EventStreamOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// MetaEvent describes a change to a managed stream's metadata, carrying the
// physical stream id it now maps to.
type MetaEvent struct {
	Type     EventType
	StreamID int64
	Name     string
	Epoch    int64
}

// Listener receives metadata events from every stream a Manager owns.
// A Manager holds at most one listener at a time; see Manager.SetListener.
type Listener interface {
	OnEvent(streamID int64, event MetaEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(streamID int64, event MetaEvent)

func (f ListenerFunc) OnEvent(streamID int64, event MetaEvent) { f(streamID, event) }

// listenerSlot boxes the interface so it can live in an atomic.Pointer.
type listenerSlot struct {
	l Listener
}
