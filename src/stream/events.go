package stream

import (
	"encoding/json"
	"errors"

	"github.com/orchestra-mcp/petlink/src/types"
)

// Lifecycle event names. Any envelope type is also dispatched as an event
// name, so a server-sent {"type":"connected"} reaches EventConnected
// listeners with KindApp.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
	EventMessage      = "message"
)

// Kind discriminates the payload carried by an Event.
type Kind int

const (
	KindConnected Kind = iota + 1
	KindDisconnected
	KindError
	KindMessage
	KindApp
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindError:
		return "error"
	case KindMessage:
		return "message"
	case KindApp:
		return "app"
	default:
		return "unknown"
	}
}

// ErrNoData is returned by Event.Decode when the event carries no data.
var ErrNoData = errors.New("stream: event has no data")

// Event is what listeners receive.
//
// KindMessage events carry the whole Envelope. KindApp events carry the
// envelope's data in Data (and the envelope for reference). KindError
// events carry Err. Connected and disconnected events carry nothing.
type Event struct {
	Name     string
	Kind     Kind
	Envelope *types.Envelope
	Data     json.RawMessage
	Err      error
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrNoData
	}
	return json.Unmarshal(e.Data, v)
}

// Listener handles a dispatched event. Listeners run on the dispatch
// goroutine one at a time and may call back into the Client.
type Listener func(Event)

// ListenerID identifies a registration for removal with Off.
type ListenerID uint64
