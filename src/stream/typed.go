package stream

import (
	"time"

	"github.com/orchestra-mcp/petlink/src/types"
)

// Handle registers a listener that decodes the event data into T. Events
// whose data does not decode are reported to the diagnostic sink and dropped.
func Handle[T any](c *Client, name string, fn func(T)) ListenerID {
	return c.On(name, func(ev Event) {
		var v T
		if err := ev.Decode(&v); err != nil {
			c.logger.Error().Err(err).Str("event", name).Msg("failed to decode event data")
			c.sink.Record(Diagnostic{Kind: DiagDecodeFailed, Event: name, Err: err, Raw: ev.Data, At: time.Now()})
			return
		}
		fn(v)
	})
}

// OnNewMessage registers fn for new_message events.
func (c *Client) OnNewMessage(fn func(types.ChatMessage)) ListenerID {
	return Handle(c, types.TypeNewMessage, fn)
}

// OnUnreadUpdate registers fn for unread_update events.
func (c *Client) OnUnreadUpdate(fn func(types.UnreadUpdate)) ListenerID {
	return Handle(c, types.TypeUnreadUpdate, fn)
}
