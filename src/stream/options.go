package stream

import "github.com/rs/zerolog"

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the WebSocket dialer, mostly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithDiagnostics installs a sink for swallowed failures.
func WithDiagnostics(sink DiagnosticSink) Option {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithEventBuffer sets the capacity of the dispatch queue.
func WithEventBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.events = make(chan loopEvent, n)
		}
	}
}
