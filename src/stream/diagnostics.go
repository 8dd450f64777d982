package stream

import "time"

// DiagnosticKind names a non-fatal condition observed by the client.
type DiagnosticKind string

const (
	DiagParseFailed        DiagnosticKind = "parse_failed"
	DiagDecodeFailed       DiagnosticKind = "decode_failed"
	DiagPongReceived       DiagnosticKind = "pong_received"
	DiagPingFailed         DiagnosticKind = "ping_failed"
	DiagDialFailed         DiagnosticKind = "dial_failed"
	DiagReconnectScheduled DiagnosticKind = "reconnect_scheduled"
)

// Diagnostic describes a swallowed failure or a notable transition.
type Diagnostic struct {
	Kind   DiagnosticKind
	ConnID string
	Event  string
	Err    error
	Raw    []byte
	Delay  time.Duration
	At     time.Time
}

// DiagnosticSink receives diagnostics. Implementations must be safe for
// concurrent use: the ping loop and the dispatch goroutine both record.
type DiagnosticSink interface {
	Record(d Diagnostic)
}

// SinkFunc adapts a function to DiagnosticSink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Record(d Diagnostic) { f(d) }

type nopSink struct{}

func (nopSink) Record(Diagnostic) {}
