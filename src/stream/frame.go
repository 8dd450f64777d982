package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/orchestra-mcp/petlink/src/types"
)

var (
	errPong      = errors.New("stream: pong frame")
	errNotObject = errors.New("stream: frame is not a JSON object")
)

// decodeFrame turns a raw text frame into an envelope. It returns errPong
// for the liveness reply and a parse error for anything that is not a JSON
// object with an optional string "type".
func decodeFrame(raw []byte) (types.Envelope, error) {
	var env types.Envelope
	if string(raw) == types.PongFrame {
		return env, errPong
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, errNotObject
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if bytes.Equal(env.Data, []byte("null")) {
		env.Data = nil
	}
	return env, nil
}
