package rpc

import (
	"fmt"

	"github.com/iovdin/tune-rpc-go/internal/errors"
)

// jsonRPCVersion is the protocol version stamped on every outbound message.
const jsonRPCVersion = "2.0"

// Request is an outbound call. Params and Stream are always encoded so the
// peer sees `"params":null` rather than a missing field for parameterless
// calls, matching the wire dialect tune-sdk expects.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Stream  bool   `json:"stream"`
}

// resultReply answers an inbound call that carried an id. The id is echoed
// verbatim, whatever its JSON type.
type resultReply struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result"`
}

// errorReply answers an inbound call whose handler failed or was not found.
type errorReply struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Error   replyError `json:"error"`
}

type replyError struct {
	Message string `json:"message"`
}

// isResponse reports whether a decoded message is a response to one of our
// calls: it carries an id plus at least one of result, error, done.
func isResponse(msg map[string]any) bool {
	if _, ok := msg["id"]; !ok {
		return false
	}

	for _, key := range []string{"result", "error", "done"} {
		if _, ok := msg[key]; ok {
			return true
		}
	}

	return false
}

// responseID extracts the correlation id of a response. JSON numbers decode
// as float64; ids the peer echoes back are whole numbers by construction.
func responseID(msg map[string]any) (int64, bool) {
	switch v := msg["id"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// remoteError converts the error field of a response into an error value.
// The peer usually sends `{"message": "..."}` but a bare string is accepted
// too; anything else is rendered with %v so the text is never lost.
func remoteError(v any) error {
	if v == nil {
		return nil
	}

	switch e := v.(type) {
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return &errors.RemoteError{Message: msg}
		}

		return &errors.RemoteError{Message: fmt.Sprintf("%v", e)}
	case string:
		return &errors.RemoteError{Message: e}
	default:
		return &errors.RemoteError{Message: fmt.Sprintf("%v", e)}
	}
}
