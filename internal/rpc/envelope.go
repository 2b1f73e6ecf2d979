package rpc

import (
	"encoding/json"
	"fmt"
)

// request is the JSON-RPC 2.0 request envelope sent over the socket.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is the inbound frame: a response when ID is set, a push
// notification when Method is set.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.Number    `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object. Data is preserved raw so callers can
// branch on structured payloads (for example ownership rejections carrying
// the current owner's client id).
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("rpc error %d", e.Code)
}

// DataField extracts a string field from the error's data payload, or ""
// when the payload is absent or not an object.
func (e *Error) DataField(key string) string {
	if e == nil || len(e.Data) == 0 {
		return ""
	}
	var data map[string]any
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return ""
	}
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}
