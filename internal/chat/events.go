package chat

import (
	"encoding/json"
	"fmt"

	"github.com/animus-ai/animus-go/internal/conversation"
)

// Typed push payloads. Each event is decoded exactly once at the dispatch
// boundary; malformed frames are rejected there instead of leaking
// half-shaped data into the state layers.

type roomEvent struct {
	Item   conversation.ThreadItem `json:"item"`
	Cursor int64                   `json:"cursor"`
}

type ownerEvent struct {
	ThreadID      string `json:"threadId"`
	OwnerClientID string `json:"ownerClientId"`
	TTLMs         int64  `json:"ttlMs"`
}

type deltaEvent struct {
	ItemID string `json:"itemId"`
	Delta  string `json:"delta"`
}

type turnFinishedEvent struct {
	ThreadID string `json:"threadId"`
	Turn     struct {
		Status string       `json:"status"`
		Error  errorMessage `json:"error"`
	} `json:"turn"`
}

// errorMessage accepts the backend's {"message": ...} object form as well as
// a bare string or null.
type errorMessage struct {
	Message string
}

func (m *errorMessage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		m.Message = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &m.Message)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	m.Message = obj.Message
	return nil
}

type errorEvent struct {
	Message string `json:"message"`
	Error   struct {
		Message string `json:"message"`
	} `json:"error"`
}

// text prefers the nested message, then the top-level one, then a generic
// fallback.
func (e errorEvent) text() string {
	if e.Error.Message != "" {
		return e.Error.Message
	}
	if e.Message != "" {
		return e.Message
	}
	return "Unknown backend error"
}

type agentRequestEvent struct {
	RequestID json.RawMessage `json:"requestId"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
}

type requestResolvedEvent struct {
	RequestID json.RawMessage `json:"requestId"`
	Method    string          `json:"method"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason"`
}

func decodeEvent(name string, params json.RawMessage, v any) error {
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("chat: malformed %s payload: %w", name, err)
	}
	return nil
}
