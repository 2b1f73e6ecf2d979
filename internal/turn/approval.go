package turn

import (
	"encoding/json"
	"fmt"
)

// RequestID is an approval request identifier. Backends use both numeric
// and string id spaces; the two must never collide, so lookup keys are
// type-tagged and the original representation is kept for the response.
type RequestID struct {
	str   string
	num   json.Number
	isNum bool
}

// StringRequestID builds an id from a string.
func StringRequestID(s string) RequestID { return RequestID{str: s} }

// NumericRequestID builds an id from a number.
func NumericRequestID(n int64) RequestID {
	return RequestID{num: json.Number(fmt.Sprintf("%d", n)), isNum: true}
}

// RequestIDFromJSON decodes a requestId value, preserving whether it was a
// JSON number or a string.
func RequestIDFromJSON(raw json.RawMessage) (RequestID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return RequestID{str: s}, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return RequestID{num: n, isNum: true}, nil
	}
	return RequestID{}, fmt.Errorf("turn: requestId is neither string nor number: %s", raw)
}

// Key returns the type-tagged lookup key: numeric 1 and string "1" map to
// "n:1" and "s:1" respectively.
func (id RequestID) Key() string {
	if id.isNum {
		return "n:" + id.num.String()
	}
	return "s:" + id.str
}

// Raw returns the id in its wire representation, for echoing back in a
// response.
func (id RequestID) Raw() any {
	if id.isNum {
		return id.num
	}
	return id.str
}

func (id RequestID) String() string {
	if id.isNum {
		return id.num.String()
	}
	return id.str
}

// Action is a human approval decision.
type Action string

const (
	ActionAccept           Action = "accept"
	ActionAcceptForSession Action = "acceptForSession"
	ActionDecline          Action = "decline"
	ActionCancel           Action = "cancel"
)

// approvalMethods is the fixed allow-list of wire methods that may raise an
// approval prompt. Anything else is dropped at the boundary.
var approvalMethods = map[string]bool{
	"item/commandExecution/requestApproval": true,
	"item/fileChange/requestApproval":       true,
	"execCommandApproval":                   true,
	"applyPatchApproval":                    true,
}

// legacyMethods answer with the older decision vocabulary.
var legacyMethods = map[string]bool{
	"execCommandApproval": true,
	"applyPatchApproval":  true,
}

var legacyDecisions = map[Action]string{
	ActionAccept:           "approved",
	ActionAcceptForSession: "approved_for_session",
	ActionDecline:          "denied",
	ActionCancel:           "abort",
}

// ApprovalMethodAllowed reports whether a wire method may raise approvals.
func ApprovalMethodAllowed(method string) bool { return approvalMethods[method] }

// ApprovalResult builds the response payload for a decision. Modern methods
// take the action string verbatim; legacy methods use their own vocabulary.
func ApprovalResult(method string, action Action) any {
	decision := string(action)
	if legacyMethods[method] {
		decision = legacyDecisions[action]
	}
	return struct {
		Decision string `json:"decision"`
	}{Decision: decision}
}

// ApprovalRequest is one pending human decision.
type ApprovalRequest struct {
	ID         RequestID
	Method     string
	Params     json.RawMessage
	ThreadID   string
	Submitting bool
}

// approvalThreadID digs the owning thread out of request params. Adapters
// disagree on the field name.
func approvalThreadID(params json.RawMessage) string {
	var p struct {
		ThreadID        string `json:"threadId"`
		ThreadIDSnake   string `json:"thread_id"`
		ConversationID  string `json:"conversationId"`
		ConversationSnk string `json:"conversation_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	for _, v := range []string{p.ThreadID, p.ThreadIDSnake, p.ConversationID, p.ConversationSnk} {
		if v != "" {
			return v
		}
	}
	return ""
}

// HistoryItem records one resolved approval for audit display.
type HistoryItem struct {
	ID      RequestID
	Method  string
	Outcome string // "answered", "timeout", or a backend-reported status
	Action  Action // set for locally answered requests
	Reason  string
}

// historyCap bounds the audit ring to the most recent entries.
const historyCap = 30
