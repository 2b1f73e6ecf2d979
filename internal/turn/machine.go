// Package turn tracks the lifecycle of one agent turn: status transitions,
// accumulation of streamed message deltas, and the queue of pending human
// approval requests.
package turn

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Status is the turn lifecycle state.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusStarting        Status = "starting"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
)

// ErrUnknownApproval is returned when acting on an approval key that is not
// pending (already resolved or never seen).
var ErrUnknownApproval = errors.New("turn: no pending approval for key")

// Fragment is the transient streaming buffer: at most one target item per
// active turn.
type Fragment struct {
	ItemID string
	Text   string
}

// Machine is the turn and approval state machine for the active thread. It
// is safe for concurrent use; all reads return copies.
type Machine struct {
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	fragment Fragment
	pending  []*ApprovalRequest
	history  []HistoryItem
	errMsg   string
}

// NewMachine creates an idle machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger, status: StatusIdle}
}

// Status returns the current lifecycle state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Fragment returns the current streaming buffer.
func (m *Machine) Fragment() Fragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fragment
}

// Err returns the surfaced error message ("" when clear).
func (m *Machine) Err() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errMsg
}

// SetErr surfaces a message in the single error slot.
func (m *Machine) SetErr(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMsg = msg
}

// Pending returns a copy of the approval queue in arrival order.
func (m *Machine) Pending() []ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ApprovalRequest, len(m.pending))
	for i, r := range m.pending {
		out[i] = *r
	}
	return out
}

// History returns the resolved-approval ring, most recent first.
func (m *Machine) History() []HistoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HistoryItem(nil), m.history...)
}

// BeginTurn marks a user submission: the prior streaming buffer and error
// are discarded and the status moves to starting.
func (m *Machine) BeginTurn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusStarting
	m.fragment = Fragment{}
	m.errMsg = ""
}

// HandleTurnStarted moves the turn to running.
func (m *Machine) HandleTurnStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusRunning
}

// HandleDelta accumulates a streamed fragment. Only one target item is
// buffered at a time: a delta for a different item id resets the buffer to
// the new target. Deltas outside an active turn are dropped, so a straggler
// arriving after turn/finished cannot resurrect the buffer.
func (m *Machine) HandleDelta(itemID, delta string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case StatusStarting, StatusRunning, StatusWaitingApproval:
	default:
		m.logger.Debug("dropping delta outside active turn", "item", itemID, "status", m.status)
		return
	}
	if m.fragment.ItemID != itemID {
		m.fragment = Fragment{ItemID: itemID}
	}
	m.fragment.Text += delta
}

// HandleApprovalRequest enqueues an inbound approval prompt. Methods
// outside the allow-list are ignored. A request with an already-pending key
// replaces the existing entry rather than duplicating it. Reports whether
// the request was accepted.
func (m *Machine) HandleApprovalRequest(id RequestID, method string, params json.RawMessage) bool {
	if !ApprovalMethodAllowed(method) {
		m.logger.Debug("ignoring approval request with unknown method", "method", method)
		return false
	}
	req := &ApprovalRequest{ID: id, Method: method, Params: params, ThreadID: approvalThreadID(params)}
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := false
	for i, p := range m.pending {
		if p.ID.Key() == id.Key() {
			m.pending[i] = req
			replaced = true
			break
		}
	}
	if !replaced {
		m.pending = append(m.pending, req)
	}
	m.status = StatusWaitingApproval
	return true
}

// BeginSubmit marks a pending request as in flight and returns it together
// with the wire result payload for the chosen action.
func (m *Machine) BeginSubmit(key string, action Action) (ApprovalRequest, any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.findLocked(key)
	if req == nil {
		return ApprovalRequest{}, nil, fmt.Errorf("%w: %s", ErrUnknownApproval, key)
	}
	req.Submitting = true
	return *req, ApprovalResult(req.Method, action), nil
}

// CompleteSubmit removes an answered request and records it in history.
func (m *Machine) CompleteSubmit(key string, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.removeLocked(key)
	if req == nil {
		return
	}
	m.pushHistoryLocked(HistoryItem{ID: req.ID, Method: req.Method, Outcome: "answered", Action: action})
	m.settleWaitingLocked()
}

// FailSubmit rolls a failed submission back so the user can retry, and
// surfaces the error.
func (m *Machine) FailSubmit(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req := m.findLocked(key); req != nil {
		req.Submitting = false
	}
	m.errMsg = err.Error()
}

// HandleResolved applies a backend-side resolution push. A timeout removes
// the pending request, records it, and surfaces an informational message;
// other statuses remove the request silently.
func (m *Machine) HandleResolved(id RequestID, method, status, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.removeLocked(id.Key())
	if req == nil {
		return
	}
	outcome := status
	if outcome == "" {
		outcome = "answered"
	}
	m.pushHistoryLocked(HistoryItem{ID: req.ID, Method: method, Outcome: outcome, Reason: reason})
	if status == "timeout" {
		m.errMsg = "Approval request timed out"
	}
	m.settleWaitingLocked()
}

// HandleTurnFinished applies the authoritative end-of-turn signal: the
// streaming buffer is cleared regardless of delta arrival order, pending
// approvals scoped to the finished thread are dropped, and the status comes
// from the event (completed when absent).
func (m *Machine) HandleTurnFinished(threadID, status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragment = Fragment{}
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.ThreadID != "" && p.ThreadID == threadID {
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
	switch status {
	case string(StatusError):
		m.status = StatusError
	case "", string(StatusCompleted):
		m.status = StatusCompleted
	default:
		m.status = Status(status)
	}
	if errMsg != "" {
		m.errMsg = errMsg
	}
}

// HandleError applies an inbound error push.
func (m *Machine) HandleError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusError
	if msg == "" {
		msg = "Unknown backend error"
	}
	m.errMsg = msg
}

func (m *Machine) findLocked(key string) *ApprovalRequest {
	for _, p := range m.pending {
		if p.ID.Key() == key {
			return p
		}
	}
	return nil
}

func (m *Machine) removeLocked(key string) *ApprovalRequest {
	for i, p := range m.pending {
		if p.ID.Key() == key {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return p
		}
	}
	return nil
}

func (m *Machine) pushHistoryLocked(item HistoryItem) {
	m.history = append([]HistoryItem{item}, m.history...)
	if len(m.history) > historyCap {
		m.history = m.history[:historyCap]
	}
}

// settleWaitingLocked drops back to running once no approvals remain.
func (m *Machine) settleWaitingLocked() {
	if len(m.pending) == 0 && m.status == StatusWaitingApproval {
		m.status = StatusRunning
	}
}
