// Package conversation implements the dialect-aware client for agent
// backends. Each abstract action maps to one or more candidate wire
// methods; the client probes candidates in order, remembers which method a
// backend accepted, and retries from scratch when a remembered method stops
// working.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Requester is the transport dependency: a correlated request/response
// call. *rpc.Client satisfies it.
type Requester interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Option configures a Client.
type Option func(*Client)

// WithRegistry overrides the built-in dialect registry.
func WithRegistry(r *Registry) Option {
	return func(c *Client) { c.registry = r }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client issues backend operations through a dialect profile. It is safe
// for concurrent use.
type Client struct {
	rpc      Requester
	registry *Registry
	logger   *slog.Logger
	profile  Profile

	mu       sync.Mutex
	resolved map[ActionKey]string
}

// Diagnostics is a snapshot of the resolution state, for status surfaces.
type Diagnostics struct {
	Mode     ProfileMode
	Resolved map[ActionKey]string
}

// NewClient creates a client for the given conversation type.
func NewClient(rpc Requester, convType string, opts ...Option) *Client {
	c := &Client{rpc: rpc, resolved: map[ActionKey]string{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.profile = c.registry.Lookup(convType)
	return c
}

// Diagnostics reports the profile mode and the methods resolved so far.
func (c *Client) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	resolved := make(map[ActionKey]string, len(c.resolved))
	for k, v := range c.resolved {
		resolved[k] = v
	}
	return Diagnostics{Mode: c.profile.Mode, Resolved: resolved}
}

// call runs the resolution loop for one action. The last known good method
// is probed first; a success is memoized, a failure of the memoized method
// clears the memo. build produces the params for a specific candidate, so
// payload shape can follow the chosen method.
func (c *Client) call(ctx context.Context, action ActionKey, build func(method string) any) (json.RawMessage, error) {
	candidates := c.probeOrder(action)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("conversation: no methods for action %q", action)
	}
	var lastErr error
	for _, method := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := c.rpc.Request(ctx, method, build(method))
		if err == nil {
			c.memoize(action, method)
			return result, nil
		}
		c.unmemoize(action, method)
		c.logger.Debug("method candidate failed", "action", action, "method", method, "error", err)
		lastErr = err
	}
	return nil, lastErr
}

// probeOrder returns the candidate methods with the memoized method, if
// any, moved to the front.
func (c *Client) probeOrder(action ActionKey) []string {
	methods := c.profile.Methods[action]
	c.mu.Lock()
	preferred := c.resolved[action]
	c.mu.Unlock()
	if preferred == "" {
		return methods
	}
	ordered := make([]string, 0, len(methods))
	ordered = append(ordered, preferred)
	for _, m := range methods {
		if m != preferred {
			ordered = append(ordered, m)
		}
	}
	return ordered
}

func (c *Client) memoize(action ActionKey, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[action] = method
}

func (c *Client) unmemoize(action ActionKey, method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved[action] == method {
		delete(c.resolved, action)
	}
}

type cursorParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListThreads fetches one page of the full thread listing.
func (c *Client) ListThreads(ctx context.Context, cursor string) (ThreadPage, error) {
	return c.listPage(ctx, ActionListThreads, cursor)
}

// ListLoadedThreads fetches one page of threads currently loaded in the
// backend.
func (c *Client) ListLoadedThreads(ctx context.Context, cursor string) (ThreadPage, error) {
	return c.listPage(ctx, ActionListLoadedThreads, cursor)
}

func (c *Client) listPage(ctx context.Context, action ActionKey, cursor string) (ThreadPage, error) {
	result, err := c.call(ctx, action, func(string) any {
		return cursorParams{Cursor: cursor}
	})
	if err != nil {
		return ThreadPage{}, err
	}
	var page ThreadPage
	if err := json.Unmarshal(result, &page); err != nil {
		return ThreadPage{}, fmt.Errorf("conversation: decode thread page: %w", err)
	}
	return page, nil
}

// StartThread creates a new thread and returns its id.
func (c *Client) StartThread(ctx context.Context) (string, *Thread, error) {
	result, err := c.call(ctx, ActionStartThread, func(string) any { return struct{}{} })
	if err != nil {
		return "", nil, err
	}
	var payload struct {
		ThreadID string  `json:"threadId"`
		Thread   *Thread `json:"thread"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return "", nil, fmt.Errorf("conversation: decode thread/start: %w", err)
	}
	id := payload.ThreadID
	if id == "" && payload.Thread != nil {
		id = payload.Thread.ID
	}
	if id == "" {
		return "", nil, fmt.Errorf("conversation: thread/start returned no thread id")
	}
	return id, payload.Thread, nil
}

// SubscribeRoom joins a thread's room. A negative cursor requests the
// backend's default starting point.
func (c *Client) SubscribeRoom(ctx context.Context, threadID string, cursor int64) (RoomSnapshot, error) {
	result, err := c.call(ctx, ActionSubscribeRoom, func(string) any {
		params := struct {
			ThreadID string `json:"threadId"`
			Cursor   *int64 `json:"cursor,omitempty"`
		}{ThreadID: threadID}
		if cursor >= 0 {
			params.Cursor = &cursor
		}
		return params
	})
	if err != nil {
		return RoomSnapshot{}, err
	}
	var snap RoomSnapshot
	if err := json.Unmarshal(result, &snap); err != nil {
		return RoomSnapshot{}, fmt.Errorf("conversation: decode room snapshot: %w", err)
	}
	return snap, nil
}

type threadParams struct {
	ThreadID string `json:"threadId"`
}

// UnsubscribeRoom leaves a thread's room.
func (c *Client) UnsubscribeRoom(ctx context.Context, threadID string) error {
	_, err := c.call(ctx, ActionUnsubscribeRoom, func(string) any {
		return threadParams{ThreadID: threadID}
	})
	return err
}

// ClaimRoom requests the input lease for a thread.
func (c *Client) ClaimRoom(ctx context.Context, threadID string) (ClaimResult, error) {
	result, err := c.call(ctx, ActionClaimRoom, func(string) any {
		return threadParams{ThreadID: threadID}
	})
	if err != nil {
		return ClaimResult{}, err
	}
	var claim ClaimResult
	if err := json.Unmarshal(result, &claim); err != nil {
		return ClaimResult{}, fmt.Errorf("conversation: decode claim result: %w", err)
	}
	return claim, nil
}

// ReleaseRoom gives up the input lease for a thread.
func (c *Client) ReleaseRoom(ctx context.Context, threadID string) (ReleaseResult, error) {
	result, err := c.call(ctx, ActionReleaseRoom, func(string) any {
		return threadParams{ThreadID: threadID}
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	var rel ReleaseResult
	if err := json.Unmarshal(result, &rel); err != nil {
		return ReleaseResult{}, fmt.Errorf("conversation: decode release result: %w", err)
	}
	return rel, nil
}

// StartTurn submits user input on a thread. The payload shape follows the
// wire method chosen by resolution: the legacy sendMessage form carries a
// flat input string with a client-generated message id, the canonical form
// carries a content block list.
func (c *Client) StartTurn(ctx context.Context, threadID, text, cwd string) error {
	_, err := c.call(ctx, ActionStartTurn, func(method string) any {
		if method == "conversation/sendMessage" {
			return struct {
				ConversationID string `json:"conversation_id"`
				Input          string `json:"input"`
				MsgID          string `json:"msg_id"`
				Cwd            string `json:"cwd,omitempty"`
			}{ConversationID: threadID, Input: text, MsgID: "ui-" + uuid.NewString(), Cwd: cwd}
		}
		type textBlock struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		return struct {
			ThreadID string      `json:"threadId"`
			Content  []textBlock `json:"content"`
			Cwd      string      `json:"cwd,omitempty"`
		}{ThreadID: threadID, Content: []textBlock{{Type: "text", Text: text}}, Cwd: cwd}
	})
	return err
}

// RespondApproval answers a backend approval request. requestID is passed
// through with the type it arrived with, since backends match on it
// exactly.
func (c *Client) RespondApproval(ctx context.Context, requestID any, result any) error {
	_, err := c.call(ctx, ActionRespondApproval, func(string) any {
		return struct {
			RequestID any `json:"requestId"`
			Result    any `json:"result"`
		}{RequestID: requestID, Result: result}
	})
	return err
}
