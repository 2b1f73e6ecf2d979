// Package chat is the top-level controller for the client runtime: it
// wires the transport, the dialect-aware conversation client, room and
// lease state, the turn machine, and markdown rendering into one surface
// the UI layer drives.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/animus-ai/animus-go/internal/config"
	"github.com/animus-ai/animus-go/internal/conversation"
	"github.com/animus-ai/animus-go/internal/conversion"
	"github.com/animus-ai/animus-go/internal/room"
	"github.com/animus-ai/animus-go/internal/rpc"
	"github.com/animus-ai/animus-go/internal/turn"
)

// Transport is the subset of the socket client the controller needs:
// correlated requests plus push subscription. *rpc.Client satisfies it.
type Transport interface {
	Request(ctx context.Context, method string, params any) (json.RawMessage, error)
	On(event string, h rpc.Handler)
}

const (
	// timelineCap bounds the live event timeline shown in the side pane.
	timelineCap = 40
	// maxThreadPages caps listing pagination as a runaway guard.
	maxThreadPages = 40
)

// TimelineEntry is one row of the live room event timeline.
type TimelineEntry struct {
	ItemID string
	Role   string
	Cursor int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithWorkspaces supplies the per-thread working directory map.
func WithWorkspaces(w *config.Workspaces) Option {
	return func(c *Controller) { c.workspaces = w }
}

// WithRegistry overrides the dialect registry used for the conversation
// client.
func WithRegistry(r *conversation.Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithNotify registers a callback fired after each applied server push,
// with the push's event name. It runs on the transport read goroutine and
// must not block; UI layers use it to schedule a repaint.
func WithNotify(fn func(event string)) Option {
	return func(c *Controller) { c.notify = fn }
}

// Controller coordinates all client-side state for one backend connection.
type Controller struct {
	cfg        *config.Config
	transport  Transport
	logger     *slog.Logger
	registry   *conversation.Registry
	workspaces *config.Workspaces
	notify     func(event string)

	conv      *conversation.Client
	rooms     *room.Controller
	lease     *room.LeaseKeeper
	machine   *turn.Machine
	converter *conversion.Converter

	mu       sync.Mutex
	auto     config.AutomationConfig
	clientID string
	threads  []conversation.Thread
	timeline []TimelineEntry
}

// NewController builds a controller over an already-constructed transport.
// The caller owns connecting the transport (typically under a watchdog) and
// wires HandleConnect/HandleDisconnect to its lifecycle callbacks.
func NewController(cfg *config.Config, transport Transport, opts ...Option) *Controller {
	c := &Controller{cfg: cfg, transport: transport, auto: cfg.Automation}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	convOpts := []conversation.Option{conversation.WithLogger(c.logger)}
	if c.registry != nil {
		convOpts = append(convOpts, conversation.WithRegistry(c.registry))
	}
	c.conv = conversation.NewClient(transport, cfg.Conversation.Type, convOpts...)
	c.rooms = room.NewController(c.conv, c.logger)
	c.lease = room.NewLeaseKeeper(room.LeaseConfig{
		Client: c.conv,
		Logger: c.logger,
		SelfID: c.ClientID,
		OnChange: func(owner string, owned bool) {
			c.logger.Debug("lease ownership changed", "owner", owner, "owned", owned)
		},
	})
	c.machine = turn.NewMachine(c.logger)

	style := cfg.UI.HighlightStyle
	if style == "" {
		style = "monokai"
	}
	c.converter = conversion.NewConverter(
		conversion.WithHighlighting(style),
		conversion.WithMermaid(),
		conversion.WithSanitization(conversion.MessageSanitizer()),
	)

	c.registerHandlers()
	return c
}

func (c *Controller) registerHandlers() {
	c.transport.On("room/event", c.onRoomEvent)
	c.transport.On("room/owner", c.onRoomOwner)
	c.transport.On("agent/message/delta", c.onDelta)
	c.transport.On("turn/started", c.onTurnStarted)
	c.transport.On("turn/finished", c.onTurnFinished)
	c.transport.On("error", c.onError)
	c.transport.On("codex/request", c.onAgentRequest)
	c.transport.On("codex/request/resolved", c.onRequestResolved)
}

// ApplyConfig adopts a reloaded configuration. Only the automation policy
// takes effect live; connection and UI settings need a restart.
func (c *Controller) ApplyConfig(next *config.Config) {
	if next == nil {
		return
	}
	c.mu.Lock()
	c.auto = next.Automation
	c.mu.Unlock()
	c.logger.Info("configuration reloaded",
		"auto_claim", next.Automation.AutoClaim, "auto_renew", next.Automation.AutoRenew)
}

func (c *Controller) automation() config.AutomationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auto
}

// ClientID returns the server-assigned client id ("" before initialize).
func (c *Controller) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// HandleConnect bootstraps a fresh connection: initialize assigns a new
// client id (which invalidates any previously held lease), then the active
// room, if any, is resubscribed from its watermark and re-claimed.
func (c *Controller) HandleConnect(ctx context.Context) error {
	result, err := c.transport.Request(ctx, "initialize", struct{}{})
	if err != nil {
		return fmt.Errorf("chat: initialize failed: %w", err)
	}
	var payload struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return fmt.Errorf("chat: decode initialize result: %w", err)
	}
	c.mu.Lock()
	c.clientID = payload.ClientID
	c.mu.Unlock()
	c.logger.Info("connected to backend", "client_id", payload.ClientID)

	if active := c.rooms.Active(); active != nil {
		threadID := active.ThreadID()
		if _, err := c.rooms.Subscribe(ctx, threadID); err != nil && !errors.Is(err, room.ErrSubscribeInFlight) {
			c.machine.SetErr(err.Error())
			return err
		}
		c.autoClaim(ctx, threadID)
	}
	return nil
}

// HandleDisconnect stops lease renewal; the old client id is dead and so is
// its lease.
func (c *Controller) HandleDisconnect(err error) {
	c.lease.Stop()
	c.logger.Warn("backend connection lost", "error", err)
}

// OpenThread makes threadID the active room. A duplicate call while the
// subscribe is still in flight is a no-op.
func (c *Controller) OpenThread(ctx context.Context, threadID string) error {
	if _, err := c.rooms.Subscribe(ctx, threadID); err != nil {
		if errors.Is(err, room.ErrSubscribeInFlight) {
			return nil
		}
		c.machine.SetErr(err.Error())
		return err
	}
	c.mu.Lock()
	c.timeline = nil
	c.mu.Unlock()
	c.autoClaim(ctx, threadID)
	return nil
}

// NewThread creates a thread and opens it.
func (c *Controller) NewThread(ctx context.Context) (string, error) {
	id, thread, err := c.conv.StartThread(ctx)
	if err != nil {
		c.machine.SetErr(err.Error())
		return "", err
	}
	if thread != nil {
		c.mu.Lock()
		c.threads = append([]conversation.Thread{*thread}, c.threads...)
		c.mu.Unlock()
	}
	return id, c.OpenThread(ctx, id)
}

// autoClaim claims the input lease per policy: once, whenever a thread
// becomes active and this client does not already hold it.
func (c *Controller) autoClaim(ctx context.Context, threadID string) {
	if !c.automation().AutoClaim {
		return
	}
	if active := c.rooms.Active(); active != nil {
		if owner, _ := active.Owner(); owner != "" && owner == c.ClientID() {
			return
		}
	}
	claim, err := c.claim(ctx, threadID)
	if err != nil {
		c.logger.Warn("auto-claim failed", "thread", threadID, "error", err)
		return
	}
	if active := c.rooms.Active(); active != nil && active.ThreadID() == threadID {
		active.SetOwner(claim.OwnerClientID, claim.TTLMs)
	}
	if claim.OwnerClientID != c.ClientID() {
		c.logger.Info("thread owned by another client", "thread", threadID, "owner", TruncateOwner(claim.OwnerClientID))
	}
}

// claim acquires the lease, arming renewal only when auto-renew is on.
func (c *Controller) claim(ctx context.Context, threadID string) (conversation.ClaimResult, error) {
	if c.automation().AutoRenew {
		return c.lease.Acquire(ctx, threadID)
	}
	return c.conv.ClaimRoom(ctx, threadID)
}

// Claim explicitly requests the lease for the active thread.
func (c *Controller) Claim(ctx context.Context) error {
	active := c.rooms.Active()
	if active == nil {
		return errors.New("chat: no active thread")
	}
	claim, err := c.claim(ctx, active.ThreadID())
	if err != nil {
		c.machine.SetErr(err.Error())
		return err
	}
	active.SetOwner(claim.OwnerClientID, claim.TTLMs)
	if claim.OwnerClientID != c.ClientID() {
		msg := notOwnerMessage(claim.OwnerClientID)
		c.machine.SetErr(msg)
		return errors.New(msg)
	}
	return nil
}

// Release gives the lease back.
func (c *Controller) Release(ctx context.Context) error {
	active := c.rooms.Active()
	if active == nil {
		return nil
	}
	if err := c.lease.Release(ctx); err != nil {
		c.machine.SetErr(err.Error())
		return err
	}
	active.SetOwner("", 0)
	return nil
}

// Send submits user input on the active thread. Sending while another
// client holds the lease fails locally with a "not owner" message instead
// of bothering the backend.
func (c *Controller) Send(ctx context.Context, text string) error {
	active := c.rooms.Active()
	if active == nil {
		return errors.New("chat: no active thread")
	}
	if owner, _ := active.Owner(); owner != "" && owner != c.ClientID() {
		msg := notOwnerMessage(owner)
		c.machine.SetErr(msg)
		return errors.New(msg)
	}
	c.machine.BeginTurn()
	cwd := ""
	if c.workspaces != nil {
		cwd = c.workspaces.Dir(active.ThreadID())
	}
	if err := c.conv.StartTurn(ctx, active.ThreadID(), text, cwd); err != nil {
		// Ownership rejections carry the current holder in error.data.
		var rpcErr *rpc.Error
		if errors.As(err, &rpcErr) {
			if owner := rpcErr.DataField("ownerClientId"); owner != "" {
				active.SetOwner(owner, 0)
				msg := notOwnerMessage(owner)
				c.machine.HandleError(msg)
				return errors.New(msg)
			}
		}
		c.machine.HandleError(err.Error())
		return err
	}
	return nil
}

// Approve answers a pending approval request. On failure the request stays
// pending so the user can retry.
func (c *Controller) Approve(ctx context.Context, key string, action turn.Action) error {
	req, payload, err := c.machine.BeginSubmit(key, action)
	if err != nil {
		return err
	}
	if err := c.conv.RespondApproval(ctx, req.ID.Raw(), payload); err != nil {
		c.machine.FailSubmit(key, err)
		return err
	}
	c.machine.CompleteSubmit(key, action)
	return nil
}

// RefreshThreads fetches the full thread listing, following pagination and
// de-duplicating by id across pages.
func (c *Controller) RefreshThreads(ctx context.Context, loadedOnly bool) ([]conversation.Thread, error) {
	var all []conversation.Thread
	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < maxThreadPages; page++ {
		var (
			tp  conversation.ThreadPage
			err error
		)
		if loadedOnly {
			tp, err = c.conv.ListLoadedThreads(ctx, cursor)
		} else {
			tp, err = c.conv.ListThreads(ctx, cursor)
		}
		if err != nil {
			c.machine.SetErr(err.Error())
			return nil, err
		}
		for _, t := range tp.Threads {
			if t.ID == "" || seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			all = append(all, t)
		}
		if tp.NextCursor == "" {
			break
		}
		cursor = tp.NextCursor
	}
	c.mu.Lock()
	c.threads = append([]conversation.Thread(nil), all...)
	c.mu.Unlock()
	return all, nil
}

// Threads returns the last fetched thread listing.
func (c *Controller) Threads() []conversation.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]conversation.Thread(nil), c.threads...)
}

// ActiveSession returns the subscribed room session, or nil.
func (c *Controller) ActiveSession() *room.Session { return c.rooms.Active() }

// Machine exposes the turn state machine for status and approval queries.
func (c *Controller) Machine() *turn.Machine { return c.machine }

// Diagnostics reports the dialect resolution state.
func (c *Controller) Diagnostics() conversation.Diagnostics { return c.conv.Diagnostics() }

// RenderItem returns sanitized HTML for an item, rendering the raw payload
// as a fenced block when the item has no displayable text.
func (c *Controller) RenderItem(item conversation.ThreadItem) string {
	content := ExtractDisplayContent(item)
	if content == "" && ShouldShowRaw(item) {
		return c.converter.Render("```json\n" + string(item.Raw) + "\n```")
	}
	return c.converter.Render(content)
}

// Timeline returns the live event timeline, oldest first.
func (c *Controller) Timeline() []TimelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TimelineEntry(nil), c.timeline...)
}

// Close tears the controller down: renewal stops and the active room is
// unsubscribed best-effort (the backend also expires it on socket close).
func (c *Controller) Close(ctx context.Context) {
	c.lease.Stop()
	if err := c.rooms.Unsubscribe(ctx); err != nil {
		c.logger.Debug("unsubscribe on close failed", "error", err)
	}
}

func (c *Controller) onRoomEvent(params json.RawMessage) {
	var ev roomEvent
	if err := decodeEvent("room/event", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	if ev.Item.ID == "" {
		c.logger.Warn("dropping room event without item id", "cursor", ev.Cursor)
		return
	}
	if c.rooms.HandleEvent(ev.Item, ev.Cursor) {
		c.appendTimeline(ev.Item)
		c.emit("room/event")
	}
}

func (c *Controller) onRoomOwner(params json.RawMessage) {
	var ev ownerEvent
	if err := decodeEvent("room/owner", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	if !c.rooms.HandleOwner(ev.ThreadID, ev.OwnerClientID, ev.TTLMs) {
		return
	}
	threadID := ev.ThreadID
	if threadID == "" {
		if active := c.rooms.Active(); active != nil {
			threadID = active.ThreadID()
		}
	}
	// Arm renewal only under the auto-renew policy; loss always stops it.
	if c.automation().AutoRenew || ev.OwnerClientID != c.ClientID() {
		c.lease.ObserveOwner(context.Background(), threadID, ev.OwnerClientID, ev.TTLMs)
	}
	c.emit("room/owner")
}

func (c *Controller) onDelta(params json.RawMessage) {
	var ev deltaEvent
	if err := decodeEvent("agent/message/delta", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	c.machine.HandleDelta(ev.ItemID, ev.Delta)
	c.emit("agent/message/delta")
}

func (c *Controller) onTurnStarted(json.RawMessage) {
	c.machine.HandleTurnStarted()
	c.emit("turn/started")
}

func (c *Controller) onTurnFinished(params json.RawMessage) {
	var ev turnFinishedEvent
	if err := decodeEvent("turn/finished", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	c.machine.HandleTurnFinished(ev.ThreadID, ev.Turn.Status, ev.Turn.Error.Message)
	c.emit("turn/finished")
}

func (c *Controller) onError(params json.RawMessage) {
	var ev errorEvent
	if err := decodeEvent("error", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	c.machine.HandleError(ev.text())
	c.emit("error")
}

func (c *Controller) onAgentRequest(params json.RawMessage) {
	var ev agentRequestEvent
	if err := decodeEvent("codex/request", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	id, err := turn.RequestIDFromJSON(ev.RequestID)
	if err != nil {
		c.logger.Warn("dropping approval request with bad id", "error", err)
		return
	}
	if c.machine.HandleApprovalRequest(id, ev.Method, ev.Params) {
		c.emit("codex/request")
	}
}

func (c *Controller) onRequestResolved(params json.RawMessage) {
	var ev requestResolvedEvent
	if err := decodeEvent("codex/request/resolved", params, &ev); err != nil {
		c.logger.Warn("dropping malformed push", "error", err)
		return
	}
	id, err := turn.RequestIDFromJSON(ev.RequestID)
	if err != nil {
		c.logger.Warn("dropping resolution with bad id", "error", err)
		return
	}
	c.machine.HandleResolved(id, ev.Method, ev.Status, ev.Reason)
	c.emit("codex/request/resolved")
}

func (c *Controller) emit(event string) {
	if c.notify != nil {
		c.notify(event)
	}
}

func (c *Controller) appendTimeline(item conversation.ThreadItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeline = append(c.timeline, TimelineEntry{ItemID: item.ID, Role: item.Role, Cursor: item.Cursor})
	if len(c.timeline) > timelineCap {
		c.timeline = c.timeline[len(c.timeline)-timelineCap:]
	}
}
