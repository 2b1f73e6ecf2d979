package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/animus-ai/animus-go/internal/conversation"
)

// ErrSubscribeInFlight is returned when a subscribe for the same thread is
// already running. Callers drop the duplicate rather than queueing it.
var ErrSubscribeInFlight = errors.New("room: subscribe already in flight")

// Subscriber is the subset of the conversation client the controller needs.
type Subscriber interface {
	SubscribeRoom(ctx context.Context, threadID string, cursor int64) (conversation.RoomSnapshot, error)
	UnsubscribeRoom(ctx context.Context, threadID string) error
}

// Controller tracks the single active room: switching threads, routing
// events and ownership broadcasts, and remembering per-thread cursors so a
// resubscribe resumes from the last watermark.
type Controller struct {
	client Subscriber
	logger *slog.Logger

	mu       sync.Mutex
	active   *Session
	inflight map[string]bool
	cursors  map[string]int64
}

// NewController creates a controller with no active room.
func NewController(client Subscriber, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		client:   client,
		logger:   logger,
		inflight: map[string]bool{},
		cursors:  map[string]int64{},
	}
}

// Active returns the current session, or nil when no room is subscribed.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Subscribe makes threadID the active room. The previous room is
// unsubscribed first, best-effort: a failed unsubscribe is logged and the
// switch proceeds, since the server will drop the stale membership on its
// own. Concurrent subscribes for the same thread are rejected with
// ErrSubscribeInFlight.
func (c *Controller) Subscribe(ctx context.Context, threadID string) (*Session, error) {
	c.mu.Lock()
	if c.inflight[threadID] {
		c.mu.Unlock()
		return nil, ErrSubscribeInFlight
	}
	c.inflight[threadID] = true
	previous := c.active
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, threadID)
		c.mu.Unlock()
	}()

	cursor := int64(-1)
	if previous != nil {
		if previous.ThreadID() == threadID {
			cursor = previous.Cursor()
		} else {
			c.mu.Lock()
			c.cursors[previous.ThreadID()] = previous.Cursor()
			c.mu.Unlock()
			if err := c.client.UnsubscribeRoom(ctx, previous.ThreadID()); err != nil {
				c.logger.Warn("unsubscribe previous room failed", "thread", previous.ThreadID(), "error", err)
			}
		}
	}
	if cursor < 0 {
		c.mu.Lock()
		if seen, ok := c.cursors[threadID]; ok {
			cursor = seen
		}
		c.mu.Unlock()
	}

	snap, err := c.client.SubscribeRoom(ctx, threadID, cursor)
	if err != nil {
		return nil, err
	}
	session := NewSession(threadID)
	session.LoadSnapshot(snap)
	c.mu.Lock()
	c.active = session
	c.mu.Unlock()
	return session, nil
}

// Unsubscribe leaves the active room.
func (c *Controller) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()
	if active == nil {
		return nil
	}
	c.mu.Lock()
	c.cursors[active.ThreadID()] = active.Cursor()
	c.mu.Unlock()
	return c.client.UnsubscribeRoom(ctx, active.ThreadID())
}

// HandleEvent folds a room/event push into the active session. Events for
// other threads are dropped; reports whether the event was applied.
func (c *Controller) HandleEvent(item conversation.ThreadItem, cursor int64) bool {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil || (item.ThreadID != "" && item.ThreadID != active.ThreadID()) {
		return false
	}
	active.ApplyEvent(item, cursor)
	return true
}

// HandleOwner folds a room/owner push into the active session. A broadcast
// carrying a thread id for another room is dropped.
func (c *Controller) HandleOwner(threadID, owner string, ttlMs int64) bool {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil || (threadID != "" && threadID != active.ThreadID()) {
		return false
	}
	active.SetOwner(owner, ttlMs)
	return true
}
