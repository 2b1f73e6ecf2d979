// Package room maintains per-thread room state: the ordered item log, the
// server cursor watermark, and the input lease lifecycle.
package room

import (
	"sort"
	"sync"

	"github.com/animus-ai/animus-go/internal/conversation"
)

// Session is the materialized state of one subscribed room. It is safe for
// concurrent use; reads return copies.
type Session struct {
	mu       sync.Mutex
	threadID string
	items    []conversation.ThreadItem
	index    map[string]int
	cursor   int64
	owner    string
	ttlMs    int64
}

// NewSession creates an empty session for a thread.
func NewSession(threadID string) *Session {
	return &Session{threadID: threadID, index: map[string]int{}}
}

// ThreadID returns the thread this session tracks.
func (s *Session) ThreadID() string { return s.threadID }

// LoadSnapshot replaces all state with a subscribe snapshot.
func (s *Session) LoadSnapshot(snap conversation.RoomSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]conversation.ThreadItem(nil), snap.Snapshot...)
	s.sortLocked()
	s.reindexLocked()
	s.cursor = snap.Cursor
	s.owner = snap.OwnerClientID
	s.ttlMs = snap.TTLMs
}

// ApplyEvent upserts one item and advances the cursor watermark. Items are
// merged by id: fields the event carries replace the stored ones, fields it
// omits survive, so a delta-shaped event cannot erase earlier content. The
// watermark takes the event's cursor as-is; the server stream is the
// ordering authority, not a max over what we happened to see.
func (s *Session) ApplyEvent(item conversation.ThreadItem, cursor int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[item.ID]; ok {
		s.items[i] = mergeItem(s.items[i], item)
	} else {
		s.items = append(s.items, item)
	}
	s.sortLocked()
	s.reindexLocked()
	s.cursor = cursor
}

// SetOwner records an ownership broadcast. Owner events replace, never
// merge.
func (s *Session) SetOwner(owner string, ttlMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.ttlMs = ttlMs
}

// Items returns a copy of the ordered item log.
func (s *Session) Items() []conversation.ThreadItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.ThreadItem(nil), s.items...)
}

// Item returns the stored item with the given id.
func (s *Session) Item(id string) (conversation.ThreadItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return conversation.ThreadItem{}, false
	}
	return s.items[i], true
}

// Cursor returns the watermark for resubscribing after a reconnect.
func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Owner returns the current lease holder ("" when unheld) and its TTL.
func (s *Session) Owner() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner, s.ttlMs
}

func (s *Session) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].Cursor < s.items[j].Cursor
	})
}

func (s *Session) reindexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i, it := range s.items {
		s.index[it.ID] = i
	}
}

func mergeItem(existing, incoming conversation.ThreadItem) conversation.ThreadItem {
	merged := existing
	merged.Cursor = incoming.Cursor
	if incoming.ThreadID != "" {
		merged.ThreadID = incoming.ThreadID
	}
	if incoming.Role != "" {
		merged.Role = incoming.Role
	}
	if incoming.Content != "" {
		merged.Content = incoming.Content
	}
	if incoming.CreatedAt != "" {
		merged.CreatedAt = incoming.CreatedAt
	}
	if incoming.TurnID != "" {
		merged.TurnID = incoming.TurnID
	}
	if len(incoming.Raw) > 0 {
		merged.Raw = incoming.Raw
	}
	return merged
}
