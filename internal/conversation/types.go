package conversation

import "encoding/json"

// Thread is a backend-tracked conversation.
type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// ThreadItem is one unit of conversation content. Items are identified by
// ID for merge/de-duplication and ordered by Cursor within a room.
type ThreadItem struct {
	ID        string          `json:"id"`
	ThreadID  string          `json:"threadId"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
	Cursor    int64           `json:"cursor"`
	TurnID    string          `json:"turnId,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// ThreadPage is one page of a thread listing. NextCursor is empty on the
// last page.
type ThreadPage struct {
	Threads    []Thread `json:"threads"`
	NextCursor string   `json:"nextCursor"`
}

// RoomSnapshot is the full room state returned by subscribeRoom.
// OwnerClientID is empty when the lease is unheld.
type RoomSnapshot struct {
	Snapshot      []ThreadItem `json:"snapshot"`
	Cursor        int64        `json:"cursor"`
	OwnerClientID string       `json:"ownerClientId"`
	TTLMs         int64        `json:"ttlMs"`
}

// ClaimResult is the authoritative outcome of a claim. The caller must
// compare OwnerClientID against its own client id: a transport-level
// success can still report a different owner (lost race).
type ClaimResult struct {
	OwnerClientID string `json:"ownerClientId"`
	TTLMs         int64  `json:"ttlMs"`
}

// ReleaseResult reports the owner after a release (empty when unheld).
type ReleaseResult struct {
	OwnerClientID string `json:"ownerClientId"`
}
