package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type recordedCall struct {
	method string
	params json.RawMessage
}

// fakeBackend scripts responses per wire method and records every call.
type fakeBackend struct {
	t       *testing.T
	calls   []recordedCall
	respond map[string]func() (json.RawMessage, error)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{t: t, respond: map[string]func() (json.RawMessage, error){}}
}

func (f *fakeBackend) Request(_ context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		f.t.Fatalf("marshal params for %s: %v", method, err)
	}
	f.calls = append(f.calls, recordedCall{method: method, params: raw})
	fn, ok := f.respond[method]
	if !ok {
		return nil, errors.New("method not found: " + method)
	}
	return fn()
}

func (f *fakeBackend) methods() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.method
	}
	return out
}

func (f *fakeBackend) lastParams(t *testing.T) map[string]any {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no calls recorded")
	}
	var m map[string]any
	if err := json.Unmarshal(f.calls[len(f.calls)-1].params, &m); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	return m
}

func ok(result string) func() (json.RawMessage, error) {
	return func() (json.RawMessage, error) { return json.RawMessage(result), nil }
}

func fail(msg string) func() (json.RawMessage, error) {
	return func() (json.RawMessage, error) { return nil, errors.New(msg) }
}

func equalMethods(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestClient_StartTurnFallbackConverges(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["conversation/sendMessage"] = fail("method not found")
	backend.respond["turn/start"] = ok(`{}`)
	c := NewClient(backend, "acp")

	if err := c.StartTurn(context.Background(), "t1", "hello", ""); err != nil {
		t.Fatalf("first StartTurn() error = %v", err)
	}
	if err := c.StartTurn(context.Background(), "t1", "again", ""); err != nil {
		t.Fatalf("second StartTurn() error = %v", err)
	}

	want := []string{"conversation/sendMessage", "turn/start", "turn/start"}
	if got := backend.methods(); !equalMethods(got, want) {
		t.Errorf("call sequence = %v, want %v", got, want)
	}
	if got := c.Diagnostics().Resolved[ActionStartTurn]; got != "turn/start" {
		t.Errorf("resolved method = %q, want %q", got, "turn/start")
	}
}

func TestClient_ClearsMemoWhenResolvedMethodFails(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["conversation/sendMessage"] = ok(`{}`)
	c := NewClient(backend, "acp")

	if err := c.StartTurn(context.Background(), "t1", "hi", ""); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	// The remembered method stops working; the client must re-probe and
	// land on the canonical method.
	backend.respond["conversation/sendMessage"] = fail("gone")
	backend.respond["turn/start"] = ok(`{}`)
	if err := c.StartTurn(context.Background(), "t1", "hi again", ""); err != nil {
		t.Fatalf("StartTurn() after failure error = %v", err)
	}

	want := []string{"conversation/sendMessage", "conversation/sendMessage", "turn/start"}
	if got := backend.methods(); !equalMethods(got, want) {
		t.Errorf("call sequence = %v, want %v", got, want)
	}
	if got := c.Diagnostics().Resolved[ActionStartTurn]; got != "turn/start" {
		t.Errorf("resolved method = %q, want %q", got, "turn/start")
	}
}

func TestClient_AllCandidatesFailReturnsLastError(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["conversation/sendMessage"] = fail("first error")
	backend.respond["turn/start"] = fail("last error")
	c := NewClient(backend, "acp")

	err := c.StartTurn(context.Background(), "t1", "hello", "")
	if err == nil || err.Error() != "last error" {
		t.Fatalf("StartTurn() error = %v, want %q", err, "last error")
	}
	if got := c.Diagnostics().Resolved[ActionStartTurn]; got != "" {
		t.Errorf("resolved method = %q, want unresolved", got)
	}
}

func TestClient_StartTurnLegacyParams(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["conversation/sendMessage"] = ok(`{}`)
	c := NewClient(backend, "acp")

	if err := c.StartTurn(context.Background(), "t1", "run tests", "/work/repo"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	params := backend.lastParams(t)
	if got := params["conversation_id"]; got != "t1" {
		t.Errorf("conversation_id = %v, want %q", got, "t1")
	}
	if got := params["input"]; got != "run tests" {
		t.Errorf("input = %v, want %q", got, "run tests")
	}
	if got := params["cwd"]; got != "/work/repo" {
		t.Errorf("cwd = %v, want %q", got, "/work/repo")
	}
	msgID, _ := params["msg_id"].(string)
	if !strings.HasPrefix(msgID, "ui-") || len(msgID) <= len("ui-") {
		t.Errorf("msg_id = %q, want ui- prefixed unique id", msgID)
	}
}

func TestClient_StartTurnCanonicalParams(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["turn/start"] = ok(`{}`)
	c := NewClient(backend, "codex")

	if err := c.StartTurn(context.Background(), "t1", "hello", ""); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	params := backend.lastParams(t)
	if got := params["threadId"]; got != "t1" {
		t.Errorf("threadId = %v, want %q", got, "t1")
	}
	content, _ := params["content"].([]any)
	if len(content) != 1 {
		t.Fatalf("content blocks = %d, want 1", len(content))
	}
	block, _ := content[0].(map[string]any)
	if block["type"] != "text" || block["text"] != "hello" {
		t.Errorf("content[0] = %v, want text block %q", block, "hello")
	}
	if _, present := params["cwd"]; present {
		t.Error("cwd present in params, want omitted when empty")
	}
}

func TestClient_UnknownTypeFallsBackToCompatibility(t *testing.T) {
	backend := newFakeBackend(t)
	c := NewClient(backend, "future-backend")
	if got := c.Diagnostics().Mode; got != ModeCompatibility {
		t.Errorf("mode = %q, want %q", got, ModeCompatibility)
	}
}

func TestClient_SubscribeRoomDecodesSnapshot(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["room/subscribe"] = ok(`{
		"snapshot": [{"id":"m1","threadId":"t1","role":"user","content":"hi","cursor":3}],
		"cursor": 3,
		"ownerClientId": null,
		"ttlMs": 30000
	}`)
	c := NewClient(backend, "codex")

	snap, err := c.SubscribeRoom(context.Background(), "t1", -1)
	if err != nil {
		t.Fatalf("SubscribeRoom() error = %v", err)
	}
	if len(snap.Snapshot) != 1 || snap.Snapshot[0].ID != "m1" {
		t.Errorf("snapshot = %+v, want one item m1", snap.Snapshot)
	}
	if snap.Cursor != 3 {
		t.Errorf("cursor = %d, want 3", snap.Cursor)
	}
	if snap.OwnerClientID != "" {
		t.Errorf("ownerClientId = %q, want empty for null", snap.OwnerClientID)
	}
	if _, present := backend.lastParams(t)["cursor"]; present {
		t.Error("cursor present in params, want omitted for negative cursor")
	}
}

func TestClient_SubscribeRoomSendsCursor(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["room/subscribe"] = ok(`{"snapshot":[],"cursor":7,"ownerClientId":null,"ttlMs":30000}`)
	c := NewClient(backend, "codex")

	if _, err := c.SubscribeRoom(context.Background(), "t1", 7); err != nil {
		t.Fatalf("SubscribeRoom() error = %v", err)
	}
	if got := backend.lastParams(t)["cursor"]; got != float64(7) {
		t.Errorf("cursor param = %v, want 7", got)
	}
}

func TestClient_ClaimRoomReportsLostRace(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["room/claim"] = ok(`{"ownerClientId":"somebody-else","ttlMs":30000}`)
	c := NewClient(backend, "codex")

	claim, err := c.ClaimRoom(context.Background(), "t1")
	if err != nil {
		t.Fatalf("ClaimRoom() error = %v", err)
	}
	if claim.OwnerClientID != "somebody-else" {
		t.Errorf("ownerClientId = %q, want %q", claim.OwnerClientID, "somebody-else")
	}
	if claim.TTLMs != 30000 {
		t.Errorf("ttlMs = %d, want 30000", claim.TTLMs)
	}
}

func TestClient_ListThreadsPagination(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["thread/list"] = ok(`{"threads":[{"id":"t1"},{"id":"t2"}],"nextCursor":"p2"}`)
	c := NewClient(backend, "codex")

	page, err := c.ListThreads(context.Background(), "p1")
	if err != nil {
		t.Fatalf("ListThreads() error = %v", err)
	}
	if got := backend.lastParams(t)["cursor"]; got != "p1" {
		t.Errorf("cursor param = %v, want %q", got, "p1")
	}
	if len(page.Threads) != 2 || page.NextCursor != "p2" {
		t.Errorf("page = %+v, want 2 threads and nextCursor p2", page)
	}
}

func TestClient_StartThreadFallsBackToThreadID(t *testing.T) {
	backend := newFakeBackend(t)
	backend.respond["thread/start"] = ok(`{"thread":{"id":"t9","title":"fresh"}}`)
	c := NewClient(backend, "codex")

	id, thread, err := c.StartThread(context.Background())
	if err != nil {
		t.Fatalf("StartThread() error = %v", err)
	}
	if id != "t9" {
		t.Errorf("thread id = %q, want %q", id, "t9")
	}
	if thread == nil || thread.Title != "fresh" {
		t.Errorf("thread = %+v, want title %q", thread, "fresh")
	}
}
