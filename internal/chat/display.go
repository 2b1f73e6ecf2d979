package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/animus-ai/animus-go/internal/conversation"
	"github.com/animus-ai/animus-go/internal/turn"
)

// rawRoles render their structured payload when no plain content exists.
var rawRoles = map[string]bool{
	"tool":    true,
	"command": true,
}

// ExtractDisplayContent returns the text to render for an item: the plain
// content when present, otherwise the best text-like field dug out of the
// raw payload.
func ExtractDisplayContent(item conversation.ThreadItem) string {
	if item.Content != "" {
		return item.Content
	}
	if len(item.Raw) == 0 {
		return ""
	}
	var raw struct {
		Text    string `json:"text"`
		Message string `json:"message"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(item.Raw, &raw); err != nil {
		return ""
	}
	for _, v := range []string{raw.Text, raw.Message, raw.Content} {
		if v != "" {
			return v
		}
	}
	return ""
}

// ShouldShowRaw reports whether an item's opaque payload should be shown
// when it has no displayable text.
func ShouldShowRaw(item conversation.ThreadItem) bool {
	return rawRoles[item.Role] && len(item.Raw) > 0
}

// EstimateItemHeight predicts a rendered item's height in pixels from its
// content, for the virtualized list. Clamped so a pathological message
// cannot produce an absurd row.
func EstimateItemHeight(item conversation.ThreadItem) float64 {
	content := ExtractDisplayContent(item)
	lines := (len(content) + 71) / 72
	if lines < 1 {
		lines = 1
	}
	rawLines := (len(item.Raw) + 79) / 80
	if rawLines > 18 {
		rawLines = 18
	}
	h := 84.0 + float64(lines)*22 + float64(rawLines)*18
	if h > 640 {
		return 640
	}
	return h
}

// ThreadTitle returns a display title for a thread, falling back to a
// truncated id when untitled.
func ThreadTitle(t conversation.Thread) string {
	if title := strings.TrimSpace(t.Title); title != "" {
		return title
	}
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Thread " + id
}

// TruncateOwner shortens an owner client id for user-facing messages.
func TruncateOwner(owner string) string {
	if len(owner) > 8 {
		return owner[:8]
	}
	return owner
}

// notOwnerMessage is the user-visible message for a failed send while
// another client holds the lease.
func notOwnerMessage(owner string) string {
	return fmt.Sprintf("Not owner (owner: %s)", TruncateOwner(owner))
}

// ApprovalSummary returns a short label for an approval request: the
// program under review for command approvals, the path for file changes,
// then the tool name, then the raw method.
func ApprovalSummary(req turn.ApprovalRequest) string {
	var p struct {
		Command  json.RawMessage `json:"command"`
		Path     string          `json:"path"`
		ToolName string          `json:"toolName"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &p)
	}
	if len(p.Command) > 0 {
		// command arrives as a shell string or an argv array depending on
		// the backend
		var s string
		if err := json.Unmarshal(p.Command, &s); err == nil && s != "" {
			if words, err := shlex.Split(s); err == nil && len(words) > 0 {
				return words[0]
			}
			return s
		}
		var argv []string
		if err := json.Unmarshal(p.Command, &argv); err == nil && len(argv) > 0 {
			return argv[0]
		}
	}
	if p.Path != "" {
		return p.Path
	}
	if p.ToolName != "" {
		return p.ToolName
	}
	return req.Method
}

// StatusTone buckets a turn status for UI styling.
func StatusTone(s turn.Status) string {
	switch s {
	case turn.StatusStarting, turn.StatusRunning:
		return "busy"
	case turn.StatusWaitingApproval:
		return "warn"
	case turn.StatusError:
		return "error"
	case turn.StatusCompleted:
		return "ok"
	default:
		return "idle"
	}
}
