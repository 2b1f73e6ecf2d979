package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/animus-ai/animus-go/internal/appdir"
	"github.com/animus-ai/animus-go/internal/chat"
	"github.com/animus-ai/animus-go/internal/config"
	"github.com/animus-ai/animus-go/internal/logging"
	"github.com/animus-ai/animus-go/internal/rpc"
	"github.com/animus-ai/animus-go/internal/turn"
)

var (
	// chat-specific flags
	openThreadID string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session with the agent backend",
	Long: `Connect to the agent backend and chat interactively.

The connection is kept alive by a reconnect watchdog; on reconnect the
active thread is resubscribed from its last seen position and the input
lease is re-claimed.

Commands (interactive mode only):
  /threads [loaded]   - List threads
  /open <id>          - Open a thread
  /new                - Start a new thread
  /claim, /release    - Manage the input lease
  /approvals          - List pending approval requests
  /approve <n>        - Approve request n (add 'session' to approve for the session)
  /deny <n>           - Deny request n
  /status             - Show connection and turn status
  /quit, /exit        - Exit`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&openThreadID, "thread", "", "Thread id to open on startup")
}

// printer serializes streaming output so deltas, prompts, and status lines
// do not interleave mid-line.
type printer struct {
	mu          sync.Mutex
	streamItem  string
	streamedLen int
}

func (p *printer) streamFragment(frag turn.Fragment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if frag.ItemID != p.streamItem {
		if p.streamedLen > 0 {
			fmt.Println()
		}
		p.streamItem = frag.ItemID
		p.streamedLen = 0
	}
	if len(frag.Text) > p.streamedLen {
		fmt.Print(frag.Text[p.streamedLen:])
		p.streamedLen = len(frag.Text)
	}
}

func (p *printer) endStream() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streamedLen > 0 {
		fmt.Println()
	}
	p.streamItem = ""
	p.streamedLen = 0
}

func (p *printer) line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf(format+"\n", args...)
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := logging.Chat()

	workspaces, err := config.LoadWorkspaces()
	if err != nil {
		logger.Warn("failed to load workspace map", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	out := &printer{}
	var ctrl *chat.Controller

	notify := func(event string) {
		switch event {
		case "agent/message/delta":
			out.streamFragment(ctrl.Machine().Fragment())
		case "turn/finished":
			out.endStream()
			if ctrl.Machine().Status() == turn.StatusError {
				out.line("turn failed: %s", ctrl.Machine().Err())
			}
		case "error":
			out.endStream()
			out.line("backend error: %s", ctrl.Machine().Err())
		case "codex/request":
			out.line("approval requested; use /approvals to review")
		case "room/owner":
			if active := ctrl.ActiveSession(); active != nil {
				if owner, _ := active.Owner(); owner != "" && owner != ctrl.ClientID() {
					out.line("input lease now held by %s", chat.TruncateOwner(owner))
				}
			}
		}
	}

	client := rpc.NewClient(rpc.Config{
		Logger: logging.Transport(),
		OnConnect: func() {
			if err := ctrl.HandleConnect(ctx); err != nil {
				logger.Warn("connection bootstrap failed", "error", err)
				return
			}
			out.line("connected to %s as %s", cfg.Server.URL, ctrl.ClientID())
		},
		OnDisconnect: func(err error) {
			ctrl.HandleDisconnect(err)
			out.line("connection lost, retrying...")
		},
	})
	ctrl = chat.NewController(cfg, client,
		chat.WithLogger(logger),
		chat.WithWorkspaces(workspaces),
		chat.WithNotify(notify),
	)

	// Live-reload the automation policy when the settings file changes.
	settingsPath := configPath
	if settingsPath == "" {
		if settingsPath, err = appdir.SettingsPath(); err != nil {
			logger.Warn("settings path unavailable, live reload disabled", "error", err)
		}
	}
	if settingsPath != "" {
		watcher, werr := config.NewSettingsWatcher(settingsPath, func(next *config.Config) {
			ctrl.ApplyConfig(next)
			out.line("settings reloaded from %s", settingsPath)
		}, logger)
		if werr != nil {
			logger.Warn("settings watcher unavailable", "error", werr)
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	watchdog := rpc.NewWatchdog(client, cfg.Server.URL, nil, logging.Transport())
	watchdog.Start(ctx)
	defer func() {
		watchdog.Stop()
		ctrl.Close(context.Background())
		_ = client.Close()
	}()

	if openThreadID != "" {
		if err := waitConnected(ctx, client, 10*time.Second); err != nil {
			return err
		}
		if err := ctrl.OpenThread(ctx, openThreadID); err != nil {
			return fmt.Errorf("failed to open thread %s: %w", openThreadID, err)
		}
	}

	return runChatLoop(ctx, ctrl, workspaces, out)
}

// waitConnected polls until the socket is open, for startup paths that need
// an immediate request.
func waitConnected(ctx context.Context, client *rpc.Client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !client.Connected() {
		if time.Now().After(deadline) {
			return fmt.Errorf("backend not reachable at %s", cfg.Server.URL)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// chatSlashCommands defines the available slash commands with their descriptions.
var chatSlashCommands = []struct {
	name        string
	description string
}{
	{"/threads", "List threads (add 'loaded' for loaded threads only)"},
	{"/open", "Open a thread by id"},
	{"/new", "Start a new thread"},
	{"/claim", "Claim the input lease for the active thread"},
	{"/release", "Release the input lease"},
	{"/cwd", "Set the working directory for the active thread (or 'default')"},
	{"/approvals", "List pending approval requests"},
	{"/approve", "Approve a pending request by number"},
	{"/deny", "Deny a pending request by number"},
	{"/status", "Show connection and turn status"},
	{"/timeline", "Show recent room events"},
	{"/help", "Show available commands"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
}

func runChatLoop(ctx context.Context, ctrl *chat.Controller, workspaces *config.Workspaces, out *printer) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "animus> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeChatInput(string(line), cursor)
	}

	fmt.Println("Type a message and press Enter. Use /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleChatCommand(ctx, ctrl, workspaces, line); quit {
				return nil
			}
			continue
		}

		if err := ctrl.Send(ctx, line); err != nil {
			out.line("send failed: %v", err)
		}
	}
}

// handleChatCommand executes a slash command; it reports whether the loop
// should exit.
func handleChatCommand(ctx context.Context, ctrl *chat.Controller, workspaces *config.Workspaces, line string) bool {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("Goodbye!")
		return true

	case "threads":
		loadedOnly := len(parts) > 1 && parts[1] == "loaded"
		threads, err := ctrl.RefreshThreads(ctx, loadedOnly)
		if err != nil {
			fmt.Printf("listing failed: %v\n", err)
			return false
		}
		if len(threads) == 0 {
			fmt.Println("no threads")
			return false
		}
		for _, t := range threads {
			fmt.Printf("  %s  %s\n", t.ID, chat.ThreadTitle(t))
		}

	case "open":
		if len(parts) < 2 {
			fmt.Println("usage: /open <thread-id>")
			return false
		}
		if err := ctrl.OpenThread(ctx, parts[1]); err != nil {
			fmt.Printf("open failed: %v\n", err)
			return false
		}
		printSessionSummary(ctrl)

	case "new":
		id, err := ctrl.NewThread(ctx)
		if err != nil {
			fmt.Printf("new thread failed: %v\n", err)
			return false
		}
		fmt.Printf("opened new thread %s\n", id)

	case "claim":
		if err := ctrl.Claim(ctx); err != nil {
			fmt.Printf("claim failed: %v\n", err)
		} else {
			fmt.Println("input lease claimed")
		}

	case "release":
		if err := ctrl.Release(ctx); err != nil {
			fmt.Printf("release failed: %v\n", err)
		} else {
			fmt.Println("input lease released")
		}

	case "cwd":
		if workspaces == nil {
			fmt.Println("workspace map unavailable")
			return false
		}
		if len(parts) > 1 && parts[1] == "default" {
			if len(parts) < 3 {
				fmt.Printf("default cwd: %s\n", workspaces.Default())
				return false
			}
			abs, err := filepath.Abs(parts[2])
			if err != nil {
				fmt.Printf("bad path: %v\n", err)
				return false
			}
			if err := workspaces.SetDefault(abs); err != nil {
				fmt.Printf("failed to save default workspace: %v\n", err)
			}
			return false
		}
		active := ctrl.ActiveSession()
		if active == nil {
			fmt.Println("no active thread")
			return false
		}
		if len(parts) < 2 {
			fmt.Printf("cwd: %s\n", workspaces.Dir(active.ThreadID()))
			return false
		}
		abs, err := filepath.Abs(parts[1])
		if err != nil {
			fmt.Printf("bad path: %v\n", err)
			return false
		}
		if err := workspaces.Set(active.ThreadID(), abs); err != nil {
			fmt.Printf("failed to save workspace: %v\n", err)
		}

	case "approvals":
		printApprovals(ctrl)

	case "approve":
		action := turn.ActionAccept
		if len(parts) > 2 && parts[2] == "session" {
			action = turn.ActionAcceptForSession
		}
		answerApproval(ctx, ctrl, parts, action)

	case "deny":
		answerApproval(ctx, ctrl, parts, turn.ActionDecline)

	case "status":
		printStatus(ctrl)

	case "timeline":
		for _, e := range ctrl.Timeline() {
			fmt.Printf("  %6d  %-10s %s\n", e.Cursor, e.Role, e.ItemID)
		}

	case "help", "h", "?":
		for _, c := range chatSlashCommands {
			fmt.Printf("  %-12s %s\n", c.name, c.description)
		}

	default:
		fmt.Printf("unknown command: /%s (use /help)\n", parts[0])
	}
	return false
}

func answerApproval(ctx context.Context, ctrl *chat.Controller, parts []string, action turn.Action) {
	pending := ctrl.Machine().Pending()
	if len(pending) == 0 {
		fmt.Println("no pending approvals")
		return
	}
	idx := 1
	if len(parts) > 1 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 || n > len(pending) {
			fmt.Printf("usage: /%s <1-%d>\n", parts[0], len(pending))
			return
		}
		idx = n
	}
	req := pending[idx-1]
	if err := ctrl.Approve(ctx, req.ID.Key(), action); err != nil {
		fmt.Printf("approval failed: %v\n", err)
		return
	}
	fmt.Printf("request %s: %s\n", req.ID, action)
}

func printApprovals(ctrl *chat.Controller) {
	pending := ctrl.Machine().Pending()
	if len(pending) == 0 {
		fmt.Println("no pending approvals")
		return
	}
	for i, req := range pending {
		state := ""
		if req.Submitting {
			state = " (submitting)"
		}
		fmt.Printf("  %d. [%s] %s (%s)%s\n", i+1, req.ID, chat.ApprovalSummary(req), req.Method, state)
		if len(req.Params) > 0 {
			fmt.Printf("     %s\n", req.Params)
		}
	}
}

func printSessionSummary(ctrl *chat.Controller) {
	active := ctrl.ActiveSession()
	if active == nil {
		return
	}
	items := active.Items()
	owner, _ := active.Owner()
	ownerDesc := "unheld"
	switch {
	case owner == ctrl.ClientID() && owner != "":
		ownerDesc = "held by this client"
	case owner != "":
		ownerDesc = "held by " + chat.TruncateOwner(owner)
	}
	fmt.Printf("opened %s: %d items, lease %s\n", active.ThreadID(), len(items), ownerDesc)
	tail := items
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	for _, item := range tail {
		content := chat.ExtractDisplayContent(item)
		if content == "" && chat.ShouldShowRaw(item) {
			content = string(item.Raw)
		}
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		fmt.Printf("  %-10s %s\n", item.Role, content)
	}
}

func printStatus(ctrl *chat.Controller) {
	fmt.Printf("client id: %s\n", ctrl.ClientID())
	diag := ctrl.Diagnostics()
	fmt.Printf("dialect: %s (%s mode)\n", cfg.Conversation.Type, diag.Mode)
	if active := ctrl.ActiveSession(); active != nil {
		owner, ttl := active.Owner()
		fmt.Printf("thread: %s (cursor %d)\n", active.ThreadID(), active.Cursor())
		if owner == "" {
			fmt.Println("lease: unheld")
		} else {
			fmt.Printf("lease: %s (ttl %dms)\n", chat.TruncateOwner(owner), ttl)
		}
	} else {
		fmt.Println("thread: none")
	}
	status := ctrl.Machine().Status()
	fmt.Printf("turn: %s [%s]\n", status, chat.StatusTone(status))
	if msg := ctrl.Machine().Err(); msg != "" {
		fmt.Printf("last error: %s\n", msg)
	}
}

// completeChatInput provides tab completion for slash commands.
func completeChatInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]
	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(chatSlashCommands)*2)
	for _, c := range chatSlashCommands {
		if strings.HasPrefix(c.name, text) {
			pairs = append(pairs, c.name, c.description)
		}
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}
	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
