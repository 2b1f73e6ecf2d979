package rpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/animus-ai/animus-go/internal/clock"
)

// WatchdogInterval is the fixed reconnect polling cadence. There is no
// backoff: the runtime targets a LAN or localhost backend where a tight,
// predictable retry is preferable to a growing delay.
const WatchdogInterval = 1 * time.Second

// Watchdog re-dials the transport whenever it observes the socket closed.
// It is the explicit, cancellable replacement for a free-running interval.
type Watchdog struct {
	client   *Client
	url      string
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog creates a stopped watchdog for the given client and URL.
// A nil clk uses the system clock.
func NewWatchdog(client *Client, url string, clk clock.Clock, logger *slog.Logger) *Watchdog {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{client: client, url: url, clock: clk, interval: WatchdogInterval, logger: logger}
}

// Start begins polling. The first connect attempt is made immediately,
// then once per interval while the socket is closed. Starting a running
// watchdog is a no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	done := make(chan struct{})
	w.done = done
	go w.run(ctx, done)
}

// Stop cancels polling and waits for the loop to exit. The connection
// itself is left as-is; callers close the client separately.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Watchdog) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	w.tryConnect(ctx)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			w.tryConnect(ctx)
		}
	}
}

func (w *Watchdog) tryConnect(ctx context.Context) {
	if w.client.State() != StateClosed {
		return
	}
	if err := w.client.Connect(ctx, w.url); err != nil {
		w.logger.Debug("reconnect attempt failed", "url", w.url, "error", err)
	}
}
