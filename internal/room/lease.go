package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/animus-ai/animus-go/internal/clock"
	"github.com/animus-ai/animus-go/internal/conversation"
)

// Lessor is the subset of the conversation client the lease keeper needs.
type Lessor interface {
	ClaimRoom(ctx context.Context, threadID string) (conversation.ClaimResult, error)
	ReleaseRoom(ctx context.Context, threadID string) (conversation.ReleaseResult, error)
}

const (
	minRenewInterval = 5 * time.Second
	maxRenewInterval = 20 * time.Second
)

// RenewInterval derives the renewal cadence from a lease TTL: 60% of the
// TTL, clamped to [5s, 20s]. Renewing well before expiry tolerates one
// missed renewal on a short TTL without losing the lease.
func RenewInterval(ttlMs int64) time.Duration {
	d := time.Duration(ttlMs*6/10) * time.Millisecond
	if d < minRenewInterval {
		return minRenewInterval
	}
	if d > maxRenewInterval {
		return maxRenewInterval
	}
	return d
}

// LeaseConfig configures a LeaseKeeper.
type LeaseConfig struct {
	Client Lessor
	Clock  clock.Clock
	Logger *slog.Logger
	// SelfID returns the server-assigned client id. It is a function because
	// the id is only known after initialize and changes on reconnect.
	SelfID func() string
	// OnChange fires when the keeper's view of ownership changes: owned
	// reports whether this client holds the lease, owner is the holder's
	// client id ("" when unheld).
	OnChange func(owner string, owned bool)
}

// LeaseKeeper claims the input lease for the active thread and keeps it
// renewed until it is released, lost, or stopped.
type LeaseKeeper struct {
	client   Lessor
	clock    clock.Clock
	logger   *slog.Logger
	selfID   func() string
	onChange func(owner string, owned bool)

	mu       sync.Mutex
	threadID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLeaseKeeper creates a stopped keeper.
func NewLeaseKeeper(cfg LeaseConfig) *LeaseKeeper {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func(string, bool) {}
	}
	return &LeaseKeeper{
		client:   cfg.Client,
		clock:    clk,
		logger:   logger,
		selfID:   cfg.SelfID,
		onChange: onChange,
	}
}

// Acquire claims the lease for a thread. A transport-level success can
// still report another owner; only a matching owner id starts renewal.
func (k *LeaseKeeper) Acquire(ctx context.Context, threadID string) (conversation.ClaimResult, error) {
	claim, err := k.client.ClaimRoom(ctx, threadID)
	if err != nil {
		return conversation.ClaimResult{}, err
	}
	if claim.OwnerClientID == k.selfID() {
		k.startRenewal(ctx, threadID, claim.TTLMs)
		k.onChange(claim.OwnerClientID, true)
	} else {
		k.stopRenewal()
		k.onChange(claim.OwnerClientID, false)
	}
	return claim, nil
}

// Release stops renewal and gives the lease back.
func (k *LeaseKeeper) Release(ctx context.Context) error {
	k.mu.Lock()
	threadID := k.threadID
	k.mu.Unlock()
	k.stopRenewal()
	if threadID == "" {
		return nil
	}
	rel, err := k.client.ReleaseRoom(ctx, threadID)
	if err != nil {
		return err
	}
	k.onChange(rel.OwnerClientID, false)
	return nil
}

// ObserveOwner folds an ownership broadcast into the keeper. Losing the
// lease to another client stops renewal immediately; a broadcast confirming
// our own ownership re-arms renewal with the fresh TTL.
func (k *LeaseKeeper) ObserveOwner(ctx context.Context, threadID, owner string, ttlMs int64) {
	if owner == k.selfID() && owner != "" {
		k.startRenewal(ctx, threadID, ttlMs)
		k.onChange(owner, true)
		return
	}
	k.mu.Lock()
	renewing := k.cancel != nil && k.threadID == threadID
	k.mu.Unlock()
	if renewing {
		k.stopRenewal()
	}
	k.onChange(owner, false)
}

// Stop halts renewal without touching server state.
func (k *LeaseKeeper) Stop() { k.stopRenewal() }

// Renewing reports whether a renewal loop is currently running.
func (k *LeaseKeeper) Renewing() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.cancel != nil
}

func (k *LeaseKeeper) startRenewal(ctx context.Context, threadID string, ttlMs int64) {
	k.stopRenewal()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	k.mu.Lock()
	k.threadID = threadID
	k.cancel = cancel
	k.done = done
	k.mu.Unlock()
	go k.renewLoop(ctx, done, threadID, RenewInterval(ttlMs))
}

func (k *LeaseKeeper) stopRenewal() {
	k.mu.Lock()
	cancel := k.cancel
	done := k.done
	k.cancel = nil
	k.done = nil
	k.threadID = ""
	k.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (k *LeaseKeeper) renewLoop(ctx context.Context, done chan struct{}, threadID string, interval time.Duration) {
	defer close(done)
	ticker := k.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
		claim, err := k.client.ClaimRoom(ctx, threadID)
		if err != nil {
			k.logger.Warn("lease renewal failed", "thread", threadID, "error", err)
			k.detach(threadID)
			k.onChange("", false)
			return
		}
		if claim.OwnerClientID != k.selfID() {
			k.logger.Info("lease lost during renewal", "thread", threadID, "owner", claim.OwnerClientID)
			k.detach(threadID)
			k.onChange(claim.OwnerClientID, false)
			return
		}
	}
}

// detach clears the keeper's registration from inside the renewal loop
// without waiting on its own done channel.
func (k *LeaseKeeper) detach(threadID string) {
	k.mu.Lock()
	var cancel context.CancelFunc
	if k.threadID == threadID {
		cancel = k.cancel
		k.cancel = nil
		k.done = nil
		k.threadID = ""
	}
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
