// Package clock abstracts wall time and timers so recurring schedules
// (reconnect watchdog, lease renewal) can be driven by a fake in tests.
package clock

import "time"

// Timer is a cancellable single-shot timer handle.
type Timer interface {
	// C returns the channel the timer fires on.
	C() <-chan time.Time
	// Stop cancels the timer. It reports whether the timer was still armed.
	Stop() bool
	// Reset re-arms the timer with a new duration.
	Reset(d time.Duration)
}

// Ticker is a cancellable repeating timer handle.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock provides the current time and timer construction.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTimer struct{ t *time.Timer }

func (s *systemTimer) C() <-chan time.Time   { return s.t.C }
func (s *systemTimer) Stop() bool            { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) { s.t.Reset(d) }

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
