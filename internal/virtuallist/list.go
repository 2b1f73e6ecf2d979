// Package virtuallist computes the visible window over an ordered log of
// variable-height items, with follow-tail auto-scroll. It is a headless
// model: the UI host feeds it scroll positions and reads back ranges and
// offsets.
package virtuallist

import "sort"

const (
	defaultOverscan        = 4
	defaultBypassThreshold = 120
	defaultFollowThreshold = 80.0
	defaultMinItemHeight   = 48.0
)

// Config tunes a List. Zero values take the defaults.
type Config struct {
	// Overscan is the number of extra items rendered on each side of the
	// visible range.
	Overscan int
	// BypassThreshold is the item count below which virtualization is
	// skipped and the full range is returned.
	BypassThreshold int
	// FollowThreshold is how far (in px) the view may drift from the bottom
	// and still count as "near bottom".
	FollowThreshold float64
	// MinItemHeight clamps per-item height estimates from below.
	MinItemHeight float64
	// OnFollowChange fires once per follow-state transition.
	OnFollowChange func(following bool)
}

// List is the virtualization model. Not safe for concurrent use; it lives
// on the UI event loop.
type List struct {
	cfg Config

	heights   []float64
	prefix    []float64 // prefix[i] = summed height of items [0, i)
	scrollTop float64
	viewport  float64
	following bool
}

// New creates a list that starts in follow mode.
func New(cfg Config) *List {
	if cfg.Overscan <= 0 {
		cfg.Overscan = defaultOverscan
	}
	if cfg.BypassThreshold <= 0 {
		cfg.BypassThreshold = defaultBypassThreshold
	}
	if cfg.FollowThreshold <= 0 {
		cfg.FollowThreshold = defaultFollowThreshold
	}
	if cfg.MinItemHeight <= 0 {
		cfg.MinItemHeight = defaultMinItemHeight
	}
	if cfg.OnFollowChange == nil {
		cfg.OnFollowChange = func(bool) {}
	}
	return &List{cfg: cfg, following: true}
}

// SetViewport records the viewport height.
func (l *List) SetViewport(h float64) { l.viewport = h }

// SetItems replaces the height estimates and rebuilds the prefix sums.
// While following, the view is pinned to the new bottom; otherwise the
// scroll position is left where the user put it.
func (l *List) SetItems(heights []float64) {
	l.heights = make([]float64, len(heights))
	for i, h := range heights {
		if h < l.cfg.MinItemHeight {
			h = l.cfg.MinItemHeight
		}
		l.heights[i] = h
	}
	l.rebuild()
	if l.following {
		l.scrollTop = l.bottom()
	}
}

// UpdateHeight revises one item's estimate (measured height feedback).
func (l *List) UpdateHeight(i int, h float64) {
	if i < 0 || i >= len(l.heights) {
		return
	}
	if h < l.cfg.MinItemHeight {
		h = l.cfg.MinItemHeight
	}
	l.heights[i] = h
	l.rebuild()
	if l.following {
		l.scrollTop = l.bottom()
	}
}

// Len returns the item count.
func (l *List) Len() int { return len(l.heights) }

// TotalHeight returns the summed height of all items.
func (l *List) TotalHeight() float64 {
	if len(l.prefix) == 0 {
		return 0
	}
	return l.prefix[len(l.prefix)-1]
}

// Offset returns the top offset of item i.
func (l *List) Offset(i int) float64 {
	if i < 0 || i >= len(l.heights) {
		return 0
	}
	return l.prefix[i]
}

// ScrollTop returns the model's current scroll position.
func (l *List) ScrollTop() float64 { return l.scrollTop }

// Following reports whether follow-tail is active.
func (l *List) Following() bool { return l.following }

// VisibleRange returns the [start, end) index range to render for the
// current scroll position. Short logs bypass virtualization entirely.
func (l *List) VisibleRange() (start, end int) {
	n := len(l.heights)
	if n == 0 {
		return 0, 0
	}
	if n < l.cfg.BypassThreshold {
		return 0, n
	}
	start = l.indexAt(l.scrollTop) - l.cfg.Overscan
	if start < 0 {
		start = 0
	}
	end = l.indexAt(l.scrollTop+l.viewport) + 1 + l.cfg.Overscan
	if end > n {
		end = n
	}
	return start, end
}

// HandleScroll folds a user scroll event into the model. Drifting past the
// follow threshold disables following; re-enabling is explicit via
// FollowTail, so a stray scroll cannot silently re-pin the view.
func (l *List) HandleScroll(scrollTop float64) {
	l.scrollTop = scrollTop
	if l.following && !l.IsNearBottom() {
		l.following = false
		l.cfg.OnFollowChange(false)
	}
}

// IsNearBottom reports whether the view is within the follow threshold of
// the bottom.
func (l *List) IsNearBottom() bool {
	return l.bottom()-l.scrollTop <= l.cfg.FollowThreshold
}

// FollowTail re-enables follow mode without moving the view.
func (l *List) FollowTail() {
	if l.following {
		return
	}
	l.following = true
	l.cfg.OnFollowChange(true)
}

// ScrollToBottom pins the view to the true bottom.
func (l *List) ScrollToBottom() {
	l.scrollTop = l.bottom()
}

func (l *List) rebuild() {
	l.prefix = make([]float64, len(l.heights)+1)
	for i, h := range l.heights {
		l.prefix[i+1] = l.prefix[i] + h
	}
}

// indexAt returns the index of the item containing the given offset: the
// first index whose cumulative bottom edge exceeds it.
func (l *List) indexAt(offset float64) int {
	n := len(l.heights)
	i := sort.Search(n, func(i int) bool { return l.prefix[i+1] > offset })
	if i >= n {
		return n - 1
	}
	return i
}

func (l *List) bottom() float64 {
	b := l.TotalHeight() - l.viewport
	if b < 0 {
		return 0
	}
	return b
}
