package navigation

import (
	"sync"
	"time"

	"github.com/MeKo-Tech/bubblenav/internal/balloon"
)

// OverlayState is the visibility phase of the balloon popup.
type OverlayState int

const (
	OverlayHidden OverlayState = iota
	OverlayShowing
	OverlayVisible
	OverlayHiding
)

func (s OverlayState) String() string {
	switch s {
	case OverlayShowing:
		return "showing"
	case OverlayVisible:
		return "visible"
	case OverlayHiding:
		return "hiding"
	default:
		return "hidden"
	}
}

// Action tells the host what to do after an input.
type Action int

const (
	ActionNone Action = iota
	ActionShow
	ActionAdvancePage
	ActionRetreatPage
	ActionHide
	ActionPassThrough
)

func (a Action) String() string {
	switch a {
	case ActionShow:
		return "show"
	case ActionAdvancePage:
		return "advance_page"
	case ActionRetreatPage:
		return "retreat_page"
	case ActionHide:
		return "hide"
	case ActionPassThrough:
		return "pass_through"
	default:
		return "none"
	}
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Timing holds the overlay transition windows.
type Timing struct {
	Show time.Duration
	Hide time.Duration
}

// DefaultTiming returns 200ms show and 150ms hide windows.
func DefaultTiming() Timing {
	return Timing{Show: 200 * time.Millisecond, Hide: 150 * time.Millisecond}
}

// Config configures a Navigator.
type Config struct {
	Direction balloon.Direction
	Timing    Timing
	Clock     Clock
}

// DefaultConfig returns LTR navigation on the system clock.
func DefaultConfig() Config {
	return Config{Direction: balloon.LeftToRight, Timing: DefaultTiming(), Clock: SystemClock{}}
}

// Cursor is the navigation state of the displayed page.
type Cursor struct {
	BalloonIndex int          `json:"balloon_index"` // -1 when no balloon is selected
	Overlay      OverlayState `json:"-"`
}

// OverlayVisible reports whether the popup is on screen or animating in.
func (c Cursor) OverlayVisible() bool {
	return c.Overlay == OverlayShowing || c.Overlay == OverlayVisible
}

// transition is a scheduled overlay change. The overlay is hiding until hideUntil,
// then showing until showUntil, then settles in final.
type transition struct {
	hideUntil time.Time
	showUntil time.Time
	final     OverlayState
}

func (t transition) at(now time.Time) OverlayState {
	if now.Before(t.hideUntil) {
		return OverlayHiding
	}
	if t.final == OverlayVisible && now.Before(t.showUntil) {
		return OverlayShowing
	}
	return t.final
}

// deadline returns when the transition settles.
func (t transition) deadline() time.Time {
	if t.final == OverlayVisible && t.showUntil.After(t.hideUntil) {
		return t.showUntil
	}
	return t.hideUntil
}

// Navigator owns the cursor for the displayed page. All state changes go through
// its methods; it is safe for concurrent use.
type Navigator struct {
	mu     sync.Mutex
	clock  Clock
	timing Timing
	dir    balloon.Direction
	page   balloon.PageBalloons
	cursor int
	trans  transition
}

// New creates a navigator with an empty page.
func New(cfg Config) *Navigator {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Navigator{clock: cfg.Clock, timing: cfg.Timing, dir: cfg.Direction, cursor: -1}
}

// SetBalloons replaces the displayed page's balloon list and resets the cursor
// to -1 with the overlay hidden, without animation.
func (n *Navigator) SetBalloons(p balloon.PageBalloons) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.page = p
	n.cursor = -1
	n.trans = transition{final: OverlayHidden}
}

// ReplaceIfIdle swaps in a newer result for the page on display while no
// balloon is selected. It reports whether p was adopted.
func (n *Navigator) ReplaceIfIdle(p balloon.PageBalloons) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cursor != -1 || n.page.PageIndex != p.PageIndex {
		return false
	}
	n.page = p
	return true
}

// SetDirection changes the reading direction used for tap routing.
func (n *Navigator) SetDirection(dir balloon.Direction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dir = dir
}

// Direction returns the reading direction.
func (n *Navigator) Direction() balloon.Direction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dir
}

// Next moves to the following balloon, or asks for the next page when there is none.
func (n *Navigator) Next() Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := len(n.page.Balloons)
	if count == 0 {
		return ActionAdvancePage
	}
	if n.cursor+1 < count {
		n.cursor++
		n.scheduleShow()
		return ActionShow
	}
	n.cursor = -1
	n.scheduleHide()
	return ActionAdvancePage
}

// Previous moves to the preceding balloon, or asks for the previous page from the first one.
func (n *Navigator) Previous() Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.page.Balloons) == 0 {
		return ActionRetreatPage
	}
	if n.cursor > 0 {
		n.cursor--
		n.scheduleShow()
		return ActionShow
	}
	n.cursor = -1
	n.scheduleHide()
	return ActionRetreatPage
}

// Hide hides the overlay if it is shown. The cursor is kept.
func (n *Navigator) Hide() Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.overlayOnScreen() {
		return ActionNone
	}
	n.scheduleHide()
	return ActionHide
}

// Tap routes a tap by horizontal position: the outer thirds navigate (swapped for
// right-to-left books), the middle third hides a shown overlay or passes through.
func (n *Navigator) Tap(x, screenWidth float64) Action {
	if screenWidth <= 0 {
		return ActionPassThrough
	}
	third := screenWidth / 3
	rtl := n.Direction() == balloon.RightToLeft
	switch {
	case x < third:
		if rtl {
			return n.Next()
		}
		return n.Previous()
	case x >= 2*third:
		if rtl {
			return n.Previous()
		}
		return n.Next()
	}
	if a := n.Hide(); a == ActionHide {
		return a
	}
	return ActionPassThrough
}

// LongPress jumps to the first balloon, in reading order, whose on-screen rectangle
// contains the point. The overlay becomes visible immediately.
func (n *Navigator) LongPress(x, y float64, vp Viewport) Action {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, b := range n.page.Balloons {
		if vp.Project(b.Rect).Contains(x, y) {
			n.cursor = i
			n.trans = transition{final: OverlayVisible}
			return ActionShow
		}
	}
	return ActionNone
}

// overlayOnScreen reports whether the overlay is shown or about to be. Callers hold mu.
func (n *Navigator) overlayOnScreen() bool {
	s := n.trans.at(n.clock.Now())
	return s == OverlayShowing || s == OverlayVisible
}

// scheduleShow replaces any pending transition. A shown overlay first hides for the
// hide window; an overlay already hiding keeps its remaining hide time. Callers hold mu.
func (n *Navigator) scheduleShow() {
	now := n.clock.Now()
	hideUntil := now
	switch n.trans.at(now) {
	case OverlayShowing, OverlayVisible:
		hideUntil = now.Add(n.timing.Hide)
	case OverlayHiding:
		hideUntil = n.trans.hideUntil
	}
	n.trans = transition{
		hideUntil: hideUntil,
		showUntil: hideUntil.Add(n.timing.Show),
		final:     OverlayVisible,
	}
}

// scheduleHide starts the hide window when the overlay is on screen. Callers hold mu.
func (n *Navigator) scheduleHide() {
	now := n.clock.Now()
	switch n.trans.at(now) {
	case OverlayShowing, OverlayVisible:
		n.trans = transition{hideUntil: now.Add(n.timing.Hide), final: OverlayHidden}
	case OverlayHiding:
		n.trans = transition{hideUntil: n.trans.hideUntil, final: OverlayHidden}
	default:
		n.trans = transition{final: OverlayHidden}
	}
}

// Cursor returns the cursor with the overlay phase at the current time.
func (n *Navigator) Cursor() Cursor {
	return n.State(n.clock.Now())
}

// State returns the cursor with the overlay phase at now.
func (n *Navigator) State(now time.Time) Cursor {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Cursor{BalloonIndex: n.cursor, Overlay: n.trans.at(now)}
}

// Tick returns the overlay phase at now and, while a transition is pending, when
// the host should tick again.
func (n *Navigator) Tick(now time.Time) (OverlayState, time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	state := n.trans.at(now)
	next := n.trans.hideUntil
	if !now.Before(next) {
		next = n.trans.deadline()
	}
	return state, next, now.Before(next)
}

// Current returns the selected balloon, if any.
func (n *Navigator) Current() (balloon.Balloon, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.page.At(n.cursor)
}

// Count returns the number of balloons on the displayed page.
func (n *Navigator) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.page.Balloons)
}

// Page returns the displayed page's balloon list.
func (n *Navigator) Page() balloon.PageBalloons {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.page
}

// Deadline returns when the pending overlay transition settles, and whether one is pending.
func (n *Navigator) Deadline() (time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.trans.deadline()
	return d, n.clock.Now().Before(d)
}

// Snapshot is the host-facing view of the navigator.
type Snapshot struct {
	PageIndex      int              `json:"page_index"`
	BalloonIndex   int              `json:"balloon_index"`
	Count          int              `json:"count"`
	Overlay        string           `json:"overlay"`
	OverlayVisible bool             `json:"overlay_visible"`
	Current        *balloon.Balloon `json:"current,omitempty"`
}

// Snapshot captures the current state.
func (n *Navigator) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := Cursor{BalloonIndex: n.cursor, Overlay: n.trans.at(n.clock.Now())}
	s := Snapshot{
		PageIndex:      n.page.PageIndex,
		BalloonIndex:   n.cursor,
		Count:          len(n.page.Balloons),
		Overlay:        c.Overlay.String(),
		OverlayVisible: c.OverlayVisible(),
	}
	if b, ok := n.page.At(n.cursor); ok {
		s.Current = &b
	}
	return s
}
