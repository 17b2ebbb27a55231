// Package overlay drives the visibility of the now-playing overlay.
package overlay

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// EventKind enumerates the inputs of the visibility state machine
type EventKind int

const (
	EventCursorSample EventKind = iota
	EventClick
	EventCursorEnter
	EventCursorLeave
	EventMediaChanged
	EventMediaCleared
	EventInteraction
	EventTick
)

func (k EventKind) String() string {
	switch k {
	case EventCursorSample:
		return "cursor"
	case EventClick:
		return "click"
	case EventCursorEnter:
		return "enter"
	case EventCursorLeave:
		return "leave"
	case EventMediaChanged:
		return "media"
	case EventMediaCleared:
		return "cleared"
	case EventInteraction:
		return "interaction"
	case EventTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event is one input to the controller. Point is set for cursor samples, Count for clicks.
type Event struct {
	Kind  EventKind
	Point domain.Point
	Count int
}

// CursorSource samples the global cursor position
type CursorSource interface {
	CursorPosition(ctx context.Context) (domain.Point, error)
}

const eventBuffer = 32

// Controller owns the VisibilityState. Only the Run goroutine mutates it;
// tests drive handle directly.
type Controller struct {
	logger   *zap.Logger
	cfg      domain.Config
	cursor   CursorSource
	screen   *domain.ScreenResolution
	renderer domain.Renderer
	clock    clockwork.Clock
	events   chan Event

	// loop-owned
	st       domain.VisibilityState
	hasMusic bool
	deadline time.Time // zero when the dwell timer is stopped

	mu       sync.RWMutex
	snapshot domain.VisibilityState
}

// NewController creates the visibility controller
func NewController(
	logger *zap.Logger,
	cfg domain.Config,
	cursor CursorSource,
	screen *domain.ScreenResolution,
	renderer domain.Renderer,
	clock clockwork.Clock,
) *Controller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		logger:   logger,
		cfg:      cfg,
		cursor:   cursor,
		screen:   screen,
		renderer: renderer,
		clock:    clock,
		events:   make(chan Event, eventBuffer),
	}
}

// State returns a snapshot of the visibility flags
func (c *Controller) State() domain.VisibilityState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Post queues an event for the Run goroutine. Events are dropped when the queue is full.
func (c *Controller) Post(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("Overlay event queue full, dropping event", zap.Stringer("kind", ev.Kind))
	}
}

// OnMediaChanged implements domain.MediaListener
func (c *Controller) OnMediaChanged(s domain.MediaState) {
	if s.IsCleared() {
		c.Post(Event{Kind: EventMediaCleared})
		return
	}
	c.Post(Event{Kind: EventMediaChanged})
}

// Run samples the cursor every poll interval and applies queued events until ctx is done
func (c *Controller) Run(ctx context.Context) {
	interval := c.cfg.GetCursorPollInterval()
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Overlay controller started", zap.Duration("poll", interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Overlay controller stopped")
			return
		case ev := <-c.events:
			c.handle(ev)
		case <-ticker.Chan():
			if p, err := c.cursor.CursorPosition(ctx); err == nil {
				c.handle(Event{Kind: EventCursorSample, Point: p})
			}
			c.handle(Event{Kind: EventTick})

			if d := c.cfg.GetCursorPollInterval(); d != interval {
				interval = d
				ticker.Reset(d)
			}
		}
	}
}

// handle is the single transition function
func (c *Controller) handle(ev Event) {
	before := c.st

	switch ev.Kind {
	case EventCursorSample:
		c.onCursor(ev.Point)
	case EventClick:
		c.onClick(ev.Count)
	case EventCursorEnter:
		if c.st.Visible {
			c.enter()
		}
	case EventCursorLeave:
		c.leave()
	case EventMediaChanged:
		c.hasMusic = true
		c.st.Visible = true
		c.restartUnlessPinned(c.cfg.GetLongDwell())
	case EventMediaCleared:
		c.hasMusic = false
		c.st.Expanded = false
		c.st.Visible = false
		c.st.Hovered = false
		c.stopDwell()
	case EventInteraction:
		if c.st.Visible {
			c.restartUnlessPinned(c.cfg.GetLongDwell())
		}
	case EventTick:
		c.onTick()
	}

	if c.st != before {
		c.logger.Debug("Overlay state changed",
			zap.Stringer("event", ev.Kind),
			zap.String("mode", string(c.st.Mode())),
			zap.Bool("pinned", c.st.Pinned),
			zap.Bool("hovered", c.st.Hovered))

		c.mu.Lock()
		c.snapshot = c.st
		c.mu.Unlock()

		if c.renderer != nil {
			c.renderer.RenderVisibility(c.st)
		}
	}
}

func (c *Controller) onCursor(p domain.Point) {
	if c.st.Visible {
		inside := c.overlayRect().Contains(p)
		if inside && !c.st.Hovered {
			c.enter()
		} else if !inside && c.st.Hovered {
			c.leave()
		}
	}

	if c.hasMusic && !c.st.Hovered && c.triggerRect().Contains(p) {
		c.st.Visible = true
		c.restartUnlessPinned(c.dwellFor())
	}
}

func (c *Controller) onClick(count int) {
	switch {
	case count >= 3:
		c.st.Pinned = !c.st.Pinned
		if c.st.Pinned {
			c.stopDwell()
		} else {
			c.restart(c.cfg.GetLongDwell())
		}
	case count == 1 && c.st.Visible:
		c.st.Expanded = !c.st.Expanded
		c.restartUnlessPinned(c.cfg.GetLongDwell())
	}
}

func (c *Controller) enter() {
	c.st.Hovered = true
	c.stopDwell()
}

func (c *Controller) leave() {
	c.st.Hovered = false
	if c.st.Visible {
		c.restartUnlessPinned(c.dwellFor())
	}
}

func (c *Controller) onTick() {
	if c.deadline.IsZero() || c.clock.Now().Before(c.deadline) {
		return
	}
	c.stopDwell()

	if c.st.Pinned || c.st.Expanded || c.st.Hovered {
		c.restart(c.cfg.GetLongDwell())
		return
	}
	c.st.Expanded = false
	c.st.Visible = false
}

// dwellFor picks the auto-hide delay for passive wake-ups
func (c *Controller) dwellFor() time.Duration {
	if c.st.Expanded {
		return c.cfg.GetLongDwell()
	}
	return c.cfg.GetShortDwell()
}

func (c *Controller) restart(d time.Duration) {
	c.deadline = c.clock.Now().Add(d)
}

func (c *Controller) restartUnlessPinned(d time.Duration) {
	if !c.st.Pinned {
		c.restart(d)
	}
}

func (c *Controller) stopDwell() {
	c.deadline = time.Time{}
}

// overlayRect is the area the overlay occupies, centered at the top of the primary screen
func (c *Controller) overlayRect() domain.Rect {
	g := c.cfg.GetOverlayGeometry()
	h := g.Height
	if c.st.Expanded {
		h = g.ExpandedHeight
	}
	return domain.Rect{X: c.left(g.Width), Y: g.Top, W: g.Width, H: h}
}

// triggerRect is the wake-up strip at the top edge, as wide as the overlay
func (c *Controller) triggerRect() domain.Rect {
	g := c.cfg.GetOverlayGeometry()
	return domain.Rect{X: c.left(g.Width), Y: 0, W: g.Width, H: g.TriggerHeight}
}

func (c *Controller) left(width int) int {
	if c.screen == nil {
		return 0
	}
	return (c.screen.Width - width) / 2
}
