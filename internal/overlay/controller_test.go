package overlay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type recordingRenderer struct {
	mu     sync.Mutex
	states []domain.VisibilityState
}

func (r *recordingRenderer) RenderVisibility(s domain.VisibilityState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recordingRenderer) RenderTrack(domain.MediaState) {}

func (r *recordingRenderer) RenderProgress(time.Duration, time.Duration, bool) {}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

type fakeCursor struct {
	mu sync.Mutex
	p  domain.Point
}

func (f *fakeCursor) set(p domain.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.p = p
}

func (f *fakeCursor) CursorPosition(context.Context) (domain.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p, nil
}

// With the default geometry on a 1920 wide screen the overlay spans x 760..1160,
// y 10..100 collapsed and 10..190 expanded. The trigger strip is y 0..80.
var (
	inTriggerOnly = domain.Point{X: 960, Y: 5}
	onOverlay     = domain.Point{X: 960, Y: 50}
	onExpanded    = domain.Point{X: 960, Y: 150}
	farAway       = domain.Point{X: 100, Y: 900}
)

type harness struct {
	c        *Controller
	clock    *clockwork.FakeClock
	renderer *recordingRenderer
	cursor   *fakeCursor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.NewStatic(zap.NewNop(), config.DefaultSettings())
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	r := &recordingRenderer{}
	cur := &fakeCursor{p: farAway}
	screen := &domain.ScreenResolution{Width: 1920, Height: 1080}
	return &harness{
		c:        NewController(zap.NewNop(), cfg, cur, screen, r, clock),
		clock:    clock,
		renderer: r,
		cursor:   cur,
	}
}

// elapse advances the clock and delivers the tick the poll loop would produce
func (h *harness) elapse(d time.Duration) {
	h.clock.Advance(d)
	h.c.handle(Event{Kind: EventTick})
}

func (h *harness) mode() domain.VisibilityMode {
	return h.c.State().Mode()
}

func TestController_TriggerZone(t *testing.T) {
	t.Run("ignored without music", func(t *testing.T) {
		h := newHarness(t)
		h.c.handle(Event{Kind: EventCursorSample, Point: inTriggerOnly})
		if h.mode() != domain.ModeHidden {
			t.Fatalf("mode = %s, want hidden", h.mode())
		}
	})

	t.Run("shows and hides after short dwell", func(t *testing.T) {
		h := newHarness(t)
		h.c.handle(Event{Kind: EventMediaChanged})
		h.elapse(8 * time.Second)
		if h.mode() != domain.ModeHidden {
			t.Fatalf("mode after long dwell = %s, want hidden", h.mode())
		}

		h.c.handle(Event{Kind: EventCursorSample, Point: inTriggerOnly})
		if h.mode() != domain.ModeVisible {
			t.Fatalf("mode = %s, want visible", h.mode())
		}
		h.c.handle(Event{Kind: EventCursorSample, Point: farAway})

		h.elapse(1900 * time.Millisecond)
		if h.mode() != domain.ModeVisible {
			t.Fatal("hidden before the short dwell elapsed")
		}
		h.elapse(100 * time.Millisecond)
		if h.mode() != domain.ModeHidden {
			t.Fatalf("mode = %s, want hidden after short dwell", h.mode())
		}
	})
}

func TestController_MediaChangedUsesLongDwell(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	if h.mode() != domain.ModeVisible {
		t.Fatalf("mode = %s, want visible", h.mode())
	}

	h.elapse(2 * time.Second)
	if h.mode() != domain.ModeVisible {
		t.Fatal("hidden after the short dwell, want long dwell")
	}
	h.elapse(6 * time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden", h.mode())
	}
}

func TestController_HoverHoldsOverlay(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})

	h.c.handle(Event{Kind: EventCursorSample, Point: onOverlay})
	if !h.c.State().Hovered {
		t.Fatal("cursor over overlay should hover")
	}

	h.elapse(time.Minute)
	if h.mode() != domain.ModeVisible {
		t.Fatal("hovered overlay must stay visible")
	}

	h.c.handle(Event{Kind: EventCursorSample, Point: farAway})
	if h.c.State().Hovered {
		t.Fatal("cursor left, hover should clear")
	}
	h.elapse(2 * time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden after short dwell", h.mode())
	}
}

func TestController_RendererHover(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventCursorEnter})
	h.elapse(20 * time.Second)
	if h.mode() != domain.ModeVisible {
		t.Fatal("hover from renderer must stop the dwell timer")
	}
	h.c.handle(Event{Kind: EventCursorLeave})
	h.elapse(2 * time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden", h.mode())
	}
}

func TestController_RendererEnterWhileHiddenIgnored(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.elapse(8 * time.Second)

	h.c.handle(Event{Kind: EventCursorEnter})
	if h.c.State().Hovered {
		t.Fatal("hidden overlay cannot be hovered")
	}

	h.c.handle(Event{Kind: EventCursorSample, Point: inTriggerOnly})
	if h.mode() != domain.ModeVisible {
		t.Fatalf("mode = %s, want visible from trigger zone", h.mode())
	}
}

func TestController_ClickExpands(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventClick, Count: 1})
	if h.mode() != domain.ModeVisibleExpanded {
		t.Fatalf("mode = %s, want expanded", h.mode())
	}

	// Expanded overlays are re-armed on expiry instead of hiding
	h.elapse(8 * time.Second)
	if h.mode() != domain.ModeVisibleExpanded {
		t.Fatalf("mode = %s, want expanded after expiry", h.mode())
	}

	// Hover follows the expanded bounds
	h.c.handle(Event{Kind: EventCursorSample, Point: onExpanded})
	if !h.c.State().Hovered {
		t.Fatal("expanded area should count as hover")
	}
	h.c.handle(Event{Kind: EventCursorSample, Point: farAway})

	h.c.handle(Event{Kind: EventClick, Count: 1})
	if h.mode() != domain.ModeVisible {
		t.Fatalf("mode = %s, want collapsed", h.mode())
	}
	h.elapse(8 * time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden", h.mode())
	}
}

func TestController_ClickWhileHiddenIgnored(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventClick, Count: 1})
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden", h.mode())
	}
	if h.renderer.count() != 0 {
		t.Fatalf("renderer called %d times, want 0", h.renderer.count())
	}
}

func TestController_Pinning(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventClick, Count: 3})
	if !h.c.State().Pinned {
		t.Fatal("triple click should pin")
	}

	for i := 0; i < 5; i++ {
		h.elapse(8 * time.Second)
	}
	if h.mode() != domain.ModeVisible {
		t.Fatal("pinned overlay hid on its own")
	}

	h.c.handle(Event{Kind: EventClick, Count: 3})
	if h.c.State().Pinned {
		t.Fatal("second triple click should unpin")
	}
	h.elapse(8 * time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden after unpin", h.mode())
	}
}

func TestController_ClearOverridesPin(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventClick, Count: 1})
	h.c.handle(Event{Kind: EventClick, Count: 3})
	h.c.handle(Event{Kind: EventCursorEnter})

	h.c.handle(Event{Kind: EventMediaCleared})
	st := h.c.State()
	if st.Visible || st.Expanded || st.Hovered {
		t.Fatalf("state = %+v, want hidden and collapsed", st)
	}

	// Without music the trigger zone no longer wakes the overlay
	h.c.handle(Event{Kind: EventCursorSample, Point: inTriggerOnly})
	if h.mode() != domain.ModeHidden {
		t.Fatal("trigger zone should be inert after a clear")
	}
}

func TestController_InteractionRestartsLongDwell(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.elapse(7 * time.Second)
	h.c.handle(Event{Kind: EventInteraction})
	h.elapse(7 * time.Second)
	if h.mode() != domain.ModeVisible {
		t.Fatal("interaction should restart the long dwell")
	}
	h.elapse(time.Second)
	if h.mode() != domain.ModeHidden {
		t.Fatalf("mode = %s, want hidden", h.mode())
	}
}

func TestController_RendersOnlyChanges(t *testing.T) {
	h := newHarness(t)
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventMediaChanged})
	h.c.handle(Event{Kind: EventTick})
	h.c.handle(Event{Kind: EventCursorSample, Point: farAway})
	if got := h.renderer.count(); got != 1 {
		t.Fatalf("renderer called %d times, want 1", got)
	}
}

func TestController_OnMediaChanged(t *testing.T) {
	h := newHarness(t)
	h.c.OnMediaChanged(domain.MediaState{Title: "Song", Artist: "Band"})
	h.c.OnMediaChanged(domain.ClearedState())

	first := <-h.c.events
	second := <-h.c.events
	if first.Kind != EventMediaChanged || second.Kind != EventMediaCleared {
		t.Fatalf("events = %s, %s", first.Kind, second.Kind)
	}
}

func TestController_PostDropsWhenFull(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < eventBuffer+10; i++ {
		h.c.Post(Event{Kind: EventInteraction})
	}
	if len(h.c.events) != eventBuffer {
		t.Fatalf("queued %d events, want %d", len(h.c.events), eventBuffer)
	}
}

func TestController_Run(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.c.Run(ctx)
		close(done)
	}()

	h.c.Post(Event{Kind: EventMediaChanged})
	waitFor(t, func() bool { return h.mode() == domain.ModeVisible })

	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	h.cursor.set(onOverlay)
	h.clock.Advance(100 * time.Millisecond)
	waitFor(t, func() bool { return h.c.State().Hovered })

	h.cursor.set(farAway)
	h.clock.Advance(100 * time.Millisecond)
	waitFor(t, func() bool { return !h.c.State().Hovered })

	for i := 0; i < 30; i++ {
		h.clock.Advance(100 * time.Millisecond)
		if h.mode() == domain.ModeHidden {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitFor(t, func() bool { return h.mode() == domain.ModeHidden })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
