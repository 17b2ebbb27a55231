package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/genricoloni/nowplaying/internal/arbiter"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/exporter"
	"github.com/genricoloni/nowplaying/internal/overlay"
	"github.com/genricoloni/nowplaying/internal/timeline"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Commander sends playback commands to the owning producer
type Commander interface {
	Send(ctx context.Context, cmd domain.TransportCommand) error
}

// InputServer is the overlay-facing server that reports user input
type InputServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	SetInputHandler(in exporter.InputHandler)
}

// Resetter clears persisted output at startup
type Resetter interface {
	Reset()
}

// Engine orchestrates the now-playing pipeline.
// It starts the watchers, the arbiter and the overlay controller, and feeds
// the renderer with progress updates while something is playing.
type Engine struct {
	logger     *zap.Logger
	cfg        domain.Config
	sessions   domain.SessionWatcher
	procs      domain.ProcessWatcher
	arbiter    *arbiter.Arbiter
	transport  Commander
	controller *overlay.Controller
	server     InputServer
	renderer   domain.Renderer
	sink       Resetter
	clock      clockwork.Clock
	timeline   *timeline.Extrapolator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	sessions domain.SessionWatcher,
	procs domain.ProcessWatcher,
	arb *arbiter.Arbiter,
	transport Commander,
	controller *overlay.Controller,
	server InputServer,
	renderer domain.Renderer,
	sink Resetter,
	clock clockwork.Clock,
) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		sessions:   sessions,
		procs:      procs,
		arbiter:    arb,
		transport:  transport,
		controller: controller,
		server:     server,
		renderer:   renderer,
		sink:       sink,
		clock:      clock,
		timeline:   timeline.NewExtrapolator(clock),
	}
}

// Start launches every component and returns immediately.
// The start context only bounds startup; the components run until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	runCtx, cancel := context.WithCancel(context.Background())
	e.ctx = runCtx
	e.cancel = cancel

	if e.sink != nil {
		e.sink.Reset()
	}

	e.arbiter.Subscribe(e.controller)
	e.server.SetInputHandler(e)

	if err := e.server.Start(runCtx); err != nil {
		cancel()
		return err
	}

	if err := e.procs.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sessions.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			// Without a session bus the process watcher still works
			e.logger.Warn("Session watcher stopped", zap.Error(err))
		}
	}()

	if err := e.arbiter.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.controller.Run(runCtx)
	}()
	go e.progressLoop(runCtx)

	return nil
}

// progressLoop pushes the extrapolated position to the renderer
func (e *Engine) progressLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.GetProgressInterval()
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s := e.arbiter.Current()
			if !s.IsCleared() {
				pos, total, known := e.timeline.Current(s)
				e.renderer.RenderProgress(pos, total, known)
			}

			if d := e.cfg.GetProgressInterval(); d != interval {
				interval = d
				ticker.Reset(d)
			}
		}
	}
}

// HandleClick implements exporter.InputHandler
func (e *Engine) HandleClick(count int) {
	e.controller.Post(overlay.Event{Kind: overlay.EventClick, Count: count})
}

// HandleHover implements exporter.InputHandler
func (e *Engine) HandleHover(inside bool) {
	kind := overlay.EventCursorLeave
	if inside {
		kind = overlay.EventCursorEnter
	}
	e.controller.Post(overlay.Event{Kind: kind})
}

// HandleControl implements exporter.InputHandler
func (e *Engine) HandleControl(cmd domain.TransportCommand) {
	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if err := e.transport.Send(ctx, cmd); err != nil {
		e.logger.Warn("Transport command failed",
			zap.String("command", string(cmd)),
			zap.Error(err))
	}
	e.controller.Post(overlay.Event{Kind: overlay.EventInteraction})
}

// Stop cancels every component and waits for them to return
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	if e.cancel != nil {
		e.cancel()
	}

	var errs []error
	if err := e.sessions.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.arbiter.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine stopped")
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}
