// Package arbiter decides which producer owns the now-playing state and
// publishes every accepted change exactly once.
package arbiter

import (
	"context"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// enrichment carries resolved artwork back to the arbiter goroutine
type enrichment struct {
	key   domain.TrackKey
	state domain.MediaState
	art   []byte
}

// Arbiter owns the canonical MediaState. Only the Run goroutine mutates it.
type Arbiter struct {
	logger   *zap.Logger
	sessions domain.SessionWatcher
	procs    domain.ProcessWatcher
	resolver domain.ArtworkResolver
	exporter domain.Exporter

	enrich chan enrichment
	wg     sync.WaitGroup

	// loop-owned
	nativePlaying bool
	lastKey       domain.TrackKey
	pending       *domain.MediaState

	mu        sync.RWMutex
	current   domain.MediaState
	authority domain.SourceKind
	listeners []domain.MediaListener
}

// NewArbiter creates the arbiter. resolver may be nil to disable artwork lookups.
func NewArbiter(
	logger *zap.Logger,
	sessions domain.SessionWatcher,
	procs domain.ProcessWatcher,
	resolver domain.ArtworkResolver,
	exporter domain.Exporter,
) *Arbiter {
	return &Arbiter{
		logger:   logger,
		sessions: sessions,
		procs:    procs,
		resolver: resolver,
		exporter: exporter,
		enrich:   make(chan enrichment, 4),
	}
}

// Subscribe registers l for every accepted change
func (a *Arbiter) Subscribe(l domain.MediaListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Current returns a copy of the canonical state
func (a *Arbiter) Current() domain.MediaState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Authority reports which producer currently owns the state
func (a *Arbiter) Authority() domain.SourceKind {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authority
}

// Start launches the arbiter loop and returns immediately
func (a *Arbiter) Start(ctx context.Context) error {
	a.logger.Info("Arbiter starting...")
	a.wg.Add(1)
	go a.run(ctx)
	return nil
}

// Wait blocks until the loop and any enrichment goroutines have returned
func (a *Arbiter) Wait() {
	a.wg.Wait()
}

func (a *Arbiter) run(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Arbiter loop stopped")
			return
		case u := <-a.sessions.Events():
			a.handleSession(ctx, u)
		case u := <-a.procs.Events():
			a.handleProcess(ctx, u)
		case r := <-a.enrich:
			a.handleEnrichment(r)
		}
	}
}

// handleSession applies a native session update. Native Playing always wins.
func (a *Arbiter) handleSession(ctx context.Context, u domain.SessionUpdate) {
	a.logger.Debug("Session update",
		zap.String("player", u.Player),
		zap.String("status", string(u.Status)))

	if u.Status != domain.StatusPlaying {
		a.nativePlaying = false
		a.fallback(ctx)
		return
	}

	a.nativePlaying = true
	a.setAuthority(domain.SourceNativeSession)
	a.procs.SetPolling(false)
	a.dropProcessPending()

	if u.State != nil {
		a.offer(ctx, *u.State)
	}
}

// handleProcess applies an external process update
func (a *Arbiter) handleProcess(ctx context.Context, u domain.ProcessUpdate) {
	a.logger.Debug("Process update", zap.Stringer("kind", u.Kind), zap.Int("pid", u.PID))

	switch u.Kind {
	case domain.ProcessAppeared:
		if !a.nativePlaying {
			a.setAuthority(domain.SourceExternalProcess)
			a.procs.SetPolling(true)
			a.procs.RequestRead()
		}

	case domain.ProcessExited:
		a.procs.SetPolling(false)
		if !a.nativePlaying {
			a.fallback(ctx)
		}

	case domain.ProcessTitle:
		if a.nativePlaying || u.State == nil {
			return
		}
		// A title that outlived its process stands in for the lost exit notice
		if !a.procs.Alive() {
			a.procs.SetPolling(false)
			a.fallback(ctx)
			return
		}
		a.setAuthority(domain.SourceExternalProcess)
		a.offer(ctx, *u.State)
	}
}

// fallback runs when the native session is not playing
func (a *Arbiter) fallback(ctx context.Context) {
	if a.procs.Alive() {
		a.setAuthority(domain.SourceExternalProcess)
		a.procs.SetPolling(true)
		a.procs.RequestRead()
		return
	}
	a.setAuthority(domain.SourceNone)
	a.offer(ctx, domain.ClearedState())
}

// offer runs a candidate through dedup, enrichment and publication
func (a *Arbiter) offer(ctx context.Context, s domain.MediaState) {
	key := s.Key()
	if key == a.lastKey {
		a.refreshTimeline(s)
		return
	}
	a.lastKey = key
	a.pending = nil

	if s.IsCleared() {
		a.commit(domain.ClearedState())
		return
	}

	if s.CoverArt == nil && s.Source == domain.SourceExternalProcess && a.resolver != nil {
		pending := s
		a.pending = &pending
		a.startEnrichment(ctx, key, s)
		return
	}

	a.commit(s)
}

func (a *Arbiter) startEnrichment(ctx context.Context, key domain.TrackKey, s domain.MediaState) {
	a.logger.Debug("Resolving artwork", zap.String("title", s.Title), zap.String("artist", s.Artist))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		art := a.resolver.Resolve(ctx, s.Title, s.Artist)
		select {
		case a.enrich <- enrichment{key: key, state: s, art: art}:
		case <-ctx.Done():
		}
	}()
}

// dropProcessPending abandons a process candidate still waiting for artwork.
// The dedup key falls back to the committed state so a later fallback offers it again.
func (a *Arbiter) dropProcessPending() {
	if a.pending == nil || a.pending.Source != domain.SourceExternalProcess {
		return
	}
	a.logger.Debug("Dropping pending process candidate, native session took over",
		zap.String("title", a.pending.Title),
		zap.String("artist", a.pending.Artist))

	a.pending = nil
	a.mu.RLock()
	a.lastKey = a.current.Key()
	a.mu.RUnlock()
}

// handleEnrichment publishes an enriched candidate unless a newer key was accepted meanwhile
func (a *Arbiter) handleEnrichment(r enrichment) {
	if a.nativePlaying || r.key != a.lastKey || a.pending == nil {
		a.logger.Debug("Discarding stale artwork result",
			zap.String("title", r.key.Title),
			zap.String("artist", r.key.Artist))
		return
	}

	s := *a.pending
	a.pending = nil
	s.CoverArt = r.art
	a.commit(s)
}

// refreshTimeline updates position fields without notifying anyone.
// A same-key candidate from the other source is dropped whole.
func (a *Arbiter) refreshTimeline(s domain.MediaState) {
	if s.IsCleared() {
		return
	}
	if a.pending != nil {
		if a.pending.Source == s.Source {
			copyTimeline(a.pending, s)
		}
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current.Source != s.Source {
		a.logger.Debug("Ignoring same track from another source",
			zap.Stringer("current", a.current.Source),
			zap.Stringer("candidate", s.Source))
		return
	}
	copyTimeline(&a.current, s)
}

func copyTimeline(dst *domain.MediaState, src domain.MediaState) {
	dst.IsPlaying = src.IsPlaying
	dst.Position = src.Position
	dst.UpdatedAt = src.UpdatedAt
	dst.Duration = src.Duration
	dst.Player = src.Player
}

// commit replaces the canonical state, then notifies and exports it once
func (a *Arbiter) commit(s domain.MediaState) {
	a.mu.Lock()
	a.current = s
	listeners := make([]domain.MediaListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	a.logger.Info("Now playing changed",
		zap.String("title", s.Title),
		zap.String("artist", s.Artist),
		zap.Stringer("source", s.Source),
		zap.Bool("cover", s.CoverArt != nil))

	for _, l := range listeners {
		l.OnMediaChanged(s)
	}
	if a.exporter != nil {
		a.exporter.Export(s)
	}
}

func (a *Arbiter) setAuthority(k domain.SourceKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authority != k {
		a.logger.Debug("Authority changed", zap.Stringer("from", a.authority), zap.Stringer("to", k))
		a.authority = k
	}
}
