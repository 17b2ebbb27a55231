// Package process tracks an external player process and reads the track it
// is playing from its window title.
package process

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/mailbox"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Scanner locates the target process and waits for it to exit.
// Implementations are platform specific.
type Scanner interface {
	// Find returns the pid of a running process with the given executable name
	Find(name string) (pid int, found bool, err error)

	// WaitExit blocks until pid exits or ctx is done
	WaitExit(ctx context.Context, pid int) error
}

// WindowLister enumerates the top-level window titles of a process
type WindowLister interface {
	WindowTitles(ctx context.Context, pid int) ([]string, error)
}

// Watcher implements domain.ProcessWatcher
type Watcher struct {
	logger  *zap.Logger
	cfg     domain.Config
	scanner Scanner
	windows WindowLister
	clock   clockwork.Clock

	box     *mailbox.Mailbox[domain.ProcessUpdate]
	polling atomic.Bool
	kick    chan struct{}

	mu              sync.Mutex
	pid             int
	lastDropWarning time.Time
	wg              sync.WaitGroup
}

// NewWatcher creates a process watcher. It does nothing until Start is called.
func NewWatcher(logger *zap.Logger, cfg domain.Config, scanner Scanner, windows WindowLister, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		logger:  logger,
		cfg:     cfg,
		scanner: scanner,
		windows: windows,
		clock:   clock,
		box:     mailbox.New[domain.ProcessUpdate](),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the presence and title loops and returns immediately
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Process watcher started", zap.String("process", w.cfg.GetProcessName()))

	w.wg.Add(2)
	go w.presenceLoop(ctx)
	go w.titleLoop(ctx)
	return nil
}

// Wait blocks until every goroutine started by the watcher has returned
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Events returns the single-slot update mailbox
func (w *Watcher) Events() <-chan domain.ProcessUpdate {
	return w.box.C()
}

// SetPolling enables or disables the title loop
func (w *Watcher) SetPolling(enabled bool) {
	if w.polling.Swap(enabled) != enabled {
		w.logger.Debug("Title polling toggled", zap.Bool("enabled", enabled))
	}
}

// RequestRead schedules one immediate title read
func (w *Watcher) RequestRead() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Alive reports whether the target process is currently known to run
func (w *Watcher) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid != 0
}

func (w *Watcher) currentPID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

func (w *Watcher) presenceLoop(ctx context.Context) {
	defer w.wg.Done()

	interval := w.cfg.GetPresencePollInterval()
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	w.checkPresence(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Presence loop stopped")
			return
		case <-ticker.Chan():
			w.checkPresence(ctx)
			if d := w.cfg.GetPresencePollInterval(); d != interval {
				interval = d
				ticker.Reset(d)
			}
		}
	}
}

// checkPresence looks for the process while none is tracked
func (w *Watcher) checkPresence(ctx context.Context) {
	if w.Alive() {
		return
	}

	name := w.cfg.GetProcessName()
	pid, found, err := w.scanner.Find(name)
	if err != nil {
		w.logger.Debug("Process scan failed", zap.String("process", name), zap.Error(err))
		return
	}
	if !found {
		return
	}

	w.mu.Lock()
	w.pid = pid
	w.mu.Unlock()

	w.logger.Info("External player detected", zap.String("process", name), zap.Int("pid", pid))
	w.emit(domain.ProcessUpdate{Kind: domain.ProcessAppeared, PID: pid})

	w.wg.Add(1)
	go w.waitExit(ctx, pid)
}

func (w *Watcher) waitExit(ctx context.Context, pid int) {
	defer w.wg.Done()

	err := w.scanner.WaitExit(ctx, pid)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		w.logger.Debug("Exit wait failed, treating process as gone", zap.Int("pid", pid), zap.Error(err))
	}

	w.mu.Lock()
	if w.pid == pid {
		w.pid = 0
	}
	w.mu.Unlock()

	w.logger.Info("External player exited", zap.Int("pid", pid))
	w.emit(domain.ProcessUpdate{Kind: domain.ProcessExited, PID: pid})
}

func (w *Watcher) titleLoop(ctx context.Context) {
	defer w.wg.Done()

	interval := w.cfg.GetTitlePollInterval()
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Title loop stopped")
			return
		case <-w.kick:
			w.readTitle(ctx)
		case <-ticker.Chan():
			if w.polling.Load() {
				w.readTitle(ctx)
			}
			if d := w.cfg.GetTitlePollInterval(); d != interval {
				interval = d
				ticker.Reset(d)
			}
		}
	}
}

// readTitle emits the first parsable window title of the tracked process
func (w *Watcher) readTitle(ctx context.Context) {
	pid := w.currentPID()
	if pid == 0 {
		return
	}

	titles, err := w.windows.WindowTitles(ctx, pid)
	if err != nil {
		w.logger.Debug("Window title read failed", zap.Int("pid", pid), zap.Error(err))
		return
	}

	filter := NewTitleFilter(w.cfg.GetExcludedTitles())
	for _, raw := range titles {
		if !filter.Accept(raw) {
			continue
		}
		title, artist, ok := filter.Parse(raw)
		if !ok {
			w.logger.Debug("Dropping unparsable window title", zap.String("raw", raw))
			continue
		}

		w.emit(domain.ProcessUpdate{
			Kind: domain.ProcessTitle,
			PID:  pid,
			State: &domain.MediaState{
				Title:     title,
				Artist:    artist,
				IsPlaying: true,
				UpdatedAt: w.clock.Now(),
				Source:    domain.SourceExternalProcess,
				Player:    w.cfg.GetProcessName(),
			},
		})
		return
	}
}

func (w *Watcher) emit(u domain.ProcessUpdate) {
	if w.box.Put(u) {
		w.logOverwrite(u.Kind)
	}
}

// logOverwrite reports replaced updates, rate-limited to one line per 5 seconds
func (w *Watcher) logOverwrite(kind domain.ProcessEventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := w.clock.Now()
	if now.Sub(w.lastDropWarning) >= warningInterval {
		w.logger.Debug("Unconsumed process update replaced", zap.Stringer("by", kind))
		w.lastDropWarning = now
	}
}
