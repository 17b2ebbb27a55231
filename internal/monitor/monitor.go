//go:build linux

package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/mailbox"
	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = "/org/mpris/MediaPlayer2"
	playerInterface = "org.mpris.MediaPlayer2.Player"

	propMetadata       = playerInterface + ".Metadata"
	propPlaybackStatus = playerInterface + ".PlaybackStatus"
	propPosition       = playerInterface + ".Position"

	signalPropertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	signalNameOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"
	signalSeeked            = playerInterface + ".Seeked"

	artFetchTimeout = 5 * time.Second
)

// MprisMonitor watches MPRIS players on the session bus and reports the
// state of the "current session": the player that most recently started playing
type MprisMonitor struct {
	logger  *zap.Logger
	fetcher domain.Fetcher
	clock   clockwork.Clock
	box     *mailbox.Mailbox[domain.SessionUpdate]
	dial    func() (DBusClient, error)

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient        // Interface for testability
	lastDropWarning time.Time         // Rate limiting for "update replaced" logs
	wg              sync.WaitGroup    // Tracks active producer goroutines
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
	statuses        map[string]string // Last PlaybackStatus per well-known name
	current         string            // Well-known name of the current session
	seekSender      string            // Unique name the Seeked match is scoped to
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger, fetcher domain.Fetcher, clock clockwork.Clock) *MprisMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MprisMonitor{
		logger:  logger,
		fetcher: fetcher,
		clock:   clock,
		box:     mailbox.New[domain.SessionUpdate](),
		dial: func() (DBusClient, error) {
			return NewStdDBusClient()
		},
		playerNames: make(map[string]string),
		statuses:    make(map[string]string),
	}
}

// Start begins monitoring for media events. It blocks until ctx is cancelled.
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true

	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor started")

	// Connect to Session Bus (this may block)
	conn, err := m.dial()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		// Reset running state on failure
		m.mu.Lock()
		defer m.mu.Unlock()
		m.running = false
		m.cancel = nil
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	// Check if we were stopped while connecting to D-Bus
	select {
	case <-monitorCtx.Done():
		m.logger.Info("Monitor stopped during D-Bus connection")
		if err := conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		return monitorCtx.Err()
	default:
	}

	// Protect connection assignment with mutex to avoid race with Stop()
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// NameOwnerChanged tracks sessions appearing and disappearing
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	} else {
		m.logger.Info("Dynamic player tracking enabled via NameOwnerChanged")
	}

	// Subscribe before the initial scan so no change between the two is lost
	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	m.wg.Add(1)
	func() {
		defer m.wg.Done()
		if err := m.detectExistingPlayers(monitorCtx); err != nil {
			m.logger.Warn("Failed to detect existing players", zap.Error(err))
		}
	}()

	m.wg.Add(1)
	go m.monitorSignals(monitorCtx, signals)

	// Block until context is cancelled
	<-monitorCtx.Done()

	m.logger.Info("MPRIS monitor stopped")
	return monitorCtx.Err()
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.running = false
	m.mu.Unlock()

	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	m.mu.Lock()
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Events returns the single-slot update mailbox
func (m *MprisMonitor) Events() <-chan domain.SessionUpdate {
	return m.box.C()
}

// Control sends a transport command to the current session
func (m *MprisMonitor) Control(ctx context.Context, cmd domain.TransportCommand) error {
	var method string
	switch cmd {
	case domain.CommandPlayPause:
		method = "PlayPause"
	case domain.CommandNext:
		method = "Next"
	case domain.CommandPrevious:
		method = "Previous"
	default:
		return fmt.Errorf("unknown transport command %q", cmd)
	}

	m.mu.RLock()
	conn, player := m.conn, m.current
	m.mu.RUnlock()

	if conn == nil || player == "" {
		return fmt.Errorf("no current media session")
	}
	if err := conn.Call(player, mprisPath, playerInterface+"."+method); err != nil {
		return fmt.Errorf("%s on %s failed: %w", method, player, err)
	}

	m.logger.Debug("Transport command sent", zap.String("player", player), zap.String("method", method))
	return nil
}

// detectExistingPlayers queries D-Bus for running players and publishes the initial state
func (m *MprisMonitor) detectExistingPlayers(ctx context.Context) error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	var players []string
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		players = append(players, name)
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		if uniqueName, err := m.conn.GetNameOwner(name); err == nil {
			m.mu.Lock()
			m.playerNames[uniqueName] = name
			m.mu.Unlock()
		}
		if status, err := m.readStatus(name); err == nil {
			m.setStatus(name, status)
		}
	}

	m.logger.Info("Player detection complete", zap.Int("count", len(players)))

	if next := m.pickSession(""); next != "" {
		m.switchTo(next)
		m.refresh(ctx, next)
		return nil
	}
	m.emit(domain.SessionUpdate{Status: domain.StatusClosed})
	return nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context, signals <-chan *dbus.Signal) {
	defer m.wg.Done() // Signal completion when goroutine exits

	m.logger.Info("Signal monitoring goroutine started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Signal monitoring goroutine stopped")
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			switch sig.Name {
			case signalNameOwnerChanged:
				m.handleNameOwnerChanged(ctx, sig)
			case signalSeeked:
				m.handleSeeked(ctx, sig)
			default:
				m.handleSignal(ctx, sig)
			}
		}
	}
}

// handleNameOwnerChanged tracks player lifecycle and replaces a vanished current session
func (m *MprisMonitor) handleNameOwnerChanged(ctx context.Context, sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return // Not an MPRIS player
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case newOwner != "" && oldOwner == "":
		m.mu.Lock()
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))

		status, err := m.readStatus(name)
		if err != nil {
			return
		}
		m.setStatus(name, status)

		cur := m.currentSession()
		if cur == "" || (status == string(domain.StatusPlaying) && m.statusOf(cur) != string(domain.StatusPlaying)) {
			m.switchTo(name)
			m.refresh(ctx, name)
		}

	case newOwner == "" && oldOwner != "":
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		delete(m.statuses, name)
		m.mu.Unlock()

		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))

		if m.currentSession() != name {
			return
		}
		if next := m.pickSession(name); next != "" {
			m.switchTo(next)
			m.refresh(ctx, next)
			return
		}
		m.switchTo("")
		m.emit(domain.SessionUpdate{Player: name, Status: domain.StatusClosed})

	case newOwner != "" && oldOwner != "":
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Debug("MPRIS player ownership changed",
			zap.String("player", name),
			zap.String("oldUnique", oldOwner),
			zap.String("newUnique", newOwner))

		if m.currentSession() == name {
			m.switchTo(name)
		}
	}
}

// handleSignal processes PropertiesChanged on the player interface
func (m *MprisMonitor) handleSignal(ctx context.Context, sig *dbus.Signal) {
	// PropertiesChanged signal has 3 arguments:
	// 1. Interface name (string)
	// 2. Changed properties (map[string]Variant)
	// 3. Invalidated properties ([]string)
	if sig.Name != signalPropertiesChanged || len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	playerName := m.getPlayerName(sig.Sender)

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", playerName),
		zap.Int("properties", len(changedProps)))

	status := ""
	if v, ok := changedProps["PlaybackStatus"]; ok {
		if s, ok := v.Value().(string); ok {
			status = s
			m.setStatus(playerName, s)
		}
	}

	cur := m.currentSession()
	playing := string(domain.StatusPlaying)

	switch {
	case playerName == cur:
		// The current session stopped while another one plays: hand over
		if status != "" && status != playing {
			if next := m.pickSession(cur); next != "" && m.statusOf(next) == playing {
				m.switchTo(next)
				m.refresh(ctx, next)
				return
			}
		}
		m.refresh(ctx, cur)

	case status == playing:
		m.switchTo(playerName)
		m.refresh(ctx, playerName)

	case cur == "" && strings.HasPrefix(playerName, mprisPrefix):
		m.switchTo(playerName)
		m.refresh(ctx, playerName)
	}
}

// handleSeeked re-reads the position after a jump in the current session
func (m *MprisMonitor) handleSeeked(ctx context.Context, sig *dbus.Signal) {
	playerName := m.getPlayerName(sig.Sender)
	if playerName != m.currentSession() {
		return
	}
	m.refresh(ctx, playerName)
}

// switchTo makes name the current session and moves the Seeked match to its owner
func (m *MprisMonitor) switchTo(name string) {
	owner := m.ownerOf(name)

	m.mu.Lock()
	previous := m.current
	oldSender := m.seekSender
	m.current = name
	m.seekSender = owner
	conn := m.conn
	m.mu.Unlock()

	if previous != name {
		m.logger.Info("Current media session changed",
			zap.String("from", previous),
			zap.String("to", name))
	}
	if conn == nil || oldSender == owner {
		return
	}

	if oldSender != "" {
		if err := conn.RemoveMatchSignal(seekedMatch(oldSender)...); err != nil {
			m.logger.Debug("Failed to remove Seeked match", zap.String("sender", oldSender), zap.Error(err))
		}
	}
	if owner != "" {
		if err := conn.AddMatchSignal(seekedMatch(owner)...); err != nil {
			m.logger.Debug("Failed to add Seeked match", zap.String("sender", owner), zap.Error(err))
		}
	}
}

func seekedMatch(sender string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(sender),
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(playerInterface),
		dbus.WithMatchMember("Seeked"),
	}
}

// refresh reads the full state of a session and publishes it
func (m *MprisMonitor) refresh(ctx context.Context, name string) {
	status, err := m.readStatus(name)
	if err != nil {
		m.logger.Debug("Failed to read playback status", zap.String("player", name), zap.Error(err))
		return
	}
	m.setStatus(name, status)

	update := domain.SessionUpdate{Player: name, Status: parseStatus(status)}
	if update.Status != domain.StatusPlaying {
		m.emit(update)
		return
	}

	variant, err := m.conn.GetProperty(name, mprisPath, propMetadata)
	if err != nil {
		m.logger.Debug("Failed to read metadata", zap.String("player", name), zap.Error(err))
		m.emit(update)
		return
	}

	// SAFE CAST: Some players may return nil or unexpected types if not playing anything
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map", zap.String("player", name))
		m.emit(update)
		return
	}

	meta := m.parseMetadata(metadata)
	if meta.Title == "" && meta.Artist == "" {
		m.emit(update)
		return
	}

	state := &domain.MediaState{
		Title:     meta.Title,
		Artist:    meta.Artist,
		IsPlaying: true,
		Duration:  meta.Length,
		Position:  m.readPosition(name),
		UpdatedAt: m.clock.Now(),
		Source:    domain.SourceNativeSession,
		Player:    name,
	}
	if meta.ArtURL != "" && m.fetcher != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, artFetchTimeout)
		art, err := m.fetcher.Fetch(fetchCtx, meta.ArtURL)
		cancel()
		if err != nil {
			m.logger.Debug("Failed to fetch session artwork", zap.String("url", meta.ArtURL), zap.Error(err))
		} else {
			state.CoverArt = art
		}
	}

	update.State = state
	m.emit(update)
}

func (m *MprisMonitor) readStatus(name string) (string, error) {
	variant, err := m.conn.GetProperty(name, mprisPath, propPlaybackStatus)
	if err != nil {
		return "", fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := variant.Value().(string)
	if !ok {
		return "", fmt.Errorf("invalid playback status format")
	}
	return status, nil
}

func (m *MprisMonitor) readPosition(name string) time.Duration {
	variant, err := m.conn.GetProperty(name, mprisPath, propPosition)
	if err != nil {
		return 0
	}
	us, ok := variantInt64(variant)
	if !ok || us < 0 {
		return 0
	}
	return time.Duration(us) * time.Microsecond
}

type trackMetadata struct {
	Title  string
	Artist string
	Length time.Duration
	ArtURL string
}

// parseMetadata converts an MPRIS metadata map to the fields we export
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant) trackMetadata {
	var meta trackMetadata

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			meta.Title = strings.TrimSpace(title)
		}
	}

	// Artist is usually a list
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			meta.Artist = strings.Join(artists, ", ")
		case string:
			meta.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if lengthVar, ok := metadata["mpris:length"]; ok {
		if us, ok := variantInt64(lengthVar); ok && us > 0 {
			meta.Length = time.Duration(us) * time.Microsecond
		}
	}

	if artVar, ok := metadata["mpris:artUrl"]; ok {
		if artURL, ok := artVar.Value().(string); ok {
			meta.ArtURL = artURL
		}
	}

	return meta
}

// variantInt64 accepts the integer widths players use for microsecond values
func variantInt64(v dbus.Variant) (int64, bool) {
	switch n := v.Value().(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func parseStatus(status string) domain.PlayerStatus {
	switch status {
	case "Playing":
		return domain.StatusPlaying
	case "Paused":
		return domain.StatusPaused
	default:
		return domain.StatusStopped
	}
}

// pickSession chooses a replacement session, preferring playing players.
// exclude is skipped; the result is empty when no player is left.
func (m *MprisMonitor) pickSession(exclude string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		if name != exclude {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if m.statuses[name] == string(domain.StatusPlaying) {
			return name
		}
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func (m *MprisMonitor) currentSession() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *MprisMonitor) setStatus(name, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

func (m *MprisMonitor) statusOf(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[name]
}

// ownerOf returns the unique bus name of a well-known name, empty when unknown
func (m *MprisMonitor) ownerOf(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for unique, wellKnown := range m.playerNames {
		if wellKnown == name {
			return unique
		}
	}
	return ""
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

func (m *MprisMonitor) emit(u domain.SessionUpdate) {
	if m.box.Put(u) {
		m.logOverwrite()
	}
	m.logger.Debug("Session update published",
		zap.String("player", u.Player),
		zap.String("status", string(u.Status)),
		zap.Bool("hasState", u.State != nil))
}

// logOverwrite notes that an unconsumed update was replaced, but rate-limited
// to avoid log spam during rapid track changes (e.g., fast skipping)
func (m *MprisMonitor) logOverwrite() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit to max one line per 5 seconds
	const warningInterval = 5 * time.Second
	now := m.clock.Now()

	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Debug("Unconsumed session update replaced by a newer one")
		m.lastDropWarning = now
	}
}
