//go:build linux

package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// fakeBus is an in-memory session bus holding player properties
type fakeBus struct {
	mu      sync.Mutex
	props   map[string]map[string]dbus.Variant
	errs    map[string]error // keyed by player + "|" + property
	added   [][]dbus.MatchOption
	removed [][]dbus.MatchOption
	calls   []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		props: make(map[string]map[string]dbus.Variant),
		errs:  make(map[string]error),
	}
}

func (b *fakeBus) set(player, prop string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.props[player] == nil {
		b.props[player] = make(map[string]dbus.Variant)
	}
	b.props[player][prop] = dbus.MakeVariant(value)
}

func (b *fakeBus) fail(player, prop string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[player+"|"+prop] = err
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) AddMatchSignal(opts ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = append(b.added, opts)
	return nil
}

func (b *fakeBus) RemoveMatchSignal(opts ...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, opts)
	return nil
}

func (b *fakeBus) Signal(chan<- *dbus.Signal)          {}
func (b *fakeBus) ListNames() ([]string, error)        { return nil, nil }
func (b *fakeBus) GetNameOwner(string) (string, error) { return "", fmt.Errorf("not supported") }

func (b *fakeBus) GetProperty(player, path, prop string) (dbus.Variant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[player+"|"+prop]; err != nil {
		return dbus.Variant{}, err
	}
	v, ok := b.props[player][prop]
	if !ok {
		return dbus.Variant{}, fmt.Errorf("no property %s on %s", prop, player)
	}
	return v, nil
}

func (b *fakeBus) Call(dest, path, method string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, dest+" "+method)
	return nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "https://example.com/broken.jpg" {
		return nil, fmt.Errorf("404")
	}
	return []byte("art:" + url), nil
}

const (
	spotify = "org.mpris.MediaPlayer2.spotify"
	vlc     = "org.mpris.MediaPlayer2.vlc"
)

func newTestMonitor(bus *fakeBus) *MprisMonitor {
	mon := NewMprisMonitor(zap.NewNop(), fakeFetcher{}, clockwork.NewFakeClockAt(time.Unix(1700000000, 0)))
	mon.conn = bus
	mon.running = true
	mon.playerNames = map[string]string{
		":1.100": spotify,
		":1.200": vlc,
	}
	return mon
}

func playing(bus *fakeBus, player, title string, artists []string) {
	bus.set(player, propPlaybackStatus, "Playing")
	bus.set(player, propMetadata, map[string]dbus.Variant{
		"xesam:title":  dbus.MakeVariant(title),
		"xesam:artist": dbus.MakeVariant(artists),
		"mpris:length": dbus.MakeVariant(int64(215_000_000)),
		"mpris:artUrl": dbus.MakeVariant("https://example.com/" + title + ".jpg"),
	})
	bus.set(player, propPosition, int64(30_000_000))
}

func propertiesChanged(sender string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Name:   signalPropertiesChanged,
		Sender: sender,
		Path:   mprisPath,
		Body:   []interface{}{playerInterface, props, []string{}},
	}
}

func statusChanged(sender, status string) *dbus.Signal {
	return propertiesChanged(sender, map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant(status)})
}

func expectUpdate(t *testing.T, mon *MprisMonitor) domain.SessionUpdate {
	t.Helper()
	select {
	case u := <-mon.Events():
		return u
	case <-time.After(time.Second):
		t.Fatal("Timeout: update was not emitted")
		return domain.SessionUpdate{}
	}
}

func expectNoUpdate(t *testing.T, mon *MprisMonitor) {
	t.Helper()
	select {
	case u := <-mon.Events():
		t.Errorf("Unexpected update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHandleSignal_HappyPath verifies a playing session produces a full candidate
func TestHandleSignal_HappyPath(t *testing.T) {
	bus := newFakeBus()
	playing(bus, spotify, "Bohemian Rhapsody", []string{"Queen"})
	mon := newTestMonitor(bus)

	mon.handleSignal(context.Background(), statusChanged(":1.100", "Playing"))

	u := expectUpdate(t, mon)
	if u.Status != domain.StatusPlaying || u.State == nil {
		t.Fatalf("expected playing update with state, got %+v", u)
	}
	s := u.State
	if s.Title != "Bohemian Rhapsody" || s.Artist != "Queen" {
		t.Errorf("unexpected track %q / %q", s.Title, s.Artist)
	}
	if s.Duration != 215*time.Second {
		t.Errorf("Duration: expected 3m35s, got %v", s.Duration)
	}
	if s.Position != 30*time.Second {
		t.Errorf("Position: expected 30s, got %v", s.Position)
	}
	if string(s.CoverArt) != "art:https://example.com/Bohemian Rhapsody.jpg" {
		t.Errorf("unexpected cover art %q", s.CoverArt)
	}
	if s.Source != domain.SourceNativeSession || s.Player != spotify || !s.IsPlaying {
		t.Errorf("unexpected provenance: %+v", s)
	}
	if !s.UpdatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("UpdatedAt should come from the injected clock, got %v", s.UpdatedAt)
	}
	if mon.currentSession() != spotify {
		t.Errorf("expected spotify to become current, got %q", mon.currentSession())
	}
}

// TestHandleSignal_EdgeCases consolidates all invalid/ignored scenarios into a table test.
func TestHandleSignal_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		signal *dbus.Signal
	}{
		{
			name:   "Wrong Signal Name",
			signal: &dbus.Signal{Name: "org.freedesktop.DBus.SomeOtherSignal", Body: []interface{}{}},
		},
		{
			name: "Wrong Interface",
			signal: &dbus.Signal{
				Name: signalPropertiesChanged,
				Body: []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}},
			},
		},
		{
			name:   "Short Body",
			signal: &dbus.Signal{Name: signalPropertiesChanged, Body: []interface{}{playerInterface}},
		},
		{
			name: "Invalid Metadata Type From Unknown Sender",
			signal: propertiesChanged(":1.99", map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(12345),
			}),
		},
		{
			name: "Invalid PlaybackStatus Type (Array instead of String)",
			signal: propertiesChanged(":1.99", map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant([]string{"Playing"}),
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newTestMonitor(newFakeBus())
			mon.handleSignal(context.Background(), tt.signal)
			expectNoUpdate(t, mon)
		})
	}
}

func TestHandleSignal_SessionSelection(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(bus *fakeBus, mon *MprisMonitor)
		signal      *dbus.Signal
		wantUpdate  bool
		wantStatus  domain.PlayerStatus
		wantTitle   string
		wantCurrent string
	}{
		{
			name: "Paused Non-Current Player Ignored",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				playing(bus, spotify, "A", []string{"X"})
				bus.set(vlc, propPlaybackStatus, "Paused")
				mon.current = spotify
				mon.statuses[spotify] = "Playing"
			},
			signal:      statusChanged(":1.200", "Paused"),
			wantCurrent: spotify,
		},
		{
			name: "Non-Current Player Starts Playing And Takes Over",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				bus.set(spotify, propPlaybackStatus, "Paused")
				playing(bus, vlc, "B", []string{"Y"})
				mon.current = spotify
				mon.statuses[spotify] = "Paused"
			},
			signal:      statusChanged(":1.200", "Playing"),
			wantUpdate:  true,
			wantStatus:  domain.StatusPlaying,
			wantTitle:   "B",
			wantCurrent: vlc,
		},
		{
			name: "Current Stops While Another Plays",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				bus.set(spotify, propPlaybackStatus, "Paused")
				playing(bus, vlc, "C", []string{"Z"})
				mon.current = spotify
				mon.statuses[spotify] = "Playing"
				mon.statuses[vlc] = "Playing"
			},
			signal:      statusChanged(":1.100", "Paused"),
			wantUpdate:  true,
			wantStatus:  domain.StatusPlaying,
			wantTitle:   "C",
			wantCurrent: vlc,
		},
		{
			name: "Current Pauses Alone",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				bus.set(spotify, propPlaybackStatus, "Paused")
				mon.current = spotify
				mon.statuses[spotify] = "Playing"
			},
			signal:      statusChanged(":1.100", "Paused"),
			wantUpdate:  true,
			wantStatus:  domain.StatusPaused,
			wantCurrent: spotify,
		},
		{
			name: "Metadata Change On Current Session",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				playing(bus, spotify, "Next Song", []string{"Artist"})
				mon.current = spotify
			},
			signal: propertiesChanged(":1.100", map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{}),
			}),
			wantUpdate:  true,
			wantStatus:  domain.StatusPlaying,
			wantTitle:   "Next Song",
			wantCurrent: spotify,
		},
		{
			name: "Status Read Error Is Swallowed",
			setup: func(bus *fakeBus, mon *MprisMonitor) {
				bus.fail(spotify, propPlaybackStatus, fmt.Errorf("timeout"))
				mon.current = spotify
			},
			signal:      propertiesChanged(":1.100", map[string]dbus.Variant{"Volume": dbus.MakeVariant(0.5)}),
			wantCurrent: spotify,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			mon := newTestMonitor(bus)
			tt.setup(bus, mon)

			mon.handleSignal(context.Background(), tt.signal)

			if tt.wantUpdate {
				u := expectUpdate(t, mon)
				if u.Status != tt.wantStatus {
					t.Errorf("Status: expected %v, got %v", tt.wantStatus, u.Status)
				}
				if tt.wantTitle != "" {
					if u.State == nil || u.State.Title != tt.wantTitle {
						t.Errorf("expected title %q, got %+v", tt.wantTitle, u.State)
					}
				} else if u.State != nil {
					t.Errorf("expected status-only update, got %+v", u.State)
				}
			} else {
				expectNoUpdate(t, mon)
			}

			if got := mon.currentSession(); got != tt.wantCurrent {
				t.Errorf("current: expected %q, got %q", tt.wantCurrent, got)
			}
		})
	}
}

func TestRefresh_MetadataFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(bus *fakeBus)
	}{
		{
			name: "Metadata Read Error",
			setup: func(bus *fakeBus) {
				bus.set(spotify, propPlaybackStatus, "Playing")
				bus.fail(spotify, propMetadata, fmt.Errorf("boom"))
			},
		},
		{
			name: "Metadata Not A Map",
			setup: func(bus *fakeBus) {
				bus.set(spotify, propPlaybackStatus, "Playing")
				bus.set(spotify, propMetadata, 12345)
			},
		},
		{
			name: "Metadata Without Title Or Artist",
			setup: func(bus *fakeBus) {
				bus.set(spotify, propPlaybackStatus, "Playing")
				bus.set(spotify, propMetadata, map[string]dbus.Variant{
					"mpris:length": dbus.MakeVariant(int64(1)),
				})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			tt.setup(bus)
			mon := newTestMonitor(bus)

			mon.refresh(context.Background(), spotify)

			u := expectUpdate(t, mon)
			if u.Status != domain.StatusPlaying || u.State != nil {
				t.Errorf("expected status-only Playing update, got %+v", u)
			}
		})
	}
}

func TestRefresh_BrokenArtworkKeepsTrack(t *testing.T) {
	bus := newFakeBus()
	bus.set(spotify, propPlaybackStatus, "Playing")
	bus.set(spotify, propMetadata, map[string]dbus.Variant{
		"xesam:title":  dbus.MakeVariant("Song"),
		"xesam:artist": dbus.MakeVariant([]string{"Artist"}),
		"mpris:artUrl": dbus.MakeVariant("https://example.com/broken.jpg"),
	})
	mon := newTestMonitor(bus)

	mon.refresh(context.Background(), spotify)

	u := expectUpdate(t, mon)
	if u.State == nil || u.State.CoverArt != nil {
		t.Fatalf("expected track without cover, got %+v", u.State)
	}
	if u.State.Duration != 0 || u.State.Position != 0 {
		t.Errorf("missing length and position should stay zero, got %v / %v", u.State.Duration, u.State.Position)
	}
}

func TestParseMetadata_DataVariations(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]dbus.Variant
		check    func(*testing.T, trackMetadata)
	}{
		{
			name:     "Artist as String (Non-compliant)",
			metadata: map[string]dbus.Variant{"xesam:artist": dbus.MakeVariant("Single Artist")},
			check: func(t *testing.T, m trackMetadata) {
				if m.Artist != "Single Artist" {
					t.Errorf("Expected 'Single Artist', got '%s'", m.Artist)
				}
			},
		},
		{
			name:     "Multiple Artists Joined",
			metadata: map[string]dbus.Variant{"xesam:artist": dbus.MakeVariant([]string{"A", "B"})},
			check: func(t *testing.T, m trackMetadata) {
				if m.Artist != "A, B" {
					t.Errorf("Expected 'A, B', got '%s'", m.Artist)
				}
			},
		},
		{
			name:     "Length As Uint64",
			metadata: map[string]dbus.Variant{"mpris:length": dbus.MakeVariant(uint64(2_000_000))},
			check: func(t *testing.T, m trackMetadata) {
				if m.Length != 2*time.Second {
					t.Errorf("Expected 2s, got %v", m.Length)
				}
			},
		},
		{
			name:     "Length Wrong Type",
			metadata: map[string]dbus.Variant{"mpris:length": dbus.MakeVariant("long")},
			check: func(t *testing.T, m trackMetadata) {
				if m.Length != 0 {
					t.Errorf("Expected unknown length, got %v", m.Length)
				}
			},
		},
		{
			name:     "Empty Art URL",
			metadata: map[string]dbus.Variant{"mpris:artUrl": dbus.MakeVariant("")},
			check: func(t *testing.T, m trackMetadata) {
				if m.ArtURL != "" {
					t.Errorf("Expected empty ArtURL, got '%s'", m.ArtURL)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := newTestMonitor(newFakeBus())
			tt.check(t, mon.parseMetadata(tt.metadata))
		})
	}
}

// TestHandleNameOwnerChanged verifies player lifecycle tracking
func TestHandleNameOwnerChanged(t *testing.T) {
	t.Run("Current Player Disappears With None Left", func(t *testing.T) {
		bus := newFakeBus()
		mon := newTestMonitor(bus)
		delete(mon.playerNames, ":1.200")
		mon.current = spotify
		mon.seekSender = ":1.100"
		mon.statuses[spotify] = "Playing"

		mon.handleNameOwnerChanged(context.Background(), &dbus.Signal{
			Name: signalNameOwnerChanged,
			Body: []interface{}{spotify, ":1.100", ""},
		})

		u := expectUpdate(t, mon)
		if u.Status != domain.StatusClosed {
			t.Errorf("expected Closed, got %v", u.Status)
		}
		if mon.currentSession() != "" {
			t.Errorf("expected no current session, got %q", mon.currentSession())
		}
		if len(bus.removed) != 1 {
			t.Errorf("expected Seeked match to be removed once, got %d", len(bus.removed))
		}
		if _, ok := mon.playerNames[":1.100"]; ok {
			t.Error("expected mapping to be removed")
		}
	})

	t.Run("Current Player Disappears And Another Takes Over", func(t *testing.T) {
		bus := newFakeBus()
		playing(bus, vlc, "Other", []string{"Band"})
		mon := newTestMonitor(bus)
		mon.current = spotify
		mon.statuses[spotify] = "Playing"
		mon.statuses[vlc] = "Playing"

		mon.handleNameOwnerChanged(context.Background(), &dbus.Signal{
			Name: signalNameOwnerChanged,
			Body: []interface{}{spotify, ":1.100", ""},
		})

		u := expectUpdate(t, mon)
		if u.State == nil || u.State.Title != "Other" {
			t.Errorf("expected vlc track, got %+v", u)
		}
		if mon.currentSession() != vlc {
			t.Errorf("expected vlc current, got %q", mon.currentSession())
		}
	})

	t.Run("New Playing Player Replaces Paused Current", func(t *testing.T) {
		bus := newFakeBus()
		playing(bus, "org.mpris.MediaPlayer2.firefox", "Video", []string{"Channel"})
		mon := newTestMonitor(bus)
		mon.current = spotify
		mon.statuses[spotify] = "Paused"

		mon.handleNameOwnerChanged(context.Background(), &dbus.Signal{
			Name: signalNameOwnerChanged,
			Body: []interface{}{"org.mpris.MediaPlayer2.firefox", "", ":1.300"},
		})

		u := expectUpdate(t, mon)
		if u.Player != "org.mpris.MediaPlayer2.firefox" {
			t.Errorf("expected firefox update, got %+v", u)
		}
		if mon.getPlayerName(":1.300") != "org.mpris.MediaPlayer2.firefox" {
			t.Error("expected new player to be mapped")
		}
	})

	t.Run("Non-MPRIS Service Ignored", func(t *testing.T) {
		mon := newTestMonitor(newFakeBus())
		mon.handleNameOwnerChanged(context.Background(), &dbus.Signal{
			Name: signalNameOwnerChanged,
			Body: []interface{}{"com.example.service", "", ":1.99"},
		})
		if _, ok := mon.playerNames[":1.99"]; ok {
			t.Error("non-MPRIS name should not be mapped")
		}
		expectNoUpdate(t, mon)
	})
}

func TestHandleSeeked(t *testing.T) {
	bus := newFakeBus()
	playing(bus, spotify, "Song", []string{"Artist"})
	bus.set(spotify, propPosition, int64(90_000_000))
	mon := newTestMonitor(bus)
	mon.current = spotify

	mon.handleSeeked(context.Background(), &dbus.Signal{Name: signalSeeked, Sender: ":1.200"})
	expectNoUpdate(t, mon)

	mon.handleSeeked(context.Background(), &dbus.Signal{Name: signalSeeked, Sender: ":1.100"})
	u := expectUpdate(t, mon)
	if u.State == nil || u.State.Position != 90*time.Second {
		t.Errorf("expected re-read position 1m30s, got %+v", u.State)
	}
}

func TestSwitchTo_MovesSeekedMatch(t *testing.T) {
	bus := newFakeBus()
	mon := newTestMonitor(bus)

	mon.switchTo(spotify)
	mon.switchTo(spotify) // same owner, no churn
	mon.switchTo(vlc)

	if len(bus.added) != 2 {
		t.Fatalf("expected 2 added matches, got %d", len(bus.added))
	}
	if len(bus.removed) != 1 {
		t.Fatalf("expected 1 removed match, got %d", len(bus.removed))
	}
	if bus.removed[0][0] != dbus.WithMatchSender(":1.100") {
		t.Errorf("expected removal scoped to :1.100, got %v", bus.removed[0][0])
	}
	if bus.added[1][0] != dbus.WithMatchSender(":1.200") {
		t.Errorf("expected new match scoped to :1.200, got %v", bus.added[1][0])
	}
}

func TestControl(t *testing.T) {
	bus := newFakeBus()
	mon := newTestMonitor(bus)

	if err := mon.Control(context.Background(), domain.CommandNext); err == nil {
		t.Error("expected error without a current session")
	}

	mon.current = spotify
	for _, cmd := range []domain.TransportCommand{domain.CommandPlayPause, domain.CommandNext, domain.CommandPrevious} {
		if err := mon.Control(context.Background(), cmd); err != nil {
			t.Fatalf("Control(%s) failed: %v", cmd, err)
		}
	}
	if err := mon.Control(context.Background(), "stop"); err == nil {
		t.Error("expected error for unknown command")
	}

	want := []string{
		spotify + " org.mpris.MediaPlayer2.Player.PlayPause",
		spotify + " org.mpris.MediaPlayer2.Player.Next",
		spotify + " org.mpris.MediaPlayer2.Player.Previous",
	}
	if len(bus.calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), bus.calls)
	}
	for i := range want {
		if bus.calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], bus.calls[i])
		}
	}
}

func TestStart_DialFailure(t *testing.T) {
	mon := NewMprisMonitor(zap.NewNop(), nil, nil)
	mon.dial = func() (DBusClient, error) { return nil, fmt.Errorf("no session bus") }

	if err := mon.Start(context.Background()); err == nil {
		t.Fatal("expected error when the bus is unreachable")
	}
	if mon.running {
		t.Error("running flag should be reset after a failed start")
	}
}

func TestGetPlayerName(t *testing.T) {
	mon := newTestMonitor(newFakeBus())

	tests := []struct {
		input    string
		expected string
	}{
		{":1.100", spotify},
		{":1.999", ":1.999"}, // Fallback
	}

	for _, tt := range tests {
		if got := mon.getPlayerName(tt.input); got != tt.expected {
			t.Errorf("getPlayerName(%s): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
