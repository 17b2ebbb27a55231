package domain

import (
	"context"
	"time"
)

// SessionWatcher observes the operating system's media session service.
// Implementations should handle D-Bus/MPRIS communication
type SessionWatcher interface {
	// Start begins monitoring for session events
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the watcher
	Stop(ctx context.Context) error

	// Events returns a read-only single-slot channel; only the latest update is kept
	Events() <-chan SessionUpdate

	// Control forwards a transport command to the current session
	Control(ctx context.Context, cmd TransportCommand) error
}

// ProcessWatcher tracks an external player process and polls its window title
type ProcessWatcher interface {
	// Start launches the presence and title loops. It returns immediately.
	Start(ctx context.Context) error

	// Events returns a read-only single-slot channel; only the latest update is kept
	Events() <-chan ProcessUpdate

	// SetPolling enables or disables the title loop
	SetPolling(enabled bool)

	// RequestRead asks for one immediate title read
	RequestRead()

	// Alive reports whether the target process is currently known to run
	Alive() bool
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ArtworkResolver finds cover art for a track that did not carry its own.
// A nil result means "no artwork"; failures are never surfaced.
type ArtworkResolver interface {
	Resolve(ctx context.Context, title, artist string) []byte
}

// ImageProcessor defines the interface for in-memory image processing
// This is OS-agnostic and works purely with byte streams
type ImageProcessor interface {
	// Process transforms image data (e.g., resize, re-encode)
	// Returns the processed image bytes or an error
	Process(ctx context.Context, imageData []byte) ([]byte, error)
}

// Exporter persists the canonical state for external consumers.
// Write failures are swallowed by implementations.
type Exporter interface {
	Export(state MediaState)
}

// MediaListener receives every accepted canonical state change
type MediaListener interface {
	OnMediaChanged(state MediaState)
}

// Executor wraps the platform primitives: cursor sampling, window title
// enumeration and media key injection
type Executor interface {
	// CursorPosition returns the current cursor position in screen coordinates
	CursorPosition(ctx context.Context) (Point, error)

	// WindowTitles returns the titles of all top-level windows owned by pid
	WindowTitles(ctx context.Context, pid int) ([]string, error)

	// PressMediaKey simulates a hardware media key press and release
	PressMediaKey(ctx context.Context, cmd TransportCommand) error
}

// Renderer is the overlay drawing collaborator. The daemon only tells it what to show.
type Renderer interface {
	RenderVisibility(state VisibilityState)
	RenderTrack(state MediaState)
	RenderProgress(position, duration time.Duration, known bool)
}

// OverlayGeometry describes the overlay placement in screen pixels
type OverlayGeometry struct {
	Width          int
	Height         int
	ExpandedHeight int
	Top            int
	TriggerHeight  int
}

// Config defines the interface for application configuration
type Config interface {
	// GetExportDir returns the directory the obs/ snapshot folder is created in
	GetExportDir() string
	// GetWebsocketAddr returns the listen address of the overlay hub, empty when disabled
	GetWebsocketAddr() string

	GetCursorPollInterval() time.Duration
	GetTitlePollInterval() time.Duration
	GetPresencePollInterval() time.Duration
	GetProgressInterval() time.Duration
	GetShortDwell() time.Duration
	GetLongDwell() time.Duration

	GetArtworkEnabled() bool
	GetArtworkSearchURL() string
	GetArtworkDelay() time.Duration
	GetCoverSize() int

	// GetProcessName returns the executable name of the external player
	GetProcessName() string
	// GetExcludedTitles returns window titles that never carry track info
	GetExcludedTitles() []string

	GetOverlayGeometry() OverlayGeometry
}
