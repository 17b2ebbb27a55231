package domain

import "time"

// PlayerStatus represents the current state of the media player
type PlayerStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlayerStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlayerStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlayerStatus = "Stopped"
	// StatusClosed indicates there is no media session at all
	StatusClosed PlayerStatus = "Closed"
)

// SourceKind identifies which producer a MediaState came from
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourceNativeSession
	SourceExternalProcess
)

func (k SourceKind) String() string {
	switch k {
	case SourceNativeSession:
		return "native"
	case SourceExternalProcess:
		return "process"
	default:
		return "none"
	}
}

// TrackKey is the deduplication key of a candidate. Cover art is deliberately not part of it.
type TrackKey struct {
	Title  string
	Artist string
}

// MediaState is the canonical now-playing snapshot
type MediaState struct {
	// Title of the currently playing track
	Title string
	// Artist name
	Artist string
	// CoverArt holds raw image bytes, nil when unavailable
	CoverArt []byte
	// IsPlaying reports whether playback is running
	IsPlaying bool
	// Position is the playback position observed at UpdatedAt
	Position time.Duration
	// UpdatedAt is the instant Position was sampled
	UpdatedAt time.Time
	// Duration is the track length; zero means the position is unknown
	Duration time.Duration
	// Source is the producer this state came from
	Source SourceKind
	// Player names the session or process that produced the state
	Player string
}

// Key returns the deduplication key of the state
func (s MediaState) Key() TrackKey {
	return TrackKey{Title: s.Title, Artist: s.Artist}
}

// IsCleared reports whether the state means "nothing playing"
func (s MediaState) IsCleared() bool {
	return s.Title == "" && s.Artist == ""
}

// ClearedState returns the canonical "nothing playing" state
func ClearedState() MediaState {
	return MediaState{}
}

// SessionUpdate is emitted by the native session watcher on every readable notification.
// State is only set when Status is StatusPlaying and the metadata could be read.
type SessionUpdate struct {
	Player string
	Status PlayerStatus
	State  *MediaState
}

// ProcessEventKind tags a ProcessUpdate
type ProcessEventKind int

const (
	ProcessAppeared ProcessEventKind = iota
	ProcessExited
	ProcessTitle
)

func (k ProcessEventKind) String() string {
	switch k {
	case ProcessAppeared:
		return "appeared"
	case ProcessExited:
		return "exited"
	case ProcessTitle:
		return "title"
	default:
		return "unknown"
	}
}

// ProcessUpdate is emitted by the external process watcher
type ProcessUpdate struct {
	Kind  ProcessEventKind
	PID   int
	State *MediaState
}

// TransportCommand is a playback control request
type TransportCommand string

const (
	CommandPlayPause TransportCommand = "playpause"
	CommandNext      TransportCommand = "next"
	CommandPrevious  TransportCommand = "previous"
)

// Valid reports whether the command is one of the known transport commands
func (c TransportCommand) Valid() bool {
	switch c {
	case CommandPlayPause, CommandNext, CommandPrevious:
		return true
	}
	return false
}

// VisibilityMode is the coarse state of the overlay
type VisibilityMode string

const (
	ModeHidden          VisibilityMode = "hidden"
	ModeVisible         VisibilityMode = "visible"
	ModeVisibleExpanded VisibilityMode = "expanded"
)

// VisibilityState is owned by the visibility controller
type VisibilityState struct {
	Visible  bool
	Expanded bool
	Pinned   bool
	Hovered  bool
}

// Mode collapses the flags into the three visible states
func (v VisibilityState) Mode() VisibilityMode {
	switch {
	case !v.Visible:
		return ModeHidden
	case v.Expanded:
		return ModeVisibleExpanded
	default:
		return ModeVisible
	}
}

// Point is a screen coordinate
type Point struct {
	X int
	Y int
}

// Rect is an axis-aligned screen rectangle, edges inclusive
type Rect struct {
	X int
	Y int
	W int
	H int
}

// Contains reports whether p lies inside r
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// ScreenResolution holds the display dimensions
type ScreenResolution struct {
	Width  int
	Height int
}
