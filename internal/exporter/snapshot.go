// Package exporter publishes the canonical state to OBS style consumers:
// a JSON file plus cover image on disk, and a websocket hub for browser overlays.
package exporter

import (
	"strconv"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/timeline"
)

const (
	snapshotFile = "nowplaying.json"
	coverFile    = "cover.png"
)

// Snapshot is the exported JSON document
type Snapshot struct {
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Cover     string `json:"cover"`
	IsPlaying bool   `json:"isPlaying"`
	Position  string `json:"position"`
	Duration  string `json:"duration"`
	Source    string `json:"source"`
}

// NewSnapshot renders s as seen at now. hasCover selects the cache-busted cover reference.
func NewSnapshot(s domain.MediaState, now time.Time, hasCover bool) Snapshot {
	pos, total, known := timeline.Extrapolate(s, now)

	snap := Snapshot{
		Title:     s.Title,
		Artist:    s.Artist,
		IsPlaying: s.IsPlaying,
		Position:  timeline.Format(pos, known),
		Duration:  timeline.Format(total, known),
		Source:    s.Source.String(),
	}
	if hasCover {
		snap.Cover = coverFile + "?t=" + strconv.FormatInt(now.UnixNano(), 10)
	}
	return snap
}
