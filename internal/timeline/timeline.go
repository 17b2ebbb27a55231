// Package timeline extrapolates playback position between infrequent updates.
package timeline

import (
	"fmt"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Unknown is displayed when a source exposes no position data
const Unknown = "--:--"

// Extrapolate computes the current playback position of s at now.
// known is false when the source reported no duration; the position is then zero.
// The result is always clamped to [0, duration].
func Extrapolate(s domain.MediaState, now time.Time) (pos, total time.Duration, known bool) {
	if s.Duration <= 0 {
		return 0, 0, false
	}

	pos = s.Position
	if s.IsPlaying && !s.UpdatedAt.IsZero() {
		pos += now.Sub(s.UpdatedAt)
	}

	if pos > s.Duration {
		pos = s.Duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos, s.Duration, true
}

// Format renders d as mm:ss, or Unknown
func Format(d time.Duration, known bool) string {
	if !known {
		return Unknown
	}
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// Extrapolator binds Extrapolate to a clock
type Extrapolator struct {
	clock clockwork.Clock
}

// NewExtrapolator creates an extrapolator; a nil clock means the real clock
func NewExtrapolator(clock clockwork.Clock) *Extrapolator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Extrapolator{clock: clock}
}

// Current returns the position of s right now
func (e *Extrapolator) Current(s domain.MediaState) (pos, total time.Duration, known bool) {
	return Extrapolate(s, e.clock.Now())
}
