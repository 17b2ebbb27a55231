package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const coverProcessTimeout = 5 * time.Second

// FileSink writes <dir>/obs/nowplaying.json and cover.png. Writes go through a
// temp file and a rename so readers never see a partial document.
type FileSink struct {
	logger *zap.Logger
	dir    string
	proc   domain.ImageProcessor
	clock  clockwork.Clock

	mu   sync.Mutex
	last Snapshot
}

// NewFileSink creates the file exporter rooted at the configured export directory
func NewFileSink(logger *zap.Logger, cfg domain.Config, proc domain.ImageProcessor, clock clockwork.Clock) *FileSink {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileSink{
		logger: logger,
		dir:    filepath.Join(cfg.GetExportDir(), "obs"),
		proc:   proc,
		clock:  clock,
	}
}

// Dir returns the folder the snapshot is written to
func (f *FileSink) Dir() string {
	return f.dir
}

// Reset writes the cleared snapshot; called once at startup
func (f *FileSink) Reset() {
	f.Export(domain.ClearedState())
}

// Last returns the most recently written snapshot
func (f *FileSink) Last() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Export writes the snapshot for s. Failures are logged and dropped; the
// next accepted change rewrites everything.
func (f *FileSink) Export(s domain.MediaState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.write(s); err != nil {
		f.logger.Debug("Export failed", zap.String("dir", f.dir), zap.Error(err))
	}
}

func (f *FileSink) write(s domain.MediaState) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	hasCover := len(s.CoverArt) > 0
	coverPath := filepath.Join(f.dir, coverFile)
	if hasCover {
		if err := writeAtomic(coverPath, f.normalizeCover(s.CoverArt)); err != nil {
			return fmt.Errorf("failed to write cover: %w", err)
		}
	} else if err := os.Remove(coverPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cover: %w", err)
	}

	snap := NewSnapshot(s, f.clock.Now(), hasCover)
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := writeAtomic(filepath.Join(f.dir, snapshotFile), data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	f.last = snap
	f.logger.Debug("Snapshot exported",
		zap.String("title", snap.Title),
		zap.String("artist", snap.Artist),
		zap.Bool("cover", hasCover))
	return nil
}

// normalizeCover re-encodes art as PNG; undecodable data is written as received
func (f *FileSink) normalizeCover(art []byte) []byte {
	if f.proc == nil {
		return art
	}
	ctx, cancel := context.WithTimeout(context.Background(), coverProcessTimeout)
	defer cancel()

	out, err := f.proc.Process(ctx, art)
	if err != nil {
		f.logger.Debug("Cover normalization failed, exporting raw bytes", zap.Error(err))
		return art
	}
	return out
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
