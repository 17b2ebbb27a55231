package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support

	"github.com/disintegration/imaging"
	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // WebP format support (browser MPRIS players)
)

// CoverProcessor normalizes cover art for export: it bounds the size and
// re-encodes everything as PNG so cover.png always matches its contents
type CoverProcessor struct {
	logger *zap.Logger
	cfg    domain.Config
}

// NewCoverProcessor creates a new cover art processor
func NewCoverProcessor(logger *zap.Logger, cfg domain.Config) *CoverProcessor {
	return &CoverProcessor{
		logger: logger,
		cfg:    cfg,
	}
}

// Process decodes imageData, fits it into the configured square and encodes it as PNG
func (p *CoverProcessor) Process(ctx context.Context, imageData []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Validate image dimensions to prevent division by zero
	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	size := p.cfg.GetCoverSize()
	if bounds.Dx() > size || bounds.Dy() > size {
		p.logger.Debug("Downscaling cover",
			zap.Int("w", bounds.Dx()),
			zap.Int("h", bounds.Dy()),
			zap.Int("max", size))
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Debug("Cover processed successfully",
		zap.String("source", format),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}
