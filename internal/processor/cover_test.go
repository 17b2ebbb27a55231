package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/genricoloni/nowplaying/internal/config"
	"go.uber.org/zap"
)

func newTestProcessor(size int) *CoverProcessor {
	s := config.DefaultSettings()
	s.Artwork.CoverSize = size
	return NewCoverProcessor(zap.NewNop(), config.NewStatic(zap.NewNop(), s))
}

func TestCoverProcessor_Process(t *testing.T) {
	tests := []struct {
		name          string
		imageData     []byte
		maxSize       int
		expectedError string
		expectedW     int
		expectedH     int
	}{
		{
			name:      "Success - Large JPEG Is Downscaled",
			imageData: createTestJPEG(1200, 1200, color.RGBA{R: 255, A: 255}),
			maxSize:   600,
			expectedW: 600,
			expectedH: 600,
		},
		{
			name:      "Success - Aspect Ratio Preserved",
			imageData: createTestJPEG(1000, 500, color.RGBA{G: 255, A: 255}),
			maxSize:   600,
			expectedW: 600,
			expectedH: 300,
		},
		{
			name:      "Success - Small PNG Kept As Is",
			imageData: createTestPNG(100, 100, color.RGBA{B: 255, A: 255}),
			maxSize:   600,
			expectedW: 100,
			expectedH: 100,
		},
		{
			name:          "Error - Invalid Image Data",
			imageData:     []byte("not-an-image"),
			maxSize:       600,
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Empty Data",
			imageData:     []byte{},
			maxSize:       600,
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Corrupted JPEG",
			imageData:     []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00}, // Partial JPEG header
			maxSize:       600,
			expectedError: "failed to decode image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newTestProcessor(tt.maxSize)
			result, err := proc.Process(context.Background(), tt.imageData)

			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Output must always be PNG
			img, err := png.Decode(bytes.NewReader(result))
			if err != nil {
				t.Fatalf("result is not a PNG: %v", err)
			}
			bounds := img.Bounds()
			if bounds.Dx() != tt.expectedW || bounds.Dy() != tt.expectedH {
				t.Errorf("expected %dx%d, got %dx%d", tt.expectedW, tt.expectedH, bounds.Dx(), bounds.Dy())
			}
		})
	}
}

func TestCoverProcessor_CancelledContext(t *testing.T) {
	proc := newTestProcessor(600)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := proc.Process(ctx, createTestPNG(10, 10, color.White)); err == nil {
		t.Error("expected error for cancelled context")
	}
}

// createTestJPEG generates a solid-color JPEG image for testing
func createTestJPEG(width, height int, c color.Color) []byte {
	buf := new(bytes.Buffer)
	_ = jpeg.Encode(buf, solidImage(width, height, c), &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

// createTestPNG generates a solid-color PNG image for testing
func createTestPNG(width, height int, c color.Color) []byte {
	buf := new(bytes.Buffer)
	_ = png.Encode(buf, solidImage(width, height, c))
	return buf.Bytes()
}

func solidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
