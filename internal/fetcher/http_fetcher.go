package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

// HTTPFetcher handles downloading image data from HTTP/HTTPS URLs.
// file:// URLs (local artwork exported by MPRIS players) are read from disk.
type HTTPFetcher struct {
	logger *zap.Logger
	client *http.Client
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second, // Essential to prevent blocking the daemon
		},
	}
}

// Fetch downloads image data from the given URL
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "file://") {
		return f.readFile(rawURL)
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("unsupported artwork URL scheme: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", "nowplayingDaemon/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil, fmt.Errorf("url is not an image: %s", resp.Header.Get("Content-Type"))
	}

	limitReader := io.LimitReader(resp.Body, _maxImageSize)

	data, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	f.logger.Debug("Image fetched successfully", zap.Int("bytes", len(data)), zap.String("url", rawURL))
	return data, nil
}

func (f *HTTPFetcher) readFile(rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid file url: %w", err)
	}

	file, err := os.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("artwork file is empty: %s", u.Path)
	}

	f.logger.Debug("Image read from disk", zap.Int("bytes", len(data)), zap.String("path", u.Path))
	return data, nil
}
