package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	_maxSearchSize = 1024 * 1024
	// The search API answers with 100x100 thumbnails; the same path serves larger renditions.
	_thumbToken = "100x100"
	_fullToken  = "600x600"
)

type searchResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		ArtworkURL100 string `json:"artworkUrl100"`
	} `json:"results"`
}

// ITunesResolver looks up cover art through the public iTunes song search.
// It never retries and keeps no cache; identical concurrent lookups share one request.
type ITunesResolver struct {
	logger  *zap.Logger
	cfg     domain.Config
	fetcher domain.Fetcher
	clock   clockwork.Clock
	client  *http.Client
	group   singleflight.Group
}

// NewITunesResolver creates a resolver that downloads the artwork through fetch
func NewITunesResolver(logger *zap.Logger, cfg domain.Config, fetch domain.Fetcher, clock clockwork.Clock) *ITunesResolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ITunesResolver{
		logger:  logger,
		cfg:     cfg,
		fetcher: fetch,
		clock:   clock,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve returns artwork bytes for the track, or nil when none could be found
func (r *ITunesResolver) Resolve(ctx context.Context, title, artist string) []byte {
	if !r.cfg.GetArtworkEnabled() {
		return nil
	}

	key := title + "\x00" + artist
	v, _, shared := r.group.Do(key, func() (interface{}, error) {
		return r.resolve(ctx, title, artist), nil
	})
	if shared {
		r.logger.Debug("Artwork lookup shared with an in-flight request",
			zap.String("title", title),
			zap.String("artist", artist))
	}

	data, _ := v.([]byte)
	return data
}

func (r *ITunesResolver) resolve(ctx context.Context, title, artist string) []byte {
	// Fixed pause before every search; the endpoint throttles bursts.
	if delay := r.cfg.GetArtworkDelay(); delay > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(delay):
		}
	}

	artURL, err := r.search(ctx, title, artist)
	if err != nil {
		r.logger.Debug("Artwork search failed",
			zap.String("title", title),
			zap.String("artist", artist),
			zap.Error(err))
		return nil
	}
	if artURL == "" {
		r.logger.Debug("No artwork found", zap.String("title", title), zap.String("artist", artist))
		return nil
	}

	data, err := r.fetcher.Fetch(ctx, artURL)
	if err != nil {
		r.logger.Debug("Artwork download failed", zap.String("url", artURL), zap.Error(err))
		return nil
	}

	r.logger.Info("Artwork resolved",
		zap.String("title", title),
		zap.String("artist", artist),
		zap.Int("bytes", len(data)))
	return data
}

// search returns the high resolution artwork URL of the first hit, or "" when there is none
func (r *ITunesResolver) search(ctx context.Context, title, artist string) (string, error) {
	u, err := url.Parse(r.cfg.GetArtworkSearchURL())
	if err != nil {
		return "", fmt.Errorf("invalid search url: %w", err)
	}

	q := u.Query()
	q.Set("term", strings.TrimSpace(title+" "+artist))
	q.Set("entity", "song")
	q.Set("limit", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "nowplayingDaemon/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, _maxSearchSize)).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	if result.ResultCount <= 0 || len(result.Results) == 0 {
		return "", nil
	}

	return strings.Replace(result.Results[0].ArtworkURL100, _thumbToken, _fullToken, 1), nil
}
