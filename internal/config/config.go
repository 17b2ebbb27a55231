package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "NOWPLAYING"
	appName   = "nowplaying"
)

// Settings mirrors the configuration file layout
type Settings struct {
	Export struct {
		Dir           string `mapstructure:"dir"`
		WebsocketAddr string `mapstructure:"websocket_addr"`
	} `mapstructure:"export"`
	Timing struct {
		CursorPollMs   int `mapstructure:"cursor_poll_ms"`
		TitlePollMs    int `mapstructure:"title_poll_ms"`
		PresencePollMs int `mapstructure:"presence_poll_ms"`
		ProgressMs     int `mapstructure:"progress_ms"`
		ShortDwellMs   int `mapstructure:"short_dwell_ms"`
		LongDwellMs    int `mapstructure:"long_dwell_ms"`
	} `mapstructure:"timing"`
	Artwork struct {
		Enabled   bool   `mapstructure:"enabled"`
		SearchURL string `mapstructure:"search_url"`
		DelayMs   int    `mapstructure:"delay_ms"`
		CoverSize int    `mapstructure:"cover_size"`
	} `mapstructure:"artwork"`
	Process struct {
		Name           string   `mapstructure:"name"`
		ExcludedTitles []string `mapstructure:"excluded_titles"`
	} `mapstructure:"process"`
	Overlay struct {
		Width          int `mapstructure:"width"`
		Height         int `mapstructure:"height"`
		ExpandedHeight int `mapstructure:"expanded_height"`
		Top            int `mapstructure:"top"`
		TriggerHeight  int `mapstructure:"trigger_height"`
	} `mapstructure:"overlay"`
}

// AppConfig holds application configuration.
// Timing values may be reloaded at runtime, so every getter takes the read lock.
type AppConfig struct {
	logger *zap.Logger
	v      *viper.Viper

	mu       sync.RWMutex
	settings Settings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("export.dir", "")
	v.SetDefault("export.websocket_addr", "")
	v.SetDefault("timing.cursor_poll_ms", 100)
	v.SetDefault("timing.title_poll_ms", 1500)
	v.SetDefault("timing.presence_poll_ms", 3000)
	v.SetDefault("timing.progress_ms", 1000)
	v.SetDefault("timing.short_dwell_ms", 2000)
	v.SetDefault("timing.long_dwell_ms", 8000)
	v.SetDefault("artwork.enabled", true)
	v.SetDefault("artwork.search_url", "https://itunes.apple.com/search")
	v.SetDefault("artwork.delay_ms", 200)
	v.SetDefault("artwork.cover_size", 600)
	v.SetDefault("process.name", "cloudmusic")
	v.SetDefault("process.excluded_titles", []string{"网易云音乐", "桌面歌词", "迷你模式"})
	v.SetDefault("overlay.width", 400)
	v.SetDefault("overlay.height", 90)
	v.SetDefault("overlay.expanded_height", 180)
	v.SetDefault("overlay.top", 10)
	v.SetDefault("overlay.trigger_height", 80)
}

// NewAppConfig creates a new application configuration instance
func NewAppConfig(logger *zap.Logger) *AppConfig {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := configHome(); dir != "" {
		v.AddConfigPath(filepath.Join(dir, appName))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Warn("Error reading config file, using defaults", zap.Error(err))
		}
	}

	c := &AppConfig{logger: logger, v: v}
	c.reload()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			logger.Info("Config file changed, reloading", zap.String("file", e.Name))
			c.reload()
		})
		v.WatchConfig()
	}

	s := c.snapshot()
	logger.Info("Configuration loaded",
		zap.String("exportDir", s.Export.Dir),
		zap.String("websocketAddr", s.Export.WebsocketAddr),
		zap.String("process", s.Process.Name),
		zap.Bool("artwork", s.Artwork.Enabled))

	return c
}

// configHome follows the XDG convention, falling back to ~/.config
func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

func (c *AppConfig) reload() {
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		c.logger.Warn("Error parsing config, keeping previous values", zap.Error(err))
		return
	}
	s.Export.Dir = expandPath(s.Export.Dir)

	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// expandPath resolves ~ and environment variables. An empty path means the working directory.
func expandPath(path string) string {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}

	path = os.ExpandEnv(path)
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

func (c *AppConfig) snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func millis(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// GetExportDir returns the directory the obs/ snapshot folder lives in
func (c *AppConfig) GetExportDir() string {
	return c.snapshot().Export.Dir
}

// GetWebsocketAddr returns the overlay hub listen address, empty when disabled
func (c *AppConfig) GetWebsocketAddr() string {
	return c.snapshot().Export.WebsocketAddr
}

func (c *AppConfig) GetCursorPollInterval() time.Duration {
	return millis(c.snapshot().Timing.CursorPollMs, 100)
}

func (c *AppConfig) GetTitlePollInterval() time.Duration {
	return millis(c.snapshot().Timing.TitlePollMs, 1500)
}

func (c *AppConfig) GetPresencePollInterval() time.Duration {
	return millis(c.snapshot().Timing.PresencePollMs, 3000)
}

func (c *AppConfig) GetProgressInterval() time.Duration {
	return millis(c.snapshot().Timing.ProgressMs, 1000)
}

// GetShortDwell is the auto-hide delay after a passive cursor wake-up
func (c *AppConfig) GetShortDwell() time.Duration {
	return millis(c.snapshot().Timing.ShortDwellMs, 2000)
}

// GetLongDwell is the auto-hide delay after a track change or explicit interaction
func (c *AppConfig) GetLongDwell() time.Duration {
	return millis(c.snapshot().Timing.LongDwellMs, 8000)
}

func (c *AppConfig) GetArtworkEnabled() bool {
	return c.snapshot().Artwork.Enabled
}

func (c *AppConfig) GetArtworkSearchURL() string {
	return c.snapshot().Artwork.SearchURL
}

func (c *AppConfig) GetArtworkDelay() time.Duration {
	ms := c.snapshot().Artwork.DelayMs
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *AppConfig) GetCoverSize() int {
	if size := c.snapshot().Artwork.CoverSize; size > 0 {
		return size
	}
	return 600
}

func (c *AppConfig) GetProcessName() string {
	return c.snapshot().Process.Name
}

func (c *AppConfig) GetExcludedTitles() []string {
	titles := c.snapshot().Process.ExcludedTitles
	out := make([]string, len(titles))
	copy(out, titles)
	return out
}

func (c *AppConfig) GetOverlayGeometry() domain.OverlayGeometry {
	o := c.snapshot().Overlay
	return domain.OverlayGeometry{
		Width:          o.Width,
		Height:         o.Height,
		ExpandedHeight: o.ExpandedHeight,
		Top:            o.Top,
		TriggerHeight:  o.TriggerHeight,
	}
}

// DefaultSettings returns the built-in defaults without reading files or the environment
func DefaultSettings() Settings {
	v := viper.New()
	setDefaults(v)

	var s Settings
	_ = v.Unmarshal(&s)
	return s
}

// NewStatic creates a configuration from fixed settings. Nothing is loaded or watched.
func NewStatic(logger *zap.Logger, s Settings) *AppConfig {
	s.Export.Dir = expandPath(s.Export.Dir)
	return &AppConfig{logger: logger, settings: s}
}
