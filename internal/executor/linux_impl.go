//go:build linux
// +build linux

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// LinuxExecutor talks to X11 directly and falls back to compositor and
// MPRIS command line tools when no X server is reachable (e.g. Hyprland)
type LinuxExecutor struct {
	logger       *zap.Logger
	x            *x11Client
	hasHyprctl   bool
	hasPlayerctl bool
}

// NewExecutor creates the Linux platform executor
func NewExecutor(logger *zap.Logger) (*LinuxExecutor, error) {
	e := &LinuxExecutor{
		logger:       logger,
		hasHyprctl:   os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "" && commandExists("hyprctl"),
		hasPlayerctl: commandExists("playerctl"),
	}

	x, err := newX11Client()
	if err != nil {
		logger.Warn("X11 unavailable, using command line fallbacks", zap.Error(err))
	} else {
		e.x = x
	}

	logger.Info("Platform executor initialized",
		zap.Bool("x11", e.x != nil),
		zap.Bool("hyprctl", e.hasHyprctl),
		zap.Bool("playerctl", e.hasPlayerctl))
	return e, nil
}

// commandExists checks if a binary exists in PATH
func commandExists(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// Close releases the X connection
func (e *LinuxExecutor) Close() error {
	if e.x != nil {
		e.x.close()
	}
	return nil
}

// CursorPosition returns the pointer position in root window coordinates
func (e *LinuxExecutor) CursorPosition(ctx context.Context) (domain.Point, error) {
	if e.x != nil {
		return e.x.cursor()
	}
	if e.hasHyprctl {
		out, err := exec.CommandContext(ctx, "hyprctl", "cursorpos").Output()
		if err != nil {
			return domain.Point{}, fmt.Errorf("hyprctl cursorpos failed: %w", err)
		}
		return parseCursorPos(string(out))
	}
	return domain.Point{}, fmt.Errorf("no cursor source available")
}

// WindowTitles returns the titles of the windows owned by pid
func (e *LinuxExecutor) WindowTitles(ctx context.Context, pid int) ([]string, error) {
	if e.x != nil {
		return e.x.titlesFor(pid)
	}
	if e.hasHyprctl {
		out, err := exec.CommandContext(ctx, "hyprctl", "clients", "-j").Output()
		if err != nil {
			return nil, fmt.Errorf("hyprctl clients failed: %w", err)
		}
		return parseHyprClients(out, pid)
	}
	return nil, fmt.Errorf("no window source available")
}

// PressMediaKey injects an XF86Audio key, or asks playerctl when X11 is missing
func (e *LinuxExecutor) PressMediaKey(ctx context.Context, cmd domain.TransportCommand) error {
	sym, ok := keysymFor(cmd)
	if !ok {
		return fmt.Errorf("unknown transport command %q", cmd)
	}

	if e.x != nil {
		err := e.x.pressKeysym(sym)
		if err == nil {
			e.logger.Debug("Media key injected", zap.String("command", string(cmd)))
			return nil
		}
		if !e.hasPlayerctl {
			return err
		}
		e.logger.Debug("Key injection failed, trying playerctl", zap.Error(err))
	}

	if e.hasPlayerctl {
		output, err := exec.CommandContext(ctx, "playerctl", playerctlVerb(cmd)).CombinedOutput()
		if err != nil {
			return fmt.Errorf("playerctl %s failed: %w (output: %s)", playerctlVerb(cmd), err, string(output))
		}
		return nil
	}
	return fmt.Errorf("no media key backend available")
}

func playerctlVerb(cmd domain.TransportCommand) string {
	switch cmd {
	case domain.CommandNext:
		return "next"
	case domain.CommandPrevious:
		return "previous"
	default:
		return "play-pause"
	}
}

// parseCursorPos reads the "x, y" line printed by hyprctl cursorpos
func parseCursorPos(out string) (domain.Point, error) {
	xs, ys, ok := strings.Cut(strings.TrimSpace(out), ",")
	if !ok {
		return domain.Point{}, fmt.Errorf("unexpected cursorpos output %q", out)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return domain.Point{}, fmt.Errorf("invalid cursor x: %w", err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return domain.Point{}, fmt.Errorf("invalid cursor y: %w", err)
	}
	return domain.Point{X: x, Y: y}, nil
}

type hyprClient struct {
	PID   int    `json:"pid"`
	Title string `json:"title"`
}

func parseHyprClients(data []byte, pid int) ([]string, error) {
	var clients []hyprClient
	if err := json.Unmarshal(data, &clients); err != nil {
		return nil, fmt.Errorf("failed to decode hyprctl clients: %w", err)
	}

	var titles []string
	for _, c := range clients {
		if c.PID == pid && c.Title != "" {
			titles = append(titles, c.Title)
		}
	}
	return titles, nil
}
