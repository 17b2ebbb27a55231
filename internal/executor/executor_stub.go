//go:build !linux && !windows
// +build !linux,!windows

package executor

import (
	"context"
	"fmt"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// StubExecutor is a placeholder for unsupported platforms (macOS, BSD, etc.)
type StubExecutor struct {
	logger *zap.Logger
}

// NewExecutor creates a stub executor for unsupported platforms
func NewExecutor(logger *zap.Logger) (*StubExecutor, error) {
	logger.Warn("Cursor, window and media key access is not yet implemented for this platform")
	return &StubExecutor{logger: logger}, nil
}

// Close is a no-op
func (e *StubExecutor) Close() error {
	return nil
}

// CursorPosition returns an error indicating the platform is not supported
func (e *StubExecutor) CursorPosition(ctx context.Context) (domain.Point, error) {
	return domain.Point{}, fmt.Errorf("cursor position not implemented for this platform")
}

// WindowTitles returns an error indicating the platform is not supported
func (e *StubExecutor) WindowTitles(ctx context.Context, pid int) ([]string, error) {
	return nil, fmt.Errorf("window enumeration not implemented for this platform")
}

// PressMediaKey returns an error indicating the platform is not supported
func (e *StubExecutor) PressMediaKey(ctx context.Context, cmd domain.TransportCommand) error {
	return fmt.Errorf("media keys not implemented for this platform")
}
