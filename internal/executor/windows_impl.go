//go:build windows
// +build windows

package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/lxn/win"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	vkMediaNextTrack = 0xB0
	vkMediaPrevTrack = 0xB1
	vkMediaPlayPause = 0xB3

	keyeventfKeyUp = 0x0002
)

var (
	user32         = windows.NewLazySystemDLL("user32.dll")
	procKeybdEvent = user32.NewProc("keybd_event")

	// EnumWindows callbacks are never released, so a single one is shared
	enumMu     sync.Mutex
	enumPID    uint32
	enumTitles []string
	enumProc   = windows.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		var owner uint32
		if _, err := windows.GetWindowThreadProcessId(hwnd, &owner); err != nil || owner != enumPID {
			return 1
		}
		buf := make([]uint16, 512)
		n, err := windows.GetWindowText(hwnd, &buf[0], int32(len(buf)))
		if err == nil && n > 0 {
			enumTitles = append(enumTitles, windows.UTF16ToString(buf[:n]))
		}
		return 1
	})
)

// WindowsExecutor implements the platform primitives with the Win32 API
type WindowsExecutor struct {
	logger *zap.Logger
}

// NewExecutor creates the Windows platform executor
func NewExecutor(logger *zap.Logger) (*WindowsExecutor, error) {
	logger.Info("Windows platform executor initialized")
	return &WindowsExecutor{logger: logger}, nil
}

// Close is a no-op on Windows
func (e *WindowsExecutor) Close() error {
	return nil
}

// CursorPosition returns the cursor position in virtual screen coordinates
func (e *WindowsExecutor) CursorPosition(ctx context.Context) (domain.Point, error) {
	var pt win.POINT
	if !win.GetCursorPos(&pt) {
		return domain.Point{}, fmt.Errorf("GetCursorPos failed")
	}
	return domain.Point{X: int(pt.X), Y: int(pt.Y)}, nil
}

// WindowTitles enumerates top-level windows and keeps those owned by pid
func (e *WindowsExecutor) WindowTitles(ctx context.Context, pid int) ([]string, error) {
	enumMu.Lock()
	defer enumMu.Unlock()

	enumPID = uint32(pid)
	enumTitles = nil
	if err := windows.EnumWindows(enumProc, nil); err != nil {
		return nil, fmt.Errorf("EnumWindows failed: %w", err)
	}

	titles := enumTitles
	enumTitles = nil
	return titles, nil
}

// PressMediaKey sends a media virtual key down and up
func (e *WindowsExecutor) PressMediaKey(ctx context.Context, cmd domain.TransportCommand) error {
	var vk uintptr
	switch cmd {
	case domain.CommandPlayPause:
		vk = vkMediaPlayPause
	case domain.CommandNext:
		vk = vkMediaNextTrack
	case domain.CommandPrevious:
		vk = vkMediaPrevTrack
	default:
		return fmt.Errorf("unknown transport command %q", cmd)
	}

	if err := procKeybdEvent.Find(); err != nil {
		return fmt.Errorf("keybd_event unavailable: %w", err)
	}
	procKeybdEvent.Call(vk, 0, 0, 0)
	procKeybdEvent.Call(vk, 0, keyeventfKeyUp, 0)

	e.logger.Debug("Media key injected", zap.String("command", string(cmd)))
	return nil
}
