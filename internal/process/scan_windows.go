//go:build windows

package process

import (
	"context"
	"fmt"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const exitPollMillis = 500

// SnapshotScanner finds processes with a Toolhelp32 snapshot
type SnapshotScanner struct {
	logger *zap.Logger
}

// NewScanner returns the Toolhelp32 based scanner
func NewScanner(logger *zap.Logger) *SnapshotScanner {
	return &SnapshotScanner{logger: logger}
}

// Find returns the first process whose image name matches name, ignoring case and ".exe"
func (s *SnapshotScanner) Find(name string) (int, bool, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, false, fmt.Errorf("create process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return 0, false, fmt.Errorf("read process snapshot: %w", err)
	}

	want := normalizeName(name)
	for {
		if normalizeName(windows.UTF16ToString(entry.ExeFile[:])) == want {
			return int(entry.ProcessID), true, nil
		}
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}
	return 0, false, nil
}

// WaitExit waits on the process handle in short slices so ctx stays responsive
func (s *SnapshotScanner) WaitExit(ctx context.Context, pid int) error {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := windows.WaitForSingleObject(h, exitPollMillis)
		if err != nil {
			return fmt.Errorf("wait for process %d: %w", pid, err)
		}
		if ev == windows.WAIT_OBJECT_0 {
			return nil
		}
	}
}
