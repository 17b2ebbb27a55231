//go:build linux

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const exitPollMillis = 500

// ProcScanner finds processes through /proc
type ProcScanner struct {
	logger *zap.Logger
	root   string
}

// NewScanner returns the /proc based scanner
func NewScanner(logger *zap.Logger) *ProcScanner {
	return &ProcScanner{logger: logger, root: "/proc"}
}

// Find matches name against /proc/<pid>/comm and the base name of argv[0].
// The comparison ignores case and a trailing ".exe" so Wine clients match too.
func (s *ProcScanner) Find(name string) (int, bool, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, false, fmt.Errorf("failed to list %s: %w", s.root, err)
	}

	want := normalizeName(name)
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		if s.matches(pid, want) {
			return pid, true, nil
		}
	}
	return 0, false, nil
}

func (s *ProcScanner) matches(pid int, want string) bool {
	dir := filepath.Join(s.root, strconv.Itoa(pid))

	if comm, err := os.ReadFile(filepath.Join(dir, "comm")); err == nil {
		if normalizeName(strings.TrimSpace(string(comm))) == want {
			return true
		}
	}

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	return normalizeName(baseName(string(argv0))) == want
}

// WaitExit waits on a pidfd when the kernel supports it, falling back to kill(pid, 0) polling
func (s *ProcScanner) WaitExit(ctx context.Context, pid int) error {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		s.logger.Debug("pidfd unavailable, polling with signal 0", zap.Error(err))
		return waitKill(ctx, pid)
	}
	defer unix.Close(fd)

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, exitPollMillis)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("poll pidfd %d: %w", pid, err)
		}
		if n > 0 {
			return nil
		}
	}
}

func waitKill(ctx context.Context, pid int) error {
	ticker := time.NewTicker(exitPollMillis * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
