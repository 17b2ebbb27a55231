//go:build !linux
// +build !linux

package monitor

import (
	"context"
	"fmt"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/mailbox"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MprisMonitor stub for platforms without an MPRIS session bus. It never
// emits, so the external process watcher stays authoritative.
type MprisMonitor struct {
	logger *zap.Logger
	box    *mailbox.Mailbox[domain.SessionUpdate]
}

// NewMprisMonitor creates a stub monitor
func NewMprisMonitor(logger *zap.Logger, fetcher domain.Fetcher, clock clockwork.Clock) *MprisMonitor {
	return &MprisMonitor{logger: logger, box: mailbox.New[domain.SessionUpdate]()}
}

// Start blocks until ctx is cancelled without observing anything
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.logger.Info("Native media sessions are not supported on this platform")
	<-ctx.Done()
	return ctx.Err()
}

// Events returns a mailbox that is never filled
func (m *MprisMonitor) Events() <-chan domain.SessionUpdate {
	return m.box.C()
}

// Control always fails because there is never a current session
func (m *MprisMonitor) Control(ctx context.Context, cmd domain.TransportCommand) error {
	return fmt.Errorf("native media sessions are not supported on this platform")
}

// Stop is a no-op on this platform
func (m *MprisMonitor) Stop(ctx context.Context) error {
	return nil
}
