package arbiter

import (
	"context"
	"fmt"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// KeyPresser injects hardware media keys
type KeyPresser interface {
	PressMediaKey(ctx context.Context, cmd domain.TransportCommand) error
}

// Transport routes playback commands to whichever producer owns the state
type Transport struct {
	logger   *zap.Logger
	arbiter  *Arbiter
	sessions domain.SessionWatcher
	keys     KeyPresser
}

// NewTransport creates a transport router
func NewTransport(logger *zap.Logger, arbiter *Arbiter, sessions domain.SessionWatcher, keys KeyPresser) *Transport {
	return &Transport{logger: logger, arbiter: arbiter, sessions: sessions, keys: keys}
}

// Send forwards cmd to the native session while it is authoritative and
// injects a media key otherwise, or when the session call fails
func (t *Transport) Send(ctx context.Context, cmd domain.TransportCommand) error {
	if !cmd.Valid() {
		return fmt.Errorf("unknown transport command %q", cmd)
	}

	if t.arbiter.Authority() == domain.SourceNativeSession {
		err := t.sessions.Control(ctx, cmd)
		if err == nil {
			return nil
		}
		t.logger.Debug("Session control failed, falling back to media key",
			zap.String("command", string(cmd)), zap.Error(err))
	}

	if err := t.keys.PressMediaKey(ctx, cmd); err != nil {
		return fmt.Errorf("media key %s failed: %w", cmd, err)
	}
	return nil
}
