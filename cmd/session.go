package cmd

import (
	"log/slog"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/config"
	"github.com/bourbonbuddy/tastecast/internal/coordinator"
	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// streamSession bundles one process's connection to the relay.
type streamSession struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *channel.Manager
	handle  *channel.Handle
	rooms   *coordinator.Coordinator
}

func newStreamSession(cfg *config.Config, stream string) (*streamSession, error) {
	logger := slog.Default().With("stream", stream)

	dialer, err := transport.NewDialer(cfg.TransportOptions(logger))
	if err != nil {
		return nil, err
	}

	manager := channel.NewManager(cfg.ChannelOptions(dialer, logger))
	return &streamSession{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		handle:  manager.Acquire(),
		rooms:   coordinator.New(manager.Acquire(), logger),
	}, nil
}

// Close leaves nothing running: listeners go first so shutdown events are
// not rendered.
func (s *streamSession) Close() {
	s.rooms.Close()
	s.handle.Release()
	s.manager.Close()
}
