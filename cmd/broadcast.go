package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/coordinator"
	"github.com/bourbonbuddy/tastecast/internal/peer"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/ui"
	"github.com/spf13/cobra"
)

var broadcastCmd = &cobra.Command{
	Use:     "broadcast [stream]",
	Aliases: []string{"b"},
	Short:   "Host a tasting stream",
	Long: `Host a tasting stream. Each line typed on stdin is shared with every
connected viewer as a tasting note. Without a stream name the relay
suggests a free one.

Examples:
  tastecast broadcast
  tastecast broadcast islay-night
  tastecast broadcast --relay --turn turn:turn.example.com islay-night`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream := ""
		if len(args) == 1 {
			stream = args[0]
		}
		return broadcastStream(cmd, stream)
	},
}

func broadcastStream(cmd *cobra.Command, stream string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagRelay && cfg.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stream == "" {
		if stream, err = newStreamName(ctx, cfg.ServerURL); err != nil {
			return err
		}
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	sess, err := newStreamSession(cfg, stream)
	if err != nil {
		stopSpinner()
		return err
	}
	defer sess.Close()

	host := peer.NewBroadcaster(cfg, sess.handle, stream, flagRelay, sess.logger)
	defer host.Close()
	host.SetGreeting(fmt.Sprintf("%s Welcome to %s", ui.IconStream, stream))

	// Offers and candidates are applied in arrival order, off the dispatcher.
	signals := make(chan channel.Signal, 64)
	forward := func(s channel.Signal) {
		select {
		case signals <- s:
		case <-ctx.Done():
		}
	}
	sess.handle.OnSignal(protocol.KindOffer, forward)
	sess.handle.OnSignal(protocol.KindCandidate, forward)
	go func() {
		for {
			select {
			case s := <-signals:
				if err := host.HandleSignal(ctx, s); err != nil {
					sess.logger.Warn("Signal not applied", "kind", s.Kind, "from", s.From, "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	var reconnects atomic.Int32
	sess.handle.On(channel.EventReconnecting, func(ev channel.Event) {
		reconnects.Add(1)
		ui.PrintWarning(fmt.Sprintf("Connection lost, reconnecting (attempt %d)", ev.Attempt))
	})
	sess.handle.On(channel.EventConnected, func(ev channel.Event) {
		stopSpinner()
		ui.PrintSuccessf("Connected via %s", ev.Transport)
	})
	sess.handle.On(channel.EventFailed, func(channel.Event) {
		stopSpinner()
		ui.PrintError(channel.UserMessage)
	})
	sess.handle.OnParticipantCount(func(room string, count int) {
		if count == channel.SyntheticParticipantCount {
			ui.PrintWarning("Offline preview, nobody can see this stream")
			return
		}
		ui.PrintInfof("%s %d in the room", ui.IconViewer, count)
	})
	sess.rooms.OnRejoinError(func(e coordinator.RejoinError) {
		ui.PrintErrorf("Could not reclaim %s: %v", e.Room, e.Err)
	})

	res, err := sess.rooms.Join(ctx, stream, protocol.RoleBroadcaster)
	if err != nil {
		stopSpinner()
		return err
	}
	if res == coordinator.JoinDeferred {
		sess.logger.Debug("Broadcast join deferred", "stream", stream)
	}

	fmt.Println(ui.StreamInfoView(stream, cfg.ServerURL))

	lines := readLines(ctx, os.Stdin)

	started := time.Now()
	notes := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			notes++
			ui.PrintSuccessf("%s shared with %d viewers", ui.IconNote, host.Publish(line))
		}
	}

	_ = sess.rooms.Leave(context.Background(), stream)
	transport := "offline"
	if sess.handle.Channel() != nil {
		transport = string(sess.handle.Transport())
	}
	ui.RenderSessionSummary(ui.SessionSummary{
		Stream:    stream,
		Role:      "broadcaster",
		Transport: transport,
		Duration:  time.Since(started).Round(time.Second).String(),
		Notes:     notes,
		Reconnect: int(reconnects.Load()),
	})
	return nil
}

// readLines streams lines from r until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
