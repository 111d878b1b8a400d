package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/coordinator"
	"github.com/bourbonbuddy/tastecast/internal/peer"
	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/bourbonbuddy/tastecast/internal/ui"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch <stream>",
	Aliases: []string{"w"},
	Short:   "Join a tasting stream as a viewer",
	Long: `Join a tasting stream as a viewer and follow the broadcaster's notes live.

Examples:
  tastecast watch islay-night
  tastecast watch --server https://relay.example.com islay-night
  tastecast watch --force-polling islay-night`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchStream(cmd, args[0])
	},
}

func watchStream(cmd *cobra.Command, stream string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := newStreamSession(cfg, stream)
	if err != nil {
		return err
	}
	defer sess.Close()

	status := ui.NewStatusUI(stream)
	for _, t := range []channel.EventType{
		channel.EventStateChanged,
		channel.EventParticipantCount,
		channel.EventReconnecting,
		channel.EventConnectError,
		channel.EventFailed,
	} {
		sess.handle.On(t, status.Event)
	}

	w := &watcher{sess: sess, stream: stream, status: status, ctx: ctx}
	defer w.close()

	sess.handle.OnSignal(protocol.KindAnswer, w.onSignal)
	sess.handle.OnSignal(protocol.KindCandidate, w.onSignal)
	sess.handle.OnParticipantCount(w.onCount)
	sess.rooms.OnJoined(func(string) { go w.offer() })
	sess.rooms.OnRejoinError(func(e coordinator.RejoinError) {
		status.Error(e.Err.Error())
	})

	status.Start()
	if _, err := sess.rooms.Join(ctx, stream, protocol.RoleViewer); err != nil {
		status.Stop()
		return err
	}

	select {
	case <-ctx.Done():
	case <-status.Done():
	}
	status.Stop()

	_ = sess.rooms.Leave(context.Background(), stream)
	ui.RenderSessionSummary(status.Summary())
	return nil
}

// watcher keeps one viewer peer connection alive across reconnects and
// broadcaster restarts.
type watcher struct {
	sess   *streamSession
	stream string
	status *ui.StatusUI
	ctx    context.Context

	mu        sync.Mutex
	viewer    *peer.Viewer
	done      chan struct{}
	connected bool
	lastCount int
}

// offer replaces the current viewer with a fresh one and sends its offer.
func (w *watcher) offer() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}
	w.closeLocked()

	v, err := peer.NewViewer(w.sess.cfg, w.sess.handle, w.stream, flagRelay, w.sess.logger)
	if err != nil {
		w.status.Error(err.Error())
		return
	}
	done := make(chan struct{})
	w.viewer, w.done, w.connected = v, done, false

	v.OnStateChange(func(state pion.PeerConnectionState) {
		w.mu.Lock()
		if w.viewer == v {
			w.connected = state == pion.PeerConnectionStateConnected
		}
		w.mu.Unlock()
	})
	go func() {
		for {
			select {
			case note := <-v.Notes():
				w.status.Note(note)
			case <-done:
				return
			case <-w.ctx.Done():
				return
			}
		}
	}()

	if err := v.Offer(w.ctx); err != nil {
		w.sess.logger.Debug("offer not sent", "error", err)
	}
}

func (w *watcher) onSignal(s channel.Signal) {
	w.mu.Lock()
	v := w.viewer
	w.mu.Unlock()
	if v == nil {
		return
	}
	if err := v.HandleSignal(s); err != nil {
		w.sess.logger.Debug("signal ignored", "kind", s.Kind, "from", s.From, "error", err)
	}
}

// onCount re-offers when someone new arrives and no peer link is up, which
// covers a broadcaster that joined after us.
func (w *watcher) onCount(room string, count int) {
	if room != w.stream {
		return
	}
	w.mu.Lock()
	grew := count > w.lastCount
	w.lastCount = count
	retry := grew && !w.connected && w.viewer != nil
	w.mu.Unlock()

	if retry {
		go w.offer()
	}
}

func (w *watcher) closeLocked() {
	if w.viewer == nil {
		return
	}
	close(w.done)
	w.viewer.Close()
	w.viewer, w.done = nil, nil
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}
