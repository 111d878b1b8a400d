package relay

import (
	"log/slog"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // enough for SDP offers with many candidates
)

// wsPeer pumps one websocket connection to and from the hub.
type wsPeer struct {
	hub    *Hub
	conn   *websocket.Conn
	client *Client
	logger *slog.Logger
}

// ServeWebSocket attaches an upgraded connection to the hub and starts its
// pumps. It returns once the pumps are running.
func ServeWebSocket(hub *Hub, conn *websocket.Conn, session string, logger *slog.Logger) error {
	client := NewClient("websocket", session)
	p := &wsPeer{
		hub:    hub,
		conn:   conn,
		client: client,
		logger: logger.With("channel_id", client.ID, "transport", client.Transport),
	}

	if err := hub.Attach(client); err != nil {
		conn.Close()
		return err
	}

	go p.writePump()
	go p.readPump()
	return nil
}

// readPump pumps messages from the websocket connection to the hub.
//
// There is at most one reader on a connection; all reads happen here.
func (p *wsPeer) readPump() {
	defer func() {
		p.hub.Detach(p.client)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.logger.Warn("Websocket read failed", "error", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			p.logger.Debug("Dropping malformed frame", "error", err)
			continue
		}
		p.hub.Dispatch(p.client, msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// There is at most one writer to a connection; all writes happen here.
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.client.Send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := protocol.Encode(msg)
			if err != nil {
				p.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.logger.Debug("Websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
