package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// wsConn carries one JSON message per websocket text frame. A single write
// pump owns every write, so messages leave in the order Send accepted them.
type wsConn struct {
	conn     *websocket.Conn
	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}
	logger   *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func dialWebSocket(ctx context.Context, rawURL string, header http.Header, logger *slog.Logger) (*wsConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &wsConn{
		conn:     conn,
		incoming: make(chan *protocol.Message, 16),
		outgoing: make(chan *protocol.Message, 16),
		done:     make(chan struct{}),
		logger:   logger.With("transport", KindWebSocket),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *wsConn) Kind() Kind { return KindWebSocket }

func (c *wsConn) Incoming() <-chan *protocol.Message { return c.incoming }

func (c *wsConn) Send(ctx context.Context, msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.stop(nil)
	return nil
}

func (c *wsConn) stop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump reads messages from the WebSocket connection.
func (c *wsConn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.stop(fmt.Errorf("read: %w", err))
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			data, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop(fmt.Errorf("write: %w", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop(fmt.Errorf("ping: %w", err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
