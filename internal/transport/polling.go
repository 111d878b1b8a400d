package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

const maxBatchBytes = protocol.MaxBatchSize * maxMessageSize

// pollConn emulates a duplex connection with a held-open GET for inbound
// batches and a POST per outbound batch.
type pollConn struct {
	client  *http.Client
	url     string
	cookie  *http.Cookie
	wait    time.Duration
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	sidOnce sync.Once

	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

type openResponse struct {
	SID string `json:"sid"`
}

func dialPolling(ctx context.Context, client *http.Client, openURL string, cookie *http.Cookie, wait time.Duration, logger *slog.Logger) (*pollConn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open poll session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to open poll session: status %d", resp.StatusCode)
	}

	var open openResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return nil, fmt.Errorf("failed to decode poll session: %w", err)
	}
	if open.SID == "" {
		return nil, fmt.Errorf("failed to open poll session: empty sid")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		client:   client,
		url:      openURL + "/" + open.SID,
		cookie:   cookie,
		wait:     wait,
		logger:   logger.With("transport", KindPolling, "sid", open.SID),
		ctx:      loopCtx,
		cancel:   cancel,
		incoming: make(chan *protocol.Message, protocol.MaxBatchSize),
		outgoing: make(chan *protocol.Message, protocol.MaxBatchSize),
		done:     make(chan struct{}),
	}

	go c.recvLoop()
	go c.sendLoop()

	return c, nil
}

func (c *pollConn) Kind() Kind { return KindPolling }

func (c *pollConn) Incoming() <-chan *protocol.Message { return c.incoming }

func (c *pollConn) Send(ctx context.Context, msg *protocol.Message) error {
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

func (c *pollConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the session and tells the server to drop it.
func (c *pollConn) Close() error {
	c.stop(nil)
	c.sidOnce.Do(c.release)
	return nil
}

func (c *pollConn) stop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.cancel()
	})
}

func (c *pollConn) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Failed to release poll session", "error", err)
		return
	}
	resp.Body.Close()
}

func (c *pollConn) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url, body)
	if err != nil {
		return nil, err
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if body != nil {
		req.Header.Set("Content-Type", protocol.ContentTypeBatch)
	}
	return req, nil
}

func (c *pollConn) recvLoop() {
	defer close(c.incoming)

	for {
		msgs, err := c.poll()
		if err != nil {
			c.stop(err)
			return
		}

		for _, msg := range msgs {
			select {
			case c.incoming <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *pollConn) poll() ([]*protocol.Message, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.wait+10*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("poll: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBatchBytes))
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return protocol.DecodeBatch(data)
}

func (c *pollConn) sendLoop() {
	for {
		select {
		case msg := <-c.outgoing:
			batch := []*protocol.Message{msg}
		drain:
			for len(batch) < protocol.MaxBatchSize {
				select {
				case next := <-c.outgoing:
					batch = append(batch, next)
				default:
					break drain
				}
			}

			if err := c.push(batch); err != nil {
				c.stop(err)
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *pollConn) push(batch []*protocol.Message) error {
	data, err := protocol.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push: status %d", resp.StatusCode)
	}
	return nil
}
