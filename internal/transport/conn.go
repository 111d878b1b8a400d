package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/protocol"
)

// ErrClosed is returned when sending on a connection that has been closed.
var ErrClosed = errors.New("transport closed")

// Conn is one established transport connection to the relay.
//
// Incoming is closed when the connection ends for any reason; Err then
// reports why. Close is idempotent.
type Conn interface {
	Kind() Kind
	Send(ctx context.Context, msg *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Err() error
	Close() error
}

// Dialer opens connections of a given kind.
type Dialer interface {
	Dial(ctx context.Context, kind Kind) (Conn, error)
}

// Options configures the HTTP dialer.
type Options struct {
	// BaseURL is the relay origin, e.g. http://localhost:8080.
	BaseURL string

	// Cookie is attached to every handshake and poll request when set.
	Cookie *http.Cookie

	// PollWait is how long the server may hold a poll open.
	PollWait time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPDialer dials the relay's websocket and long-polling endpoints.
type HTTPDialer struct {
	base   *url.URL
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewDialer validates the base URL and returns a dialer.
func NewDialer(opts Options) (*HTTPDialer, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", opts.BaseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")

	if opts.PollWait <= 0 {
		opts.PollWait = 25 * time.Second
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPDialer{base: u, opts: opts, client: client, logger: logger}, nil
}

// Dial implements Dialer.
func (d *HTTPDialer) Dial(ctx context.Context, kind Kind) (Conn, error) {
	switch kind {
	case KindWebSocket:
		return dialWebSocket(ctx, d.websocketURL(), d.header(), d.logger)
	case KindPolling:
		return dialPolling(ctx, d.client, d.endpoint("/poll"), d.opts.Cookie, d.opts.PollWait, d.logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func (d *HTTPDialer) endpoint(path string) string {
	u := *d.base
	u.Path += path
	return u.String()
}

func (d *HTTPDialer) websocketURL() string {
	u := *d.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String()
}

func (d *HTTPDialer) header() http.Header {
	h := http.Header{}
	if d.opts.Cookie != nil {
		h.Add("Cookie", d.opts.Cookie.String())
	}
	return h
}
