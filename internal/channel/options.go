package channel

import (
	"log/slog"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/transport"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultMaxAttempts        = 3
	DefaultBackoffBase        = 500 * time.Millisecond
	DefaultBackoffMax         = 4 * time.Second
	DefaultConnectTimeout     = 20 * time.Second
	DefaultHeartbeatInterval  = 25 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultSyntheticJoinDelay = 150 * time.Millisecond
)

// EnvironmentProduction disables the synthetic fallback.
const EnvironmentProduction = "production"

// Options configures a Manager.
type Options struct {
	// Dialer is required. Without one every attempt fails with ErrNoDialer.
	Dialer       transport.Dialer
	Policy       transport.Policy
	Capabilities transport.Capabilities

	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	// Fallback selects the synthetic channel once real attempts are
	// exhausted. Ignored when Environment is production.
	Fallback           bool
	Environment        string
	SyntheticJoinDelay time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Policy == nil {
		o.Policy = transport.DefaultPolicy{}
	}
	if o.Capabilities.Family == "" {
		o.Capabilities = transport.FullDuplex()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.SyntheticJoinDelay <= 0 {
		o.SyntheticJoinDelay = DefaultSyntheticJoinDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) fallbackAllowed() bool {
	return o.Fallback && o.Environment != EnvironmentProduction
}
