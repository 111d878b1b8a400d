package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/bourbonbuddy/tastecast/internal/channel"
	"github.com/bourbonbuddy/tastecast/internal/server"
	"github.com/bourbonbuddy/tastecast/internal/transport"
	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultServerURL   = "http://localhost:8080"
	DefaultListenAddr  = ":8080"
	DefaultEnvironment = "development"
	DefaultCookieName  = "tastecast_session"
	DefaultSTUN        = "stun:stun.l.google.com:19302"

	DefaultPollWait       = 25 * time.Second
	DefaultPollSessionTTL = time.Minute
)

// Config holds application configuration
type Config struct {
	// ServerURL is the relay origin clients connect to
	ServerURL string `yaml:"server_url"`

	// ListenAddr is where `serve` listens
	ListenAddr string `yaml:"listen_addr"`

	// Environment gates the synthetic fallback; "production" disables it
	Environment string `yaml:"environment"`

	Fallback     bool `yaml:"fallback"`
	ForcePolling bool `yaml:"force_polling"`

	// Session cookie carried on every handshake
	CookieName  string `yaml:"cookie_name"`
	CookieValue string `yaml:"cookie_value"`

	// Connection manager tuning
	MaxAttempts        int           `yaml:"max_attempts"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	SyntheticJoinDelay time.Duration `yaml:"synthetic_join_delay"`

	// Long-polling
	PollWait       time.Duration `yaml:"poll_wait"`
	PollSessionTTL time.Duration `yaml:"poll_session_ttl"`

	// ICE servers for demo peer connections
	STUNServer string `yaml:"stun_server"`
	TURNServer string `yaml:"turn_server"`
	TURNUser   string `yaml:"turn_username"`
	TURNPass   string `yaml:"turn_password"`
}

// Options for loading config with CLI flag overrides. Zero values and nil
// pointers mean "not set on the command line".
type Options struct {
	File         string
	ServerURL    string
	ListenAddr   string
	Environment  string
	Fallback     *bool
	ForcePolling *bool
	CookieValue  string
	STUNServer   string
	TURNServer   string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ServerURL:          DefaultServerURL,
		ListenAddr:         DefaultListenAddr,
		Environment:        DefaultEnvironment,
		CookieName:         DefaultCookieName,
		MaxAttempts:        channel.DefaultMaxAttempts,
		BackoffBase:        channel.DefaultBackoffBase,
		BackoffMax:         channel.DefaultBackoffMax,
		ConnectTimeout:     channel.DefaultConnectTimeout,
		HeartbeatInterval:  channel.DefaultHeartbeatInterval,
		RequestTimeout:     channel.DefaultRequestTimeout,
		SyntheticJoinDelay: channel.DefaultSyntheticJoinDelay,
		PollWait:           DefaultPollWait,
		PollSessionTTL:     DefaultPollSessionTTL,
		STUNServer:         DefaultSTUN,
	}
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (TASTECAST_*)
// 3. YAML file (Options.File or TASTECAST_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	file := opts.File
	if file == "" {
		file = os.Getenv("TASTECAST_CONFIG")
	}
	if file != "" {
		if err := cfg.loadFile(file); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	cfg.applyOptions(opts)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.ServerURL, "TASTECAST_SERVER_URL")
	setString(&c.ListenAddr, "TASTECAST_LISTEN_ADDR")
	setString(&c.Environment, "TASTECAST_ENV")
	setString(&c.CookieName, "TASTECAST_COOKIE_NAME")
	setString(&c.CookieValue, "TASTECAST_COOKIE")
	setString(&c.STUNServer, "TASTECAST_STUN_SERVER")
	setString(&c.TURNServer, "TASTECAST_TURN_SERVER")
	setString(&c.TURNUser, "TASTECAST_TURN_USERNAME")
	setString(&c.TURNPass, "TASTECAST_TURN_PASSWORD")

	var errs []error
	errs = append(errs,
		setBool(&c.Fallback, "TASTECAST_FALLBACK"),
		setBool(&c.ForcePolling, "TASTECAST_FORCE_POLLING"),
		setInt(&c.MaxAttempts, "TASTECAST_MAX_ATTEMPTS"),
		setDuration(&c.ConnectTimeout, "TASTECAST_CONNECT_TIMEOUT"),
		setDuration(&c.HeartbeatInterval, "TASTECAST_HEARTBEAT_INTERVAL"),
		setDuration(&c.PollWait, "TASTECAST_POLL_WAIT"),
	)
	return errors.Join(errs...)
}

func (c *Config) applyOptions(opts Options) {
	if opts.ServerURL != "" {
		c.ServerURL = opts.ServerURL
	}
	if opts.ListenAddr != "" {
		c.ListenAddr = opts.ListenAddr
	}
	if opts.Environment != "" {
		c.Environment = opts.Environment
	}
	if opts.Fallback != nil {
		c.Fallback = *opts.Fallback
	}
	if opts.ForcePolling != nil {
		c.ForcePolling = *opts.ForcePolling
	}
	if opts.CookieValue != "" {
		c.CookieValue = opts.CookieValue
	}
	if opts.STUNServer != "" {
		c.STUNServer = opts.STUNServer
	}
	if opts.TURNServer != "" {
		c.TURNServer = opts.TURNServer
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server_url %q must be an http(s) URL", c.ServerURL))
	}
	if c.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if c.Fallback && c.Environment == channel.EnvironmentProduction {
		errs = append(errs, errors.New("fallback cannot be enabled in production"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}

	for name, d := range map[string]time.Duration{
		"backoff_base":         c.BackoffBase,
		"backoff_max":          c.BackoffMax,
		"connect_timeout":      c.ConnectTimeout,
		"heartbeat_interval":   c.HeartbeatInterval,
		"request_timeout":      c.RequestTimeout,
		"synthetic_join_delay": c.SyntheticJoinDelay,
		"poll_wait":            c.PollWait,
		"poll_session_ttl":     c.PollSessionTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, errors.New("backoff_max must not be below backoff_base"))
	}
	if c.PollSessionTTL <= c.PollWait {
		errs = append(errs, errors.New("poll_session_ttl must exceed poll_wait"))
	}

	return errors.Join(errs...)
}

// Cookie returns the session cookie to present, or nil.
func (c *Config) Cookie() *http.Cookie {
	if c.CookieValue == "" {
		return nil
	}
	return &http.Cookie{Name: c.CookieName, Value: c.CookieValue}
}

// Capabilities describes the runtime for transport negotiation.
func (c *Config) Capabilities() transport.Capabilities {
	return transport.DetectCapabilities(c.ForcePolling)
}

// TransportOptions returns dialer settings.
func (c *Config) TransportOptions(logger *slog.Logger) transport.Options {
	return transport.Options{
		BaseURL:  c.ServerURL,
		Cookie:   c.Cookie(),
		PollWait: c.PollWait,
		Logger:   logger,
	}
}

// ChannelOptions returns connection manager settings for dialer.
func (c *Config) ChannelOptions(dialer transport.Dialer, logger *slog.Logger) channel.Options {
	return channel.Options{
		Dialer:             dialer,
		Capabilities:       c.Capabilities(),
		MaxAttempts:        c.MaxAttempts,
		BackoffBase:        c.BackoffBase,
		BackoffMax:         c.BackoffMax,
		ConnectTimeout:     c.ConnectTimeout,
		HeartbeatInterval:  c.HeartbeatInterval,
		RequestTimeout:     c.RequestTimeout,
		Fallback:           c.Fallback,
		Environment:        c.Environment,
		SyntheticJoinDelay: c.SyntheticJoinDelay,
		Logger:             logger,
	}
}

// ServerOptions returns relay server settings.
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		Addr:           c.ListenAddr,
		PollWait:       c.PollWait,
		PollSessionTTL: c.PollSessionTTL,
		CookieName:     c.CookieName,
	}
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
