// Package config loads coordinator settings from defaults, PROCTOR_* environment
// variables and an optional JSON or TOML file.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPrefix prefixes every environment variable the coordinator reads
const EnvPrefix = "PROCTOR_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Liveness  *LivenessConfig  `json:"liveness"`
	Router    *RouterConfig    `json:"router"`
	Logging   *LoggingConfig   `json:"logging"`
	Metrics   *MetricsConfig   `json:"metrics"`
	Journal   *JournalConfig   `json:"journal"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// Addr returns host:port for the listener
func (c *HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type WebSocketConfig struct {
	WriteBuffer     int           `json:"write_buffer"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	EventBuffer     int           `json:"event_buffer"` // hub queue shared by all connections
}

// FUNCTIONAL DISCOVERY: Liveness windows drive ACTIVE -> STALE -> TERMINATED and the
// orphaned-session grace; the sweep interval bounds how late either is noticed
type LivenessConfig struct {
	HeartbeatWindow time.Duration `json:"heartbeat_window"`
	ProbeGrace      time.Duration `json:"probe_grace"`
	SessionGrace    time.Duration `json:"session_grace"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	SweepInterval   time.Duration `json:"sweep_interval"`
}

type RouterConfig struct {
	RateLimit  int           `json:"rate_limit"` // envelopes per window per connection, 0 disables
	RateWindow time.Duration `json:"rate_window"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type JournalConfig struct {
	Enabled        bool          `json:"enabled"`
	Path           string        `json:"path"`
	MaxConnections int           `json:"max_connections"`
	Timeout        time.Duration `json:"timeout"`
	RetryDelay     time.Duration `json:"retry_delay"` // pause before the single write retry
}

// DefaultConfig returns production defaults
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			WriteBuffer:     256,
			WriteTimeout:    10 * time.Second,
			ReadTimeout:     60 * time.Second,
			MaxMessageBytes: 64 * 1024,
			EventBuffer:     1024,
		},
		Liveness: &LivenessConfig{
			HeartbeatWindow: 30 * time.Second,
			ProbeGrace:      10 * time.Second,
			SessionGrace:    60 * time.Second,
			ConnectTimeout:  30 * time.Second,
			SweepInterval:   5 * time.Second,
		},
		Router: &RouterConfig{
			RateLimit:  1200,
			RateWindow: time.Minute,
		},
		Logging: &LoggingConfig{
			Level: "info",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Journal: &JournalConfig{
			Enabled:        false,
			Path:           "./proctor.db",
			MaxConnections: 10,
			Timeout:        5 * time.Second,
			RetryDelay:     time.Second,
		},
	}
}

// Validate rejects configurations the coordinator cannot run with
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Liveness == nil || c.Router == nil ||
		c.Logging == nil || c.Metrics == nil || c.Journal == nil {
		return fmt.Errorf("every configuration section is required")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.WriteBuffer <= 0 {
		return fmt.Errorf("WebSocket write buffer must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.EventBuffer <= 0 {
		return fmt.Errorf("event buffer must be positive")
	}

	if c.Liveness.HeartbeatWindow <= 0 || c.Liveness.ProbeGrace <= 0 {
		return fmt.Errorf("liveness windows must be positive")
	}
	if c.Liveness.SessionGrace <= 0 {
		return fmt.Errorf("session grace must be positive")
	}
	if c.Liveness.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.Liveness.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}
	// TECHNICAL DISCOVERY: The read deadline is a backstop, it must outlast a full probe cycle
	if c.WebSocket.ReadTimeout < c.Liveness.HeartbeatWindow+c.Liveness.ProbeGrace {
		return fmt.Errorf("WebSocket read timeout must cover heartbeat window plus probe grace")
	}

	if c.Router.RateLimit < 0 {
		return fmt.Errorf("router rate limit cannot be negative")
	}
	if c.Router.RateWindow <= 0 {
		return fmt.Errorf("router rate window must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}

	if c.Journal.Enabled {
		if c.Journal.Path == "" {
			return fmt.Errorf("journal path cannot be empty")
		}
		if c.Journal.MaxConnections <= 0 {
			return fmt.Errorf("journal max connections must be positive")
		}
		if c.Journal.Timeout <= 0 {
			return fmt.Errorf("journal timeout must be positive")
		}
		// TECHNICAL DISCOVERY: A retry that waits out the whole write timeout always misses it
		if c.Journal.RetryDelay <= 0 || c.Journal.RetryDelay >= c.Journal.Timeout {
			return fmt.Errorf("journal retry delay must be positive and shorter than the journal timeout")
		}
	}

	return nil
}

// LoadFromEnv applies PROCTOR_* variables over the defaults. Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(c *Config) {
	envString("HTTP_HOST", &c.HTTP.Host)
	envInt("HTTP_PORT", &c.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)

	envInt("WEBSOCKET_WRITE_BUFFER", &c.WebSocket.WriteBuffer)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	if v := os.Getenv(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.WebSocket.MaxMessageBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "WEBSOCKET_ALLOWED_ORIGINS"); v != "" {
		c.WebSocket.AllowedOrigins = splitList(v)
	}
	envInt("WEBSOCKET_EVENT_BUFFER", &c.WebSocket.EventBuffer)

	envDuration("LIVENESS_HEARTBEAT_WINDOW", &c.Liveness.HeartbeatWindow)
	envDuration("LIVENESS_PROBE_GRACE", &c.Liveness.ProbeGrace)
	envDuration("LIVENESS_SESSION_GRACE", &c.Liveness.SessionGrace)
	envDuration("LIVENESS_CONNECT_TIMEOUT", &c.Liveness.ConnectTimeout)
	envDuration("LIVENESS_SWEEP_INTERVAL", &c.Liveness.SweepInterval)

	envInt("ROUTER_RATE_LIMIT", &c.Router.RateLimit)
	envDuration("ROUTER_RATE_WINDOW", &c.Router.RateWindow)

	envString("LOG_LEVEL", &c.Logging.Level)
	envBool("LOG_DEVELOPMENT", &c.Logging.Development)

	envBool("METRICS_ENABLED", &c.Metrics.Enabled)
	envString("METRICS_PATH", &c.Metrics.Path)

	envBool("JOURNAL_ENABLED", &c.Journal.Enabled)
	envString("JOURNAL_PATH", &c.Journal.Path)
	envInt("JOURNAL_MAX_CONNECTIONS", &c.Journal.MaxConnections)
	envDuration("JOURNAL_TIMEOUT", &c.Journal.Timeout)
	envDuration("JOURNAL_RETRY_DELAY", &c.Journal.RetryDelay)
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the on-disk shape. Durations are strings ("30s"); pointers mark
// booleans that were actually set.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http" toml:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket" toml:"websocket"`
	Liveness  *LivenessConfigFile  `json:"liveness" toml:"liveness"`
	Router    *RouterConfigFile    `json:"router" toml:"router"`
	Logging   *LoggingConfigFile   `json:"logging" toml:"logging"`
	Metrics   *MetricsConfigFile   `json:"metrics" toml:"metrics"`
	Journal   *JournalConfigFile   `json:"journal" toml:"journal"`
}

type HTTPConfigFile struct {
	Host            string `json:"host" toml:"host"`
	Port            int    `json:"port" toml:"port"`
	ReadTimeout     string `json:"read_timeout" toml:"read_timeout"`
	WriteTimeout    string `json:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout" toml:"shutdown_timeout"`
}

type WebSocketConfigFile struct {
	WriteBuffer     int      `json:"write_buffer" toml:"write_buffer"`
	WriteTimeout    string   `json:"write_timeout" toml:"write_timeout"`
	ReadTimeout     string   `json:"read_timeout" toml:"read_timeout"`
	MaxMessageBytes int64    `json:"max_message_bytes" toml:"max_message_bytes"`
	AllowedOrigins  []string `json:"allowed_origins" toml:"allowed_origins"`
	EventBuffer     int      `json:"event_buffer" toml:"event_buffer"`
}

type LivenessConfigFile struct {
	HeartbeatWindow string `json:"heartbeat_window" toml:"heartbeat_window"`
	ProbeGrace      string `json:"probe_grace" toml:"probe_grace"`
	SessionGrace    string `json:"session_grace" toml:"session_grace"`
	ConnectTimeout  string `json:"connect_timeout" toml:"connect_timeout"`
	SweepInterval   string `json:"sweep_interval" toml:"sweep_interval"`
}

type RouterConfigFile struct {
	RateLimit  *int   `json:"rate_limit" toml:"rate_limit"`
	RateWindow string `json:"rate_window" toml:"rate_window"`
}

type LoggingConfigFile struct {
	Level       string `json:"level" toml:"level"`
	Development *bool  `json:"development" toml:"development"`
}

type MetricsConfigFile struct {
	Enabled *bool  `json:"enabled" toml:"enabled"`
	Path    string `json:"path" toml:"path"`
}

type JournalConfigFile struct {
	Enabled        *bool  `json:"enabled" toml:"enabled"`
	Path           string `json:"path" toml:"path"`
	MaxConnections int    `json:"max_connections" toml:"max_connections"`
	Timeout        string `json:"timeout" toml:"timeout"`
	RetryDelay     string `json:"retry_delay" toml:"retry_delay"`
}

// LoadFromFile reads path over the defaults. ".toml" files are TOML, anything else JSON.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &file)
	} else {
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// FUNCTIONAL DISCOVERY: A malformed duration in a file is an error, unlike env
	// where a bad value falls back silently
	var d durations
	if f := file.HTTP; f != nil {
		setString(&c.HTTP.Host, f.Host)
		setInt(&c.HTTP.Port, f.Port)
		d.set("http.read_timeout", f.ReadTimeout, &c.HTTP.ReadTimeout)
		d.set("http.write_timeout", f.WriteTimeout, &c.HTTP.WriteTimeout)
		d.set("http.shutdown_timeout", f.ShutdownTimeout, &c.HTTP.ShutdownTimeout)
	}
	if f := file.WebSocket; f != nil {
		setInt(&c.WebSocket.WriteBuffer, f.WriteBuffer)
		d.set("websocket.write_timeout", f.WriteTimeout, &c.WebSocket.WriteTimeout)
		d.set("websocket.read_timeout", f.ReadTimeout, &c.WebSocket.ReadTimeout)
		if f.MaxMessageBytes > 0 {
			c.WebSocket.MaxMessageBytes = f.MaxMessageBytes
		}
		if f.AllowedOrigins != nil {
			c.WebSocket.AllowedOrigins = f.AllowedOrigins
		}
		setInt(&c.WebSocket.EventBuffer, f.EventBuffer)
	}
	if f := file.Liveness; f != nil {
		d.set("liveness.heartbeat_window", f.HeartbeatWindow, &c.Liveness.HeartbeatWindow)
		d.set("liveness.probe_grace", f.ProbeGrace, &c.Liveness.ProbeGrace)
		d.set("liveness.session_grace", f.SessionGrace, &c.Liveness.SessionGrace)
		d.set("liveness.connect_timeout", f.ConnectTimeout, &c.Liveness.ConnectTimeout)
		d.set("liveness.sweep_interval", f.SweepInterval, &c.Liveness.SweepInterval)
	}
	if f := file.Router; f != nil {
		if f.RateLimit != nil {
			c.Router.RateLimit = *f.RateLimit
		}
		d.set("router.rate_window", f.RateWindow, &c.Router.RateWindow)
	}
	if f := file.Logging; f != nil {
		setString(&c.Logging.Level, f.Level)
		setBool(&c.Logging.Development, f.Development)
	}
	if f := file.Metrics; f != nil {
		setBool(&c.Metrics.Enabled, f.Enabled)
		setString(&c.Metrics.Path, f.Path)
	}
	if f := file.Journal; f != nil {
		setBool(&c.Journal.Enabled, f.Enabled)
		setString(&c.Journal.Path, f.Path)
		setInt(&c.Journal.MaxConnections, f.MaxConnections)
		d.set("journal.timeout", f.Timeout, &c.Journal.Timeout)
		d.set("journal.retry_delay", f.RetryDelay, &c.Journal.RetryDelay)
	}

	if d.err != nil {
		return fmt.Errorf("invalid duration in %s: %w", path, d.err)
	}
	return nil
}

// durations keeps the first parse error so applyFile reads straight through
type durations struct {
	err error
}

func (d *durations) set(key, value string, dst *time.Duration) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = parsed
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// LoadConfigWithPrecedence layers file > environment > defaults and validates the result
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
