package channel

import (
	"strings"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultHeartbeatTime        = 30 * time.Second
	DefaultIdleTimeout          = 15 * time.Minute
	DefaultDialTimeout          = 10 * time.Second
)

// Config tunes one Channel.
type Config struct {
	URL                  string        `yaml:"-"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	HeartbeatTime        time.Duration `yaml:"heartbeat_time"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"` // default delay of ScheduleDisconnect
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	DisableHeartbeat     bool          `yaml:"disable_heartbeat"`
	DisableAutoReconnect bool          `yaml:"disable_auto_reconnect"`
}

// DefaultConfig returns the default tuning for url.
func DefaultConfig(url string) Config {
	return Config{URL: url}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HeartbeatTime <= 0 {
		c.HeartbeatTime = DefaultHeartbeatTime
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// EndpointURL joins a push base URL and a path segment as "<base>/<path>/".
func EndpointURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Trim(path, "/") + "/"
}
