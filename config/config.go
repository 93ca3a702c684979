// Package config loads the settings shared by the realtime clients and the
// push gateway.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ojhub/realtime/src/api"
	"github.com/ojhub/realtime/src/bridge"
	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/collab"
	"github.com/ojhub/realtime/src/logging"
	"github.com/ojhub/realtime/src/server"
	"github.com/ojhub/realtime/src/submission"
	"gopkg.in/yaml.v3"
)

// Endpoint is a WebSocket base URL plus the tuning of channels dialed under it.
type Endpoint struct {
	BaseURL        string `yaml:"base_url"`
	channel.Config `yaml:",inline"`
}

// ChannelConfig returns the channel tuning for the endpoint path under BaseURL.
func (e Endpoint) ChannelConfig(path string) channel.Config {
	cfg := e.Config
	cfg.URL = channel.EndpointURL(e.BaseURL, path)
	return cfg
}

// Config is the full configuration tree.
type Config struct {
	Push      Endpoint                 `yaml:"push"`
	Signaling Endpoint                 `yaml:"signaling"`
	API       api.Config               `yaml:"api"`
	Monitor   submission.MonitorConfig `yaml:"monitor"`
	Collab    collab.Config            `yaml:"collab"`
	Server    server.Config            `yaml:"server"`
	Redis     bridge.RedisConfig       `yaml:"redis"`
	Log       logging.Config           `yaml:"log"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Push: Endpoint{
			BaseURL: "ws://localhost:8080/ws",
			Config:  channel.DefaultConfig(""),
		},
		Signaling: Endpoint{
			BaseURL: "ws://localhost:8080/ws",
			Config:  channel.DefaultConfig(""),
		},
		API:     api.Config{BaseURL: "http://localhost:8000/api", Timeout: 10 * time.Second},
		Monitor: submission.DefaultMonitorConfig(),
		Collab:  collab.DefaultConfig(),
		Server:  server.DefaultConfig(),
		Redis:   bridge.DefaultRedisConfig(),
		Log:     logging.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Push.BaseURL, "PUBLIC_WS_URL")
	setString(&c.Signaling.BaseURL, "PUBLIC_SIGNALING_URL")
	setString(&c.API.BaseURL, "PUBLIC_OJ_URL")
	setString(&c.API.BaseURL, "API_BASE_URL")
	setString(&c.Server.Addr, "PUSH_ADDR")
	setString(&c.Server.PushToken, "PUSH_TOKEN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Redis.Prefix, "REDIS_WS_PREFIX")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	for env, dst := range map[string]*bool{
		"REDIS_ENABLED": &c.Redis.Enabled,
		"LOG_PRETTY":    &c.Log.Pretty,
	} {
		if v := os.Getenv(env); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			*dst = b
		}
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := validateURL("push.base_url", c.Push.BaseURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("signaling.base_url", c.Signaling.BaseURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Collab.MaxRoomUsers < 0 || c.Server.MaxPeers < 0 {
		return errors.New("room size must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	return nil
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s: %q must be an absolute %s URL", name, raw, schemes[0])
}
