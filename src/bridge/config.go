package bridge

// RedisConfig holds connection settings for the Redis pub/sub bridge.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`     // default "localhost:6379"
	Password string `yaml:"password"` // default ""
	DB       int    `yaml:"db"`       // default 0
	Prefix   string `yaml:"prefix"`   // default "oj:realtime:"
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled: true,
		Addr:    "localhost:6379",
		Prefix:  "oj:realtime:",
	}
}

// Channel is the Redis channel envelopes travel on.
func (c RedisConfig) Channel() string {
	return c.Prefix + "broadcast"
}
