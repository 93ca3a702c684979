// Package configsync keeps a local copy of the site configuration in step
// with live config_update broadcasts.
package configsync

import (
	"encoding/json"
	"fmt"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Path is the push endpoint segment for configuration broadcasts.
const Path = "config"

// Channel receives and publishes configuration updates.
type Channel struct {
	*channel.Channel
	logger zerolog.Logger
}

// NewChannel wraps a push channel bound to the config endpoint.
func NewChannel(ch *channel.Channel, logger zerolog.Logger) *Channel {
	return &Channel{
		Channel: ch,
		logger:  logger.With().Str("component", "config-channel").Logger(),
	}
}

// UpdateConfig broadcasts a new value for key. It returns false when the
// value cannot be encoded or the channel is not connected.
func (c *Channel) UpdateConfig(key string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("encode config value")
		return false
	}
	ok := c.Send(types.ConfigUpdate{Type: types.FrameConfigUpdate, Key: key, Value: raw})
	if !ok {
		c.logger.Warn().Str("key", key).Msg("config update dropped: channel not connected")
	}
	return ok
}

// AddUpdateHandler registers fn for config_update frames only.
func (c *Channel) AddUpdateHandler(fn func(types.ConfigUpdate)) channel.HandlerID {
	return c.AddHandler(func(f types.Frame) error {
		if f.Type != types.FrameConfigUpdate {
			return nil
		}
		var u types.ConfigUpdate
		if err := f.Decode(&u); err != nil {
			return fmt.Errorf("decode config update: %w", err)
		}
		fn(u)
		return nil
	})
}
