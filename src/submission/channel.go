package submission

import (
	"fmt"

	"github.com/ojhub/realtime/src/channel"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// Path is the push endpoint segment for judge updates.
const Path = "submission"

// Channel receives judge result pushes for subscribed submissions.
type Channel struct {
	*channel.Channel
	logger zerolog.Logger
}

// NewChannel wraps a push channel bound to the submission endpoint.
func NewChannel(ch *channel.Channel, logger zerolog.Logger) *Channel {
	return &Channel{
		Channel: ch,
		logger:  logger.With().Str("component", "submission-channel").Logger(),
	}
}

// Subscribe asks for updates about id. When the channel is not connected
// the request is dropped and false is returned; callers retry once connected.
func (c *Channel) Subscribe(id string) bool {
	c.logger.Debug().Str("submission_id", id).Msg("subscribe")
	ok := c.Send(types.SubscribeFrame{Type: types.FrameSubscribe, SubmissionID: id})
	if !ok {
		c.logger.Error().Str("submission_id", id).Msg("subscribe failed: channel not connected")
	}
	return ok
}

// AddUpdateHandler registers fn for submission_update frames only.
func (c *Channel) AddUpdateHandler(fn func(types.SubmissionUpdate)) channel.HandlerID {
	return c.AddHandler(func(f types.Frame) error {
		if f.Type != types.FrameSubmissionUpdate {
			return nil
		}
		var u types.SubmissionUpdate
		if err := f.Decode(&u); err != nil {
			return fmt.Errorf("decode submission update: %w", err)
		}
		fn(u)
		return nil
	})
}
