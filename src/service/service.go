// Package service wires the relay protocol onto the hub: topic
// subscriptions for the push endpoints, the signaling room frames, and
// the publish API used by the judge callbacks.
package service

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ojhub/realtime/src/hub"
	"github.com/ojhub/realtime/src/types"
	"github.com/rs/zerolog"
)

// ConfigTopic carries config_update frames to every config connection.
const ConfigTopic = "config"

var (
	// ErrMissingSubmissionID is returned for frames without a submission id.
	ErrMissingSubmissionID = errors.New("service: submission_id is required")
	// ErrMissingKey is returned for config updates without a key.
	ErrMissingKey = errors.New("service: key is required")
	// ErrMissingRoom is returned for join frames without a room.
	ErrMissingRoom = errors.New("service: room is required")
)

// SubmissionTopic is the topic of one submission's judge updates.
func SubmissionTopic(id string) string { return "submission:" + id }

// FlowchartTopic is the topic of one flowchart submission's evaluation.
func FlowchartTopic(id string) string { return "flowchart:" + id }

// Service provides the high-level relay API.
type Service struct {
	hub    *hub.Hub
	logger zerolog.Logger
}

// New creates a service backed by h and installs the protocol handlers.
func New(h *hub.Hub, logger zerolog.Logger) *Service {
	s := &Service{hub: h, logger: logger.With().Str("component", "relay").Logger()}
	s.install()
	return s
}

// Hub returns the underlying hub.
func (s *Service) Hub() *hub.Hub { return s.hub }

func (s *Service) install() {
	s.hub.RegisterHandler(types.EndpointSubmission, types.FrameSubscribe, s.subscribeTo(SubmissionTopic))
	s.hub.RegisterHandler(types.EndpointFlowchart, types.FrameSubscribe, s.subscribeTo(FlowchartTopic))
	s.hub.RegisterHandler(types.EndpointConfig, types.FrameConfigUpdate, s.handleConfigUpdate)

	s.hub.RegisterHandler(types.EndpointSignaling, types.FrameJoin, s.handleJoin)
	s.hub.RegisterHandler(types.EndpointSignaling, types.FrameLeave, func(c *hub.Client, _ types.Frame) error {
		s.hub.LeaveRoom(c)
		return nil
	})
	s.hub.RegisterHandler(types.EndpointSignaling, types.FrameAwareness, s.handleAwareness)
	for _, t := range []string{types.FrameDocUpdate, types.FrameSyncState} {
		s.hub.RegisterHandler(types.EndpointSignaling, t, s.relayDoc)
	}
	s.hub.RegisterHandler(types.EndpointSignaling, types.FrameSyncRequest, func(c *hub.Client, _ types.Frame) error {
		return s.hub.RelayToRoom(c, types.RoomFrame{Type: types.FrameSyncRequest, Room: c.Info().Room, ClientID: c.ID})
	})

	s.hub.OnConnection(func(c *hub.Client) {
		if c.Endpoint == types.EndpointConfig {
			s.hub.Subscribe(ConfigTopic, c.ID)
		}
	})
}

func (s *Service) subscribeTo(topic func(string) string) hub.FrameHandler {
	return func(c *hub.Client, f types.Frame) error {
		var m types.SubscribeFrame
		if err := f.Decode(&m); err != nil {
			return fmt.Errorf("decode subscribe: %w", err)
		}
		if m.SubmissionID == "" {
			return ErrMissingSubmissionID
		}
		return s.Subscribe(topic(m.SubmissionID), c.ID)
	}
}

func (s *Service) handleConfigUpdate(c *hub.Client, f types.Frame) error {
	var m types.ConfigUpdate
	if err := f.Decode(&m); err != nil {
		return fmt.Errorf("decode config_update: %w", err)
	}
	if m.Key == "" {
		return ErrMissingKey
	}
	s.logger.Info().Str("client_id", c.ID).Str("key", m.Key).Msg("config update from client")
	s.hub.Broadcast(types.Envelope{Topic: ConfigTopic, Payload: f.Raw})
	return nil
}

func (s *Service) handleJoin(c *hub.Client, f types.Frame) error {
	var m types.JoinFrame
	if err := f.Decode(&m); err != nil {
		return fmt.Errorf("decode join: %w", err)
	}
	if m.Room == "" {
		return ErrMissingRoom
	}
	if err := s.hub.JoinRoom(c, m.Room, m.Meta); err != nil && !errors.Is(err, hub.ErrRoomFull) {
		return err
	}
	return nil
}

func (s *Service) handleAwareness(c *hub.Client, f types.Frame) error {
	var m types.PeerFrame
	if err := f.Decode(&m); err != nil {
		return fmt.Errorf("decode awareness: %w", err)
	}
	return s.hub.UpdateMeta(c, m.Peer.Meta)
}

func (s *Service) relayDoc(c *hub.Client, f types.Frame) error {
	var m types.DocFrame
	if err := f.Decode(&m); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	m.From = c.ID
	return s.hub.RelayToRoom(c, m)
}

// Publish sends payload, encoded as JSON, to all subscribers of topic.
func (s *Service) Publish(topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	s.hub.Publish(types.Envelope{Topic: topic, Payload: raw})
	s.logger.Debug().Str("topic", topic).Msg("published")
	return nil
}

// PublishSubmission pushes a judge update to the submission's subscribers.
func (s *Service) PublishSubmission(u types.SubmissionUpdate) error {
	if u.SubmissionID == "" {
		return ErrMissingSubmissionID
	}
	u.Type = types.FrameSubmissionUpdate
	return s.Publish(SubmissionTopic(u.SubmissionID), u)
}

// PublishConfig pushes a site configuration change to every config connection.
func (s *Service) PublishConfig(u types.ConfigUpdate) error {
	if u.Key == "" {
		return ErrMissingKey
	}
	u.Type = types.FrameConfigUpdate
	return s.Publish(ConfigTopic, u)
}

// PublishFlowchart pushes a flowchart evaluation outcome. Evaluations
// carrying an error are sent as failures.
func (s *Service) PublishFlowchart(ev types.FlowchartEvaluation) error {
	if ev.SubmissionID == "" {
		return ErrMissingSubmissionID
	}
	ev.Type = types.FrameFlowchartCompleted
	if ev.Error != "" {
		ev.Type = types.FrameFlowchartFailed
	}
	return s.Publish(FlowchartTopic(ev.SubmissionID), ev)
}

// Subscribe adds a client to a topic.
func (s *Service) Subscribe(topic, clientID string) error {
	if ok := s.hub.Subscribe(topic, clientID); !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	s.logger.Debug().
		Str("client_id", clientID).
		Str("topic", topic).
		Msg("subscribed")
	return nil
}

// Unsubscribe removes a client from a topic.
func (s *Service) Unsubscribe(topic, clientID string) error {
	if ok := s.hub.Unsubscribe(topic, clientID); !ok {
		return fmt.Errorf("topic %s or client %s not found", topic, clientID)
	}
	s.logger.Debug().
		Str("client_id", clientID).
		Str("topic", topic).
		Msg("unsubscribed")
	return nil
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.hub.ConnectedClients()
}

// GetClientInfo returns info for a connected client, or error.
func (s *Service) GetClientInfo(clientID string) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(clientID)
	if info == nil {
		return nil, fmt.Errorf("client %s not found", clientID)
	}
	return info, nil
}

// GetTopics returns active topics with subscriber counts.
func (s *Service) GetTopics() map[string]int {
	return s.hub.Topics()
}

// GetRooms returns active rooms with member counts.
func (s *Service) GetRooms() map[string]int {
	return s.hub.Rooms()
}
